package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

const (
	NumShards           = 16
	DefaultAccounts     = 4096
	DefaultPerAccount   = 64
	minAccountsPerShard = 1
)

type indexShard struct {
	sync.Mutex
	cache *lru.Cache
}

// Index keeps the most recent events of the most recently active accounts.
// Accounts are spread over shards by an xxhash of the address and each shard
// evicts its least recently touched account once full.
type Index struct {
	shards     [NumShards]*indexShard
	perAccount int
	stats      struct {
		inserts   atomic.Uint64
		evictions atomic.Uint64
		lookups   atomic.Uint64
	}
}

// NewIndex creates an index holding up to maxAccounts accounts with at most
// perAccount events each.
func NewIndex(maxAccounts, perAccount int) (*Index, error) {
	if maxAccounts <= 0 {
		maxAccounts = DefaultAccounts
	}
	if perAccount <= 0 {
		perAccount = DefaultPerAccount
	}
	perShard := maxAccounts / NumShards
	if perShard < minAccountsPerShard {
		perShard = minAccountsPerShard
	}

	idx := &Index{perAccount: perAccount}
	for i := 0; i < NumShards; i++ {
		cache, err := lru.NewWithEvict(perShard, func(key, value interface{}) {
			idx.stats.evictions.Add(1)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event cache: %w", err)
		}
		idx.shards[i] = &indexShard{cache: cache}
	}
	return idx, nil
}

func (i *Index) shard(account common.Address) *indexShard {
	return i.shards[xxhash.Sum64(account[:])%NumShards]
}

// Emit records ev under its subject account.
func (i *Index) Emit(ev Event) {
	account := ev.Subject()
	s := i.shard(account)
	s.Lock()
	defer s.Unlock()

	var history []Event
	if v, ok := s.cache.Get(account); ok {
		history = v.([]Event)
	}
	history = append(history, ev)
	if len(history) > i.perAccount {
		history = append([]Event(nil), history[len(history)-i.perAccount:]...)
	}
	s.cache.Add(account, history)
	i.stats.inserts.Add(1)
}

// Recent returns up to limit of the account's latest events, newest last.
// A limit <= 0 returns everything held.
func (i *Index) Recent(account common.Address, limit int) []Event {
	s := i.shard(account)
	s.Lock()
	defer s.Unlock()

	i.stats.lookups.Add(1)
	v, ok := s.cache.Get(account)
	if !ok {
		return nil
	}
	history := v.([]Event)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Event, len(history))
	copy(out, history)
	return out
}

// Len returns the number of accounts currently indexed.
func (i *Index) Len() int {
	n := 0
	for _, s := range i.shards {
		s.Lock()
		n += s.cache.Len()
		s.Unlock()
	}
	return n
}

// IndexStats is a point-in-time copy of the index counters.
type IndexStats struct {
	Inserts   uint64
	Evictions uint64
	Lookups   uint64
}

func (i *Index) Stats() IndexStats {
	return IndexStats{
		Inserts:   i.stats.inserts.Load(),
		Evictions: i.stats.evictions.Load(),
		Lookups:   i.stats.lookups.Load(),
	}
}
