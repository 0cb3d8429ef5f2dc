// Package custody provides an in-memory multi-asset bank that holds the
// engine's custody alongside every external holder's balance.
package custody

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

var (
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrInvalidAmount     = errors.New("custody: amount must be positive")
	ErrUnknownSnapshot   = errors.New("custody: unknown snapshot")
)

type journalEntry struct {
	asset   common.Address
	holder  common.Address
	prev    *uint256.Int
	existed bool
}

type revision struct {
	id           int
	journalIndex int
}

// Bank tracks balances per asset and holder. The holder named by the custody
// address is the engine; TransferIn, TransferOut and BalanceOf act on it.
//
// Every balance change is journaled so a caller can take a snapshot and roll
// back to it.
type Bank struct {
	mu       sync.Mutex
	logger   *zap.Logger
	custody  common.Address
	balances map[common.Address]map[common.Address]*uint256.Int
	taxBps   map[common.Address]uint64

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

// NewBank creates an empty bank whose own holdings are kept under custody.
func NewBank(custody common.Address, logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bank{
		logger:   logger,
		custody:  custody,
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		taxBps:   make(map[common.Address]uint64),
	}
}

// Custody returns the holder address representing the engine.
func (b *Bank) Custody() common.Address {
	return b.custody
}

// SetTransferTax makes every transfer of asset burn bps of the moved amount
// on the way, like a fee-on-transfer token.
func (b *Bank) SetTransferTax(asset common.Address, bps uint64) error {
	if bps > types.BasisPoints {
		return fmt.Errorf("%w: transfer tax %d bps", types.ErrInvalidInput, bps)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taxBps[asset] = bps
	return nil
}

// Mint credits amount of asset to holder out of thin air.
func (b *Bank) Mint(asset, holder common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := fixed.Add(b.balance(asset, holder), amount)
	if err != nil {
		return err
	}
	b.set(asset, holder, next)
	return nil
}

// Move transfers amount of asset between two holders, applying any
// transfer tax.
func (b *Bank) Move(asset, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(asset, from, to, amount)
}

// BalanceOfHolder returns holder's balance of asset.
func (b *Bank) BalanceOfHolder(asset, holder common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(asset, holder)
}

// TransferIn moves amount of asset from an external holder into custody.
func (b *Bank) TransferIn(asset, from common.Address, amount *uint256.Int) error {
	return b.Move(asset, from, b.custody, amount)
}

// TransferOut moves amount of asset from custody to an external holder.
func (b *Bank) TransferOut(asset, to common.Address, amount *uint256.Int) error {
	return b.Move(asset, b.custody, to, amount)
}

// BalanceOf returns the custody balance of asset.
func (b *Bank) BalanceOf(asset common.Address) *uint256.Int {
	return b.BalanceOfHolder(asset, b.custody)
}

// Holdings returns every non-zero balance of holder, keyed by asset.
func (b *Bank) Holdings(holder common.Address) map[common.Address]*uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[common.Address]*uint256.Int)
	for asset, holders := range b.balances {
		if v, ok := holders[holder]; ok && !v.IsZero() {
			out[asset] = v.Clone()
		}
	}
	return out
}

// Assets returns every asset the bank has seen, in address order.
func (b *Bank) Assets() []common.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]common.Address, 0, len(b.balances))
	for asset := range b.balances {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Snapshot returns an identifier for the current balances.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextRevisionID
	b.nextRevisionID++
	b.validRevisions = append(b.validRevisions, revision{id: id, journalIndex: len(b.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the snapshot was taken and
// invalidates it together with any later snapshot.
func (b *Bank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.revisionIndex(id)
	if idx < 0 {
		panic(fmt.Errorf("%w: revision id %v cannot be reverted", ErrUnknownSnapshot, id))
	}
	target := b.validRevisions[idx].journalIndex
	for i := len(b.journal) - 1; i >= target; i-- {
		entry := b.journal[i]
		if entry.existed {
			b.balances[entry.asset][entry.holder] = entry.prev
		} else {
			delete(b.balances[entry.asset], entry.holder)
		}
	}
	b.logger.Debug("Custody reverted",
		zap.Int("snapshot", id),
		zap.Int("entries", len(b.journal)-target))
	b.journal = b.journal[:target]
	b.validRevisions = b.validRevisions[:idx]
}

// DiscardSnapshot forgets the snapshot and every later one. The journal is
// dropped once no snapshot is outstanding.
func (b *Bank) DiscardSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.revisionIndex(id)
	if idx < 0 {
		return
	}
	b.validRevisions = b.validRevisions[:idx]
	if len(b.validRevisions) == 0 {
		b.journal = nil
	}
}

func (b *Bank) revisionIndex(id int) int {
	for i := len(b.validRevisions) - 1; i >= 0; i-- {
		if b.validRevisions[i].id == id {
			return i
		}
	}
	return -1
}

func (b *Bank) move(asset, from, to common.Address, amount *uint256.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	have := b.balance(asset, from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientFunds, from.Hex(), have.Dec(), asset.Hex(), amount.Dec())
	}

	received := amount
	if bps := b.taxBps[asset]; bps > 0 {
		tax, err := fixed.BpsOf(amount, bps)
		if err != nil {
			return err
		}
		received = new(uint256.Int).Sub(amount, tax)
	}
	credited, err := fixed.Add(b.balance(asset, to), received)
	if err != nil {
		return err
	}
	if from == to {
		credited = new(uint256.Int).Sub(credited, amount)
		b.set(asset, from, credited)
		return nil
	}
	b.set(asset, from, new(uint256.Int).Sub(have, amount))
	b.set(asset, to, credited)
	return nil
}

func (b *Bank) balance(asset, holder common.Address) *uint256.Int {
	if holders, ok := b.balances[asset]; ok {
		if v, ok := holders[holder]; ok {
			return v.Clone()
		}
	}
	return new(uint256.Int)
}

func (b *Bank) set(asset, holder common.Address, value *uint256.Int) {
	holders, ok := b.balances[asset]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		b.balances[asset] = holders
	}
	if len(b.validRevisions) > 0 {
		prev, existed := holders[holder]
		b.journal = append(b.journal, journalEntry{asset: asset, holder: holder, prev: prev, existed: existed})
	}
	holders[holder] = value
}
