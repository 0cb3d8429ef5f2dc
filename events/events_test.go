package events

import (
	"math/big"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func claimed(account common.Address, amount uint64) Event {
	return RewardsClaimed{Account: account, Amount: uint256.NewInt(amount), Tick: amount}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Emit(claimed(alice, 1))
	r.Emit(FlashLoanExecuted{Account: bob, Amount: uint256.NewInt(10), Fee: uint256.NewInt(1)})
	r.Emit(claimed(bob, 2))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(TypeRewardsClaimed), 2)
	assert.Len(t, r.OfType(TypeFlashLoanExecuted), 1)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestFanoutSkipsNil(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	f := Fanout{a, nil, b, NoopEmitter{}}
	f.Emit(claimed(alice, 5))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestLogEmitter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	NewLogEmitter(zap.New(core)).Emit(ArbitrageExecuted{
		Account:  alice,
		AmountIn: uint256.NewInt(100),
		Profit:   uint256.NewInt(7),
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, TypeArbitrageExecuted, fields["type"])
	assert.Equal(t, "100", fields["amountIn"])
	assert.Equal(t, "7", fields["profit"])
	assert.Equal(t, alice.Hex(), fields["account"])
}

func TestAttributesNilAmount(t *testing.T) {
	attrs := Attributes(LiquidityAdded{Account: alice})
	assert.Equal(t, "0", attrs["amount"])
}

func TestIndexKeepsLatestPerAccount(t *testing.T) {
	idx, err := NewIndex(64, 3)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		idx.Emit(claimed(alice, i))
	}
	idx.Emit(claimed(bob, 9))

	got := idx.Recent(alice, 0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].(RewardsClaimed).Amount.Uint64())
	assert.Equal(t, uint64(5), got[2].(RewardsClaimed).Amount.Uint64())

	last := idx.Recent(alice, 1)
	require.Len(t, last, 1)
	assert.Equal(t, uint64(5), last[0].(RewardsClaimed).Amount.Uint64())

	assert.Len(t, idx.Recent(bob, 10), 1)
	assert.Nil(t, idx.Recent(common.Address{}, 10))
	assert.Equal(t, 2, idx.Len())

	stats := idx.Stats()
	assert.Equal(t, uint64(6), stats.Inserts)
	assert.Equal(t, uint64(4), stats.Lookups)
}

func TestIndexEvictsLeastRecentAccount(t *testing.T) {
	// One account per shard.
	idx, err := NewIndex(NumShards, 2)
	require.NoError(t, err)

	seen := make(map[uint64]common.Address)
	var first, second common.Address
	for i := int64(1); ; i++ {
		addr := common.BigToAddress(big.NewInt(i))
		shard := xxhash.Sum64(addr[:]) % NumShards
		if prev, ok := seen[shard]; ok {
			first, second = prev, addr
			break
		}
		seen[shard] = addr
	}

	idx.Emit(claimed(first, 1))
	idx.Emit(claimed(second, 2))
	assert.Nil(t, idx.Recent(first, 0))
	assert.Len(t, idx.Recent(second, 0), 1)
	assert.Equal(t, uint64(1), idx.Stats().Evictions)
}
