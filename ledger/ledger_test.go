package ledger

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbvault/types"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	token = common.HexToAddress("0x0000000000000000000000000000000000001111")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestCreateAndGetPool(t *testing.T) {
	s := NewEngineState()
	id0 := s.CreatePool(token, u(10), 3)
	id1 := s.CreatePool(types.NativeAsset, u(0), 4)
	assert.Equal(t, uint64(0), id0)
	assert.Equal(t, uint64(1), id1)

	pool, err := s.Pool(id0)
	require.NoError(t, err)
	assert.True(t, pool.Active)
	assert.Equal(t, uint64(3), pool.LastAccrualTick)
	assert.True(t, pool.TotalSupply.IsZero())

	_, err = s.Pool(2)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSingleDepositorAccrual(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(10), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))

	require.NoError(t, s.SettleAll(alice, 5))
	got, err := s.TakeRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Uint64())

	_, err = s.TakeRewards(alice)
	assert.ErrorIs(t, err, types.ErrNoRewards)
}

func TestProportionalAccrual(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(20), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))
	require.NoError(t, s.Credit(bob, id, u(300), 0))

	require.NoError(t, s.SettleAll(alice, 10))
	require.NoError(t, s.SettleAll(bob, 10))

	assert.Equal(t, uint64(50), s.Positions[alice].PendingRewards.Uint64())
	assert.Equal(t, uint64(150), s.Positions[bob].PendingRewards.Uint64())
}

func TestEmptyPoolOnlyAdvancesClock(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(10), 0)
	pool, _ := s.Pool(id)

	require.NoError(t, Accrue(pool, 7))
	assert.Equal(t, uint64(7), pool.LastAccrualTick)
	assert.True(t, pool.AccRewardPerShare.IsZero())

	// Reward for ticks with no supply is never handed out later.
	require.NoError(t, s.Credit(alice, id, u(10), 7))
	require.NoError(t, s.SettleAll(alice, 8))
	assert.Equal(t, uint64(10), s.Positions[alice].PendingRewards.Uint64())
}

func TestAccrualIdempotentAtSameTick(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(3), 0)
	require.NoError(t, s.Credit(alice, id, u(7), 0))
	require.NoError(t, s.SettleAll(alice, 4))

	pool, _ := s.Pool(id)
	acc := pool.AccRewardPerShare.Clone()
	pending := s.Positions[alice].PendingRewards.Clone()

	require.NoError(t, s.SettleAll(alice, 4))
	require.NoError(t, Accrue(pool, 4))
	assert.True(t, acc.Eq(pool.AccRewardPerShare))
	assert.True(t, pending.Eq(s.Positions[alice].PendingRewards))

	// An older tick never rewinds the accumulator.
	require.NoError(t, Accrue(pool, 2))
	assert.True(t, acc.Eq(pool.AccRewardPerShare))
	assert.Equal(t, uint64(4), pool.LastAccrualTick)
}

func TestInactivePoolStopsAccruing(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(10), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))

	require.NoError(t, s.SetPoolActive(id, false, 5))
	require.NoError(t, s.SettleAll(alice, 50))
	assert.Equal(t, uint64(50), s.Positions[alice].PendingRewards.Uint64())

	err := s.Credit(alice, id, u(1), 50)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	// Withdrawals keep working on an inactive pool.
	require.NoError(t, s.Debit(alice, id, u(100), 50))

	require.NoError(t, s.SetPoolActive(id, true, 60))
	pool, _ := s.Pool(id)
	assert.Equal(t, uint64(60), pool.LastAccrualTick)
}

func TestRewardRateChangeAccruesOldRateFirst(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(10), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))

	require.NoError(t, s.SetRewardRate(id, u(1), 4))
	require.NoError(t, s.SettleAll(alice, 6))
	assert.Equal(t, uint64(42), s.Positions[alice].PendingRewards.Uint64())
}

func TestDebitInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(1), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))
	before := s.Clone()

	err := s.Debit(alice, id, u(101), 3)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Equal(t, before, s)

	err = s.Debit(alice, id, u(0), 3)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCreditRejectsOverflow(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(1), 0)
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, s.Credit(alice, id, max, 0))

	err := s.Credit(bob, id, u(1), 0)
	assert.ErrorIs(t, err, types.ErrOverflow)
	pool, _ := s.Pool(id)
	assert.True(t, pool.TotalSupply.Eq(max))
}

func TestAccrueRejectsOverflowWithoutMutation(t *testing.T) {
	pool := &Pool{
		TotalSupply:        u(1),
		RewardRatePerBlock: new(uint256.Int).SetAllOne(),
		AccRewardPerShare:  new(uint256.Int),
		Active:             true,
	}
	err := Accrue(pool, 2)
	assert.ErrorIs(t, err, types.ErrOverflow)
	assert.Equal(t, uint64(0), pool.LastAccrualTick)
	assert.True(t, pool.AccRewardPerShare.IsZero())
}

func TestPreviewPendingDoesNotMutate(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(20), 0)
	require.NoError(t, s.Credit(alice, id, u(100), 0))
	require.NoError(t, s.Credit(bob, id, u(300), 0))
	before := s.Clone()

	got, err := PreviewPending(s.Pools, s.Positions[alice], 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Uint64())
	assert.Equal(t, before, s)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewEngineState()
	id := s.CreatePool(token, u(1), 0)
	require.NoError(t, s.Credit(alice, id, u(5), 0))

	c := s.Clone()
	require.NoError(t, c.Credit(alice, id, u(5), 1))
	require.NoError(t, c.AddVolume(u(9)))

	assert.Equal(t, uint64(5), s.Positions[alice].Balance(id).Uint64())
	assert.Equal(t, uint64(5), s.Pools[id].TotalSupply.Uint64())
	assert.True(t, s.Globals.TotalVolume.IsZero())
}

func TestConservationAndMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	accounts := []common.Address{alice, bob, carol}

	s := NewEngineState()
	pools := []uint64{s.CreatePool(token, u(7), 0), s.CreatePool(types.NativeAsset, u(13), 0)}
	lastAcc := make([]*uint256.Int, len(pools))
	for i := range lastAcc {
		lastAcc[i] = new(uint256.Int)
	}

	tick := uint64(0)
	for step := 0; step < 500; step++ {
		tick += uint64(rng.Intn(3))
		acct := accounts[rng.Intn(len(accounts))]
		id := pools[rng.Intn(len(pools))]
		amount := u(uint64(rng.Intn(1000)) + 1)

		switch rng.Intn(3) {
		case 0:
			require.NoError(t, s.Credit(acct, id, amount, tick))
		case 1:
			err := s.Debit(acct, id, amount, tick)
			if err != nil {
				require.ErrorIs(t, err, types.ErrInsufficientBalance)
			}
		case 2:
			require.NoError(t, s.SettleAll(acct, tick))
		}

		tvl := new(uint256.Int)
		for i, id := range pools {
			pool, _ := s.Pool(id)
			sum := new(uint256.Int)
			for _, pos := range s.Positions {
				sum.Add(sum, pos.Balance(id))
			}
			require.True(t, sum.Eq(pool.TotalSupply), "pool %d supply %s != sum %s", id, pool.TotalSupply.Dec(), sum.Dec())
			require.False(t, pool.AccRewardPerShare.Lt(lastAcc[i]), "accumulator decreased in pool %d", id)
			lastAcc[i] = pool.AccRewardPerShare.Clone()
			tvl.Add(tvl, pool.TotalSupply)
		}
		require.True(t, tvl.Eq(s.Globals.TotalValueLocked))
	}
}
