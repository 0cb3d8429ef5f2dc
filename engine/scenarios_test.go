package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

func TestSingleDepositorClaim(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 10)
	h.mint(usdc, alice, u(100))
	h.mint(reward, vault, u(1_000))

	require.NoError(t, h.eng.Deposit(alice, id, u(100), nil))
	require.NoError(t, h.eng.AdvanceTo(5))

	claimed, err := h.eng.ClaimRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), claimed.Uint64())
	assert.Equal(t, uint64(50), h.balance(reward, alice))

	evs := h.rec.OfType(events.TypeRewardsClaimed)
	require.Len(t, evs, 1)
	assert.Equal(t, events.RewardsClaimed{Account: alice, Amount: u(50), Tick: 5}, evs[0])

	_, err = h.eng.ClaimRewards(alice)
	assert.ErrorIs(t, err, types.ErrNoRewards)
}

func TestTwoDepositorsShareProportionally(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 20)
	h.mint(usdc, alice, u(100))
	h.mint(usdc, bob, u(300))
	h.mint(reward, vault, u(1_000))

	require.NoError(t, h.eng.Deposit(alice, id, u(100), nil))
	require.NoError(t, h.eng.Deposit(bob, id, u(300), nil))
	require.NoError(t, h.eng.AdvanceTo(10))

	a, err := h.eng.ClaimRewards(alice)
	require.NoError(t, err)
	b, err := h.eng.ClaimRewards(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), a.Uint64())
	assert.Equal(t, uint64(150), b.Uint64())
}

func TestClaimAcrossPools(t *testing.T) {
	h := newHarness(t, nil)
	p0 := h.pool(usdc, 10)
	p1 := h.pool(types.NativeAsset, 4)
	h.mint(usdc, alice, u(100))
	h.mint(types.NativeAsset, alice, u(5))
	h.mint(reward, vault, u(1_000))

	require.NoError(t, h.eng.Deposit(alice, p0, u(100), nil))
	require.NoError(t, h.eng.Deposit(alice, p1, u(5), u(5)))
	require.NoError(t, h.eng.SetPoolActive(admin, p0, false))
	require.NoError(t, h.eng.AdvanceTo(3))

	claimed, err := h.eng.ClaimRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), claimed.Uint64())

	// An inactive pool still lets its depositors leave.
	require.NoError(t, h.eng.Withdraw(alice, p0, u(100)))
	assert.Equal(t, uint64(100), h.balance(usdc, alice))
	err = h.eng.Deposit(alice, p0, u(1), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRateChangeAccruesAtOldRateFirst(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 10)
	h.mint(usdc, alice, u(100))
	h.mint(reward, vault, u(1_000))

	require.NoError(t, h.eng.Deposit(alice, id, u(100), nil))
	require.NoError(t, h.eng.AdvanceTo(4))
	require.NoError(t, h.eng.SetRewardRate(admin, id, u(25)))
	require.NoError(t, h.eng.AdvanceTo(6))

	pending, err := h.eng.PendingRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(4*10+2*25), pending.Uint64())

	assert.ErrorIs(t, h.eng.SetRewardRate(alice, id, u(1)), types.ErrUnauthorized)
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 1)
	h.mint(usdc, alice, u(100))
	require.NoError(t, h.eng.Deposit(alice, id, u(100), nil))
	require.NoError(t, h.eng.AdvanceTo(4))
	before := h.freeze(alice)

	err := h.eng.Withdraw(alice, id, u(101))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	h.requireUnchanged(before)

	pool, err := h.eng.GetPool(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pool.TotalSupply.Uint64())
	assert.Equal(t, uint64(100), h.eng.Totals().TotalValueLocked.Uint64())

	require.NoError(t, h.eng.Withdraw(alice, id, u(40)))
	assert.Equal(t, uint64(60), h.eng.Totals().TotalValueLocked.Uint64())
	pos, err := h.eng.GetPosition(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pos.TotalDeposited.Uint64())
	assert.Equal(t, uint64(40), pos.TotalWithdrawn.Uint64())
	assert.Equal(t, uint64(40), h.balance(usdc, alice))
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t, nil)
	token := h.pool(usdc, 1)
	native := h.pool(types.NativeAsset, 1)
	h.mint(usdc, alice, u(100))
	h.mint(types.NativeAsset, alice, u(100))
	before := h.freeze(alice)

	tests := []struct {
		name    string
		pool    uint64
		amount  *uint256.Int
		value   *uint256.Int
		wantErr error
	}{
		{"zero amount", token, u(0), nil, types.ErrInvalidInput},
		{"unknown pool", 9, u(1), nil, types.ErrNotFound},
		{"native short", native, u(10), u(9), types.ErrAmountMismatch},
		{"native missing value", native, u(10), nil, types.ErrAmountMismatch},
		{"value on token pool", token, u(10), u(10), types.ErrAmountMismatch},
		{"more than held", token, u(101), nil, types.ErrTransferFailed},
		{"overflowing amount", token, new(uint256.Int).SetAllOne(), nil, types.ErrTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.eng.Deposit(alice, tt.pool, tt.amount, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
			h.requireUnchanged(before)
		})
	}

	require.NoError(t, h.eng.Deposit(alice, native, u(10), u(10)))
	assert.Equal(t, uint64(10), h.eng.Custody(types.NativeAsset).Uint64())
}

func TestDepositFeeOnTransferTokenRejected(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 1)
	require.NoError(t, h.bank.SetTransferTax(usdc, 50))
	h.mint(usdc, alice, u(1_000))
	before := h.freeze(alice)

	err := h.eng.Deposit(alice, id, u(1_000), nil)
	require.ErrorIs(t, err, types.ErrAmountMismatch)
	h.requireUnchanged(before)
	assert.Equal(t, uint64(1_000), h.balance(usdc, alice))
}

func TestPauseGatesEveryEntryPoint(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 1)
	h.mint(usdc, alice, u(100))
	require.NoError(t, h.eng.Deposit(alice, id, u(100), nil))
	require.NoError(t, h.eng.SetPaused(admin, true))

	assert.ErrorIs(t, h.eng.Deposit(alice, id, u(1), nil), types.ErrOperationPaused)
	assert.ErrorIs(t, h.eng.Withdraw(alice, id, u(1)), types.ErrOperationPaused)
	_, err := h.eng.ClaimRewards(alice)
	assert.ErrorIs(t, err, types.ErrOperationPaused)
	_, err = h.eng.ExecuteArbitrage(alice, types.ArbitrageIntent{})
	assert.ErrorIs(t, err, types.ErrOperationPaused)
	_, err = h.eng.FlashLoan(alice, types.FlashLoanIntent{})
	assert.ErrorIs(t, err, types.ErrOperationPaused)
	_, err = h.eng.ExecuteStrategy(alice, types.StrategyIntent{})
	assert.ErrorIs(t, err, types.ErrOperationPaused)

	// Emergency withdrawal ignores pause and leaves accounting alone.
	err = h.eng.EmergencyWithdraw(alice, usdc, alice, u(10))
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	require.NoError(t, h.eng.EmergencyWithdraw(guardian, usdc, guardian, u(30)))
	assert.Equal(t, uint64(30), h.balance(usdc, guardian))
	assert.Equal(t, uint64(70), h.eng.Custody(usdc).Uint64())
	assert.Equal(t, uint64(100), h.eng.Totals().TotalValueLocked.Uint64())

	require.NoError(t, h.eng.SetPaused(admin, false))
	require.NoError(t, h.eng.Withdraw(alice, id, u(70)))
	err = h.eng.Withdraw(alice, id, u(30))
	assert.ErrorIs(t, err, types.ErrTransferFailed)
}

func TestAdminSurface(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.eng.CreatePool(alice, usdc, u(1))
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = h.eng.CreatePool(admin, common.Address{}, u(1))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	assert.ErrorIs(t, h.eng.SetPlatformFee(admin, types.MaxFeeBps+1), types.ErrFeeTooHigh)
	require.NoError(t, h.eng.SetPlatformFee(admin, types.MaxFeeBps))
	assert.Equal(t, uint64(types.MaxFeeBps), h.eng.Params().PlatformFeeBps)
	assert.ErrorIs(t, h.eng.SetFlashLoanFee(admin, 5_000), types.ErrFeeTooHigh)
	require.NoError(t, h.eng.SetFlashLoanFee(admin, 30))

	require.NoError(t, h.eng.AuthorizeVenue(admin, rogue, true))
	assert.True(t, h.eng.IsVenueAuthorized(rogue))
	require.NoError(t, h.eng.AuthorizeVenue(admin, rogue, false))
	assert.False(t, h.eng.IsVenueAuthorized(rogue))
	assert.ErrorIs(t, h.eng.AuthorizeVenue(alice, rogue, true), types.ErrUnauthorized)

	assert.ErrorIs(t, h.eng.SetFeeRecipient(admin, common.Address{}), types.ErrInvalidInput)
	require.NoError(t, h.eng.SetFeeRecipient(admin, bob))
	require.NoError(t, h.eng.SetEmergencyWithdrawer(admin, bob))
	assert.Equal(t, bob, h.eng.Capabilities().EmergencyWithdrawer)

	assert.ErrorIs(t, h.eng.SetRewardRate(admin, 4, u(1)), types.ErrNotFound)

	require.NoError(t, h.eng.TransferAdmin(admin, alice))
	assert.ErrorIs(t, h.eng.SetPaused(admin, true), types.ErrUnauthorized)
	require.NoError(t, h.eng.SetPaused(alice, true))
	assert.True(t, h.eng.Capabilities().Paused)

	// Admin operations keep working while paused.
	require.NoError(t, h.eng.SetArbitrageEnabled(alice, false))
	require.NoError(t, h.eng.SetFlashLoansEnabled(alice, false))

	require.NoError(t, h.eng.RenounceAdmin(alice))
	assert.Nil(t, h.eng.Capabilities().Admin)
	assert.ErrorIs(t, h.eng.SetPaused(alice, false), types.ErrUnauthorized)
	_, err = h.eng.CreatePool(alice, usdc, u(1))
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestCapabilitiesAreCopies(t *testing.T) {
	h := newHarness(t, nil)
	caps := h.eng.Capabilities()
	*caps.Admin = alice
	params := h.eng.Params()
	params.Venues[rogue] = true

	assert.Equal(t, admin, *h.eng.Capabilities().Admin)
	assert.False(t, h.eng.IsVenueAuthorized(rogue))
}

func TestReentrantDepositFromVenueRejected(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 1)
	h.mint(usdc, alice, u(1_000))

	var inner error
	h.calls.venues[venueA] = func([]byte) (*uint256.Int, error) {
		inner = h.eng.Deposit(alice, id, u(1), nil)
		if inner != nil {
			return nil, inner
		}
		return u(1), nil
	}
	before := h.freeze(alice)

	_, err := h.eng.ExecuteArbitrage(alice, types.ArbitrageIntent{
		AssetIn: usdc, AssetOut: weth, VenueA: venueA, VenueB: venueB, AmountIn: u(100),
	})
	require.ErrorIs(t, err, types.ErrLegFailed)
	require.ErrorIs(t, inner, types.ErrReentrant)
	assert.ErrorIs(t, inner, types.ErrUnauthorized)
	h.requireUnchanged(before)
}

func TestReentrantWithdrawFromBorrowerRejected(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 1)
	h.mint(usdc, alice, u(1_000))
	require.NoError(t, h.eng.Deposit(alice, id, u(1_000), nil))

	var inner error
	var viewed uint64
	h.calls.callback = func(borrower, asset common.Address, amount, fee *uint256.Int, _ []byte) error {
		// Read-only calls are fine mid-loan.
		bal, err := h.eng.GetPoolBalance(alice, id)
		if err != nil {
			return err
		}
		viewed = bal.Uint64()
		inner = h.eng.Withdraw(alice, id, u(1_000))
		return inner
	}
	before := h.freeze(alice)

	_, err := h.eng.FlashLoan(alice, types.FlashLoanIntent{Asset: usdc, Amount: u(500)})
	require.ErrorIs(t, err, types.ErrLoanNotRepaid)
	require.ErrorIs(t, inner, types.ErrReentrant)
	assert.Equal(t, uint64(1_000), viewed)
	h.requireUnchanged(before)
}

func TestEmitterCannotReenter(t *testing.T) {
	h := newHarness(t, nil)
	var inner error
	h.eng.SetEmitter(emitterFunc(func(events.Event) {
		inner = h.eng.AdvanceTo(100)
	}))
	_, err := h.eng.CreatePool(admin, usdc, u(1))
	require.NoError(t, err)

	id := uint64(0)
	h.mint(usdc, alice, u(1))
	require.NoError(t, h.eng.Deposit(alice, id, u(1), nil))
	assert.ErrorIs(t, inner, types.ErrReentrant)
	assert.Equal(t, uint64(0), h.eng.Tick())
}

type emitterFunc func(events.Event)

func (f emitterFunc) Emit(ev events.Event) { f(ev) }

func TestRewardsNeverExceedEmission(t *testing.T) {
	h := newHarness(t, nil)
	id := h.pool(usdc, 7)
	h.mint(reward, vault, u(1_000_000))
	for _, who := range []common.Address{alice, bob} {
		h.mint(usdc, who, u(1_000))
	}

	require.NoError(t, h.eng.Deposit(alice, id, u(3), nil))
	require.NoError(t, h.eng.AdvanceTo(3))
	require.NoError(t, h.eng.Deposit(bob, id, u(11), nil))
	require.NoError(t, h.eng.AdvanceTo(9))
	require.NoError(t, h.eng.Withdraw(alice, id, u(3)))
	require.NoError(t, h.eng.AdvanceTo(20))

	total := new(uint256.Int)
	for _, who := range []common.Address{alice, bob} {
		got, err := h.eng.ClaimRewards(who)
		require.NoError(t, err)
		total.Add(total, got)
	}
	emitted := uint64(7 * 20)
	assert.LessOrEqual(t, total.Uint64(), emitted)
	// Truncation dust is at most one unit per settlement.
	assert.GreaterOrEqual(t, total.Uint64(), emitted-4)
	assert.True(t, errors.Is(h.eng.Withdraw(bob, id, u(12)), types.ErrInsufficientBalance))
	assert.True(t, fixed.IsPositive(h.eng.Custody(reward)))
}
