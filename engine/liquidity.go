package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Deposit credits amount to caller's balance in pool. value is the native
// coin attached to the call: it must equal amount for a native pool and be
// zero for a token pool. Either way the engine pulls the funds through the
// value-transfer port and requires custody to grow by exactly amount.
func (e *Engine) Deposit(caller common.Address, poolID uint64, amount, value *uint256.Int) error {
	return e.execute(OpDeposit, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if err := requirePositive(amount, "deposit amount"); err != nil {
			return err
		}
		pool, err := e.state.Pool(poolID)
		if err != nil {
			return err
		}
		if !pool.Active {
			return fmt.Errorf("%w: pool %d is inactive", types.ErrInvalidInput, poolID)
		}

		attached := fixed.OrZero(value)
		if types.IsNative(pool.Asset) {
			if !attached.Eq(amount) {
				return fmt.Errorf("%w: attached %s, declared %s", types.ErrAmountMismatch, attached.Dec(), amount.Dec())
			}
		} else if !attached.IsZero() {
			return fmt.Errorf("%w: native value %s sent to token pool %d", types.ErrAmountMismatch, attached.Dec(), poolID)
		}

		received, err := e.pull(pool.Asset, caller, amount)
		if err != nil {
			return err
		}
		if !received.Eq(amount) {
			return fmt.Errorf("%w: custody received %s, declared %s", types.ErrAmountMismatch, received.Dec(), amount.Dec())
		}

		if err := e.state.Credit(caller, poolID, amount, e.tick); err != nil {
			return err
		}
		e.emit(events.LiquidityAdded{
			Account: caller,
			PoolID:  poolID,
			Asset:   pool.Asset,
			Amount:  amount.Clone(),
			Tick:    e.tick,
		})
		return nil
	})
}

// Withdraw debits amount from caller's balance in pool and pays it out.
// Inactive pools still allow withdrawals.
func (e *Engine) Withdraw(caller common.Address, poolID uint64, amount *uint256.Int) error {
	return e.execute(OpWithdraw, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if err := requirePositive(amount, "withdraw amount"); err != nil {
			return err
		}
		pool, err := e.state.Pool(poolID)
		if err != nil {
			return err
		}
		if err := e.state.Debit(caller, poolID, amount, e.tick); err != nil {
			return err
		}
		if err := e.pay(pool.Asset, caller, amount); err != nil {
			return err
		}
		e.emit(events.LiquidityRemoved{
			Account: caller,
			PoolID:  poolID,
			Asset:   pool.Asset,
			Amount:  amount.Clone(),
			Tick:    e.tick,
		})
		return nil
	})
}

// ClaimRewards settles caller in every pool and pays out the whole pending
// reward in the reward asset.
func (e *Engine) ClaimRewards(caller common.Address) (*uint256.Int, error) {
	var claimed *uint256.Int
	err := e.execute(OpClaim, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if err := e.state.SettleAll(caller, e.tick); err != nil {
			return err
		}
		amount, err := e.state.TakeRewards(caller)
		if err != nil {
			return err
		}
		if err := e.pay(e.params.RewardAsset, caller, amount); err != nil {
			return err
		}
		e.emit(events.RewardsClaimed{Account: caller, Amount: amount.Clone(), Tick: e.tick})
		claimed = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
