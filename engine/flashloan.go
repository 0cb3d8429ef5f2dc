package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// FlashFee returns the fee owed on a flash loan of amount, rounded up.
func (e *Engine) FlashFee(amount *uint256.Int) (*uint256.Int, error) {
	return fixed.BpsOfUp(amount, e.params.FlashLoanFeeBps)
}

// MaxFlashLoan returns how much of asset can currently be borrowed.
func (e *Engine) MaxFlashLoan(asset common.Address) *uint256.Int {
	return fixed.OrZero(e.transfers.BalanceOf(asset))
}

// FlashLoan lends intent.Amount to caller and runs its callback. Custody must
// end at least fee above where it started, which only holds if principal and
// fee both came back. Any callback failure counts as an unpaid loan.
func (e *Engine) FlashLoan(caller common.Address, intent types.FlashLoanIntent) (*uint256.Int, error) {
	var charged *uint256.Int
	err := e.execute(OpFlashLoan, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if !e.params.FlashLoansEnabled {
			return fmt.Errorf("%w: flash loans", types.ErrFeatureDisabled)
		}
		if err := requirePositive(intent.Amount, "loan amount"); err != nil {
			return err
		}

		before := fixed.OrZero(e.transfers.BalanceOf(intent.Asset))
		if before.Lt(intent.Amount) {
			return fmt.Errorf("%w: custody holds %s of %s, requested %s",
				types.ErrInsufficientLiquidity, before.Dec(), intent.Asset.Hex(), intent.Amount.Dec())
		}
		fee, err := e.FlashFee(intent.Amount)
		if err != nil {
			return err
		}
		required, err := fixed.Add(before, fee)
		if err != nil {
			return err
		}

		if err := e.pay(intent.Asset, caller, intent.Amount); err != nil {
			return err
		}
		if err := e.calls.InvokeCallback(caller, intent.Asset, intent.Amount.Clone(), fee.Clone(), intent.Data); err != nil {
			return fmt.Errorf("%w: callback of %s: %v", types.ErrLoanNotRepaid, caller.Hex(), err)
		}

		after := fixed.OrZero(e.transfers.BalanceOf(intent.Asset))
		if after.Lt(required) {
			return fmt.Errorf("%w: custody at %s, owed at least %s", types.ErrLoanNotRepaid, after.Dec(), required.Dec())
		}

		e.emit(events.FlashLoanExecuted{
			Account: caller,
			Asset:   intent.Asset,
			Amount:  intent.Amount.Clone(),
			Fee:     fee.Clone(),
		})
		charged = fee
		return nil
	})
	if err != nil {
		return nil, err
	}
	return charged, nil
}
