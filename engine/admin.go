package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/types"
)

// Admin operations are never gated by the pause switch; unpausing is one of
// them.

func (e *Engine) requireAdmin(caller common.Address) error {
	if e.caps.Admin == nil {
		return fmt.Errorf("%w: administration renounced", types.ErrUnauthorized)
	}
	if *e.caps.Admin != caller {
		return fmt.Errorf("%w: %s is not admin", types.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// admin runs fn as an atomic admin call.
func (e *Engine) admin(caller common.Address, action string, fn func() error) error {
	return e.execute(OpAdmin, func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		e.logger.Info("Admin action applied", zap.String("action", action), zap.String("admin", caller.Hex()))
		return nil
	})
}

// CreatePool appends an active pool for asset accruing rewardRate per tick.
func (e *Engine) CreatePool(caller, asset common.Address, rewardRate *uint256.Int) (uint64, error) {
	var id uint64
	err := e.admin(caller, "create_pool", func() error {
		if asset == (common.Address{}) {
			return fmt.Errorf("%w: zero pool asset", types.ErrInvalidInput)
		}
		id = e.state.CreatePool(asset, rewardRate, e.tick)
		return nil
	})
	return id, err
}

// SetRewardRate changes a pool's rate after accruing at the old one.
func (e *Engine) SetRewardRate(caller common.Address, poolID uint64, rate *uint256.Int) error {
	return e.admin(caller, "set_reward_rate", func() error {
		return e.state.SetRewardRate(poolID, rate, e.tick)
	})
}

// SetPoolActive activates or deactivates a pool.
func (e *Engine) SetPoolActive(caller common.Address, poolID uint64, active bool) error {
	return e.admin(caller, "set_pool_active", func() error {
		return e.state.SetPoolActive(poolID, active, e.tick)
	})
}

// AuthorizeVenue adds venue to or removes it from the allow-list.
func (e *Engine) AuthorizeVenue(caller, venue common.Address, authorized bool) error {
	return e.admin(caller, "authorize_venue", func() error {
		if venue == (common.Address{}) {
			return fmt.Errorf("%w: zero venue address", types.ErrInvalidInput)
		}
		if authorized {
			e.params.Venues[venue] = true
		} else {
			delete(e.params.Venues, venue)
		}
		return nil
	})
}

// SetPlatformFee sets the arbitrage profit fee, at most types.MaxFeeBps.
func (e *Engine) SetPlatformFee(caller common.Address, bps uint64) error {
	return e.admin(caller, "set_platform_fee", func() error {
		if bps > types.MaxFeeBps {
			return fmt.Errorf("%w: %d bps exceeds %d", types.ErrFeeTooHigh, bps, types.MaxFeeBps)
		}
		e.params.PlatformFeeBps = bps
		return nil
	})
}

// SetFlashLoanFee sets the flash-loan fee, at most types.MaxFeeBps.
func (e *Engine) SetFlashLoanFee(caller common.Address, bps uint64) error {
	return e.admin(caller, "set_flashloan_fee", func() error {
		if bps > types.MaxFeeBps {
			return fmt.Errorf("%w: %d bps exceeds %d", types.ErrFeeTooHigh, bps, types.MaxFeeBps)
		}
		e.params.FlashLoanFeeBps = bps
		return nil
	})
}

func (e *Engine) SetPaused(caller common.Address, paused bool) error {
	return e.admin(caller, "set_paused", func() error {
		e.caps.Paused = paused
		return nil
	})
}

func (e *Engine) SetArbitrageEnabled(caller common.Address, enabled bool) error {
	return e.admin(caller, "set_arbitrage_enabled", func() error {
		e.params.ArbitrageEnabled = enabled
		return nil
	})
}

func (e *Engine) SetFlashLoansEnabled(caller common.Address, enabled bool) error {
	return e.admin(caller, "set_flashloans_enabled", func() error {
		e.params.FlashLoansEnabled = enabled
		return nil
	})
}

func (e *Engine) SetFeeRecipient(caller, recipient common.Address) error {
	return e.admin(caller, "set_fee_recipient", func() error {
		if recipient == (common.Address{}) {
			return fmt.Errorf("%w: zero fee recipient", types.ErrInvalidInput)
		}
		e.params.FeeRecipient = recipient
		return nil
	})
}

func (e *Engine) SetEmergencyWithdrawer(caller, withdrawer common.Address) error {
	return e.admin(caller, "set_emergency_withdrawer", func() error {
		e.caps.EmergencyWithdrawer = withdrawer
		return nil
	})
}

// TransferAdmin hands administration to next.
func (e *Engine) TransferAdmin(caller, next common.Address) error {
	return e.admin(caller, "transfer_admin", func() error {
		if next == (common.Address{}) {
			return fmt.Errorf("%w: zero admin address, use RenounceAdmin", types.ErrInvalidInput)
		}
		e.caps.Admin = &next
		return nil
	})
}

// RenounceAdmin removes the admin for good. Every admin operation fails
// afterwards.
func (e *Engine) RenounceAdmin(caller common.Address) error {
	return e.admin(caller, "renounce_admin", func() error {
		e.caps.Admin = nil
		return nil
	})
}

// EmergencyWithdraw moves amount of asset out of custody to to. Only the
// emergency withdrawer may call it and it works while paused. Ledger totals
// are deliberately left alone, so TotalValueLocked may no longer match
// custody afterwards.
func (e *Engine) EmergencyWithdraw(caller, asset, to common.Address, amount *uint256.Int) error {
	return e.execute(OpEmergencyWithdraw, func() error {
		if e.caps.EmergencyWithdrawer == (common.Address{}) || caller != e.caps.EmergencyWithdrawer {
			return fmt.Errorf("%w: %s is not the emergency withdrawer", types.ErrUnauthorized, caller.Hex())
		}
		if err := requirePositive(amount, "amount"); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return fmt.Errorf("%w: zero recipient", types.ErrInvalidInput)
		}
		if err := e.pay(asset, to, amount); err != nil {
			return err
		}
		e.logger.Warn("Emergency withdrawal",
			zap.String("asset", asset.Hex()),
			zap.String("to", to.Hex()),
			zap.String("amount", amount.Dec()))
		return nil
	})
}
