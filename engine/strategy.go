package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// ExecuteStrategy routes intent.AmountIn of AssetIn through one authorized
// venue. A swap pays the AssetOut output to the caller; a swap-and-deposit
// credits it to the caller in intent.PoolID, whose asset must be AssetOut.
func (e *Engine) ExecuteStrategy(caller common.Address, intent types.StrategyIntent) (*uint256.Int, error) {
	var output *uint256.Int
	err := e.execute(OpStrategy, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if !intent.Type.Valid() {
			return fmt.Errorf("%w: strategy type %d", types.ErrInvalidInput, intent.Type)
		}
		if err := requirePositive(intent.AmountIn, "amountIn"); err != nil {
			return err
		}
		if intent.AssetIn == intent.AssetOut {
			return fmt.Errorf("%w: assetIn and assetOut are both %s", types.ErrInvalidInput, intent.AssetIn.Hex())
		}
		if err := e.requireVenue(intent.Venue); err != nil {
			return err
		}
		if intent.Type == types.StrategySwapAndDeposit {
			pool, err := e.state.Pool(intent.PoolID)
			if err != nil {
				return err
			}
			if pool.Asset != intent.AssetOut {
				return fmt.Errorf("%w: pool %d holds %s, strategy yields %s",
					types.ErrInvalidInput, intent.PoolID, pool.Asset.Hex(), intent.AssetOut.Hex())
			}
			if !pool.Active {
				return fmt.Errorf("%w: pool %d is inactive", types.ErrInvalidInput, intent.PoolID)
			}
		}

		if _, err := e.pull(intent.AssetIn, caller, intent.AmountIn); err != nil {
			return err
		}
		outBefore := fixed.OrZero(e.transfers.BalanceOf(intent.AssetOut))

		out, err := e.calls.Invoke(intent.Venue, intent.Payload)
		if err != nil {
			return fmt.Errorf("%w: venue %s: %v", types.ErrLegFailed, intent.Venue.Hex(), err)
		}
		if !fixed.IsPositive(out) {
			return fmt.Errorf("%w: venue %s returned nothing", types.ErrLegFailed, intent.Venue.Hex())
		}
		minOut := fixed.OrZero(intent.MinAmountOut)
		if out.Lt(minOut) {
			return fmt.Errorf("%w: venue returned %s, minimum %s", types.ErrSlippageExceeded, out.Dec(), minOut.Dec())
		}
		arrived := fixed.SaturatingSub(e.transfers.BalanceOf(intent.AssetOut), outBefore)
		if arrived.Lt(out) {
			return fmt.Errorf("%w: venue reported %s, custody received %s", types.ErrAmountMismatch, out.Dec(), arrived.Dec())
		}

		switch intent.Type {
		case types.StrategySwap:
			if err := e.pay(intent.AssetOut, caller, out); err != nil {
				return err
			}
		case types.StrategySwapAndDeposit:
			if err := e.state.Credit(caller, intent.PoolID, out, e.tick); err != nil {
				return err
			}
			e.emit(events.LiquidityAdded{
				Account: caller,
				PoolID:  intent.PoolID,
				Asset:   intent.AssetOut,
				Amount:  out.Clone(),
				Tick:    e.tick,
			})
		}

		if err := e.state.AddVolume(intent.AmountIn); err != nil {
			return err
		}
		e.emit(events.StrategyExecuted{
			Account:      caller,
			StrategyType: intent.Type.String(),
			InputAmount:  intent.AmountIn.Clone(),
			OutputAmount: out.Clone(),
		})
		output = out.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}
