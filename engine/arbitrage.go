package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// ArbitrageResult is the split of one arbitrage's profit.
type ArbitrageResult struct {
	Profit     *uint256.Int
	Fee        *uint256.Int
	UserProfit *uint256.Int
}

// ExecuteArbitrage runs intent's round trip through VenueA and VenueB.
//
// Profit is the growth of custody's AssetIn balance measured from before the
// caller's funds are taken in, so it includes the returned principal. Any
// AssetIn that reaches custody during the two legs counts, whatever its
// origin.
func (e *Engine) ExecuteArbitrage(caller common.Address, intent types.ArbitrageIntent) (*ArbitrageResult, error) {
	var result *ArbitrageResult
	err := e.execute(OpArbitrage, func() error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if !e.params.ArbitrageEnabled {
			return fmt.Errorf("%w: arbitrage", types.ErrFeatureDisabled)
		}
		if err := requirePositive(intent.AmountIn, "amountIn"); err != nil {
			return err
		}
		if intent.AssetIn == intent.AssetOut {
			return fmt.Errorf("%w: assetIn and assetOut are both %s", types.ErrInvalidInput, intent.AssetIn.Hex())
		}
		if err := e.requireVenue(intent.VenueA); err != nil {
			return err
		}
		if err := e.requireVenue(intent.VenueB); err != nil {
			return err
		}

		baseline := fixed.OrZero(e.transfers.BalanceOf(intent.AssetIn))
		if _, err := e.pull(intent.AssetIn, caller, intent.AmountIn); err != nil {
			return err
		}

		outA, err := e.calls.Invoke(intent.VenueA, intent.PayloadA)
		if err != nil {
			return fmt.Errorf("%w: venue A %s: %v", types.ErrLegFailed, intent.VenueA.Hex(), err)
		}
		if !fixed.IsPositive(outA) {
			return fmt.Errorf("%w: venue A %s returned nothing", types.ErrLegFailed, intent.VenueA.Hex())
		}

		reportedB, err := e.calls.Invoke(intent.VenueB, intent.PayloadB)
		if err != nil {
			return fmt.Errorf("%w: venue B %s: %v", types.ErrLegFailed, intent.VenueB.Hex(), err)
		}
		outB := fixed.OrZero(reportedB)
		minOut := fixed.OrZero(intent.MinAmountOut)
		if outB.Lt(minOut) {
			return fmt.Errorf("%w: venue B returned %s, minimum %s", types.ErrSlippageExceeded, outB.Dec(), minOut.Dec())
		}

		profit := fixed.SaturatingSub(e.transfers.BalanceOf(intent.AssetIn), baseline)
		fee, err := fixed.BpsOf(profit, e.params.PlatformFeeBps)
		if err != nil {
			return err
		}
		userProfit := new(uint256.Int).Sub(profit, fee)

		if err := e.pay(intent.AssetIn, e.params.FeeRecipient, fee); err != nil {
			return err
		}
		if err := e.pay(intent.AssetIn, caller, userProfit); err != nil {
			return err
		}

		if err := e.state.AddArbitrageProfit(profit); err != nil {
			return err
		}
		if err := e.state.AddVolume(intent.AmountIn); err != nil {
			return err
		}

		e.logger.Debug("Arbitrage settled",
			zap.String("caller", caller.Hex()),
			zap.String("legA", outA.Dec()),
			zap.String("legB", outB.Dec()),
			zap.String("profit", profit.Dec()),
			zap.String("fee", fee.Dec()))
		e.emit(events.ArbitrageExecuted{
			Account:  caller,
			AssetIn:  intent.AssetIn,
			AssetOut: intent.AssetOut,
			AmountIn: intent.AmountIn.Clone(),
			Profit:   userProfit.Clone(),
			Tick:     e.tick,
		})
		result = &ArbitrageResult{Profit: profit, Fee: fee, UserProfit: userProfit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
