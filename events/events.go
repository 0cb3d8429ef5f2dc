// Package events defines the records the engine publishes when a call commits.
package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeLiquidityAdded    = "liquidity.added"
	TypeLiquidityRemoved  = "liquidity.removed"
	TypeRewardsClaimed    = "rewards.claimed"
	TypeArbitrageExecuted = "arbitrage.executed"
	TypeFlashLoanExecuted = "flashloan.executed"
	TypeStrategyExecuted  = "strategy.executed"
)

// Event is a structured record of a committed state change.
type Event interface {
	EventType() string
	// Subject is the account the event belongs to.
	Subject() common.Address
}

type LiquidityAdded struct {
	Account common.Address
	PoolID  uint64
	Asset   common.Address
	Amount  *uint256.Int
	Tick    uint64
}

func (LiquidityAdded) EventType() string         { return TypeLiquidityAdded }
func (e LiquidityAdded) Subject() common.Address { return e.Account }

type LiquidityRemoved struct {
	Account common.Address
	PoolID  uint64
	Asset   common.Address
	Amount  *uint256.Int
	Tick    uint64
}

func (LiquidityRemoved) EventType() string         { return TypeLiquidityRemoved }
func (e LiquidityRemoved) Subject() common.Address { return e.Account }

type RewardsClaimed struct {
	Account common.Address
	Amount  *uint256.Int
	Tick    uint64
}

func (RewardsClaimed) EventType() string         { return TypeRewardsClaimed }
func (e RewardsClaimed) Subject() common.Address { return e.Account }

// ArbitrageExecuted carries the caller's share of the profit, after the
// platform fee.
type ArbitrageExecuted struct {
	Account  common.Address
	AssetIn  common.Address
	AssetOut common.Address
	AmountIn *uint256.Int
	Profit   *uint256.Int
	Tick     uint64
}

func (ArbitrageExecuted) EventType() string         { return TypeArbitrageExecuted }
func (e ArbitrageExecuted) Subject() common.Address { return e.Account }

type FlashLoanExecuted struct {
	Account common.Address
	Asset   common.Address
	Amount  *uint256.Int
	Fee     *uint256.Int
}

func (FlashLoanExecuted) EventType() string         { return TypeFlashLoanExecuted }
func (e FlashLoanExecuted) Subject() common.Address { return e.Account }

type StrategyExecuted struct {
	Account      common.Address
	StrategyType string
	InputAmount  *uint256.Int
	OutputAmount *uint256.Int
}

func (StrategyExecuted) EventType() string         { return TypeStrategyExecuted }
func (e StrategyExecuted) Subject() common.Address { return e.Account }

// Attributes flattens an event into string fields for logs and CLI output.
func Attributes(ev Event) map[string]string {
	amount := func(v *uint256.Int) string {
		if v == nil {
			return "0"
		}
		return v.Dec()
	}
	attrs := map[string]string{"account": ev.Subject().Hex()}
	switch e := ev.(type) {
	case LiquidityAdded:
		attrs["asset"] = e.Asset.Hex()
		attrs["amount"] = amount(e.Amount)
	case LiquidityRemoved:
		attrs["asset"] = e.Asset.Hex()
		attrs["amount"] = amount(e.Amount)
	case RewardsClaimed:
		attrs["amount"] = amount(e.Amount)
	case ArbitrageExecuted:
		attrs["assetIn"] = e.AssetIn.Hex()
		attrs["assetOut"] = e.AssetOut.Hex()
		attrs["amountIn"] = amount(e.AmountIn)
		attrs["profit"] = amount(e.Profit)
	case FlashLoanExecuted:
		attrs["asset"] = e.Asset.Hex()
		attrs["amount"] = amount(e.Amount)
		attrs["fee"] = amount(e.Fee)
	case StrategyExecuted:
		attrs["strategy"] = e.StrategyType
		attrs["input"] = amount(e.InputAmount)
		attrs["output"] = amount(e.OutputAmount)
	}
	return attrs
}
