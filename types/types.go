package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeAsset is the sentinel asset identifier for the chain's native coin.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const (
	// BasisPoints is the denominator for every fee expressed in bps.
	BasisPoints = 10_000
	// MaxFeeBps caps platform and flash-loan fees at 10%.
	MaxFeeBps = 1_000
	// DefaultFlashLoanFeeBps is the flash-loan fee applied when none is configured.
	DefaultFlashLoanFeeBps = 9
)

// IsNative reports whether asset is the native coin sentinel.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// ArbitrageIntent describes a two-leg round trip assetIn -> assetOut -> assetIn
// routed through two authorized venues. It is never persisted.
type ArbitrageIntent struct {
	AssetIn      common.Address
	AssetOut     common.Address
	VenueA       common.Address
	VenueB       common.Address
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	PayloadA     []byte
	PayloadB     []byte
}

// FlashLoanIntent describes an uncollateralized loan that must be repaid with
// fee before the call returns.
type FlashLoanIntent struct {
	Asset  common.Address
	Amount *uint256.Int
	Data   []byte
}

// StrategyType identifies the shape of a strategy execution.
type StrategyType uint8

const (
	// StrategySwap routes assetIn through one venue and pays assetOut to the caller.
	StrategySwap StrategyType = iota
	// StrategySwapAndDeposit routes assetIn through one venue and deposits the
	// output into a pool on the caller's behalf.
	StrategySwapAndDeposit
)

func (s StrategyType) String() string {
	switch s {
	case StrategySwap:
		return "swap"
	case StrategySwapAndDeposit:
		return "swap_and_deposit"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known strategy type.
func (s StrategyType) Valid() bool {
	return s <= StrategySwapAndDeposit
}

// StrategyIntent describes a single-venue strategy execution.
type StrategyIntent struct {
	Type         StrategyType
	AssetIn      common.Address
	AssetOut     common.Address
	Venue        common.Address
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	Payload      []byte
	// PoolID is only read for StrategySwapAndDeposit.
	PoolID uint64
}
