package dex

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

var (
	ErrUnknownVenue          = errors.New("dex: unknown venue")
	ErrUnsupportedPair       = errors.New("dex: pair not traded by venue")
	ErrInsufficientLiquidity = errors.New("dex: insufficient liquidity")
	ErrInsufficientOutput    = errors.New("dex: insufficient output amount")
)

// Funds is the bank an AMM settles against.
type Funds interface {
	Move(asset, from, to common.Address, amount *uint256.Int) error
	BalanceOfHolder(asset, holder common.Address) *uint256.Int
	Custody() common.Address
}

// Venue is a constant-product pair. Its reserves are whatever the venue
// address itself holds in the bank.
type Venue struct {
	Name   string
	Token0 common.Address
	Token1 common.Address
	FeeBps uint64
}

func (v Venue) trades(tokenIn, tokenOut common.Address) bool {
	return (tokenIn == v.Token0 && tokenOut == v.Token1) || (tokenIn == v.Token1 && tokenOut == v.Token0)
}

// AMM routes swaps through in-process constant-product venues. Invoked as a
// venue caller, it trades on behalf of the bank's custody holder.
type AMM struct {
	mu     sync.RWMutex
	funds  Funds
	venues map[common.Address]Venue
	logger *zap.Logger
}

func NewAMM(funds Funds, logger *zap.Logger) *AMM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMM{
		funds:  funds,
		venues: make(map[common.Address]Venue),
		logger: logger,
	}
}

// AddVenue registers or replaces the pair traded at addr.
func (a *AMM) AddVenue(addr common.Address, v Venue) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero venue address", types.ErrInvalidInput)
	}
	if v.Token0 == v.Token1 {
		return fmt.Errorf("%w: venue %s trades %s against itself", types.ErrInvalidInput, v.Name, v.Token0.Hex())
	}
	if v.FeeBps >= types.BasisPoints {
		return fmt.Errorf("%w: venue fee %d bps", types.ErrInvalidInput, v.FeeBps)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.venues[addr] = v
	a.logger.Debug("Venue registered",
		zap.String("venue", addr.Hex()),
		zap.String("name", v.Name),
		zap.Uint64("feeBps", v.FeeBps))
	return nil
}

// Venue returns the pair registered at addr.
func (a *AMM) Venue(addr common.Address) (Venue, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.venues[addr]
	return v, ok
}

// Venues returns every registered venue address in ascending order.
func (a *AMM) Venues() []common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]common.Address, 0, len(a.venues))
	for addr := range a.venues {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Reserves returns the venue's holdings of tokenIn and tokenOut.
func (a *AMM) Reserves(venue, tokenIn, tokenOut common.Address) (*uint256.Int, *uint256.Int, error) {
	v, ok := a.Venue(venue)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue.Hex())
	}
	if !v.trades(tokenIn, tokenOut) {
		return nil, nil, fmt.Errorf("%w: %s does not trade %s/%s", ErrUnsupportedPair, v.Name, tokenIn.Hex(), tokenOut.Hex())
	}
	return a.funds.BalanceOfHolder(tokenIn, venue), a.funds.BalanceOfHolder(tokenOut, venue), nil
}

// Quote returns what Swap would pay out right now.
func (a *AMM) Quote(venue common.Address, call SwapCall) (*uint256.Int, error) {
	v, _ := a.Venue(venue)
	reserveIn, reserveOut, err := a.Reserves(venue, call.TokenIn, call.TokenOut)
	if err != nil {
		return nil, err
	}
	return GetAmountOut(call.AmountIn, reserveIn, reserveOut, v.FeeBps)
}

// Swap sells call.AmountIn of TokenIn from trader to venue and pays the
// constant-product output of TokenOut back to trader.
func (a *AMM) Swap(trader, venue common.Address, call SwapCall) (*uint256.Int, error) {
	out, err := a.Quote(venue, call)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("%w: %s of %s buys nothing", ErrInsufficientOutput, call.AmountIn.Dec(), call.TokenIn.Hex())
	}
	if err := a.funds.Move(call.TokenIn, trader, venue, call.AmountIn); err != nil {
		return nil, fmt.Errorf("dex: pay venue: %w", err)
	}
	if err := a.funds.Move(call.TokenOut, venue, trader, out); err != nil {
		return nil, fmt.Errorf("dex: pay trader: %w", err)
	}

	a.logger.Debug("Swap executed",
		zap.String("venue", venue.Hex()),
		zap.String("trader", trader.Hex()),
		zap.String("tokenIn", call.TokenIn.Hex()),
		zap.String("amountIn", call.AmountIn.Dec()),
		zap.String("amountOut", out.Dec()))
	return out, nil
}

// Invoke decodes a swap payload and executes it for the custody holder.
func (a *AMM) Invoke(venue common.Address, payload []byte) (*uint256.Int, error) {
	call, err := DecodeSwap(payload)
	if err != nil {
		return nil, err
	}
	return a.Swap(a.funds.Custody(), venue, call)
}

// GetAmountOut is the constant-product output for amountIn after a feeBps
// input fee, rounded down.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if !fixed.IsPositive(amountIn) {
		return nil, fmt.Errorf("%w: amountIn must be positive", types.ErrInvalidInput)
	}
	if !fixed.IsPositive(reserveIn) || !fixed.IsPositive(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	withFee, err := fixed.Mul(amountIn, uint256.NewInt(types.BasisPoints-feeBps))
	if err != nil {
		return nil, err
	}
	scaledReserve, err := fixed.Mul(reserveIn, uint256.NewInt(types.BasisPoints))
	if err != nil {
		return nil, err
	}
	denominator, err := fixed.Add(scaledReserve, withFee)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(withFee, reserveOut, denominator)
}
