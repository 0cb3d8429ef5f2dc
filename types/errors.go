package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the engine wraps exactly one of these.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrAmountMismatch        = errors.New("amount mismatch")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrLegFailed             = errors.New("leg failed")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrLoanNotRepaid         = errors.New("loan not repaid")
	ErrFeeTooHigh            = errors.New("fee too high")
	ErrOperationPaused       = errors.New("operation paused")
	ErrNoRewards             = errors.New("no rewards")
)

// Refinements of a kind. errors.Is matches both the refinement and its kind.
var (
	ErrReentrant         = fmt.Errorf("%w: reentrant call", ErrUnauthorized)
	ErrUnauthorizedVenue = fmt.Errorf("%w: venue not authorized", ErrUnauthorized)
	ErrOverflow          = fmt.Errorf("%w: arithmetic overflow", ErrInvalidInput)
	ErrFeatureDisabled   = fmt.Errorf("%w: feature disabled", ErrOperationPaused)
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrUnauthorized, "unauthorized"},
	{ErrNotFound, "not_found"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrLegFailed, "leg_failed"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrLoanNotRepaid, "loan_not_repaid"},
	{ErrFeeTooHigh, "fee_too_high"},
	{ErrOperationPaused, "operation_paused"},
	{ErrNoRewards, "no_rewards"},
}

// Kind returns the label of the error kind err wraps, "unknown" when it wraps
// none and "" for a nil error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
