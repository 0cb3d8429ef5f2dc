package math

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/michaelpento.lv/arbvault/types"
)

// precision is the 1e18 fixed-point scale used by reward accrual.
var precision = uint256.NewInt(1_000_000_000_000_000_000)

var basisPoints = uint256.NewInt(types.BasisPoints)

// Precision returns a copy of the 1e18 fixed-point scale.
func Precision() *uint256.Int {
	return new(uint256.Int).Set(precision)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// OrZero returns a copy of x, or zero when x is nil.
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// IsPositive reports whether x is non-nil and greater than zero.
func IsPositive(x *uint256.Int) bool {
	return x != nil && !x.IsZero()
}

// Add returns x+y, failing instead of wrapping on overflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(OrZero(x), OrZero(y))
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", types.ErrOverflow, OrZero(x).Dec(), OrZero(y).Dec())
	}
	return z, nil
}

// Sub returns x-y, failing when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(OrZero(x), OrZero(y))
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s underflows", types.ErrOverflow, OrZero(x).Dec(), OrZero(y).Dec())
	}
	return z, nil
}

// SaturatingSub returns max(0, x-y).
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	a, b := OrZero(x), OrZero(y)
	if a.Cmp(b) <= 0 {
		return new(uint256.Int)
	}
	return a.Sub(a, b)
}

// Mul returns x*y, failing instead of wrapping on overflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(OrZero(x), OrZero(y))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", types.ErrOverflow, OrZero(x).Dec(), OrZero(y).Dec())
	}
	return z, nil
}

// MulDiv returns floor(x*y/d). The product must fit in 256 bits.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", types.ErrInvalidInput)
	}
	product, err := Mul(x, y)
	if err != nil {
		return nil, err
	}
	return product.Div(product, d), nil
}

// MulDivUp returns ceil(x*y/d). The product must fit in 256 bits.
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", types.ErrInvalidInput)
	}
	product, err := Mul(x, y)
	if err != nil {
		return nil, err
	}
	quo, rem := new(uint256.Int), new(uint256.Int)
	quo.DivMod(product, d, rem)
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return quo, nil
}

// BpsOf returns floor(amount*bps/10000).
func BpsOf(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(bps), basisPoints)
}

// BpsOfUp returns ceil(amount*bps/10000).
func BpsOfUp(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDivUp(amount, uint256.NewInt(bps), basisPoints)
}

// ParseAmount parses a base-10 amount. Underscores are accepted as digit
// separators so configs can spell 1_000_000.
func ParseAmount(s string) (*uint256.Int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if clean == "" {
		return nil, fmt.Errorf("%w: empty amount", types.ErrInvalidInput)
	}
	v, err := uint256.FromDecimal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", types.ErrInvalidInput, s, err)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants; it panics on malformed input.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}
