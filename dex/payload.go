// Package dex contains the venue side of the external call port: payload
// encoding, an in-process constant-product router over the custody bank and
// an eth_call adapter for venues deployed on a node.
package dex

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SwapSignature is the call every venue understands.
const SwapSignature = "swap(address,address,uint256)"

var (
	swapSelector = crypto.Keccak256([]byte(SwapSignature))[:4]

	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)

	swapArgs = abi.Arguments{
		{Name: "tokenIn", Type: addressType},
		{Name: "tokenOut", Type: addressType},
		{Name: "amountIn", Type: uint256Type},
	}
)

// SwapCall is a decoded venue payload.
type SwapCall struct {
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *uint256.Int
}

// EncodeSwap builds the calldata for call.
func EncodeSwap(call SwapCall) ([]byte, error) {
	if call.AmountIn == nil {
		return nil, fmt.Errorf("encode swap: nil amount")
	}
	packed, err := swapArgs.Pack(call.TokenIn, call.TokenOut, call.AmountIn.ToBig())
	if err != nil {
		return nil, fmt.Errorf("encode swap: %w", err)
	}
	return append(append([]byte{}, swapSelector...), packed...), nil
}

// MustEncodeSwap is EncodeSwap for payloads known to be valid.
func MustEncodeSwap(tokenIn, tokenOut common.Address, amountIn *uint256.Int) []byte {
	payload, err := EncodeSwap(SwapCall{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn})
	if err != nil {
		panic(err)
	}
	return payload
}

// DecodeSwap parses calldata produced by EncodeSwap.
func DecodeSwap(payload []byte) (SwapCall, error) {
	if len(payload) < 4 || !bytes.Equal(payload[:4], swapSelector) {
		return SwapCall{}, fmt.Errorf("decode swap: unknown selector")
	}
	values, err := swapArgs.Unpack(payload[4:])
	if err != nil {
		return SwapCall{}, fmt.Errorf("decode swap: %w", err)
	}
	tokenIn, okIn := values[0].(common.Address)
	tokenOut, okOut := values[1].(common.Address)
	amount, okAmount := values[2].(*big.Int)
	if !okIn || !okOut || !okAmount {
		return SwapCall{}, fmt.Errorf("decode swap: unexpected argument types")
	}
	amountIn, overflow := uint256.FromBig(amount)
	if overflow {
		return SwapCall{}, fmt.Errorf("decode swap: amount overflows 256 bits")
	}
	return SwapCall{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn}, nil
}
