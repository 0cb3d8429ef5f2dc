package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// borrowerABI is the ERC-3156 borrower callback.
const borrowerABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "initiator", "type": "address"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "fee", "type": "uint256"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "onFlashLoan",
		"outputs": [
			{"internalType": "bytes32", "name": "", "type": "bytes32"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// CallbackSuccess is what a borrower's onFlashLoan must return.
var CallbackSuccess = crypto.Keccak256Hash([]byte("ERC3156FlashBorrower.onFlashLoan"))

var ErrBadCallbackReturn = errors.New("dex: borrower callback returned wrong magic value")

var uint256SliceArgs = func() abi.Arguments {
	t, _ := abi.NewType("uint256[]", "", nil)
	return abi.Arguments{{Type: t}}
}()

// EVMConfig tunes the eth_call adapter.
type EVMConfig struct {
	// From is the account the calls are simulated from, normally custody.
	From      common.Address
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// EVMRouter invokes venues and borrower callbacks deployed on a node through
// eth_call. It only simulates: state changes are never broadcast.
type EVMRouter struct {
	caller   ethereum.ContractCaller
	from     common.Address
	timeout  time.Duration
	limiter  *rate.Limiter
	borrower abi.ABI
	logger   *zap.Logger
}

// NewEVMRouter builds a router over any contract caller, e.g. *ethclient.Client.
func NewEVMRouter(caller ethereum.ContractCaller, cfg EVMConfig, logger *zap.Logger) (*EVMRouter, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := abi.JSON(strings.NewReader(borrowerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse borrower ABI: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &EVMRouter{
		caller:   caller,
		from:     cfg.From,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
		borrower: parsed,
		logger:   logger,
	}, nil
}

// Invoke calls venue with payload and decodes the amount it returns.
func (r *EVMRouter) Invoke(venue common.Address, payload []byte) (*uint256.Int, error) {
	return r.InvokeContext(context.Background(), venue, payload)
}

func (r *EVMRouter) InvokeContext(ctx context.Context, venue common.Address, payload []byte) (*uint256.Int, error) {
	out, err := r.call(ctx, venue, payload)
	if err != nil {
		return nil, err
	}
	amount, err := DecodeAmount(out)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", venue.Hex(), err)
	}
	return amount, nil
}

// InvokeCallback calls onFlashLoan on borrower and checks the magic return
// value.
func (r *EVMRouter) InvokeCallback(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error {
	input, err := r.borrower.Pack("onFlashLoan", borrower, asset, amount.ToBig(), fee.ToBig(), data)
	if err != nil {
		return fmt.Errorf("failed to pack callback: %w", err)
	}
	out, err := r.call(context.Background(), borrower, input)
	if err != nil {
		return err
	}
	values, err := r.borrower.Unpack("onFlashLoan", out)
	if err != nil {
		return fmt.Errorf("failed to unpack callback result: %w", err)
	}
	magic, ok := values[0].([32]byte)
	if !ok || common.Hash(magic) != CallbackSuccess {
		return ErrBadCallbackReturn
	}
	return nil
}

func (r *EVMRouter) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{From: r.from, To: &to, Data: data}, nil)
	if err != nil {
		r.logger.Warn("eth_call failed", zap.String("to", to.Hex()), zap.Error(err))
		return nil, fmt.Errorf("eth_call %s: %w", to.Hex(), err)
	}
	r.logger.Debug("eth_call",
		zap.String("to", to.Hex()),
		zap.Int("returned", len(out)),
		zap.Duration("latency", time.Since(start)))
	return out, nil
}

// DecodeAmount reads a venue result: either a single uint256 or a uint256[]
// whose last element is the final output, as routers return for swaps.
func DecodeAmount(out []byte) (*uint256.Int, error) {
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("empty return data")
	case len(out) == 32:
		return new(uint256.Int).SetBytes(out), nil
	}
	values, err := uint256SliceArgs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("decode amounts: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("decode amounts: no amounts returned")
	}
	last, overflow := uint256.FromBig(amounts[len(amounts)-1])
	if overflow {
		return nil, fmt.Errorf("decode amounts: amount overflows 256 bits")
	}
	return last, nil
}
