// Package flashloan holds the borrower side of flash loans: a registry that
// dispatches the engine's callbacks to Go receivers, and receivers that repay,
// short-pay or trade with the borrowed funds.
package flashloan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/dex"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

var (
	ErrUnknownBorrower = errors.New("flashloan: no receiver registered for borrower")
	ErrUnprofitable    = errors.New("flashloan: route does not cover the loan")
)

// Receiver handles a flash loan made to borrower. It must return amount+fee
// of asset to the lender before it returns.
type Receiver interface {
	OnFlashLoan(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error

func (f ReceiverFunc) OnFlashLoan(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error {
	return f(borrower, asset, amount, fee, data)
}

// Mover moves funds between holders.
type Mover interface {
	Move(asset, from, to common.Address, amount *uint256.Int) error
}

// Registry maps borrower addresses to receivers.
type Registry struct {
	mu        sync.RWMutex
	receivers map[common.Address]Receiver
	logger    *zap.Logger
	callbacks *prometheus.CounterVec
}

// NewRegistry creates an empty registry. Callback counters are registered
// on reg when it is not nil.
func NewRegistry(logger *zap.Logger, reg prometheus.Registerer) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		receivers: make(map[common.Address]Receiver),
		logger:    logger,
		callbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flashloan_callbacks_total",
			Help: "Flash-loan callbacks dispatched, by outcome",
		}, []string{"outcome"}),
	}
}

func (r *Registry) Register(borrower common.Address, recv Receiver) error {
	if recv == nil {
		return fmt.Errorf("flashloan: nil receiver for %s", borrower.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.receivers[borrower]; exists {
		return fmt.Errorf("flashloan: receiver for %s already registered", borrower.Hex())
	}
	r.receivers[borrower] = recv
	return nil
}

func (r *Registry) Unregister(borrower common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.receivers, borrower)
}

// InvokeCallback dispatches a loan to the borrower's receiver.
func (r *Registry) InvokeCallback(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error {
	r.mu.RLock()
	recv, ok := r.receivers[borrower]
	r.mu.RUnlock()
	if !ok {
		r.callbacks.WithLabelValues("unknown_borrower").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownBorrower, borrower.Hex())
	}

	if err := recv.OnFlashLoan(borrower, asset, amount, fee, data); err != nil {
		r.callbacks.WithLabelValues("failed").Inc()
		r.logger.Info("Flash-loan receiver failed",
			zap.String("borrower", borrower.Hex()),
			zap.String("asset", asset.Hex()),
			zap.Error(err))
		return err
	}
	r.callbacks.WithLabelValues("ok").Inc()
	return nil
}

// Repayer returns principal, fee and an optional tip.
type Repayer struct {
	Funds  Mover
	Lender common.Address
	Tip    *uint256.Int
}

func (p Repayer) OnFlashLoan(borrower, asset common.Address, amount, fee *uint256.Int, _ []byte) error {
	owed, err := fixed.Add(amount, fee)
	if err != nil {
		return err
	}
	if owed, err = fixed.Add(owed, p.Tip); err != nil {
		return err
	}
	return p.Funds.Move(asset, borrower, p.Lender, owed)
}

// ShortPayer returns amount+fee minus Shortfall.
type ShortPayer struct {
	Funds     Mover
	Lender    common.Address
	Shortfall *uint256.Int
}

func (p ShortPayer) OnFlashLoan(borrower, asset common.Address, amount, fee *uint256.Int, _ []byte) error {
	owed, err := fixed.Add(amount, fee)
	if err != nil {
		return err
	}
	back := fixed.SaturatingSub(owed, p.Shortfall)
	if back.IsZero() {
		return nil
	}
	return p.Funds.Move(asset, borrower, p.Lender, back)
}

// Hop is one swap of a route.
type Hop struct {
	Venue    common.Address
	TokenOut common.Address
}

// Swapper trades holder's funds at a venue.
type Swapper interface {
	Swap(holder, venue common.Address, call dex.SwapCall) (*uint256.Int, error)
}

// RouteTrader spends the whole loan along Route, which must end in the
// borrowed asset, repays amount+fee and keeps whatever is left.
type RouteTrader struct {
	Funds  Mover
	Swaps  Swapper
	Lender common.Address
	Route  []Hop
}

func (p RouteTrader) OnFlashLoan(borrower, asset common.Address, amount, fee *uint256.Int, _ []byte) error {
	if len(p.Route) == 0 || p.Route[len(p.Route)-1].TokenOut != asset {
		return fmt.Errorf("flashloan: route must end in %s", asset.Hex())
	}
	token, held := asset, amount.Clone()
	for i, hop := range p.Route {
		out, err := p.Swaps.Swap(borrower, hop.Venue, dex.SwapCall{TokenIn: token, TokenOut: hop.TokenOut, AmountIn: held})
		if err != nil {
			return fmt.Errorf("flashloan: hop %d: %w", i, err)
		}
		token, held = hop.TokenOut, out
	}

	owed, err := fixed.Add(amount, fee)
	if err != nil {
		return err
	}
	if held.Lt(owed) {
		return fmt.Errorf("%w: route returned %s, owed %s", ErrUnprofitable, held.Dec(), owed.Dec())
	}
	return p.Funds.Move(asset, borrower, p.Lender, owed)
}
