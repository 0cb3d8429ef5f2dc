// Package engine settles deposits, reward claims, two-leg arbitrage, flash
// loans and strategies against a ledger and an external custody.
//
// Every state-changing call is all-or-nothing: on error the ledger, the
// capabilities and (when the custody supports snapshots) custody itself are
// restored, and no event is published.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/ledger"
	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
	"github.com/michaelpento.lv/arbvault/utils/metrics"
)

const (
	OpAdvance           = "advance"
	OpDeposit           = "deposit"
	OpWithdraw          = "withdraw"
	OpClaim             = "claim"
	OpArbitrage         = "arbitrage"
	OpFlashLoan         = "flashloan"
	OpStrategy          = "strategy"
	OpEmergencyWithdraw = "emergency_withdraw"
	OpAdmin             = "admin"
)

// Config seeds a new engine.
type Config struct {
	Admin               common.Address
	EmergencyWithdrawer common.Address
	FeeRecipient        common.Address
	// RewardAsset is the asset claimed rewards are paid in.
	RewardAsset       common.Address
	PlatformFeeBps    uint64
	FlashLoanFeeBps   uint64
	ArbitrageEnabled  bool
	FlashLoansEnabled bool
	Venues            []common.Address
	StartTick         uint64
}

// Capabilities are the identities and switches checked at the top of each
// call. A nil Admin means administration was renounced.
type Capabilities struct {
	Admin               *common.Address
	EmergencyWithdrawer common.Address
	Paused              bool
}

func (c Capabilities) clone() Capabilities {
	out := c
	if c.Admin != nil {
		admin := *c.Admin
		out.Admin = &admin
	}
	return out
}

// Params are the admin-tunable economics of the engine.
type Params struct {
	FeeRecipient      common.Address
	RewardAsset       common.Address
	PlatformFeeBps    uint64
	FlashLoanFeeBps   uint64
	ArbitrageEnabled  bool
	FlashLoansEnabled bool
	Venues            map[common.Address]bool
}

func (p Params) clone() Params {
	out := p
	out.Venues = make(map[common.Address]bool, len(p.Venues))
	for v, ok := range p.Venues {
		if ok {
			out.Venues[v] = true
		}
	}
	return out
}

// Engine owns the ledger and settles every operation against it. It is not
// safe for concurrent use; a call made while another is in progress, whether
// re-entered from a venue or borrower or issued from another goroutine, is
// rejected with types.ErrReentrant.
type Engine struct {
	logger    *zap.Logger
	transfers ValueTransfer
	calls     ExternalCaller
	emitter   events.Emitter
	metrics   *metrics.EngineMetrics

	state  *ledger.EngineState
	caps   Capabilities
	params Params
	tick   uint64

	inProgress atomic.Bool
	pending    []events.Event
}

// NewEngine validates cfg and returns an engine with an empty ledger.
func NewEngine(cfg Config, transfers ValueTransfer, calls ExternalCaller, logger *zap.Logger) (*Engine, error) {
	if transfers == nil || calls == nil {
		return nil, fmt.Errorf("%w: value transfer and external call ports are required", types.ErrInvalidInput)
	}
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: admin must be set", types.ErrInvalidInput)
	}
	if cfg.PlatformFeeBps > types.MaxFeeBps {
		return nil, fmt.Errorf("%w: platform fee %d bps", types.ErrFeeTooHigh, cfg.PlatformFeeBps)
	}
	if cfg.FlashLoanFeeBps > types.MaxFeeBps {
		return nil, fmt.Errorf("%w: flash-loan fee %d bps", types.ErrFeeTooHigh, cfg.FlashLoanFeeBps)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admin := cfg.Admin
	feeRecipient := cfg.FeeRecipient
	if feeRecipient == (common.Address{}) {
		feeRecipient = admin
	}
	e := &Engine{
		logger:    logger,
		transfers: transfers,
		calls:     calls,
		emitter:   events.NoopEmitter{},
		state:     ledger.NewEngineState(),
		caps: Capabilities{
			Admin:               &admin,
			EmergencyWithdrawer: cfg.EmergencyWithdrawer,
		},
		params: Params{
			FeeRecipient:      feeRecipient,
			RewardAsset:       cfg.RewardAsset,
			PlatformFeeBps:    cfg.PlatformFeeBps,
			FlashLoanFeeBps:   cfg.FlashLoanFeeBps,
			ArbitrageEnabled:  cfg.ArbitrageEnabled,
			FlashLoansEnabled: cfg.FlashLoansEnabled,
			Venues:            make(map[common.Address]bool, len(cfg.Venues)),
		},
		tick: cfg.StartTick,
	}
	for _, v := range cfg.Venues {
		if v == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero venue address", types.ErrInvalidInput)
		}
		e.params.Venues[v] = true
	}
	return e, nil
}

// SetEmitter routes committed events to em. A nil emitter discards them.
func (e *Engine) SetEmitter(em events.Emitter) {
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

// SetMetrics attaches prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.EngineMetrics) {
	e.metrics = m
}

// AdvanceTo moves the engine clock forward. Ticks never go backwards.
func (e *Engine) AdvanceTo(tick uint64) error {
	return e.execute(OpAdvance, func() error {
		if tick < e.tick {
			return fmt.Errorf("%w: tick %d is before current tick %d", types.ErrInvalidInput, tick, e.tick)
		}
		e.tick = tick
		return nil
	})
}

// execute runs fn as one atomic call. It rejects re-entry, snapshots every
// piece of mutable state and restores it if fn fails or panics. Events
// buffered by fn are published only after it succeeds.
func (e *Engine) execute(op string, fn func() error) (err error) {
	start := time.Now()
	if !e.inProgress.CompareAndSwap(false, true) {
		err = fmt.Errorf("%w: %s while another call is in progress", types.ErrReentrant, op)
		e.metrics.ObserveCall(op, time.Since(start), err)
		return err
	}
	defer e.inProgress.Store(false)

	savedState := e.state.Clone()
	savedCaps := e.caps.clone()
	savedParams := e.params.clone()
	savedTick := e.tick
	snapshotter, canSnapshot := e.transfers.(Snapshotter)
	var snapshot int
	if canSnapshot {
		snapshot = snapshotter.Snapshot()
	}
	e.pending = e.pending[:0]

	committed := false
	defer func() {
		if committed {
			return
		}
		e.state = savedState
		e.caps = savedCaps
		e.params = savedParams
		e.tick = savedTick
		e.pending = e.pending[:0]
		if canSnapshot {
			snapshotter.RevertToSnapshot(snapshot)
		}
	}()

	if err = fn(); err != nil {
		e.logger.Warn("Call aborted",
			zap.String("op", op),
			zap.Uint64("tick", e.tick),
			zap.String("kind", types.Kind(err)),
			zap.Error(err))
		e.metrics.ObserveCall(op, time.Since(start), err)
		return err
	}

	committed = true
	if canSnapshot {
		snapshotter.DiscardSnapshot(snapshot)
	}
	published := e.pending
	e.pending = nil
	for _, ev := range published {
		e.emitter.Emit(ev)
		e.metrics.ObserveEvent(ev)
	}
	e.metrics.SetTotalValueLocked(e.state.Globals.TotalValueLocked)
	e.metrics.ObserveCall(op, time.Since(start), nil)
	e.logger.Debug("Call committed",
		zap.String("op", op),
		zap.Uint64("tick", e.tick),
		zap.Int("events", len(published)))
	return nil
}

func (e *Engine) emit(ev events.Event) {
	e.pending = append(e.pending, ev)
}

func (e *Engine) requireNotPaused() error {
	if e.caps.Paused {
		return types.ErrOperationPaused
	}
	return nil
}

func (e *Engine) requireVenue(venue common.Address) error {
	if !e.params.Venues[venue] {
		return fmt.Errorf("%w: %s", types.ErrUnauthorizedVenue, venue.Hex())
	}
	return nil
}

func requirePositive(amount *uint256.Int, what string) error {
	if !fixed.IsPositive(amount) {
		return fmt.Errorf("%w: %s must be positive", types.ErrInvalidInput, what)
	}
	return nil
}

// pay moves amount out of custody to to. Zero amounts are skipped.
func (e *Engine) pay(asset, to common.Address, amount *uint256.Int) error {
	if !fixed.IsPositive(amount) {
		return nil
	}
	if err := e.transfers.TransferOut(asset, to, amount); err != nil {
		return fmt.Errorf("%w: pay %s of %s to %s: %v", types.ErrTransferFailed, amount.Dec(), asset.Hex(), to.Hex(), err)
	}
	return nil
}

// pull moves amount of asset from from into custody and returns the amount
// custody actually gained.
func (e *Engine) pull(asset, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before := fixed.OrZero(e.transfers.BalanceOf(asset))
	if err := e.transfers.TransferIn(asset, from, amount); err != nil {
		return nil, fmt.Errorf("%w: take %s of %s from %s: %v", types.ErrTransferFailed, amount.Dec(), asset.Hex(), from.Hex(), err)
	}
	return fixed.SaturatingSub(e.transfers.BalanceOf(asset), before), nil
}
