package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/ledger"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Queries never mutate the ledger. Pool and position views are projected to
// the current tick on copies.

// Tick returns the current engine clock.
func (e *Engine) Tick() uint64 {
	return e.tick
}

// Capabilities returns a copy of the identities and pause switch.
func (e *Engine) Capabilities() Capabilities {
	return e.caps.clone()
}

// Params returns a copy of the tunable economics.
func (e *Engine) Params() Params {
	return e.params.clone()
}

func (e *Engine) IsVenueAuthorized(venue common.Address) bool {
	return e.params.Venues[venue]
}

func (e *Engine) PoolCount() int {
	return len(e.state.Pools)
}

// GetPool returns the pool as it would look after accruing to now.
func (e *Engine) GetPool(poolID uint64) (*ledger.Pool, error) {
	pool, err := e.state.Pool(poolID)
	if err != nil {
		return nil, err
	}
	view := pool.Clone()
	if err := ledger.Accrue(view, e.tick); err != nil {
		return nil, err
	}
	return view, nil
}

// GetPosition returns a copy of account's position with PendingRewards
// including everything earned up to now. Unknown accounts get an empty
// position.
func (e *Engine) GetPosition(account common.Address) (*ledger.Position, error) {
	pos, ok := e.state.LookupPosition(account)
	if !ok {
		return ledger.NewPosition(account), nil
	}
	view := pos.Clone()
	pending, err := ledger.PreviewPending(e.state.Pools, pos, e.tick)
	if err != nil {
		return nil, err
	}
	view.PendingRewards = pending
	return view, nil
}

// GetPoolBalance returns account's balance in pool.
func (e *Engine) GetPoolBalance(account common.Address, poolID uint64) (*uint256.Int, error) {
	if _, err := e.state.Pool(poolID); err != nil {
		return nil, err
	}
	pos, ok := e.state.LookupPosition(account)
	if !ok {
		return new(uint256.Int), nil
	}
	return pos.Balance(poolID), nil
}

// PendingRewards returns what ClaimRewards would pay account now.
func (e *Engine) PendingRewards(account common.Address) (*uint256.Int, error) {
	pos, ok := e.state.LookupPosition(account)
	if !ok {
		return new(uint256.Int), nil
	}
	return ledger.PreviewPending(e.state.Pools, pos, e.tick)
}

// Totals returns a copy of the reporting aggregates.
func (e *Engine) Totals() ledger.Globals {
	return e.state.Globals.Clone()
}

// Custody returns the custody balance of asset.
func (e *Engine) Custody(asset common.Address) *uint256.Int {
	return fixed.OrZero(e.transfers.BalanceOf(asset))
}

// Snapshot returns a deep copy of the whole ledger.
func (e *Engine) Snapshot() *ledger.EngineState {
	return e.state.Clone()
}
