// Package ledger holds the pool registry, per-account positions and the lazy
// reward accrual shared by both.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Globals are reporting aggregates. Nothing branches on them.
type Globals struct {
	TotalValueLocked     *uint256.Int
	TotalVolume          *uint256.Int
	TotalArbitrageProfit *uint256.Int
}

// Clone returns a deep copy of the aggregates.
func (g Globals) Clone() Globals {
	return Globals{
		TotalValueLocked:     fixed.OrZero(g.TotalValueLocked),
		TotalVolume:          fixed.OrZero(g.TotalVolume),
		TotalArbitrageProfit: fixed.OrZero(g.TotalArbitrageProfit),
	}
}

// EngineState is the complete mutable ledger owned by one engine instance.
type EngineState struct {
	Pools     []*Pool
	Positions map[common.Address]*Position
	Globals   Globals
}

// NewEngineState returns an empty ledger.
func NewEngineState() *EngineState {
	return &EngineState{
		Positions: make(map[common.Address]*Position),
		Globals: Globals{
			TotalValueLocked:     new(uint256.Int),
			TotalVolume:          new(uint256.Int),
			TotalArbitrageProfit: new(uint256.Int),
		},
	}
}

// Clone returns a deep copy that shares no pointers with s.
func (s *EngineState) Clone() *EngineState {
	out := &EngineState{
		Pools:     make([]*Pool, len(s.Pools)),
		Positions: make(map[common.Address]*Position, len(s.Positions)),
		Globals:   s.Globals.Clone(),
	}
	for i, p := range s.Pools {
		out.Pools[i] = p.Clone()
	}
	for addr, pos := range s.Positions {
		out.Positions[addr] = pos.Clone()
	}
	return out
}

// PositionFor returns the live position of account, creating it on first use.
func (s *EngineState) PositionFor(account common.Address) *Position {
	pos, ok := s.Positions[account]
	if !ok {
		pos = NewPosition(account)
		s.Positions[account] = pos
	}
	return pos
}

// LookupPosition returns the live position of account without creating one.
func (s *EngineState) LookupPosition(account common.Address) (*Position, bool) {
	pos, ok := s.Positions[account]
	return pos, ok
}

// AddVolume adds amount to the traded volume aggregate.
func (s *EngineState) AddVolume(amount *uint256.Int) error {
	v, err := fixed.Add(s.Globals.TotalVolume, amount)
	if err != nil {
		return err
	}
	s.Globals.TotalVolume = v
	return nil
}

// AddArbitrageProfit adds amount to the arbitrage profit aggregate.
func (s *EngineState) AddArbitrageProfit(amount *uint256.Int) error {
	v, err := fixed.Add(s.Globals.TotalArbitrageProfit, amount)
	if err != nil {
		return err
	}
	s.Globals.TotalArbitrageProfit = v
	return nil
}
