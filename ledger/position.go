package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Position is an account's record across every pool.
type Position struct {
	Account common.Address
	// TotalDeposited and TotalWithdrawn are audit counters only.
	TotalDeposited      *uint256.Int
	TotalWithdrawn      *uint256.Int
	PendingRewards      *uint256.Int
	LastInteractionTick uint64
	Balances            map[uint64]*uint256.Int
	// Checkpoints hold each pool's AccRewardPerShare at the last settlement.
	Checkpoints map[uint64]*uint256.Int
}

// NewPosition returns an empty position for account.
func NewPosition(account common.Address) *Position {
	return &Position{
		Account:        account,
		TotalDeposited: new(uint256.Int),
		TotalWithdrawn: new(uint256.Int),
		PendingRewards: new(uint256.Int),
		Balances:       make(map[uint64]*uint256.Int),
		Checkpoints:    make(map[uint64]*uint256.Int),
	}
}

// Balance returns a copy of the position's balance in pool, zero when absent.
func (p *Position) Balance(poolID uint64) *uint256.Int {
	return fixed.OrZero(p.Balances[poolID])
}

func (p *Position) checkpoint(poolID uint64) *uint256.Int {
	return fixed.OrZero(p.Checkpoints[poolID])
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := &Position{
		Account:             p.Account,
		TotalDeposited:      fixed.OrZero(p.TotalDeposited),
		TotalWithdrawn:      fixed.OrZero(p.TotalWithdrawn),
		PendingRewards:      fixed.OrZero(p.PendingRewards),
		LastInteractionTick: p.LastInteractionTick,
		Balances:            make(map[uint64]*uint256.Int, len(p.Balances)),
		Checkpoints:         make(map[uint64]*uint256.Int, len(p.Checkpoints)),
	}
	for id, v := range p.Balances {
		out.Balances[id] = fixed.OrZero(v)
	}
	for id, v := range p.Checkpoints {
		out.Checkpoints[id] = fixed.OrZero(v)
	}
	return out
}

// settlePool accrues pool to now and settles account's share of it.
func (s *EngineState) settlePool(pos *Position, pool *Pool, now uint64) error {
	if err := Accrue(pool, now); err != nil {
		return err
	}
	return Settle(pos, pool)
}

// Credit books a deposit of amount into pool for account after settling the
// account's reward in that pool. Custody is the caller's concern.
func (s *EngineState) Credit(account common.Address, poolID uint64, amount *uint256.Int, now uint64) error {
	pool, err := s.Pool(poolID)
	if err != nil {
		return err
	}
	if !fixed.IsPositive(amount) {
		return fmt.Errorf("%w: deposit amount must be positive", types.ErrInvalidInput)
	}
	if !pool.Active {
		return fmt.Errorf("%w: pool %d is inactive", types.ErrInvalidInput, poolID)
	}

	pos := s.PositionFor(account)
	if err := s.settlePool(pos, pool, now); err != nil {
		return err
	}

	balance, err := fixed.Add(pos.Balance(poolID), amount)
	if err != nil {
		return err
	}
	supply, err := fixed.Add(pool.TotalSupply, amount)
	if err != nil {
		return err
	}
	deposited, err := fixed.Add(pos.TotalDeposited, amount)
	if err != nil {
		return err
	}
	tvl, err := fixed.Add(s.Globals.TotalValueLocked, amount)
	if err != nil {
		return err
	}

	pos.Balances[poolID] = balance
	pos.TotalDeposited = deposited
	pos.LastInteractionTick = now
	pool.TotalSupply = supply
	s.Globals.TotalValueLocked = tvl
	return nil
}

// Debit books a withdrawal of amount from pool for account after settling
// the account's reward in that pool.
func (s *EngineState) Debit(account common.Address, poolID uint64, amount *uint256.Int, now uint64) error {
	pool, err := s.Pool(poolID)
	if err != nil {
		return err
	}
	if !fixed.IsPositive(amount) {
		return fmt.Errorf("%w: withdraw amount must be positive", types.ErrInvalidInput)
	}

	pos := s.PositionFor(account)
	if pos.Balance(poolID).Lt(amount) {
		return fmt.Errorf("%w: balance %s in pool %d, requested %s",
			types.ErrInsufficientBalance, pos.Balance(poolID).Dec(), poolID, amount.Dec())
	}
	if err := s.settlePool(pos, pool, now); err != nil {
		return err
	}

	withdrawn, err := fixed.Add(pos.TotalWithdrawn, amount)
	if err != nil {
		return err
	}
	supply, err := fixed.Sub(pool.TotalSupply, amount)
	if err != nil {
		return err
	}

	pos.Balances[poolID] = new(uint256.Int).Sub(pos.Balance(poolID), amount)
	pos.TotalWithdrawn = withdrawn
	pos.LastInteractionTick = now
	pool.TotalSupply = supply
	s.Globals.TotalValueLocked = fixed.SaturatingSub(s.Globals.TotalValueLocked, amount)
	return nil
}

// SettleAll accrues every pool to now and settles account in each of them.
func (s *EngineState) SettleAll(account common.Address, now uint64) error {
	pos := s.PositionFor(account)
	for _, pool := range s.Pools {
		if err := s.settlePool(pos, pool, now); err != nil {
			return err
		}
	}
	pos.LastInteractionTick = now
	return nil
}

// TakeRewards zeroes and returns the account's pending rewards.
func (s *EngineState) TakeRewards(account common.Address) (*uint256.Int, error) {
	pos := s.PositionFor(account)
	if !fixed.IsPositive(pos.PendingRewards) {
		return nil, fmt.Errorf("%w: nothing to claim for %s", types.ErrNoRewards, account.Hex())
	}
	amount := pos.PendingRewards
	pos.PendingRewards = new(uint256.Int)
	return amount, nil
}
