package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Pool is a reward-bearing bucket of deposits for one asset. Pools are never
// removed, only deactivated.
type Pool struct {
	ID                 uint64
	Asset              common.Address
	TotalSupply        *uint256.Int
	RewardRatePerBlock *uint256.Int
	LastAccrualTick    uint64
	// AccRewardPerShare is scaled by 1e18.
	AccRewardPerShare *uint256.Int
	Active            bool
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		ID:                 p.ID,
		Asset:              p.Asset,
		TotalSupply:        fixed.OrZero(p.TotalSupply),
		RewardRatePerBlock: fixed.OrZero(p.RewardRatePerBlock),
		LastAccrualTick:    p.LastAccrualTick,
		AccRewardPerShare:  fixed.OrZero(p.AccRewardPerShare),
		Active:             p.Active,
	}
}

// CreatePool appends a new active pool with an empty supply whose accrual
// clock starts at now, and returns its sequential id.
func (s *EngineState) CreatePool(asset common.Address, rewardRate *uint256.Int, now uint64) uint64 {
	id := uint64(len(s.Pools))
	s.Pools = append(s.Pools, &Pool{
		ID:                 id,
		Asset:              asset,
		TotalSupply:        new(uint256.Int),
		RewardRatePerBlock: fixed.OrZero(rewardRate),
		LastAccrualTick:    now,
		AccRewardPerShare:  new(uint256.Int),
		Active:             true,
	})
	return id
}

// Pool returns the live pool with the given id.
func (s *EngineState) Pool(id uint64) (*Pool, error) {
	if id >= uint64(len(s.Pools)) {
		return nil, fmt.Errorf("%w: pool %d", types.ErrNotFound, id)
	}
	return s.Pools[id], nil
}

// SetPoolActive brings the pool up to now and then toggles it. Reward stops
// accumulating while a pool is inactive.
func (s *EngineState) SetPoolActive(id uint64, active bool, now uint64) error {
	pool, err := s.Pool(id)
	if err != nil {
		return err
	}
	if err := Accrue(pool, now); err != nil {
		return err
	}
	pool.Active = active
	return nil
}

// SetRewardRate settles everything earned at the old rate up to now before
// switching to the new one.
func (s *EngineState) SetRewardRate(id uint64, rate *uint256.Int, now uint64) error {
	pool, err := s.Pool(id)
	if err != nil {
		return err
	}
	if err := Accrue(pool, now); err != nil {
		return err
	}
	pool.RewardRatePerBlock = fixed.OrZero(rate)
	return nil
}
