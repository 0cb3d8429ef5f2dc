package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/arbvault/types"
	fixed "github.com/michaelpento.lv/arbvault/utils/math"
)

// Accrue advances the pool's reward accumulator to now. It is idempotent for
// a given tick and never decreases AccRewardPerShare. An empty or inactive
// pool only moves its clock. On error the pool is left untouched.
func Accrue(pool *Pool, now uint64) error {
	next, err := accruedPerShare(pool, now)
	if err != nil {
		return err
	}
	pool.AccRewardPerShare = next
	if now > pool.LastAccrualTick {
		pool.LastAccrualTick = now
	}
	return nil
}

// accruedPerShare computes the accumulator value the pool would hold at now
// without mutating it.
func accruedPerShare(pool *Pool, now uint64) (*uint256.Int, error) {
	acc := fixed.OrZero(pool.AccRewardPerShare)
	if now <= pool.LastAccrualTick {
		return acc, nil
	}
	if !pool.Active || !fixed.IsPositive(pool.TotalSupply) || !fixed.IsPositive(pool.RewardRatePerBlock) {
		return acc, nil
	}

	elapsed := uint256.NewInt(now - pool.LastAccrualTick)
	reward, err := fixed.Mul(elapsed, pool.RewardRatePerBlock)
	if err != nil {
		return nil, fmt.Errorf("pool %d reward: %w", pool.ID, err)
	}
	delta, err := fixed.MulDiv(reward, fixed.Precision(), pool.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("pool %d accumulator: %w", pool.ID, err)
	}
	next, err := fixed.Add(acc, delta)
	if err != nil {
		return nil, fmt.Errorf("pool %d accumulator: %w", pool.ID, err)
	}
	return next, nil
}

// owed returns balance * (acc - checkpoint) / 1e18.
func owed(balance, acc, checkpoint *uint256.Int) (*uint256.Int, error) {
	if !fixed.IsPositive(balance) {
		return new(uint256.Int), nil
	}
	delta, err := fixed.Sub(acc, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: accumulator below checkpoint", types.ErrInvalidInput)
	}
	return fixed.MulDiv(balance, delta, fixed.Precision())
}

// Settle moves the reward the position earned in pool since its last
// settlement into PendingRewards and checkpoints the accumulator. The pool
// must already be accrued.
func Settle(pos *Position, pool *Pool) error {
	earned, err := owed(pos.Balance(pool.ID), pool.AccRewardPerShare, pos.checkpoint(pool.ID))
	if err != nil {
		return fmt.Errorf("settle pool %d for %s: %w", pool.ID, pos.Account.Hex(), err)
	}
	pending, err := fixed.Add(pos.PendingRewards, earned)
	if err != nil {
		return err
	}
	pos.PendingRewards = pending
	pos.Checkpoints[pool.ID] = fixed.OrZero(pool.AccRewardPerShare)
	return nil
}

// PreviewPending returns the rewards the position would hold after settling
// every pool at now. Neither the pools nor the position are modified.
func PreviewPending(pools []*Pool, pos *Position, now uint64) (*uint256.Int, error) {
	total := fixed.OrZero(pos.PendingRewards)
	for _, pool := range pools {
		acc, err := accruedPerShare(pool, now)
		if err != nil {
			return nil, err
		}
		earned, err := owed(pos.Balance(pool.ID), acc, pos.checkpoint(pool.ID))
		if err != nil {
			return nil, err
		}
		if total, err = fixed.Add(total, earned); err != nil {
			return nil, err
		}
	}
	return total, nil
}
