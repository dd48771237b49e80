package accrual

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/types"
)

func stakedPosition(amount uint64, pool types.RewardPool) types.Position {
	return types.Position{
		DepositedAmount: amount,
		RewardDebt:      DebtFor(amount, pool.AccPerShare),
		IsStaked:        true,
	}
}

func TestUpdatePool_SingleDepositor(t *testing.T) {
	pool := types.RewardPool{Rate: 100}
	UpdatePool(&pool, 0)
	pos := stakedPosition(1000, pool)
	pool.TotalShares += 1000

	assert.Equal(t, uint64(0), pool.AccPerShare)
	assert.Equal(t, uint64(0), pos.RewardDebt)

	UpdatePool(&pool, 10)
	assert.Equal(t, 100*10*types.Precision/1000, pool.AccPerShare)

	pending := Settle(pool, &pos)
	assert.Equal(t, uint64(1000), pending)
	assert.Equal(t, uint64(1000), pos.AccumulatedReward)
	assert.Equal(t, DebtFor(1000, pool.AccPerShare), pos.RewardDebt)
}

func TestUpdatePool_NoSharesAdvancesTimeOnly(t *testing.T) {
	pool := types.RewardPool{Rate: 100, LastUpdateTime: 5}
	UpdatePool(&pool, 50)
	assert.Equal(t, uint64(0), pool.AccPerShare)
	assert.Equal(t, uint64(50), pool.LastUpdateTime)

	pos := stakedPosition(10, pool)
	pool.TotalShares = 10
	UpdatePool(&pool, 51)
	assert.Equal(t, uint64(100), Settle(pool, &pos), "idle time before the first deposit must not be credited")
}

func TestUpdatePool_SameTimestampIsNoop(t *testing.T) {
	pool := types.RewardPool{Rate: 7, TotalShares: 3, LastUpdateTime: 20, AccPerShare: 11}
	UpdatePool(&pool, 20)
	assert.Equal(t, types.RewardPool{Rate: 7, TotalShares: 3, LastUpdateTime: 20, AccPerShare: 11}, pool)
}

func TestUpdatePool_BackwardsClock(t *testing.T) {
	pool := types.RewardPool{Rate: 7, TotalShares: 3, LastUpdateTime: 20, AccPerShare: 11}
	UpdatePool(&pool, 10)
	assert.Equal(t, uint64(11), pool.AccPerShare)
	assert.Equal(t, uint64(20), pool.LastUpdateTime)
}

func TestUpdatePool_Saturates(t *testing.T) {
	pool := types.RewardPool{Rate: math.MaxUint64, TotalShares: 1, LastUpdateTime: 0}
	require.NotPanics(t, func() { UpdatePool(&pool, math.MaxUint64) })
	assert.Equal(t, uint64(math.MaxUint64), pool.AccPerShare)
	assert.Equal(t, uint64(math.MaxUint64), pool.LastUpdateTime)

	pool = types.RewardPool{Rate: 1, TotalShares: 1, LastUpdateTime: 0, AccPerShare: math.MaxUint64 - 1}
	UpdatePool(&pool, 1)
	assert.Equal(t, uint64(math.MaxUint64), pool.AccPerShare)
}

func TestUpdatePool_Monotonic(t *testing.T) {
	pool := types.RewardPool{Rate: 3, TotalShares: 7}
	last := pool.AccPerShare
	for now := uint64(1); now < 200; now += 3 {
		UpdatePool(&pool, now)
		assert.GreaterOrEqual(t, pool.AccPerShare, last)
		last = pool.AccPerShare
	}
}

func TestSettle_NotStakedIsNoop(t *testing.T) {
	pool := types.RewardPool{AccPerShare: 5 * types.Precision}
	pos := types.Position{DepositedAmount: 10}
	assert.Equal(t, uint64(0), Settle(pool, &pos))
	assert.Equal(t, types.Position{DepositedAmount: 10}, pos)
}

func TestSettle_Idempotent(t *testing.T) {
	pool := types.RewardPool{Rate: 13, TotalShares: 333}
	pos := stakedPosition(333, pool)
	UpdatePool(&pool, 97)

	Settle(pool, &pos)
	first := pos
	assert.Equal(t, uint64(0), Settle(pool, &pos))
	assert.Equal(t, first, pos)
}

func TestSettle_RefreshesDebtOnZeroPending(t *testing.T) {
	pool := types.RewardPool{AccPerShare: 3 * types.Precision}
	pos := types.Position{DepositedAmount: 10, RewardDebt: 50, IsStaked: true}

	assert.Equal(t, uint64(0), Settle(pool, &pos))
	assert.Equal(t, uint64(30), pos.RewardDebt)
	assert.Equal(t, uint64(0), pos.AccumulatedReward)
}

func TestSettle_DebtInvariant(t *testing.T) {
	pool := types.RewardPool{Rate: 17}
	deposits := []uint64{5, 1_000_003, 77, 12_345_678_901}
	positions := make([]types.Position, 0, len(deposits))

	now := uint64(0)
	for _, amount := range deposits {
		now += 11
		UpdatePool(&pool, now)
		for i := range positions {
			Settle(pool, &positions[i])
		}
		positions = append(positions, stakedPosition(amount, pool))
		pool.TotalShares += amount
	}

	now += 1_000
	UpdatePool(&pool, now)
	for i := range positions {
		Settle(pool, &positions[i])
		assert.Equal(t, DebtFor(positions[i].DepositedAmount, pool.AccPerShare), positions[i].RewardDebt)
	}
}

func TestSettle_ProportionalShares(t *testing.T) {
	pool := types.RewardPool{Rate: 100}
	a := stakedPosition(1000, pool)
	pool.TotalShares += 1000

	UpdatePool(&pool, 10)
	Settle(pool, &a)
	b := stakedPosition(3000, pool)
	pool.TotalShares += 3000

	UpdatePool(&pool, 20)
	Settle(pool, &a)
	Settle(pool, &b)

	assert.Equal(t, uint64(1000+250), a.AccumulatedReward)
	assert.Equal(t, uint64(750), b.AccumulatedReward)
}

func TestPending_DoesNotMutate(t *testing.T) {
	pool := types.RewardPool{Rate: 100}
	pos := stakedPosition(1000, pool)
	pool.TotalShares = 1000

	assert.Equal(t, uint64(1000), Pending(pool, pos, 10))
	assert.Equal(t, uint64(0), pool.AccPerShare)
	assert.Equal(t, uint64(0), pos.AccumulatedReward)
}
