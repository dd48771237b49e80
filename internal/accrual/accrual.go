// Package accrual advances reward pools and settles positions against them.
//
// Pool-level math saturates so that one extreme input cannot halt a pool shared by every
// participant. Position-level math that can fail lives in the ledgers and is checked there.
package accrual

import (
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
)

var (
	precision = sdkmath.NewIntFromUint64(types.Precision)
	maxUint64 = sdkmath.NewIntFromUint64(math.MaxUint64)
)

// UpdatePool advances pool.AccPerShare and pool.LastUpdateTime to now.
//
// Nothing accrues while TotalShares is zero. A clock that moves backwards leaves the pool
// untouched.
func UpdatePool(pool *types.RewardPool, now uint64) {
	if pool.TotalShares == 0 {
		pool.LastUpdateTime = maxTime(pool.LastUpdateTime, now)
		return
	}
	if now <= pool.LastUpdateTime {
		return
	}

	elapsed := now - pool.LastUpdateTime
	income := utils.SaturatingMul(pool.Rate, elapsed)

	increment := sdkmath.NewIntFromUint64(income).
		Mul(precision).
		Quo(sdkmath.NewIntFromUint64(pool.TotalShares))

	pool.AccPerShare = utils.SaturatingAdd(pool.AccPerShare, clampUint64(increment))
	pool.LastUpdateTime = now
}

// DebtFor returns amount * accPerShare / Precision, the debt snapshot of a position.
func DebtFor(amount, accPerShare uint64) uint64 {
	return clampUint64(entitlement(amount, accPerShare))
}

// Settle credits the pending reward of pos against pool and refreshes its debt.
// The debt is refreshed even when nothing is pending. It returns the credited amount.
func Settle(pool types.RewardPool, pos *types.Position) uint64 {
	if !pos.IsStaked {
		return 0
	}

	pending := pendingAgainst(pool.AccPerShare, *pos)
	pos.RewardDebt = DebtFor(pos.DepositedAmount, pool.AccPerShare)
	if pending == 0 {
		return 0
	}
	pos.AccumulatedReward = utils.SaturatingAdd(pos.AccumulatedReward, pending)
	return pending
}

// Pending returns the reward a settlement at now would credit, plus what is already
// accumulated. Neither pool nor pos is modified.
func Pending(pool types.RewardPool, pos types.Position, now uint64) uint64 {
	if !pos.IsStaked {
		return pos.AccumulatedReward
	}
	UpdatePool(&pool, now)
	return utils.SaturatingAdd(pos.AccumulatedReward, pendingAgainst(pool.AccPerShare, pos))
}

func pendingAgainst(accPerShare uint64, pos types.Position) uint64 {
	owed := entitlement(pos.DepositedAmount, accPerShare)
	debt := sdkmath.NewIntFromUint64(pos.RewardDebt)
	if owed.LTE(debt) {
		return 0
	}
	return clampUint64(owed.Sub(debt))
}

func entitlement(amount, accPerShare uint64) sdkmath.Int {
	return sdkmath.NewIntFromUint64(amount).
		Mul(sdkmath.NewIntFromUint64(accPerShare)).
		Quo(precision)
}

func clampUint64(v sdkmath.Int) uint64 {
	if v.GT(maxUint64) {
		return math.MaxUint64
	}
	return v.Uint64()
}

func maxTime(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
