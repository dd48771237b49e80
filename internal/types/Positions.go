/*

This file contains the position types: the slot-based participant of the LP ledger and the
order-based position of the compute ledger.

*/

package types

import (
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// MaxSlots is the number of concurrent positions a participant can hold in the LP ledger.
const MaxSlots = 10

// Position is a single staking position.
type Position struct {
	DepositedAmount    uint64 `json:"deposited_amount"`   // staked weight
	RewardDebt         uint64 `json:"reward_debt"`        // DepositedAmount * AccPerShare / Precision at last settlement
	AccumulatedReward  uint64 `json:"accumulated_reward"` // settled but not yet claimed
	ReceivedReward     uint64 `json:"received_reward"`    // lifetime paid out
	StakeType          Tier   `json:"stake_type"`
	IsStaked           bool   `json:"is_staked"`
	CanCancelStake     bool   `json:"can_cancel_stake"`
	StakeStartTime     uint64 `json:"stake_start_time"`
	StakeEndTime       uint64 `json:"stake_end_time"` // maturity
	LastClaimTimestamp uint64 `json:"last_claim_timestamp"`
}

// IsEmpty reports whether the position is in its zeroed state.
func (p Position) IsEmpty() bool {
	return p == Position{}
}

// Matured reports whether the lock has expired at now.
func (p Position) Matured(now uint64) bool {
	return p.IsStaked && now >= p.StakeEndTime
}

// Participant is a registered LP staker with a fixed arena of slots.
type Participant struct {
	Address        sdk.AccAddress     `json:"address"`
	Upline         sdk.AccAddress     `json:"upline"`
	TotalDeposited uint64             `json:"total_deposited"` // aggregate of not-yet-matured weight
	Slots          [MaxSlots]Position `json:"slots"`
}

// PurchaseReceipt is the outcome of the upstream purchase flow that gates compute staking.
type PurchaseReceipt struct {
	Investment      uint64 `json:"investment"`       // becomes the staking weight
	SettledAmount   uint64 `json:"settled_amount"`   // asset delivered to the buyer
	Paid            bool   `json:"paid"`             // payment leg completed
	PrimaryBurned   bool   `json:"primary_burned"`   // first burn leg completed
	SecondaryBurned bool   `json:"secondary_burned"` // second burn leg completed
}

// Complete reports whether the purchase allows staking.
func (r PurchaseReceipt) Complete() bool {
	return r.Paid && r.Investment > 0 && r.SettledAmount > 0
}

// ComputeOrder is one purchase order in the compute ledger. It owns exactly one position.
type ComputeOrder struct {
	Owner      sdk.AccAddress  `json:"owner"`
	Upline     sdk.AccAddress  `json:"upline"`
	OrderIndex uint64          `json:"order_index"`
	Purchase   PurchaseReceipt `json:"purchase"`
	Position   Position        `json:"position"`
}

// OrderKey identifies an order by owner and index.
type OrderKey struct {
	Owner string
	Index uint64
}

func (o ComputeOrder) Key() OrderKey {
	return OrderKey{Owner: o.Owner.String(), Index: o.OrderIndex}
}
