/*

RewardPool is the shared accumulator that every position in a pool settles against.

*/

package types

// Precision scales AccPerShare so fractional rewards survive integer arithmetic.
const Precision uint64 = 1_000_000_000_000

type RewardPool struct {
	Tier           Tier   `json:"tier"`
	Rate           uint64 `json:"rate"`             // reward units emitted per second
	AccPerShare    uint64 `json:"acc_per_share"`    // cumulative reward per unit of weight, scaled by Precision
	LastUpdateTime uint64 `json:"last_update_time"` // unix seconds
	TotalShares    uint64 `json:"total_shares"`     // sum of staked weight in this pool
}

// Key identifies the pool in storage and metrics.
func (p RewardPool) Key() string {
	if p.Tier == TierNone {
		return "compute"
	}
	return "lp_" + p.Tier.String()
}
