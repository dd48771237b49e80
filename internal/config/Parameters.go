/*

This file contains the default parameters of the staking programs.

Tier deadlines, emission and ceilings mirror the values the programs launched with. Rates for the
tiered pools have no default and must come from TIER_RATES.

*/

package config

import (
	"time"

	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
)

const (
	DefaultBech32Prefix       = "elys"
	DefaultWebPort            = "8080"
	DefaultCheckpointInterval = time.Minute

	// DefaultComputeDailyOutput is 1726 reward tokens at 9 decimals.
	DefaultComputeDailyOutput uint64 = 1_726_000_000_000
	// DefaultClaimCooldownSeconds spaces compute claims.
	DefaultClaimCooldownSeconds uint64 = 300

	// Single-claim ceilings in whole reward tokens.
	DefaultTieredMaxClaimTokens  uint64 = 10_000
	DefaultComputeMaxClaimTokens uint64 = 1_000
)

// TierDeadlines are the last unix timestamps at which each tier accepts new stakes.
// The longer the lock, the earlier entry closes.
var TierDeadlines = [types.TierCount]uint64{
	2358810461, // quarter
	2350861661, // half year
	2335136861, // year
}

// DefaultTieredSplit pays two separate upline legs, the dividend pool and the burn sink,
// leaving 70% to the participant.
var DefaultTieredSplit = types.SplitTable{
	Name:     "lp",
	TotalBps: 3000,
	Legs: []types.LegSpec{
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleUplineBonus, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

// DefaultComputeSplit leaves 80% to the participant.
var DefaultComputeSplit = types.SplitTable{
	Name:     "compute",
	TotalBps: 2000,
	Legs: []types.LegSpec{
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

// TierTerms combines the configured rates with the default durations and deadlines.
func TierTerms(rates [types.TierCount]uint64) [types.TierCount]types.TierTerms {
	var terms [types.TierCount]types.TierTerms
	for i, tier := range types.AllTiers {
		terms[i] = types.TierTerms{
			Duration: tier.DefaultDuration(),
			Rate:     rates[i],
			Deadline: TierDeadlines[i],
		}
	}
	return terms
}

// MaxClaim returns the single-claim ceiling in reward base units for a variant, honouring
// MAX_CLAIM_TOKENS when it is set.
func MaxClaim(variant types.Variant) (uint64, error) {
	whole := MaxClaimTokens
	if whole == 0 {
		whole = DefaultTieredMaxClaimTokens
		if variant == types.VariantCompute {
			whole = DefaultComputeMaxClaimTokens
		}
	}
	return utils.WholeTokensToBaseUnits(whole, RewardDecimals)
}
