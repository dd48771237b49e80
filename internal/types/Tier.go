/*

Tiers are the lock options of the LP ledger. Each tier has its own reward pool, lock
duration and end-of-program deadline.

*/

package types

import (
	"fmt"
	"strings"
)

const SecondsPerDay uint64 = 86400

// Tier selects a maturity option. TierNone is used by the single-pool compute ledger.
type Tier uint8

const (
	TierQuarter Tier = iota
	TierHalfYear
	TierYear

	TierNone Tier = 255
)

// TierCount is the number of lockable tiers (and therefore LP reward pools).
const TierCount = 3

// AllTiers lists the lockable tiers in pool order.
var AllTiers = [TierCount]Tier{TierQuarter, TierHalfYear, TierYear}

// TierTerms is the data carried by a tier in a concrete deployment.
type TierTerms struct {
	Duration uint64 `json:"duration"` // lock length in seconds
	Rate     uint64 `json:"rate"`     // reward units emitted per second by the tier's pool
	Deadline uint64 `json:"deadline"` // entries are rejected once now > Deadline
}

func (t Tier) Valid() bool {
	return t == TierQuarter || t == TierHalfYear || t == TierYear
}

// Index returns the pool index of a lockable tier.
func (t Tier) Index() int {
	return int(t)
}

// DefaultDuration is the lock length of the tier: 90, 180 or 365 days.
func (t Tier) DefaultDuration() uint64 {
	switch t {
	case TierQuarter:
		return 90 * SecondsPerDay
	case TierHalfYear:
		return 180 * SecondsPerDay
	case TierYear:
		return 365 * SecondsPerDay
	default:
		return 0
	}
}

func (t Tier) String() string {
	switch t {
	case TierQuarter:
		return "quarter"
	case TierHalfYear:
		return "half_year"
	case TierYear:
		return "year"
	case TierNone:
		return "none"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// TierFromIndex converts a raw selector into a Tier.
func TierFromIndex(index uint64) (Tier, error) {
	if index >= TierCount {
		return TierNone, fmt.Errorf("tier index %d out of range", index)
	}
	return Tier(index), nil
}

// ParseTier accepts a tier name ("quarter", "half_year", "year") or its index.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quarter", "0":
		return TierQuarter, nil
	case "half_year", "1":
		return TierHalfYear, nil
	case "year", "2":
		return TierYear, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}
