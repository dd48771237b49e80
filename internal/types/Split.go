/*

Fee split types. A split table is configuration per ledger variant; the participant always
receives the remainder.

*/

package types

// Role is the destination of a payout leg.
type Role string

const (
	RoleUpline      Role = "upline"
	RoleUplineBonus Role = "upline_bonus"
	RoleDividend    Role = "dividend"
	RoleBurn        Role = "burn"
	RoleParticipant Role = "participant"
)

func (r Role) Known() bool {
	switch r {
	case RoleUpline, RoleUplineBonus, RoleDividend, RoleBurn, RoleParticipant:
		return true
	}
	return false
}

// BpsDenominator is 100% in basis points.
const BpsDenominator uint64 = 10_000

type LegSpec struct {
	Role Role   `json:"role" yaml:"role"`
	Bps  uint64 `json:"bps" yaml:"bps"` // ignored for the participant leg
}

type SplitTable struct {
	Name     string    `json:"name" yaml:"name"`
	TotalBps uint64    `json:"total_bps,omitempty" yaml:"total_bps,omitempty"` // optional declared sum of the non-participant legs
	Legs     []LegSpec `json:"legs" yaml:"legs"`
}

type Payout struct {
	Role   Role   `json:"role"`
	Amount uint64 `json:"amount"`
}
