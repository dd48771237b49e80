// Package feesplit turns a claimed reward into ordered payout legs.
package feesplit

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/stakeledger/internal/types"
)

var (
	ErrSplitMismatch        = errors.New("split table legs do not match declared total")
	ErrInvalidTable         = errors.New("invalid split table")
	ErrZeroParticipantLeg   = errors.New("participant leg is zero")
	ErrBurnTargetUnverified = errors.New("burn target is not owned by the null identity")
	ErrZeroTotal            = errors.New("nothing to distribute")
)

// Validate checks that the table has exactly one participant leg, that every other leg
// carries a positive share, and that those shares leave a remainder for the participant.
func Validate(table types.SplitTable) error {
	if len(table.Legs) == 0 {
		return fmt.Errorf("%w %q: no legs", ErrInvalidTable, table.Name)
	}

	var (
		sum          uint64
		participants int
	)
	for i, leg := range table.Legs {
		if !leg.Role.Known() {
			return fmt.Errorf("%w %q: leg %d has unknown role %q", ErrInvalidTable, table.Name, i, leg.Role)
		}
		if leg.Role == types.RoleParticipant {
			participants++
			if leg.Bps != 0 {
				return fmt.Errorf("%w %q: participant leg takes the remainder and cannot set bps", ErrInvalidTable, table.Name)
			}
			continue
		}
		if leg.Bps == 0 {
			return fmt.Errorf("%w %q: leg %d (%s) has zero bps", ErrInvalidTable, table.Name, i, leg.Role)
		}
		sum += leg.Bps
		if sum >= types.BpsDenominator {
			return fmt.Errorf("%w %q: legs reach %d bps, nothing left for the participant", ErrInvalidTable, table.Name, sum)
		}
	}
	if participants != 1 {
		return fmt.Errorf("%w %q: expected exactly one participant leg, found %d", ErrInvalidTable, table.Name, participants)
	}
	if table.TotalBps != 0 && table.TotalBps != sum {
		return fmt.Errorf("%w: %q declares %d bps, legs sum to %d", ErrSplitMismatch, table.Name, table.TotalBps, sum)
	}
	return nil
}

// Distribute splits total into the table's legs, in table order, skipping zero legs.
// The participant receives total minus every other leg, so the result always sums to total.
func Distribute(total uint64, table types.SplitTable) ([]types.Payout, error) {
	if total == 0 {
		return nil, ErrZeroTotal
	}
	if err := Validate(table); err != nil {
		return nil, err
	}

	wideTotal := sdkmath.NewIntFromUint64(total)
	denominator := sdkmath.NewIntFromUint64(types.BpsDenominator)

	payouts := make([]types.Payout, 0, len(table.Legs))
	var taken uint64
	for _, leg := range table.Legs {
		if leg.Role == types.RoleParticipant {
			continue
		}
		// bps < 10000, so the leg never exceeds total
		amount := wideTotal.Mul(sdkmath.NewIntFromUint64(leg.Bps)).Quo(denominator).Uint64()
		taken += amount
		if amount == 0 {
			continue
		}
		payouts = append(payouts, types.Payout{Role: leg.Role, Amount: amount})
	}

	if taken >= total {
		return nil, ErrZeroParticipantLeg
	}
	payouts = append(payouts, types.Payout{Role: types.RoleParticipant, Amount: total - taken})
	return payouts, nil
}

// Sum adds up payout amounts.
func Sum(payouts []types.Payout) uint64 {
	var sum uint64
	for _, p := range payouts {
		sum += p.Amount
	}
	return sum
}

// VerifyBurnTarget rejects a burn sink that is not owned by the null identity.
func VerifyBurnTarget(account types.TokenAccount) error {
	if !types.IsNullIdentity(account.Owner) {
		return fmt.Errorf("%w: %s", ErrBurnTargetUnverified, account.ID)
	}
	return nil
}

// HasRole reports whether the table pays the given role.
func HasRole(table types.SplitTable, role types.Role) bool {
	for _, leg := range table.Legs {
		if leg.Role == role {
			return true
		}
	}
	return false
}
