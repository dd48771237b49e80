package feesplit

import (
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/types"
)

var computeTable = types.SplitTable{
	Name: "compute",
	Legs: []types.LegSpec{
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

var lpTable = types.SplitTable{
	Name: "lp",
	Legs: []types.LegSpec{
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleUplineBonus, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

func TestDistribute_FiveFiveTenRemainder(t *testing.T) {
	payouts, err := Distribute(1000, computeTable)
	require.NoError(t, err)
	assert.Equal(t, []types.Payout{
		{Role: types.RoleDividend, Amount: 50},
		{Role: types.RoleUpline, Amount: 50},
		{Role: types.RoleBurn, Amount: 100},
		{Role: types.RoleParticipant, Amount: 800},
	}, payouts)
	assert.Equal(t, uint64(1000), Sum(payouts))
}

func TestDistribute_DoubleUplineKeepsSeparateLegs(t *testing.T) {
	payouts, err := Distribute(1000, lpTable)
	require.NoError(t, err)
	assert.Equal(t, []types.Payout{
		{Role: types.RoleUpline, Amount: 50},
		{Role: types.RoleDividend, Amount: 50},
		{Role: types.RoleBurn, Amount: 100},
		{Role: types.RoleUplineBonus, Amount: 100},
		{Role: types.RoleParticipant, Amount: 700},
	}, payouts)
}

func TestDistribute_Conservation(t *testing.T) {
	for _, total := range []uint64{1, 2, 9, 19, 20, 21, 999, 1001, 123_456_789, 1<<63 + 12345, ^uint64(0)} {
		for _, table := range []types.SplitTable{computeTable, lpTable} {
			payouts, err := Distribute(total, table)
			require.NoError(t, err)
			assert.Equal(t, total, Sum(payouts), "total %d table %s", total, table.Name)
			assert.Equal(t, types.RoleParticipant, payouts[len(payouts)-1].Role)
			for _, p := range payouts {
				assert.NotZero(t, p.Amount)
			}
		}
	}
}

func TestDistribute_SkipsZeroLegs(t *testing.T) {
	payouts, err := Distribute(9, computeTable)
	require.NoError(t, err)
	assert.Equal(t, []types.Payout{{Role: types.RoleParticipant, Amount: 9}}, payouts)
}

func TestDistribute_ZeroTotal(t *testing.T) {
	_, err := Distribute(0, computeTable)
	assert.ErrorIs(t, err, ErrZeroTotal)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(computeTable))
	require.NoError(t, Validate(lpTable))

	declared := computeTable
	declared.TotalBps = 2000
	require.NoError(t, Validate(declared))

	declared.TotalBps = 1500
	assert.ErrorIs(t, Validate(declared), ErrSplitMismatch)

	noParticipant := types.SplitTable{Name: "x", Legs: []types.LegSpec{{Role: types.RoleBurn, Bps: 100}}}
	assert.ErrorIs(t, Validate(noParticipant), ErrInvalidTable)

	full := types.SplitTable{Name: "x", Legs: []types.LegSpec{
		{Role: types.RoleBurn, Bps: 6000},
		{Role: types.RoleUpline, Bps: 4000},
		{Role: types.RoleParticipant},
	}}
	assert.ErrorIs(t, Validate(full), ErrInvalidTable)

	pricedParticipant := types.SplitTable{Name: "x", Legs: []types.LegSpec{{Role: types.RoleParticipant, Bps: 8000}}}
	assert.ErrorIs(t, Validate(pricedParticipant), ErrInvalidTable)

	unknown := types.SplitTable{Name: "x", Legs: []types.LegSpec{{Role: "treasury", Bps: 10}, {Role: types.RoleParticipant}}}
	assert.ErrorIs(t, Validate(unknown), ErrInvalidTable)
}

func TestVerifyBurnTarget(t *testing.T) {
	burn := types.TokenAccount{ID: "burn", Owner: types.NullIdentity()}
	assert.NoError(t, VerifyBurnTarget(burn))

	owned := types.TokenAccount{ID: "burn", Owner: sdk.AccAddress([]byte("not-a-null-identity!"))}
	assert.ErrorIs(t, VerifyBurnTarget(owned), ErrBurnTargetUnverified)

	assert.ErrorIs(t, VerifyBurnTarget(types.TokenAccount{ID: "burn"}), ErrBurnTargetUnverified)
}
