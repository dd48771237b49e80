package staking

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
)

const (
	stakeDenom  = "ulp"
	rewardDenom = "ureward"
	topUpDenom  = "utopup"
	testStart   = uint64(1_000_000)
	testCeiling = uint64(10_000_000_000)
)

var (
	authorityAddr = addr(0xA0)
	adminAddr     = addr(0xAD)
	dividendAddr  = addr(0xD1)
	aliceAddr     = addr(0x01)
	bobAddr       = addr(0x03)
	uplineAddr    = addr(0x02)
)

var lpSplit = types.SplitTable{
	Name: "lp",
	Legs: []types.LegSpec{
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleUplineBonus, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

var computeSplit = types.SplitTable{
	Name: "compute",
	Legs: []types.LegSpec{
		{Role: types.RoleDividend, Bps: 500},
		{Role: types.RoleUpline, Bps: 500},
		{Role: types.RoleBurn, Bps: 1000},
		{Role: types.RoleParticipant},
	},
}

func addr(b byte) sdk.AccAddress {
	return sdk.AccAddress(bytes.Repeat([]byte{b}, 20))
}

// failingCustody behaves like MemoryCustody but refuses every batch.
type failingCustody struct {
	*vault.MemoryCustody
}

func (f failingCustody) Execute(context.Context, []types.Transfer) error {
	return errors.New("custody offline")
}

// capturingRecorder keeps every claim receipt it is given.
type capturingRecorder struct {
	NopRecorder
	receipts []types.ClaimReceipt
}

func (c *capturingRecorder) RecordClaim(_ context.Context, r types.ClaimReceipt) (int64, error) {
	c.receipts = append(c.receipts, r)
	return int64(len(c.receipts)), nil
}

type book struct {
	custody  *vault.MemoryCustody
	accounts Accounts
}

func (b *book) open(t *testing.T, owner sdk.AccAddress, denom string, balance uint64) types.AccountID {
	t.Helper()
	id, err := b.custody.Open(owner, denom, balance)
	require.NoError(t, err)
	return id
}

func (b *book) balance(t *testing.T, id types.AccountID) uint64 {
	t.Helper()
	acct, err := b.custody.Lookup(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func newBook(t *testing.T, rewardFunding uint64) *book {
	t.Helper()
	b := &book{custody: vault.NewMemoryCustody()}
	b.accounts = Accounts{
		Authority:   authorityAddr,
		RewardVault: b.open(t, authorityAddr, rewardDenom, rewardFunding),
		StakeVault:  b.open(t, authorityAddr, stakeDenom, 0),
		Dividend:    b.open(t, dividendAddr, rewardDenom, 0),
		Burn:        b.open(t, types.NullIdentity(), rewardDenom, 0),
		TopUpBurn:   b.open(t, types.NullIdentity(), topUpDenom, 0),
	}
	return b
}
