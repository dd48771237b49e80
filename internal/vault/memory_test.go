package vault

import (
	"context"
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/types"
)

func addr(b byte) sdk.AccAddress {
	out := make([]byte, 20)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestMemoryCustody_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCustody()
	alice, bob := addr(1), addr(2)

	a, err := m.Open(alice, "ureward", 100)
	require.NoError(t, err)
	b, err := m.Open(bob, "ureward", 0)
	require.NoError(t, err)

	err = m.Execute(ctx, []types.Transfer{
		{From: a, To: b, Amount: 60, AuthorizedBy: alice},
		{From: a, To: b, Amount: 60, AuthorizedBy: alice},
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	acct, err := m.Lookup(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acct.Balance)

	require.NoError(t, m.Execute(ctx, []types.Transfer{
		{From: a, To: b, Amount: 60, AuthorizedBy: alice},
		{From: a, To: b, Amount: 40, AuthorizedBy: alice},
	}))
	acct, _ = m.Lookup(ctx, a)
	assert.Equal(t, uint64(0), acct.Balance)
	acct, _ = m.Lookup(ctx, b)
	assert.Equal(t, uint64(100), acct.Balance)
}

func TestMemoryCustody_RequiresSourceOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCustody()
	alice, bob := addr(1), addr(2)
	a, _ := m.Open(alice, "ureward", 100)
	b, _ := m.Open(bob, "ureward", 0)

	err := m.Execute(ctx, []types.Transfer{{From: a, To: b, Amount: 1, AuthorizedBy: bob}})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestMemoryCustody_RejectsMixedDenoms(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCustody()
	alice := addr(1)
	a, _ := m.Open(alice, "ureward", 100)
	b, _ := m.Open(alice, "ulp", 0)

	err := m.Execute(ctx, []types.Transfer{{From: a, To: b, Amount: 1, AuthorizedBy: alice}})
	assert.ErrorIs(t, err, ErrDenomMismatch)
}

func TestMemoryCustody_OpenAndCredit(t *testing.T) {
	m := NewMemoryCustody()
	alice := addr(1)
	id, err := m.Open(alice, "ureward", 5)
	require.NoError(t, err)

	_, err = m.Open(alice, "ureward", 5)
	assert.ErrorIs(t, err, ErrAccountExists)

	require.NoError(t, m.Credit(id, 10))
	acct, err := m.Lookup(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), acct.Balance)

	assert.ErrorIs(t, m.Credit("missing/ureward", 1), ErrAccountNotFound)
	assert.Len(t, m.Accounts(), 1)
}

func TestValidateBatch(t *testing.T) {
	alice := addr(1)
	assert.ErrorIs(t, ValidateBatch(nil), ErrInvalidTransfer)
	assert.ErrorIs(t, ValidateBatch([]types.Transfer{{From: "a", To: "b", AuthorizedBy: alice}}), ErrInvalidTransfer)
	assert.ErrorIs(t, ValidateBatch([]types.Transfer{{From: "a", To: "a", Amount: 1, AuthorizedBy: alice}}), ErrInvalidTransfer)
	assert.ErrorIs(t, ValidateBatch([]types.Transfer{{From: "a", To: "b", Amount: 1}}), ErrInvalidTransfer)
	assert.NoError(t, ValidateBatch([]types.Transfer{{From: "a", To: "b", Amount: 1, AuthorizedBy: alice}}))
}
