package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/elys-network/stakeledger/internal/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrInvalidTransfer   = errors.New("invalid transfer")
	ErrNotAuthorized     = errors.New("transfer not authorized by the source owner")
	ErrDenomMismatch     = errors.New("transfer between accounts of different denoms")
)

// Custody defines the interface for moving tokens on behalf of the ledgers.
// This interface abstracts away where balances live, allowing for different custody
// implementations (in-memory, PostgreSQL, chain).
type Custody interface {
	// Lookup returns the current state of a token account.
	Lookup(ctx context.Context, id types.AccountID) (types.TokenAccount, error)

	// Execute applies every transfer in the batch or none of them.
	// A batch that would take any account below zero fails with ErrInsufficientFunds.
	Execute(ctx context.Context, transfers []types.Transfer) error
}

// ValidateBatch performs the static checks shared by every custody implementation.
func ValidateBatch(transfers []types.Transfer) error {
	if len(transfers) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidTransfer)
	}
	for i, t := range transfers {
		if t.Amount == 0 {
			return fmt.Errorf("%w: transfer %d has zero amount", ErrInvalidTransfer, i)
		}
		if t.From == "" || t.To == "" {
			return fmt.Errorf("%w: transfer %d is missing an account", ErrInvalidTransfer, i)
		}
		if t.From == t.To {
			return fmt.Errorf("%w: transfer %d moves funds to its own source", ErrInvalidTransfer, i)
		}
		if len(t.AuthorizedBy) == 0 {
			return fmt.Errorf("%w: transfer %d has no authority", ErrInvalidTransfer, i)
		}
	}
	return nil
}
