/*

PostgresCustody keeps token balances in the custody_accounts table. A batch runs in one
transaction that locks every touched row, so concurrent ledgers cannot overdraw an account.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
	"github.com/elys-network/stakeledger/internal/vault"
)

// PostgresCustody implements vault.Custody on the global DB.
type PostgresCustody struct{}

func NewPostgresCustody() PostgresCustody {
	return PostgresCustody{}
}

// OpenAccount creates an account with an opening balance.
func (PostgresCustody) OpenAccount(ctx context.Context, owner sdk.AccAddress, denom string, balance uint64) (types.AccountID, error) {
	if DB == nil {
		return "", fmt.Errorf("database not initialized")
	}

	id := types.NewAccountID(owner, denom)
	result, err := DB.ExecContext(ctx, `
		INSERT INTO custody_accounts (account_id, owner, denom, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING;
	`, string(id), owner.String(), denom, formatU64(balance))
	if err != nil {
		return "", fmt.Errorf("failed to open account %s: %w", id, err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to check rows affected: %w", err)
	}
	if created == 0 {
		return "", fmt.Errorf("%w: %s", vault.ErrAccountExists, id)
	}

	log.Info().Str("account", string(id)).Uint64("balance", balance).Msg("Custody account opened")
	return id, nil
}

func (PostgresCustody) Lookup(ctx context.Context, id types.AccountID) (types.TokenAccount, error) {
	if DB == nil {
		return types.TokenAccount{}, fmt.Errorf("database not initialized")
	}
	return scanAccount(DB.QueryRowContext(ctx, `
		SELECT account_id, owner, denom, balance FROM custody_accounts WHERE account_id = $1;
	`, string(id)), id)
}

func (PostgresCustody) Execute(ctx context.Context, transfers []types.Transfer) (err error) {
	if err := vault.ValidateBatch(transfers); err != nil {
		return err
	}
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	// Lock rows in a stable order so concurrent batches cannot deadlock.
	touched := make(map[types.AccountID]struct{})
	for _, t := range transfers {
		touched[t.From] = struct{}{}
		touched[t.To] = struct{}{}
	}
	ids := make([]types.AccountID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accounts := make(map[types.AccountID]*types.TokenAccount, len(ids))
	for _, id := range ids {
		acct, scanErr := scanAccount(tx.QueryRowContext(ctx, `
			SELECT account_id, owner, denom, balance FROM custody_accounts WHERE account_id = $1 FOR UPDATE;
		`, string(id)), id)
		if scanErr != nil {
			err = scanErr
			return err
		}
		accounts[id] = &acct
	}

	for i, t := range transfers {
		from, to := accounts[t.From], accounts[t.To]
		if !from.Owner.Equals(t.AuthorizedBy) {
			err = fmt.Errorf("%w: transfer %d from %s signed by %s", vault.ErrNotAuthorized, i, t.From, t.AuthorizedBy)
			return err
		}
		if from.Denom != to.Denom {
			err = fmt.Errorf("%w: transfer %d %s -> %s", vault.ErrDenomMismatch, i, from.Denom, to.Denom)
			return err
		}
		if from.Balance < t.Amount {
			err = fmt.Errorf("%w: %s holds %d, transfer %d needs %d", vault.ErrInsufficientFunds, t.From, from.Balance, i, t.Amount)
			return err
		}
		next, ok := utils.CheckedAdd(to.Balance, t.Amount)
		if !ok {
			err = fmt.Errorf("transfer %d overflows %s", i, t.To)
			return err
		}
		from.Balance -= t.Amount
		to.Balance = next
	}

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `
			UPDATE custody_accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE account_id = $1;
		`, string(id), formatU64(accounts[id].Balance)); err != nil {
			err = fmt.Errorf("failed to update %s: %w", id, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit custody batch: %w", err)
	}

	log.Debug().Int("transfers", len(transfers)).Int("accounts", len(ids)).Msg("Applied custody batch")
	return nil
}

func scanAccount(row *sql.Row, id types.AccountID) (types.TokenAccount, error) {
	var (
		acct           types.TokenAccount
		rawID, owner   string
		denom, balance string
	)
	if err := row.Scan(&rawID, &owner, &denom, &balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TokenAccount{}, fmt.Errorf("%w: %s", vault.ErrAccountNotFound, id)
		}
		return types.TokenAccount{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	ownerAddr, err := sdk.AccAddressFromBech32(owner)
	if err != nil {
		return types.TokenAccount{}, fmt.Errorf("account %s owner: %w", id, err)
	}
	acct.ID = types.AccountID(rawID)
	acct.Owner = ownerAddr
	acct.Denom = denom
	if acct.Balance, err = parseU64("balance", balance); err != nil {
		return types.TokenAccount{}, err
	}
	return acct, nil
}
