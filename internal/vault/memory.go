package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
)

var memoryLogger = logger.GetForComponent("memory_custody")

// MemoryCustody keeps balances in process memory. It backs tests and dry runs.
type MemoryCustody struct {
	mu       sync.Mutex
	accounts map[types.AccountID]*types.TokenAccount
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{accounts: make(map[types.AccountID]*types.TokenAccount)}
}

// Open creates an account for owner in denom with an opening balance and returns its id.
func (m *MemoryCustody) Open(owner sdk.AccAddress, denom string, balance uint64) (types.AccountID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := types.NewAccountID(owner, denom)
	if _, exists := m.accounts[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	m.accounts[id] = &types.TokenAccount{ID: id, Owner: owner, Denom: denom, Balance: balance}
	return id, nil
}

// Credit mints amount into an existing account, e.g. to fund a reward vault.
func (m *MemoryCustody) Credit(id types.AccountID, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	next, ok := utils.CheckedAdd(acct.Balance, amount)
	if !ok {
		return fmt.Errorf("crediting %d to %s overflows", amount, id)
	}
	acct.Balance = next
	return nil
}

func (m *MemoryCustody) Lookup(_ context.Context, id types.AccountID) (types.TokenAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return types.TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return *acct, nil
}

func (m *MemoryCustody) Execute(_ context.Context, transfers []types.Transfer) error {
	if err := ValidateBatch(transfers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Apply to a scratch copy of the touched balances, then publish.
	scratch := make(map[types.AccountID]uint64)
	balance := func(id types.AccountID) (*types.TokenAccount, uint64, error) {
		acct, ok := m.accounts[id]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		if v, seen := scratch[id]; seen {
			return acct, v, nil
		}
		return acct, acct.Balance, nil
	}

	for i, t := range transfers {
		from, fromBal, err := balance(t.From)
		if err != nil {
			return err
		}
		to, toBal, err := balance(t.To)
		if err != nil {
			return err
		}
		if !from.Owner.Equals(t.AuthorizedBy) {
			return fmt.Errorf("%w: transfer %d from %s signed by %s", ErrNotAuthorized, i, t.From, t.AuthorizedBy)
		}
		if from.Denom != to.Denom {
			return fmt.Errorf("%w: transfer %d %s -> %s", ErrDenomMismatch, i, from.Denom, to.Denom)
		}
		if fromBal < t.Amount {
			return fmt.Errorf("%w: %s holds %d, transfer %d needs %d", ErrInsufficientFunds, t.From, fromBal, i, t.Amount)
		}
		next, ok := utils.CheckedAdd(toBal, t.Amount)
		if !ok {
			return fmt.Errorf("transfer %d overflows %s", i, t.To)
		}
		scratch[t.From] = fromBal - t.Amount
		scratch[t.To] = next
	}

	for id, v := range scratch {
		m.accounts[id].Balance = v
	}

	memoryLogger.Debug().Int("transfers", len(transfers)).Msg("Applied custody batch")
	return nil
}

// Accounts returns a snapshot of every account ordered by id.
func (m *MemoryCustody) Accounts() []types.TokenAccount {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.TokenAccount, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, *acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
