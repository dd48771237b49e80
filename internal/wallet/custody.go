package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/x/authz"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"

	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
)

var (
	ErrTxRejected    = errors.New("transaction rejected by the chain")
	ErrTxNotIncluded = errors.New("transaction not included in a block")
)

var custodyLogger = logger.GetForComponent("chain_custody")

// Broadcaster signs and submits a batch of messages as one transaction.
type Broadcaster interface {
	SignAndBroadcastTx(ctx context.Context, msgs ...sdk.Msg) (*sdk.TxResponse, error)
	QueryTxByHash(ctx context.Context, txHash string) (*sdk.TxResponse, error)
	GetAddress() sdk.AccAddress
}

// inclusionPolicy bounds the polling for a broadcast transaction.
type inclusionPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

var defaultInclusionPolicy = inclusionPolicy{
	attempts:  30,
	baseDelay: 2 * time.Second,
	maxDelay:  30 * time.Second,
}

func (p inclusionPolicy) delay(attempt int) time.Duration {
	delay := time.Duration(float64(p.baseDelay) * math.Pow(1.5, float64(attempt-1)))
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// ChainCustody keeps balances in the chain's bank module.
// Legs whose source is not the signing key require an authz send grant from the source owner.
type ChainCustody struct {
	signer    Broadcaster
	bank      banktypes.QueryClient
	inclusion inclusionPolicy
}

func NewChainCustody(signer Broadcaster, bank banktypes.QueryClient) (*ChainCustody, error) {
	if signer == nil {
		return nil, errors.New("signer cannot be nil")
	}
	if bank == nil {
		return nil, errors.New("bank query client cannot be nil")
	}
	if len(signer.GetAddress()) == 0 {
		return nil, errors.New("signer has no address")
	}
	return &ChainCustody{signer: signer, bank: bank, inclusion: defaultInclusionPolicy}, nil
}

func (c *ChainCustody) Lookup(ctx context.Context, id types.AccountID) (types.TokenAccount, error) {
	owner, denom, err := id.Parse()
	if err != nil {
		return types.TokenAccount{}, fmt.Errorf("%w: %v", vault.ErrAccountNotFound, err)
	}

	res, err := c.bank.Balance(ctx, &banktypes.QueryBalanceRequest{Address: owner.String(), Denom: denom})
	if err != nil {
		return types.TokenAccount{}, fmt.Errorf("failed to query balance of %s: %w", id, err)
	}

	var balance uint64
	if res != nil && res.Balance != nil && !res.Balance.Amount.IsNil() {
		if !res.Balance.Amount.IsUint64() {
			return types.TokenAccount{}, fmt.Errorf("balance of %s does not fit in 64 bits: %s", id, res.Balance.Amount)
		}
		balance = res.Balance.Amount.Uint64()
	}

	return types.TokenAccount{ID: id, Owner: owner, Denom: denom, Balance: balance}, nil
}

// Execute submits the whole batch as a single transaction, so the chain applies all legs or none.
// It returns once the transaction is committed; a batch that fails in the block is an error.
func (c *ChainCustody) Execute(ctx context.Context, transfers []types.Transfer) error {
	if err := vault.ValidateBatch(transfers); err != nil {
		return err
	}

	msgs, debits, err := buildMsgs(c.signer.GetAddress(), transfers)
	if err != nil {
		return err
	}

	sources := make([]types.AccountID, 0, len(debits))
	for id := range debits {
		sources = append(sources, id)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	for _, id := range sources {
		acct, err := c.Lookup(ctx, id)
		if err != nil {
			return err
		}
		if acct.Balance < debits[id] {
			return fmt.Errorf("%w: %s holds %d, batch needs %d", vault.ErrInsufficientFunds, id, acct.Balance, debits[id])
		}
	}

	res, err := c.signer.SignAndBroadcastTx(ctx, msgs...)
	if err != nil {
		return fmt.Errorf("failed to submit transfer batch: %w", err)
	}
	if res.Code != 0 {
		custodyLogger.Error().
			Str("txHash", res.TxHash).
			Uint32("code", res.Code).
			Str("rawLog", res.RawLog).
			Msg("Transfer batch rejected")
		return fmt.Errorf("%w: code %d: %s", ErrTxRejected, res.Code, res.RawLog)
	}

	committed, err := c.waitForInclusion(ctx, res.TxHash)
	if err != nil {
		return err
	}
	if committed.Code != 0 {
		custodyLogger.Error().
			Str("txHash", committed.TxHash).
			Int64("height", committed.Height).
			Uint32("code", committed.Code).
			Str("rawLog", committed.RawLog).
			Msg("Transfer batch failed in block")
		return fmt.Errorf("%w: code %d in block %d: %s", ErrTxRejected, committed.Code, committed.Height, committed.RawLog)
	}

	custodyLogger.Info().
		Str("txHash", committed.TxHash).
		Int64("height", committed.Height).
		Int64("gasUsed", committed.GasUsed).
		Int("legs", len(transfers)).
		Msg("Transfer batch committed")
	return nil
}

// waitForInclusion polls for txHash with exponential backoff until it shows up in a block.
func (c *ChainCustody) waitForInclusion(ctx context.Context, txHash string) (*sdk.TxResponse, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: empty transaction hash", ErrTxNotIncluded)
	}

	for attempt := 1; attempt <= c.inclusion.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrTxNotIncluded, txHash, ctx.Err())
		case <-time.After(c.inclusion.delay(attempt)):
		}

		res, err := c.signer.QueryTxByHash(ctx, txHash)
		if err != nil {
			custodyLogger.Debug().
				Err(err).
				Str("txHash", txHash).
				Int("attempt", attempt).
				Msg("Transaction not yet available, will retry")
			continue
		}
		if res != nil && res.Height > 0 {
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrTxNotIncluded, txHash, c.inclusion.attempts)
}

// buildMsgs maps every leg onto a bank send. Legs the signer cannot sign for directly are
// wrapped in an authz exec. It also returns the total debit per source account.
func buildMsgs(signer sdk.AccAddress, transfers []types.Transfer) ([]sdk.Msg, map[types.AccountID]uint64, error) {
	msgs := make([]sdk.Msg, 0, len(transfers))
	debits := make(map[types.AccountID]uint64, len(transfers))

	for i, t := range transfers {
		from, fromDenom, err := t.From.Parse()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: transfer %d: %v", vault.ErrInvalidTransfer, i, err)
		}
		to, toDenom, err := t.To.Parse()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: transfer %d: %v", vault.ErrInvalidTransfer, i, err)
		}
		if fromDenom != toDenom {
			return nil, nil, fmt.Errorf("%w: transfer %d moves %s into %s", vault.ErrDenomMismatch, i, fromDenom, toDenom)
		}
		if !from.Equals(t.AuthorizedBy) {
			return nil, nil, fmt.Errorf("%w: transfer %d from %s", vault.ErrNotAuthorized, i, t.From)
		}

		coin := sdk.Coin{Denom: fromDenom, Amount: sdkmath.NewIntFromUint64(t.Amount)}
		if err := coin.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: transfer %d: %v", vault.ErrInvalidTransfer, i, err)
		}

		debit := debits[t.From] + t.Amount
		if debit < t.Amount {
			return nil, nil, fmt.Errorf("%w: debits from %s overflow", vault.ErrInvalidTransfer, t.From)
		}
		debits[t.From] = debit

		send := banktypes.NewMsgSend(from, to, sdk.NewCoins(coin))
		if from.Equals(signer) {
			msgs = append(msgs, send)
			continue
		}
		exec := authz.NewMsgExec(signer, []sdk.Msg{send})
		msgs = append(msgs, &exec)
	}
	return msgs, debits, nil
}
