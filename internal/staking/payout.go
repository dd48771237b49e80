package staking

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/stakeledger/internal/feesplit"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
)

// Accounts binds a ledger to the custody accounts it pays from and into.
type Accounts struct {
	Authority   sdk.AccAddress  `json:"authority"`    // owns the vaults and signs payouts and releases
	RewardVault types.AccountID `json:"reward_vault"` // source of every reward payout
	StakeVault  types.AccountID `json:"stake_vault"`  // holds tiered deposits
	Dividend    types.AccountID `json:"dividend"`     // global dividend sink
	Burn        types.AccountID `json:"burn"`         // reward burn sink, owned by the null identity
	TopUpBurn   types.AccountID `json:"top_up_burn"`  // burn sink for the compute top-up asset
}

// ClaimResult describes a successful claim call.
type ClaimResult struct {
	Outcome        types.ClaimOutcome `json:"outcome"`
	Due            uint64             `json:"due"` // settled reward at the time of the call
	Payouts        []types.Payout     `json:"payouts"`
	CanCancelStake bool               `json:"can_cancel_stake"`
	ReceiptID      int64              `json:"receipt_id,omitempty"`
}

// Paid is the total transferred by the claim; zero for a deferred claim.
func (r ClaimResult) Paid() uint64 {
	return feesplit.Sum(r.Payouts)
}

// payoutDesk holds what both ledgers need to pay claims.
type payoutDesk struct {
	custody     vault.Custody
	accounts    Accounts
	split       types.SplitTable
	rewardDenom string
	maxClaim    uint64
}

func (d payoutDesk) validate() error {
	var errs []error
	if d.custody == nil {
		errs = append(errs, errors.New("custody cannot be nil"))
	}
	if len(d.accounts.Authority) == 0 {
		errs = append(errs, errors.New("vault authority cannot be empty"))
	}
	if d.accounts.RewardVault == "" {
		errs = append(errs, errors.New("reward vault cannot be empty"))
	}
	if feesplit.HasRole(d.split, types.RoleDividend) && d.accounts.Dividend == "" {
		errs = append(errs, errors.New("split pays a dividend but no dividend account is set"))
	}
	if feesplit.HasRole(d.split, types.RoleBurn) && d.accounts.Burn == "" {
		errs = append(errs, errors.New("split burns but no burn account is set"))
	}
	if d.rewardDenom == "" {
		errs = append(errs, errors.New("reward denom cannot be empty"))
	}
	if d.maxClaim == 0 {
		errs = append(errs, errors.New("max claim must be positive"))
	}
	if err := feesplit.Validate(d.split); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// bindAccount loads id and checks that it belongs to owner and holds denom.
func (d payoutDesk) bindAccount(ctx context.Context, id types.AccountID, owner sdk.AccAddress, denom string) (types.TokenAccount, error) {
	acct, err := d.custody.Lookup(ctx, id)
	if err != nil {
		return types.TokenAccount{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	if !acct.Owner.Equals(owner) {
		return types.TokenAccount{}, fmt.Errorf("%w: %s is owned by %s, expected %s", ErrAccountMismatch, id, acct.Owner, owner)
	}
	if acct.Denom != denom {
		return types.TokenAccount{}, fmt.Errorf("%w: %s holds %s, expected %s", ErrMintMismatch, id, acct.Denom, denom)
	}
	return acct, nil
}

func (d payoutDesk) rewardVaultBalance(ctx context.Context) (uint64, error) {
	acct, err := d.custody.Lookup(ctx, d.accounts.RewardVault)
	if err != nil {
		return 0, fmt.Errorf("failed to load reward vault: %w", err)
	}
	return acct.Balance, nil
}

// checkCeiling rejects a settled amount above the configured single-claim maximum.
func (d payoutDesk) checkCeiling(due uint64) error {
	if due > d.maxClaim {
		return fmt.Errorf("%w: %d > %d", ErrClaimCeilingExceeded, due, d.maxClaim)
	}
	return nil
}

// payout splits total and maps every leg onto a transfer out of the reward vault.
func (d payoutDesk) payout(ctx context.Context, total uint64, participant, upline types.AccountID) ([]types.Transfer, []types.Payout, error) {
	if feesplit.HasRole(d.split, types.RoleBurn) {
		burn, err := d.custody.Lookup(ctx, d.accounts.Burn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load burn account: %w", err)
		}
		if err := feesplit.VerifyBurnTarget(burn); err != nil {
			return nil, nil, err
		}
	}

	payouts, err := feesplit.Distribute(total, d.split)
	if err != nil {
		return nil, nil, err
	}

	transfers := make([]types.Transfer, 0, len(payouts))
	for _, p := range payouts {
		var to types.AccountID
		switch p.Role {
		case types.RoleParticipant:
			to = participant
		case types.RoleUpline, types.RoleUplineBonus:
			to = upline
		case types.RoleDividend:
			to = d.accounts.Dividend
		case types.RoleBurn:
			to = d.accounts.Burn
		default:
			return nil, nil, fmt.Errorf("%w: no destination for role %q", ErrInvalidConfig, p.Role)
		}
		transfers = append(transfers, types.Transfer{
			From:         d.accounts.RewardVault,
			To:           to,
			Amount:       p.Amount,
			AuthorizedBy: d.accounts.Authority,
			Role:         p.Role,
		})
	}
	return transfers, payouts, nil
}
