package staking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/elys-network/stakeledger/internal/accrual"
	"github.com/elys-network/stakeledger/internal/feesplit"
	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
	"github.com/elys-network/stakeledger/internal/vault"
)

// DefaultClaimCooldown is the minimum spacing between two compute claims, in seconds.
const DefaultClaimCooldown uint64 = 300

// ComputeConfig holds everything needed to create a ComputeLedger.
type ComputeConfig struct {
	Start       uint64
	DailyOutput uint64 // reward units emitted per day across the pool
	RewardToken types.Token
	TopUpToken  types.Token // asset burned by AddPower
	Admin       sdk.AccAddress
	Accounts    Accounts
	Split       types.SplitTable
	MaxClaim    uint64
	Cooldown    uint64
	Custody     vault.Custody
	Recorder    Recorder
}

// ComputeLedger is the single-pool ledger where each purchase order owns one position
// weighted by its investment.
type ComputeLedger struct {
	logger      zerolog.Logger
	start       uint64
	pool        types.RewardPool
	orders      map[types.OrderKey]*types.ComputeOrder
	rewardToken types.Token
	topUpToken  types.Token
	admin       sdk.AccAddress
	cooldown    uint64
	desk        payoutDesk
	recorder    Recorder
}

// ComputeClaimRequest claims the settled reward of the caller's order Index.
type ComputeClaimRequest struct {
	Caller        sdk.AccAddress
	Index         uint64
	RewardAccount types.AccountID
	UplineAccount types.AccountID
}

// Burn moves Amount of the top-up asset from Source to the top-up burn sink.
type Burn struct {
	Source types.AccountID `json:"source"`
	Amount uint64          `json:"amount"`
}

// NewComputeLedger validates cfg and creates the compute pool starting at cfg.Start.
func NewComputeLedger(cfg ComputeConfig) (*ComputeLedger, error) {
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultClaimCooldown
	}
	desk := payoutDesk{
		custody:     cfg.Custody,
		accounts:    cfg.Accounts,
		split:       cfg.Split,
		rewardDenom: cfg.RewardToken.Denom,
		maxClaim:    cfg.MaxClaim,
	}
	if err := validateComputeConfig(cfg, desk); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	l := &ComputeLedger{
		logger: logger.GetForComponent("compute_ledger"),
		start:  cfg.Start,
		pool: types.RewardPool{
			Tier:           types.TierNone,
			Rate:           cfg.DailyOutput / types.SecondsPerDay,
			LastUpdateTime: cfg.Start,
		},
		orders:      make(map[types.OrderKey]*types.ComputeOrder),
		rewardToken: cfg.RewardToken,
		topUpToken:  cfg.TopUpToken,
		admin:       cfg.Admin,
		cooldown:    cfg.Cooldown,
		desk:        desk,
		recorder:    cfg.Recorder,
	}

	maxClaimTokens, _ := utils.BaseUnitsToFloat64(cfg.MaxClaim, cfg.RewardToken.Decimals)
	l.logger.Info().
		Uint64("start", cfg.Start).
		Uint64("rate", l.pool.Rate).
		Float64("maxClaimTokens", maxClaimTokens).
		Uint64("cooldown", cfg.Cooldown).
		Str("rewardDenom", cfg.RewardToken.Denom).
		Msg("Compute ledger initialized")

	return l, nil
}

func validateComputeConfig(cfg ComputeConfig, desk payoutDesk) error {
	var errs []error
	if cfg.Start == 0 {
		errs = append(errs, errors.New("start timestamp must be positive"))
	}
	if cfg.DailyOutput < types.SecondsPerDay {
		errs = append(errs, fmt.Errorf("daily output %d yields a zero per-second rate", cfg.DailyOutput))
	}
	if len(cfg.Admin) == 0 {
		errs = append(errs, errors.New("admin cannot be empty"))
	}
	if cfg.TopUpToken.Denom != "" && cfg.Accounts.TopUpBurn == "" {
		errs = append(errs, errors.New("top-up token is set but no top-up burn account is set"))
	}
	if err := desk.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OpenOrder creates an empty order for owner.
func (l *ComputeLedger) OpenOrder(ctx context.Context, owner, upline sdk.AccAddress, index uint64) error {
	if len(owner) == 0 {
		return fmt.Errorf("%w: empty order owner", ErrUnauthorized)
	}
	if len(upline) == 0 {
		return ErrInvalidUpline
	}
	key := types.OrderKey{Owner: owner.String(), Index: index}
	if _, exists := l.orders[key]; exists {
		return fmt.Errorf("%w: %s/%d", ErrOrderExists, key.Owner, index)
	}

	order := &types.ComputeOrder{Owner: owner, Upline: upline, OrderIndex: index}
	l.orders[key] = order
	l.recordOrder(ctx, *order)

	l.logger.Info().Str("owner", key.Owner).Uint64("index", index).Msg("Order opened")
	return nil
}

// RecordPurchase stores the result of the upstream purchase flow for an order.
func (l *ComputeLedger) RecordPurchase(ctx context.Context, caller, owner sdk.AccAddress, index uint64, receipt types.PurchaseReceipt) error {
	if !caller.Equals(l.admin) {
		return ErrUnauthorized
	}
	order, err := l.orderFor(owner, index)
	if err != nil {
		return err
	}
	if order.Position.IsStaked {
		return fmt.Errorf("%w: order %d is staked", ErrAlreadyStaked, index)
	}

	order.Purchase = receipt
	l.recordOrder(ctx, *order)

	l.logger.Info().
		Str("owner", owner.String()).
		Uint64("index", index).
		Uint64("investment", receipt.Investment).
		Bool("paid", receipt.Paid).
		Msg("Purchase recorded")
	return nil
}

// Enter stakes a paid order with its investment as weight.
func (l *ComputeLedger) Enter(ctx context.Context, caller sdk.AccAddress, index, now uint64) error {
	order, err := l.orderFor(caller, index)
	if err != nil {
		return err
	}
	if now < l.start {
		return fmt.Errorf("%w: staking opens at %d", ErrNotStarted, l.start)
	}
	if !order.Purchase.Paid {
		return fmt.Errorf("%w: order %d is unpaid", ErrPurchaseIncomplete, index)
	}
	if order.Position.IsStaked {
		return fmt.Errorf("%w: order %d", ErrAlreadyStaked, index)
	}
	if !order.Purchase.Complete() {
		return fmt.Errorf("%w: order %d has no investment or settlement", ErrPurchaseIncomplete, index)
	}

	next := *order
	pos := &next.Position
	pool := l.pool
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	weight := next.Purchase.Investment
	deposited, ok := utils.CheckedAdd(pos.DepositedAmount, weight)
	if !ok {
		return fmt.Errorf("%w: order deposit", ErrOverflow)
	}
	if pool.TotalShares, ok = utils.CheckedAdd(pool.TotalShares, weight); !ok {
		return fmt.Errorf("%w: pool shares", ErrOverflow)
	}
	pos.DepositedAmount = deposited
	pos.StakeType = types.TierNone
	pos.IsStaked = true
	pos.StakeStartTime = now
	pos.RewardDebt = accrual.DebtFor(deposited, pool.AccPerShare)

	l.pool = pool
	*order = next
	l.recordPool(ctx, pool)
	l.recordOrder(ctx, next)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("owner", caller.String()).
		Uint64("index", index).
		Uint64("weight", weight).
		Uint64("poolShares", pool.TotalShares).
		Msg("Order staked")
	return nil
}

// AddPower tops up an order's weight, staking it if it was not staked. An optional burn of
// the top-up asset runs in the same custody batch.
func (l *ComputeLedger) AddPower(ctx context.Context, caller, owner sdk.AccAddress, index, amount uint64, burn *Burn, now uint64) error {
	if !caller.Equals(l.admin) {
		return ErrUnauthorized
	}
	order, err := l.orderFor(owner, index)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: power amount must be positive", ErrInvalidAmount)
	}

	var transfers []types.Transfer
	if burn != nil {
		transfer, err := l.topUpBurn(ctx, owner, *burn)
		if err != nil {
			return err
		}
		transfers = append(transfers, transfer)
	}

	next := *order
	pos := &next.Position
	pool := l.pool
	accrual.UpdatePool(&pool, now)
	if pos.DepositedAmount != 0 {
		accrual.Settle(pool, pos)
	}

	deposited, ok := utils.CheckedAdd(pos.DepositedAmount, amount)
	if !ok {
		return fmt.Errorf("%w: order deposit", ErrOverflow)
	}
	if pool.TotalShares, ok = utils.CheckedAdd(pool.TotalShares, amount); !ok {
		return fmt.Errorf("%w: pool shares", ErrOverflow)
	}
	pos.DepositedAmount = deposited
	pos.StakeType = types.TierNone
	pos.IsStaked = true
	pos.StakeStartTime = now
	pos.RewardDebt = accrual.DebtFor(deposited, pool.AccPerShare)

	if len(transfers) > 0 {
		if err := l.desk.custody.Execute(ctx, transfers); err != nil {
			return fmt.Errorf("failed to burn top-up asset: %w", err)
		}
	}

	l.pool = pool
	*order = next
	l.recordPool(ctx, pool)
	l.recordOrder(ctx, next)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("owner", owner.String()).
		Uint64("index", index).
		Uint64("added", amount).
		Uint64("deposit", deposited).
		Bool("burned", burn != nil).
		Msg("Power added")
	return nil
}

func (l *ComputeLedger) topUpBurn(ctx context.Context, owner sdk.AccAddress, burn Burn) (types.Transfer, error) {
	if l.desk.accounts.TopUpBurn == "" {
		return types.Transfer{}, fmt.Errorf("%w: no top-up burn account", ErrInvalidConfig)
	}
	if burn.Amount == 0 {
		return types.Transfer{}, fmt.Errorf("%w: burn amount must be positive", ErrInvalidAmount)
	}
	source, err := l.desk.bindAccount(ctx, burn.Source, owner, l.topUpToken.Denom)
	if err != nil {
		return types.Transfer{}, err
	}
	if source.Balance < burn.Amount {
		return types.Transfer{}, fmt.Errorf("%w: %s holds %d, burning %d", ErrInsufficientBalance, burn.Source, source.Balance, burn.Amount)
	}
	sink, err := l.desk.custody.Lookup(ctx, l.desk.accounts.TopUpBurn)
	if err != nil {
		return types.Transfer{}, fmt.Errorf("failed to load top-up burn account: %w", err)
	}
	if err := feesplit.VerifyBurnTarget(sink); err != nil {
		return types.Transfer{}, err
	}
	return types.Transfer{
		From:         burn.Source,
		To:           l.desk.accounts.TopUpBurn,
		Amount:       burn.Amount,
		AuthorizedBy: owner,
		Role:         types.RoleBurn,
	}, nil
}

// ReducePower removes part of an order's weight after settling it.
func (l *ComputeLedger) ReducePower(ctx context.Context, caller, owner sdk.AccAddress, index, amount, now uint64) error {
	if !caller.Equals(l.admin) {
		return ErrUnauthorized
	}
	order, err := l.orderFor(owner, index)
	if err != nil {
		return err
	}
	if !order.Position.IsStaked {
		return fmt.Errorf("%w: order %d", ErrNotStaked, index)
	}
	if amount == 0 || amount > order.Position.DepositedAmount {
		return fmt.Errorf("%w: cannot reduce %d from a deposit of %d", ErrInvalidAmount, amount, order.Position.DepositedAmount)
	}

	next := *order
	pos := &next.Position
	pool := l.pool
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	deposited, ok := utils.CheckedSub(pos.DepositedAmount, amount)
	if !ok {
		return fmt.Errorf("%w: order deposit", ErrUnderflow)
	}
	if pool.TotalShares, ok = utils.CheckedSub(pool.TotalShares, amount); !ok {
		return fmt.Errorf("%w: pool shares", ErrUnderflow)
	}
	pos.DepositedAmount = deposited
	pos.RewardDebt = accrual.DebtFor(deposited, pool.AccPerShare)

	l.pool = pool
	*order = next
	l.recordPool(ctx, pool)
	l.recordOrder(ctx, next)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("owner", owner.String()).
		Uint64("index", index).
		Uint64("removed", amount).
		Uint64("deposit", deposited).
		Msg("Power reduced")
	return nil
}

// Claim settles the order and pays its reward through the fee split. A reward vault that
// cannot cover the reward yields a deferred outcome with no payout.
func (l *ComputeLedger) Claim(ctx context.Context, req ComputeClaimRequest, now uint64) (ClaimResult, error) {
	order, err := l.orderFor(req.Caller, req.Index)
	if err != nil {
		return ClaimResult{}, err
	}
	if !order.Purchase.PrimaryBurned || !order.Purchase.SecondaryBurned {
		return ClaimResult{}, fmt.Errorf("%w: order %d burns are incomplete", ErrPurchaseIncomplete, req.Index)
	}
	if !order.Position.IsStaked {
		return ClaimResult{}, fmt.Errorf("%w: order %d", ErrNotStaked, req.Index)
	}
	if last := order.Position.LastClaimTimestamp; now > last && now-last < l.cooldown {
		return ClaimResult{}, fmt.Errorf("%w: next claim at %d", ErrClaimCooldown, last+l.cooldown)
	}

	rewardAcct, err := l.desk.bindAccount(ctx, req.RewardAccount, req.Caller, l.rewardToken.Denom)
	if err != nil {
		return ClaimResult{}, err
	}
	uplineAcct, err := l.desk.bindAccount(ctx, req.UplineAccount, order.Upline, l.rewardToken.Denom)
	if err != nil {
		return ClaimResult{}, err
	}

	next := *order
	pos := &next.Position
	pool := l.pool
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	due := pos.AccumulatedReward
	if err := l.desk.checkCeiling(due); err != nil {
		return ClaimResult{}, err
	}
	if due == 0 {
		return ClaimResult{}, ErrNoRewards
	}

	available, err := l.desk.rewardVaultBalance(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	if available < due {
		l.pool = pool
		*order = next
		l.recordPool(ctx, pool)
		l.recordOrder(ctx, next)

		result := ClaimResult{Outcome: types.OutcomeDeferredShortfall, Due: due}
		result.ReceiptID = l.recordClaim(ctx, req.Caller, req.Index, result)

		l.logger.Warn().
			Str("operation_id", OperationID(ctx)).
			Str("owner", req.Caller.String()).
			Uint64("index", req.Index).
			Uint64("due", due).
			Uint64("vaultBalance", available).
			Msg("Reward vault short, claim deferred without payout")
		return result, nil
	}

	transfers, payouts, err := l.desk.payout(ctx, due, rewardAcct.ID, uplineAcct.ID)
	if err != nil {
		return ClaimResult{}, err
	}
	received, ok := utils.CheckedAdd(pos.ReceivedReward, due)
	if !ok {
		return ClaimResult{}, fmt.Errorf("%w: received reward", ErrOverflow)
	}
	pos.LastClaimTimestamp = now
	pos.AccumulatedReward = 0
	pos.ReceivedReward = received
	pos.RewardDebt = accrual.DebtFor(pos.DepositedAmount, pool.AccPerShare)

	if err := l.desk.custody.Execute(ctx, transfers); err != nil {
		return ClaimResult{}, fmt.Errorf("failed to pay claim: %w", err)
	}

	l.pool = pool
	*order = next
	l.recordPool(ctx, pool)
	l.recordOrder(ctx, next)

	result := ClaimResult{Outcome: types.OutcomePaid, Due: due, Payouts: payouts}
	result.ReceiptID = l.recordClaim(ctx, req.Caller, req.Index, result)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("owner", req.Caller.String()).
		Uint64("index", req.Index).
		Uint64("paid", due).
		Int("legs", len(payouts)).
		Msg("Reward claimed")
	return result, nil
}

// Pool returns a copy of the compute pool.
func (l *ComputeLedger) Pool() types.RewardPool {
	return l.pool
}

// Order returns a copy of an order.
func (l *ComputeLedger) Order(owner sdk.AccAddress, index uint64) (types.ComputeOrder, error) {
	o, err := l.orderFor(owner, index)
	if err != nil {
		return types.ComputeOrder{}, err
	}
	return *o, nil
}

// Orders returns copies of every order, ordered by owner then index.
func (l *ComputeLedger) Orders() []types.ComputeOrder {
	out := make([]types.ComputeOrder, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Index < b.Index
	})
	return out
}

// PendingReward is the reward a claim at now would settle for the order.
func (l *ComputeLedger) PendingReward(owner sdk.AccAddress, index, now uint64) (uint64, error) {
	o, err := l.orderFor(owner, index)
	if err != nil {
		return 0, err
	}
	if !o.Position.IsStaked {
		return o.Position.AccumulatedReward, nil
	}
	return accrual.Pending(l.pool, o.Position, now), nil
}

// Restore replaces the ledger state with a persisted pool and orders.
func (l *ComputeLedger) Restore(pool *types.RewardPool, orders []types.ComputeOrder) error {
	restored := l.pool
	if pool != nil {
		if pool.Tier != types.TierNone {
			return fmt.Errorf("%w: persisted compute pool has tier %s", ErrInvalidConfig, pool.Tier)
		}
		if pool.Rate != l.pool.Rate {
			return fmt.Errorf("%w: persisted compute rate %d differs from configured %d", ErrInvalidConfig, pool.Rate, l.pool.Rate)
		}
		restored = *pool
	}

	byKey := make(map[types.OrderKey]*types.ComputeOrder, len(orders))
	var shares uint64
	for i := range orders {
		o := orders[i]
		byKey[o.Key()] = &o
		if o.Position.IsStaked {
			var ok bool
			if shares, ok = utils.CheckedAdd(shares, o.Position.DepositedAmount); !ok {
				return fmt.Errorf("%w: restored order deposits", ErrOverflow)
			}
		}
	}
	if shares != restored.TotalShares {
		return fmt.Errorf("compute pool holds %d shares but orders sum to %d", restored.TotalShares, shares)
	}

	l.pool = restored
	l.orders = byKey
	l.logger.Info().Int("orders", len(orders)).Msg("Compute ledger restored")
	return nil
}

// CheckInvariants verifies that TotalShares equals the staked deposits.
func (l *ComputeLedger) CheckInvariants() error {
	var shares uint64
	for _, o := range l.orders {
		if o.Position.IsStaked {
			shares = utils.SaturatingAdd(shares, o.Position.DepositedAmount)
		}
	}
	if shares != l.pool.TotalShares {
		return fmt.Errorf("compute pool holds %d shares but orders sum to %d", l.pool.TotalShares, shares)
	}
	return nil
}

func (l *ComputeLedger) orderFor(owner sdk.AccAddress, index uint64) (*types.ComputeOrder, error) {
	o, ok := l.orders[types.OrderKey{Owner: owner.String(), Index: index}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrOrderNotFound, owner, index)
	}
	return o, nil
}

func (l *ComputeLedger) recordPool(ctx context.Context, pool types.RewardPool) {
	if err := l.recorder.RecordPool(ctx, pool); err != nil {
		l.logger.Error().Err(err).Str("pool", pool.Key()).Msg("Failed to record pool state")
	}
}

func (l *ComputeLedger) recordOrder(ctx context.Context, o types.ComputeOrder) {
	if err := l.recorder.RecordOrder(ctx, o); err != nil {
		l.logger.Error().Err(err).Str("owner", o.Owner.String()).Uint64("index", o.OrderIndex).Msg("Failed to record order state")
	}
}

func (l *ComputeLedger) recordClaim(ctx context.Context, owner sdk.AccAddress, index uint64, result ClaimResult) int64 {
	receipt := types.ClaimReceipt{
		OperationID: OperationID(ctx),
		Variant:     types.VariantCompute,
		Owner:       owner.String(),
		Slot:        index,
		Total:       result.Due,
		Payouts:     result.Payouts,
		Outcome:     result.Outcome,
		Timestamp:   time.Now().UTC(),
	}
	id, err := l.recorder.RecordClaim(ctx, receipt)
	if err != nil {
		l.logger.Error().Err(err).Str("owner", receipt.Owner).Msg("Failed to record claim receipt")
		return 0
	}
	return id
}
