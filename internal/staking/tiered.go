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
	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
	"github.com/elys-network/stakeledger/internal/vault"
)

// TieredConfig holds everything needed to create a TieredLedger.
type TieredConfig struct {
	Start       uint64
	Terms       [types.TierCount]types.TierTerms
	StakeToken  types.Token
	RewardToken types.Token
	Admin       sdk.AccAddress
	Accounts    Accounts
	Split       types.SplitTable
	MaxClaim    uint64 // base units of the reward token
	Custody     vault.Custody
	Recorder    Recorder
}

// TieredLedger is the multi-pool LP ledger: one reward pool per tier and a fixed arena of
// slots per participant. It holds no locks; callers serialize operations.
type TieredLedger struct {
	logger       zerolog.Logger
	terms        [types.TierCount]types.TierTerms
	pools        [types.TierCount]types.RewardPool
	participants map[string]*types.Participant
	stakeToken   types.Token
	rewardToken  types.Token
	admin        sdk.AccAddress
	desk         payoutDesk
	recorder     Recorder
}

// EnterRequest stakes Amount of the stake token from Source into Slot under Tier.
type EnterRequest struct {
	Caller sdk.AccAddress
	Slot   uint64
	Tier   types.Tier
	Amount uint64
	Source types.AccountID
}

// ClaimRequest claims the settled reward of Slot.
type ClaimRequest struct {
	Caller        sdk.AccAddress
	Slot          uint64
	RewardAccount types.AccountID // receives the participant leg
	UplineAccount types.AccountID // receives the upline legs
}

// CancelRequest releases the deposit of a matured, claimed Slot into Destination.
type CancelRequest struct {
	Caller      sdk.AccAddress
	Slot        uint64
	Destination types.AccountID
}

// NewTieredLedger validates cfg and creates the three tier pools starting at cfg.Start.
func NewTieredLedger(cfg TieredConfig) (*TieredLedger, error) {
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	desk := payoutDesk{
		custody:     cfg.Custody,
		accounts:    cfg.Accounts,
		split:       cfg.Split,
		rewardDenom: cfg.RewardToken.Denom,
		maxClaim:    cfg.MaxClaim,
	}
	if err := validateTieredConfig(cfg, desk); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	l := &TieredLedger{
		logger:       logger.GetForComponent("tiered_ledger"),
		terms:        cfg.Terms,
		participants: make(map[string]*types.Participant),
		stakeToken:   cfg.StakeToken,
		rewardToken:  cfg.RewardToken,
		admin:        cfg.Admin,
		desk:         desk,
		recorder:     cfg.Recorder,
	}
	for i, tier := range types.AllTiers {
		l.pools[i] = types.RewardPool{
			Tier:           tier,
			Rate:           cfg.Terms[i].Rate,
			LastUpdateTime: cfg.Start,
		}
	}

	maxClaimTokens, _ := utils.BaseUnitsToFloat64(cfg.MaxClaim, cfg.RewardToken.Decimals)
	l.logger.Info().
		Uint64("start", cfg.Start).
		Float64("maxClaimTokens", maxClaimTokens).
		Str("stakeDenom", cfg.StakeToken.Denom).
		Str("rewardDenom", cfg.RewardToken.Denom).
		Str("split", cfg.Split.Name).
		Msg("Tiered ledger initialized")

	return l, nil
}

func validateTieredConfig(cfg TieredConfig, desk payoutDesk) error {
	var errs []error
	if cfg.Start == 0 {
		errs = append(errs, errors.New("start timestamp must be positive"))
	}
	var prevRate uint64
	for i, terms := range cfg.Terms {
		if terms.Rate == 0 {
			errs = append(errs, fmt.Errorf("tier %s: rate must be positive", types.AllTiers[i]))
		}
		if terms.Rate < prevRate {
			errs = append(errs, fmt.Errorf("tier %s: rate %d is lower than the previous tier's %d", types.AllTiers[i], terms.Rate, prevRate))
		}
		if terms.Duration == 0 {
			errs = append(errs, fmt.Errorf("tier %s: duration must be positive", types.AllTiers[i]))
		}
		prevRate = terms.Rate
	}
	if cfg.StakeToken.Denom == "" {
		errs = append(errs, errors.New("stake denom cannot be empty"))
	}
	if cfg.StakeToken.Denom == cfg.RewardToken.Denom {
		errs = append(errs, errors.New("stake and reward tokens must differ"))
	}
	if len(cfg.Admin) == 0 {
		errs = append(errs, errors.New("admin cannot be empty"))
	}
	if cfg.Accounts.StakeVault == "" {
		errs = append(errs, errors.New("stake vault cannot be empty"))
	}
	if err := desk.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RegisterParticipant creates a participant with ten empty slots.
func (l *TieredLedger) RegisterParticipant(ctx context.Context, address, upline sdk.AccAddress) error {
	if len(address) == 0 {
		return fmt.Errorf("%w: empty participant address", ErrUnauthorized)
	}
	if len(upline) == 0 {
		return ErrInvalidUpline
	}
	key := address.String()
	if _, exists := l.participants[key]; exists {
		return fmt.Errorf("%w: %s", ErrParticipantExists, key)
	}

	participant := &types.Participant{Address: address, Upline: upline}
	l.participants[key] = participant
	l.recordParticipant(ctx, *participant)

	l.logger.Info().Str("address", key).Str("upline", upline.String()).Msg("Participant registered")
	return nil
}

// Enter stakes into an empty slot. The pool is brought current and the slot settled before
// the new weight is added.
func (l *TieredLedger) Enter(ctx context.Context, req EnterRequest, now uint64) error {
	participant, err := l.participantFor(req.Caller)
	if err != nil {
		return err
	}
	source, err := l.desk.bindAccount(ctx, req.Source, req.Caller, l.stakeToken.Denom)
	if err != nil {
		return err
	}
	if source.Balance < req.Amount {
		return fmt.Errorf("%w: %s holds %d, staking %d", ErrInsufficientBalance, req.Source, source.Balance, req.Amount)
	}
	if req.Amount == 0 {
		return fmt.Errorf("%w: stake amount must be positive", ErrInvalidAmount)
	}
	if req.Slot >= types.MaxSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, req.Slot)
	}
	if !req.Tier.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTier, req.Tier)
	}
	terms := l.terms[req.Tier.Index()]
	if now > terms.Deadline {
		return fmt.Errorf("%w: tier %s closed at %d", ErrStakingEnded, req.Tier, terms.Deadline)
	}

	next := *participant
	pos := &next.Slots[req.Slot]
	if pos.IsStaked {
		return fmt.Errorf("%w: slot %d", ErrAlreadyStaked, req.Slot)
	}

	pool := l.pools[req.Tier.Index()]
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	end, ok := utils.CheckedAdd(now, terms.Duration)
	if !ok {
		return fmt.Errorf("%w: stake end time", ErrOverflow)
	}
	deposited, ok := utils.CheckedAdd(pos.DepositedAmount, req.Amount)
	if !ok {
		return fmt.Errorf("%w: slot deposit", ErrOverflow)
	}
	if pool.TotalShares, ok = utils.CheckedAdd(pool.TotalShares, req.Amount); !ok {
		return fmt.Errorf("%w: pool shares", ErrOverflow)
	}
	if next.TotalDeposited, ok = utils.CheckedAdd(next.TotalDeposited, req.Amount); !ok {
		return fmt.Errorf("%w: participant total", ErrOverflow)
	}

	pos.DepositedAmount = deposited
	pos.StakeType = req.Tier
	pos.IsStaked = true
	pos.CanCancelStake = false
	pos.StakeStartTime = now
	pos.StakeEndTime = end
	pos.RewardDebt = accrual.DebtFor(deposited, pool.AccPerShare)

	transfer := types.Transfer{
		From:         req.Source,
		To:           l.desk.accounts.StakeVault,
		Amount:       req.Amount,
		AuthorizedBy: req.Caller,
	}
	if err := l.desk.custody.Execute(ctx, []types.Transfer{transfer}); err != nil {
		return fmt.Errorf("failed to move stake into vault: %w", err)
	}

	l.pools[req.Tier.Index()] = pool
	*participant = next
	l.recordPool(ctx, pool)
	l.recordParticipant(ctx, next)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("address", req.Caller.String()).
		Uint64("slot", req.Slot).
		Str("tier", req.Tier.String()).
		Uint64("amount", req.Amount).
		Uint64("stakeEnd", end).
		Uint64("poolShares", pool.TotalShares).
		Msg("Stake entered")
	return nil
}

// Claim settles the slot and pays its reward through the fee split. When the reward vault
// cannot cover the reward, nothing is paid and the call still succeeds; a matured slot is
// then released for cancellation.
func (l *TieredLedger) Claim(ctx context.Context, req ClaimRequest, now uint64) (ClaimResult, error) {
	participant, err := l.participantFor(req.Caller)
	if err != nil {
		return ClaimResult{}, err
	}
	if req.Slot >= types.MaxSlots {
		return ClaimResult{}, fmt.Errorf("%w: %d", ErrInvalidSlot, req.Slot)
	}

	next := *participant
	pos := &next.Slots[req.Slot]
	if !pos.IsStaked {
		return ClaimResult{}, fmt.Errorf("%w: slot %d", ErrNotStaked, req.Slot)
	}

	rewardAcct, err := l.desk.bindAccount(ctx, req.RewardAccount, req.Caller, l.rewardToken.Denom)
	if err != nil {
		return ClaimResult{}, err
	}
	uplineAcct, err := l.desk.bindAccount(ctx, req.UplineAccount, next.Upline, l.rewardToken.Denom)
	if err != nil {
		return ClaimResult{}, err
	}

	poolIndex := pos.StakeType.Index()
	pool := l.pools[poolIndex]
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	due := pos.AccumulatedReward
	if due == 0 {
		return ClaimResult{}, ErrNoRewards
	}
	if err := l.desk.checkCeiling(due); err != nil {
		return ClaimResult{}, err
	}

	available, err := l.desk.rewardVaultBalance(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	matured := now >= pos.StakeEndTime

	if available < due {
		if matured && next.Address.Equals(req.Caller) && !pos.CanCancelStake {
			if err := releaseFromAggregate(&next, pos); err != nil {
				return ClaimResult{}, err
			}
		}
		l.pools[poolIndex] = pool
		*participant = next
		l.recordPool(ctx, pool)
		l.recordParticipant(ctx, next)

		result := ClaimResult{Outcome: types.OutcomeDeferredShortfall, Due: due, CanCancelStake: pos.CanCancelStake}
		result.ReceiptID = l.recordClaim(ctx, req.Caller, req.Slot, result)

		l.logger.Warn().
			Str("operation_id", OperationID(ctx)).
			Str("address", req.Caller.String()).
			Uint64("slot", req.Slot).
			Uint64("due", due).
			Uint64("vaultBalance", available).
			Bool("canCancel", pos.CanCancelStake).
			Msg("Reward vault short, claim deferred without payout")
		return result, nil
	}

	if matured && pos.CanCancelStake {
		return ClaimResult{}, fmt.Errorf("%w: slot %d", ErrAlreadyMatured, req.Slot)
	}

	transfers, payouts, err := l.desk.payout(ctx, due, rewardAcct.ID, uplineAcct.ID)
	if err != nil {
		return ClaimResult{}, err
	}

	received, ok := utils.CheckedAdd(pos.ReceivedReward, due)
	if !ok {
		return ClaimResult{}, fmt.Errorf("%w: received reward", ErrOverflow)
	}
	pos.AccumulatedReward = 0
	pos.ReceivedReward = received
	pos.LastClaimTimestamp = now
	if matured {
		if err := releaseFromAggregate(&next, pos); err != nil {
			return ClaimResult{}, err
		}
	}

	if err := l.desk.custody.Execute(ctx, transfers); err != nil {
		return ClaimResult{}, fmt.Errorf("failed to pay claim: %w", err)
	}

	l.pools[poolIndex] = pool
	*participant = next
	l.recordPool(ctx, pool)
	l.recordParticipant(ctx, next)

	result := ClaimResult{Outcome: types.OutcomePaid, Due: due, Payouts: payouts, CanCancelStake: pos.CanCancelStake}
	result.ReceiptID = l.recordClaim(ctx, req.Caller, req.Slot, result)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("address", req.Caller.String()).
		Uint64("slot", req.Slot).
		Uint64("paid", due).
		Int("legs", len(payouts)).
		Bool("canCancel", pos.CanCancelStake).
		Msg("Reward claimed")
	return result, nil
}

// releaseFromAggregate flags a matured slot as cancellable and removes its weight from the
// participant aggregate. Pool shares are only reduced by Cancel.
func releaseFromAggregate(participant *types.Participant, pos *types.Position) error {
	total, ok := utils.CheckedSub(participant.TotalDeposited, pos.DepositedAmount)
	if !ok {
		return fmt.Errorf("%w: participant total", ErrUnderflow)
	}
	participant.TotalDeposited = total
	pos.CanCancelStake = true
	return nil
}

// Cancel returns the deposit of a matured slot that a claim has released. Pending reward
// is settled into the slot first and then discarded with the rest of the slot.
func (l *TieredLedger) Cancel(ctx context.Context, req CancelRequest, now uint64) error {
	participant, err := l.participantFor(req.Caller)
	if err != nil {
		return err
	}
	if req.Slot >= types.MaxSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, req.Slot)
	}

	next := *participant
	pos := &next.Slots[req.Slot]
	if !pos.IsStaked {
		return fmt.Errorf("%w: slot %d", ErrNotStaked, req.Slot)
	}
	if now < pos.StakeEndTime {
		return fmt.Errorf("%w: slot %d matures at %d", ErrNotMatured, req.Slot, pos.StakeEndTime)
	}
	if !pos.CanCancelStake {
		return fmt.Errorf("%w: slot %d", ErrClaimRequired, req.Slot)
	}
	if _, err := l.desk.bindAccount(ctx, req.Destination, req.Caller, l.stakeToken.Denom); err != nil {
		return err
	}

	poolIndex := pos.StakeType.Index()
	pool := l.pools[poolIndex]
	accrual.UpdatePool(&pool, now)
	accrual.Settle(pool, pos)

	deposit := pos.DepositedAmount
	shares, ok := utils.CheckedSub(pool.TotalShares, deposit)
	if !ok {
		return fmt.Errorf("%w: pool shares", ErrUnderflow)
	}
	pool.TotalShares = shares
	forfeited := pos.AccumulatedReward
	*pos = types.Position{}

	transfer := types.Transfer{
		From:         l.desk.accounts.StakeVault,
		To:           req.Destination,
		Amount:       deposit,
		AuthorizedBy: l.desk.accounts.Authority,
	}
	if err := l.desk.custody.Execute(ctx, []types.Transfer{transfer}); err != nil {
		return fmt.Errorf("failed to release stake: %w", err)
	}

	l.pools[poolIndex] = pool
	*participant = next
	l.recordPool(ctx, pool)
	l.recordParticipant(ctx, next)

	l.logger.Info().
		Str("operation_id", OperationID(ctx)).
		Str("address", req.Caller.String()).
		Uint64("slot", req.Slot).
		Uint64("released", deposit).
		Uint64("forfeited", forfeited).
		Uint64("poolShares", pool.TotalShares).
		Msg("Stake cancelled")
	return nil
}

// WithdrawRewards moves reward tokens out of the reward vault. Only the admin may call it.
func (l *TieredLedger) WithdrawRewards(ctx context.Context, caller sdk.AccAddress, destination types.AccountID, amount uint64) error {
	if !caller.Equals(l.admin) {
		return ErrUnauthorized
	}
	if amount == 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	dest, err := l.desk.custody.Lookup(ctx, destination)
	if err != nil {
		return fmt.Errorf("failed to load destination: %w", err)
	}
	if dest.Denom != l.rewardToken.Denom {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, destination, dest.Denom)
	}

	transfer := types.Transfer{
		From:         l.desk.accounts.RewardVault,
		To:           destination,
		Amount:       amount,
		AuthorizedBy: l.desk.accounts.Authority,
	}
	if err := l.desk.custody.Execute(ctx, []types.Transfer{transfer}); err != nil {
		return fmt.Errorf("failed to withdraw rewards: %w", err)
	}

	l.logger.Warn().
		Str("operation_id", OperationID(ctx)).
		Str("destination", string(destination)).
		Uint64("amount", amount).
		Msg("Reward vault withdrawal")
	return nil
}

// Pools returns a copy of the tier pools.
func (l *TieredLedger) Pools() []types.RewardPool {
	out := make([]types.RewardPool, len(l.pools))
	copy(out, l.pools[:])
	return out
}

// Participant returns a copy of a registered participant.
func (l *TieredLedger) Participant(address sdk.AccAddress) (types.Participant, error) {
	p, err := l.participantFor(address)
	if err != nil {
		return types.Participant{}, err
	}
	return *p, nil
}

// Participants returns copies of every participant, ordered by address.
func (l *TieredLedger) Participants() []types.Participant {
	out := make([]types.Participant, 0, len(l.participants))
	for _, p := range l.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// PendingReward is the reward a claim at now would settle for the slot.
func (l *TieredLedger) PendingReward(address sdk.AccAddress, slot, now uint64) (uint64, error) {
	p, err := l.participantFor(address)
	if err != nil {
		return 0, err
	}
	if slot >= types.MaxSlots {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	pos := p.Slots[slot]
	if !pos.IsStaked {
		return pos.AccumulatedReward, nil
	}
	return accrual.Pending(l.pools[pos.StakeType.Index()], pos, now), nil
}

// Restore replaces the ledger state with persisted pools and participants.
func (l *TieredLedger) Restore(pools []types.RewardPool, participants []types.Participant) error {
	restored := l.pools
	for _, pool := range pools {
		if !pool.Tier.Valid() {
			return fmt.Errorf("%w: persisted pool has tier %s", ErrInvalidConfig, pool.Tier)
		}
		if pool.Rate != l.terms[pool.Tier.Index()].Rate {
			return fmt.Errorf("%w: persisted %s pool rate %d differs from configured %d",
				ErrInvalidConfig, pool.Tier, pool.Rate, l.terms[pool.Tier.Index()].Rate)
		}
		restored[pool.Tier.Index()] = pool
	}

	byAddress := make(map[string]*types.Participant, len(participants))
	for i := range participants {
		p := participants[i]
		byAddress[p.Address.String()] = &p
	}

	if err := checkShares(restored, byAddress); err != nil {
		return err
	}
	l.pools = restored
	l.participants = byAddress

	l.logger.Info().Int("pools", len(pools)).Int("participants", len(participants)).Msg("Tiered ledger restored")
	return nil
}

// CheckInvariants verifies that every pool's TotalShares equals the deposits staked in it.
func (l *TieredLedger) CheckInvariants() error {
	return checkShares(l.pools, l.participants)
}

func checkShares(pools [types.TierCount]types.RewardPool, participants map[string]*types.Participant) error {
	var sums [types.TierCount]uint64
	for _, p := range participants {
		for _, pos := range p.Slots {
			if !pos.IsStaked {
				continue
			}
			if !pos.StakeType.Valid() {
				return fmt.Errorf("%w: %s holds a slot with tier %s", ErrInvalidConfig, p.Address, pos.StakeType)
			}
			sum, ok := utils.CheckedAdd(sums[pos.StakeType.Index()], pos.DepositedAmount)
			if !ok {
				return fmt.Errorf("%w: deposits in pool %s", ErrOverflow, pos.StakeType)
			}
			sums[pos.StakeType.Index()] = sum
		}
	}
	for i, pool := range pools {
		if pool.TotalShares != sums[i] {
			return fmt.Errorf("pool %s holds %d shares but positions sum to %d", pool.Key(), pool.TotalShares, sums[i])
		}
	}
	return nil
}

func (l *TieredLedger) participantFor(address sdk.AccAddress) (*types.Participant, error) {
	p, ok := l.participants[address.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, address)
	}
	return p, nil
}

func (l *TieredLedger) recordPool(ctx context.Context, pool types.RewardPool) {
	if err := l.recorder.RecordPool(ctx, pool); err != nil {
		l.logger.Error().Err(err).Str("pool", pool.Key()).Msg("Failed to record pool state")
	}
}

func (l *TieredLedger) recordParticipant(ctx context.Context, p types.Participant) {
	if err := l.recorder.RecordParticipant(ctx, p); err != nil {
		l.logger.Error().Err(err).Str("address", p.Address.String()).Msg("Failed to record participant state")
	}
}

func (l *TieredLedger) recordClaim(ctx context.Context, owner sdk.AccAddress, slot uint64, result ClaimResult) int64 {
	receipt := types.ClaimReceipt{
		OperationID: OperationID(ctx),
		Variant:     types.VariantTiered,
		Owner:       owner.String(),
		Slot:        slot,
		Total:       result.Due,
		Payouts:     result.Payouts,
		Outcome:     result.Outcome,
		Timestamp:   time.Now().UTC(),
	}
	id, err := l.recorder.RecordClaim(ctx, receipt)
	if err != nil {
		l.logger.Error().Err(err).Str("address", receipt.Owner).Msg("Failed to record claim receipt")
		return 0
	}
	return id
}
