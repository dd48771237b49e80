package staking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/types"
)

var paidPurchase = types.PurchaseReceipt{
	Investment:      1000,
	SettledAmount:   42,
	Paid:            true,
	PrimaryBurned:   true,
	SecondaryBurned: true,
}

type computeFixture struct {
	*book
	ledger       *ComputeLedger
	aliceReward  types.AccountID
	aliceTopUp   types.AccountID
	uplineReward types.AccountID
}

func newComputeFixture(t *testing.T, rewardFunding uint64) *computeFixture {
	t.Helper()
	b := newBook(t, rewardFunding)
	f := &computeFixture{
		book:         b,
		aliceReward:  b.open(t, aliceAddr, rewardDenom, 0),
		aliceTopUp:   b.open(t, aliceAddr, topUpDenom, 500),
		uplineReward: b.open(t, uplineAddr, rewardDenom, 0),
	}
	ledger, err := NewComputeLedger(f.config())
	require.NoError(t, err)
	require.NoError(t, ledger.OpenOrder(context.Background(), aliceAddr, uplineAddr, 0))
	f.ledger = ledger
	return f
}

func (f *computeFixture) config() ComputeConfig {
	return ComputeConfig{
		Start:       testStart,
		DailyOutput: 100 * types.SecondsPerDay,
		RewardToken: types.Token{Symbol: "RWD", Denom: rewardDenom, Decimals: 6},
		TopUpToken:  types.Token{Symbol: "TOP", Denom: topUpDenom, Decimals: 6},
		Admin:       adminAddr,
		Accounts:    f.accounts,
		Split:       computeSplit,
		MaxClaim:    testCeiling,
		Cooldown:    5,
		Custody:     f.custody,
	}
}

func (f *computeFixture) stake(t *testing.T, receipt types.PurchaseReceipt, now uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.RecordPurchase(ctx, adminAddr, aliceAddr, 0, receipt))
	require.NoError(t, f.ledger.Enter(ctx, aliceAddr, 0, now))
}

func (f *computeFixture) claim(now uint64) (ClaimResult, error) {
	return f.ledger.Claim(context.Background(), ComputeClaimRequest{
		Caller: aliceAddr, Index: 0, RewardAccount: f.aliceReward, UplineAccount: f.uplineReward,
	}, now)
}

func TestNewComputeLedger_RateAndDefaults(t *testing.T) {
	b := newBook(t, 0)
	f := &computeFixture{book: b}

	cfg := f.config()
	cfg.Cooldown = 0
	cfg.DailyOutput = 1_726_000_000_000
	ledger, err := NewComputeLedger(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(19_976_851), ledger.Pool().Rate)
	assert.Equal(t, DefaultClaimCooldown, ledger.cooldown)
	assert.Equal(t, testStart, ledger.Pool().LastUpdateTime)

	cfg.DailyOutput = types.SecondsPerDay - 1
	_, err = NewComputeLedger(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenOrder_Duplicate(t *testing.T) {
	f := newComputeFixture(t, 0)
	err := f.ledger.OpenOrder(context.Background(), aliceAddr, uplineAddr, 0)
	assert.ErrorIs(t, err, ErrOrderExists)

	require.NoError(t, f.ledger.OpenOrder(context.Background(), aliceAddr, uplineAddr, 1))
	assert.Len(t, f.ledger.Orders(), 2)
}

func TestRecordPurchase_AdminOnly(t *testing.T) {
	f := newComputeFixture(t, 0)
	err := f.ledger.RecordPurchase(context.Background(), aliceAddr, aliceAddr, 0, paidPurchase)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.ledger.RecordPurchase(context.Background(), adminAddr, bobAddr, 0, paidPurchase)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestComputeEnter_Checks(t *testing.T) {
	f := newComputeFixture(t, 0)
	ctx := context.Background()

	err := f.ledger.Enter(ctx, aliceAddr, 0, testStart-1)
	assert.ErrorIs(t, err, ErrNotStarted)

	err = f.ledger.Enter(ctx, aliceAddr, 0, testStart)
	assert.ErrorIs(t, err, ErrPurchaseIncomplete)

	unsettled := paidPurchase
	unsettled.SettledAmount = 0
	require.NoError(t, f.ledger.RecordPurchase(ctx, adminAddr, aliceAddr, 0, unsettled))
	err = f.ledger.Enter(ctx, aliceAddr, 0, testStart)
	assert.ErrorIs(t, err, ErrPurchaseIncomplete)

	f.stake(t, paidPurchase, testStart)
	err = f.ledger.Enter(ctx, aliceAddr, 0, testStart)
	assert.ErrorIs(t, err, ErrAlreadyStaked)

	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.True(t, order.Position.IsStaked)
	assert.Equal(t, uint64(1000), order.Position.DepositedAmount)
	assert.Equal(t, uint64(1000), f.ledger.Pool().TotalShares)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestComputeEnter_UpdatesPoolBeforeAddingShares(t *testing.T) {
	f := newComputeFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.ledger.OpenOrder(ctx, bobAddr, uplineAddr, 0))
	f.stake(t, paidPurchase, testStart)

	require.NoError(t, f.ledger.RecordPurchase(ctx, adminAddr, bobAddr, 0, paidPurchase))
	require.NoError(t, f.ledger.Enter(ctx, bobAddr, 0, testStart+10))

	alice, err := f.ledger.PendingReward(aliceAddr, 0, testStart+10)
	require.NoError(t, err)
	bob, err := f.ledger.PendingReward(bobAddr, 0, testStart+10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), alice)
	assert.Zero(t, bob)
}

func TestComputeClaim_PaysFiveFiveTenRemainder(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)
	f.stake(t, paidPurchase, testStart)

	result, err := f.claim(testStart + 10)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePaid, result.Outcome)
	assert.Equal(t, []types.Payout{
		{Role: types.RoleDividend, Amount: 50},
		{Role: types.RoleUpline, Amount: 50},
		{Role: types.RoleBurn, Amount: 100},
		{Role: types.RoleParticipant, Amount: 800},
	}, result.Payouts)

	assert.Equal(t, uint64(800), f.balance(t, f.aliceReward))
	assert.Equal(t, uint64(50), f.balance(t, f.uplineReward))
	assert.Equal(t, uint64(50), f.balance(t, f.accounts.Dividend))
	assert.Equal(t, uint64(100), f.balance(t, f.accounts.Burn))

	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.Zero(t, order.Position.AccumulatedReward)
	assert.Equal(t, uint64(1000), order.Position.ReceivedReward)
	assert.Equal(t, testStart+10, order.Position.LastClaimTimestamp)
}

func TestComputeClaim_Cooldown(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)
	f.stake(t, paidPurchase, testStart)

	_, err := f.claim(testStart + 10)
	require.NoError(t, err)

	_, err = f.claim(testStart + 12)
	assert.ErrorIs(t, err, ErrClaimCooldown)

	// a clock that runs backwards is not held to the cooldown
	_, err = f.claim(testStart + 5)
	assert.ErrorIs(t, err, ErrNoRewards)

	result, err := f.claim(testStart + 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), result.Paid())
}

func TestComputeClaim_RequiresBurnsAndStake(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)

	unburned := paidPurchase
	unburned.SecondaryBurned = false
	f.stake(t, unburned, testStart)
	_, err := f.claim(testStart + 10)
	assert.ErrorIs(t, err, ErrPurchaseIncomplete)

	require.NoError(t, f.ledger.OpenOrder(context.Background(), aliceAddr, uplineAddr, 1))
	require.NoError(t, f.ledger.RecordPurchase(context.Background(), adminAddr, aliceAddr, 1, paidPurchase))
	_, err = f.ledger.Claim(context.Background(), ComputeClaimRequest{
		Caller: aliceAddr, Index: 1, RewardAccount: f.aliceReward, UplineAccount: f.uplineReward,
	}, testStart+10)
	assert.ErrorIs(t, err, ErrNotStaked)
}

func TestComputeClaim_CeilingCheckedBeforeZero(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)
	f.ledger.desk.maxClaim = 999
	f.stake(t, paidPurchase, testStart)

	_, err := f.claim(testStart + 10)
	assert.ErrorIs(t, err, ErrClaimCeilingExceeded)
}

func TestComputeClaim_ShortfallDefers(t *testing.T) {
	f := newComputeFixture(t, 500)
	rec := &capturingRecorder{}
	f.ledger.recorder = rec
	f.stake(t, paidPurchase, testStart)

	result, err := f.claim(testStart + 10)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDeferredShortfall, result.Outcome)
	assert.Zero(t, result.Paid())
	assert.Equal(t, uint64(500), f.balance(t, f.accounts.RewardVault))

	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), order.Position.AccumulatedReward)
	assert.Zero(t, order.Position.LastClaimTimestamp)

	require.NoError(t, f.custody.Credit(f.accounts.RewardVault, 10_000))
	result, err = f.claim(testStart + 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), result.Paid())

	require.Len(t, rec.receipts, 2)
	assert.Equal(t, types.VariantCompute, rec.receipts[1].Variant)
	assert.Equal(t, types.OutcomePaid, rec.receipts[1].Outcome)
}

func TestAddPower(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)
	ctx := context.Background()
	f.stake(t, paidPurchase, testStart)

	err := f.ledger.AddPower(ctx, aliceAddr, aliceAddr, 0, 500, nil, testStart+10)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.ledger.AddPower(ctx, adminAddr, aliceAddr, 0, 0, nil, testStart+10)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	burn := &Burn{Source: f.aliceTopUp, Amount: 200}
	require.NoError(t, f.ledger.AddPower(ctx, adminAddr, aliceAddr, 0, 500, burn, testStart+10))

	assert.Equal(t, uint64(300), f.balance(t, f.aliceTopUp))
	assert.Equal(t, uint64(200), f.balance(t, f.accounts.TopUpBurn))

	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), order.Position.DepositedAmount)
	assert.Equal(t, uint64(1000), order.Position.AccumulatedReward)
	assert.Equal(t, testStart+10, order.Position.StakeStartTime)
	assert.Equal(t, uint64(1500), f.ledger.Pool().TotalShares)
	require.NoError(t, f.ledger.CheckInvariants())

	tooMuch := &Burn{Source: f.aliceTopUp, Amount: 301}
	err = f.ledger.AddPower(ctx, adminAddr, aliceAddr, 0, 1, tooMuch, testStart+10)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestAddPower_StakesUnstakedOrder(t *testing.T) {
	f := newComputeFixture(t, 0)
	require.NoError(t, f.ledger.AddPower(context.Background(), adminAddr, aliceAddr, 0, 700, nil, testStart))

	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.True(t, order.Position.IsStaked)
	assert.Equal(t, uint64(700), f.ledger.Pool().TotalShares)
}

func TestReducePower(t *testing.T) {
	f := newComputeFixture(t, 1_000_000)
	ctx := context.Background()

	err := f.ledger.ReducePower(ctx, adminAddr, aliceAddr, 0, 1, testStart)
	assert.ErrorIs(t, err, ErrNotStaked)

	f.stake(t, paidPurchase, testStart)

	err = f.ledger.ReducePower(ctx, adminAddr, aliceAddr, 0, 1001, testStart+10)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, f.ledger.ReducePower(ctx, adminAddr, aliceAddr, 0, 400, testStart+10))
	order, err := f.ledger.Order(aliceAddr, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), order.Position.DepositedAmount)
	assert.Equal(t, uint64(1000), order.Position.AccumulatedReward)
	assert.Equal(t, uint64(600), f.ledger.Pool().TotalShares)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestComputeRestore(t *testing.T) {
	f := newComputeFixture(t, 0)
	f.stake(t, paidPurchase, testStart)

	pool := f.ledger.Pool()
	orders := f.ledger.Orders()

	fresh, err := NewComputeLedger(f.config())
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(&pool, orders))
	assert.Equal(t, pool, fresh.Pool())

	broken := pool
	broken.TotalShares = 1
	assert.Error(t, fresh.Restore(&broken, orders))

	tiered := pool
	tiered.Tier = types.TierQuarter
	assert.ErrorIs(t, fresh.Restore(&tiered, orders), ErrInvalidConfig)
}
