package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
)

var (
	_ staking.Recorder = Journal{}
	_ vault.Custody    = PostgresCustody{}
)

func addr(b byte) sdk.AccAddress {
	return sdk.AccAddress(bytes.Repeat([]byte{b}, 20))
}

func setupMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	previous := DB
	DB = db
	t.Cleanup(func() {
		DB = previous
		db.Close()
	})
	return mock
}

func TestStoresRequireDatabase(t *testing.T) {
	previous := DB
	DB = nil
	defer func() { DB = previous }()

	ctx := context.Background()
	assert.Error(t, EnsureSchema())
	assert.Error(t, NewJournal().RecordPool(ctx, types.RewardPool{}))
	_, err := Journal{}.LoadParticipants(ctx)
	assert.Error(t, err)
	_, err = GetRecentClaims(10)
	assert.Error(t, err)
	_, err = NewPostgresCustody().Lookup(ctx, "x/y")
	assert.Error(t, err)
	assert.Error(t, TestDBConnection())
}

func TestEnsureSchema(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reward_pools").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropSchema(t *testing.T) {
	mock := setupMockDB(t)
	for _, table := range ledgerTables {
		mock.ExpectExec("DROP TABLE IF EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, DropSchema())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_RecordPool(t *testing.T) {
	mock := setupMockDB(t)
	pool := types.RewardPool{Tier: types.TierHalfYear, Rate: 7, AccPerShare: ^uint64(0), LastUpdateTime: 100, TotalShares: 3}

	mock.ExpectExec("INSERT INTO reward_pools").
		WithArgs("lp_half_year", 1, "7", "18446744073709551615", "100", "3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewJournal().RecordPool(context.Background(), pool))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_RecordParticipant(t *testing.T) {
	mock := setupMockDB(t)
	p := types.Participant{Address: addr(1), Upline: addr(2), TotalDeposited: 50}
	p.Slots[3] = types.Position{DepositedAmount: 50, IsStaked: true}
	slotsJSON, err := json.Marshal(p.Slots)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO participants").
		WithArgs(addr(1).String(), addr(2).String(), "50", slotsJSON).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewJournal().RecordParticipant(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_RecordClaim(t *testing.T) {
	mock := setupMockDB(t)
	receipt := types.ClaimReceipt{
		OperationID: "op-1",
		Variant:     types.VariantCompute,
		Owner:       addr(1).String(),
		Slot:        4,
		Total:       1000,
		Payouts: []types.Payout{
			{Role: types.RoleBurn, Amount: 100},
			{Role: types.RoleParticipant, Amount: 900},
		},
		Outcome:   types.OutcomePaid,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}

	mock.ExpectQuery("INSERT INTO claim_receipts").
		WithArgs("op-1", "compute", receipt.Owner, "4", "1000", "1000", "paid",
			sqlmock.AnyArg(), sqlmock.AnyArg(), receipt.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_id"}).AddRow(int64(12)))

	id, err := NewJournal().RecordClaim(context.Background(), receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPools(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("FROM reward_pools").WillReturnRows(
		sqlmock.NewRows([]string{"tier", "rate", "acc_per_share", "last_update_time", "total_shares"}).
			AddRow(int64(255), "19976851", "5000", "1700000000", "42").
			AddRow(int64(0), "100", "0", "1700000000", "0"),
	)

	pools, err := Journal{}.LoadPools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, types.TierNone, pools[0].Tier)
	assert.Equal(t, uint64(19976851), pools[0].Rate)
	assert.Equal(t, uint64(42), pools[0].TotalShares)
	assert.Equal(t, types.TierQuarter, pools[1].Tier)
}

func TestLoadPools_RejectsNonNumeric(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("FROM reward_pools").WillReturnRows(
		sqlmock.NewRows([]string{"tier", "rate", "acc_per_share", "last_update_time", "total_shares"}).
			AddRow(int64(0), "-1", "0", "0", "0"),
	)

	_, err := Journal{}.LoadPools(context.Background())
	assert.Error(t, err)
}

func TestLoadParticipants(t *testing.T) {
	mock := setupMockDB(t)
	var slots [types.MaxSlots]types.Position
	slots[0] = types.Position{DepositedAmount: 10, IsStaked: true, StakeType: types.TierYear}
	slotsJSON, err := json.Marshal(slots)
	require.NoError(t, err)

	mock.ExpectQuery("FROM participants").WillReturnRows(
		sqlmock.NewRows([]string{"address", "upline", "total_deposited", "slots"}).
			AddRow(addr(1).String(), addr(2).String(), "10", slotsJSON),
	)

	participants, err := Journal{}.LoadParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.True(t, participants[0].Address.Equals(addr(1)))
	assert.True(t, participants[0].Upline.Equals(addr(2)))
	assert.Equal(t, slots, participants[0].Slots)
}

func TestLoadOrders(t *testing.T) {
	mock := setupMockDB(t)
	purchase, err := json.Marshal(types.PurchaseReceipt{Investment: 9, SettledAmount: 1, Paid: true})
	require.NoError(t, err)
	position, err := json.Marshal(types.Position{DepositedAmount: 9, IsStaked: true, StakeType: types.TierNone})
	require.NoError(t, err)

	mock.ExpectQuery("FROM compute_orders").WillReturnRows(
		sqlmock.NewRows([]string{"owner", "order_index", "upline", "purchase", "position"}).
			AddRow(addr(1).String(), "3", addr(2).String(), purchase, position),
	)

	orders, err := Journal{}.LoadOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, uint64(3), orders[0].OrderIndex)
	assert.Equal(t, uint64(9), orders[0].Position.DepositedAmount)
	assert.True(t, orders[0].Purchase.Paid)
}

func TestGetRecentClaims(t *testing.T) {
	mock := setupMockDB(t)
	payouts, err := json.Marshal([]types.Payout{{Role: types.RoleParticipant, Amount: 5}})
	require.NoError(t, err)
	claimedAt := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery("FROM claim_receipts").WithArgs(10).WillReturnRows(
		sqlmock.NewRows([]string{"receipt_id", "operation_id", "variant", "owner", "slot", "total", "paid", "outcome", "payouts", "roles", "claimed_at"}).
			AddRow(int64(1), "op", "tiered", addr(1).String(), "2", "5", "5", "paid", payouts, "{participant}", claimedAt).
			AddRow(int64(2), "op", "tiered", addr(1).String(), "2", "7", "0", "deferred_shortfall", []byte("null"), "{}", claimedAt),
	)

	claims, err := GetRecentClaims(0)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, types.OutcomePaid, claims[0].Outcome)
	assert.Equal(t, uint64(5), claims[0].Paid)
	assert.Equal(t, []string{"participant"}, claims[0].Roles)
	assert.Equal(t, types.OutcomeDeferredShortfall, claims[1].Outcome)
	assert.Zero(t, claims[1].Paid)
}

func TestGetLedgerSummary(t *testing.T) {
	mock := setupMockDB(t)
	last := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery("FROM claim_receipts").WillReturnRows(
		sqlmock.NewRows([]string{"count", "paid", "deferred", "sum", "max"}).AddRow(3, 2, 1, "1500", last),
	)
	mock.ExpectQuery("FROM participants").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery("FROM compute_orders").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	summary, err := GetLedgerSummary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalClaims)
	assert.Equal(t, 1, summary.DeferredClaims)
	assert.Equal(t, uint64(1500), summary.TotalPaid)
	assert.Equal(t, 4, summary.ParticipantCount)
	assert.Equal(t, 6, summary.OrderCount)
	assert.Equal(t, "2023-11-14T22:13:20Z", summary.LastClaimAt)
}

func TestSavePoolCheckpoint(t *testing.T) {
	mock := setupMockDB(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	pool := types.RewardPool{Tier: types.TierNone, Rate: 2, AccPerShare: 3, LastUpdateTime: 4, TotalShares: 5}

	mock.ExpectQuery("INSERT INTO pool_checkpoints").
		WithArgs("compute", 255, "2", "3", "4", "5", at).
		WillReturnRows(sqlmock.NewRows([]string{"checkpoint_id"}).AddRow(int64(9)))

	id, err := CheckpointStore{}.SavePoolCheckpoint(context.Background(), pool, at)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPoolCheckpoints(t *testing.T) {
	mock := setupMockDB(t)
	at := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery("FROM pool_checkpoints").
		WithArgs("lp_quarter", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"checkpoint_id", "pool_key", "tier", "rate", "acc_per_share", "last_update_time", "total_shares", "recorded_at",
		}).
			AddRow(int64(2), "lp_quarter", 0, "100", "18446744073709551615", "1700000010", "1000", at).
			AddRow(int64(1), "lp_quarter", 0, "100", "0", "1700000000", "0", at.Add(-time.Minute)))

	checkpoints, err := CheckpointStore{}.GetPoolCheckpoints(context.Background(), "lp_quarter", 0)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, int64(2), checkpoints[0].CheckpointID)
	assert.Equal(t, types.TierQuarter, checkpoints[0].Pool.Tier)
	assert.Equal(t, uint64(18446744073709551615), checkpoints[0].Pool.AccPerShare)
	assert.Equal(t, uint64(1000), checkpoints[0].Pool.TotalShares)
	require.NoError(t, mock.ExpectationsWereMet())
}

func accountRow(id types.AccountID, owner sdk.AccAddress, denom, balance string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"account_id", "owner", "denom", "balance"}).
		AddRow(string(id), owner.String(), denom, balance)
}

func TestPostgresCustody_Lookup(t *testing.T) {
	mock := setupMockDB(t)
	id := types.NewAccountID(addr(1), "ureward")

	mock.ExpectQuery("FROM custody_accounts").WithArgs(string(id)).
		WillReturnRows(accountRow(id, addr(1), "ureward", "77"))
	mock.ExpectQuery("FROM custody_accounts").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	acct, err := NewPostgresCustody().Lookup(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), acct.Balance)
	assert.True(t, acct.Owner.Equals(addr(1)))

	_, err = NewPostgresCustody().Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, vault.ErrAccountNotFound)
}

func TestPostgresCustody_ExecuteCommits(t *testing.T) {
	mock := setupMockDB(t)
	from := types.NewAccountID(addr(1), "ureward")
	to := types.NewAccountID(addr(2), "ureward")
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	rows := map[types.AccountID]*sqlmock.Rows{
		from: accountRow(from, addr(1), "ureward", "100"),
		to:   accountRow(to, addr(2), "ureward", "5"),
	}
	balances := map[types.AccountID]string{from: "60", to: "45"}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(string(first)).WillReturnRows(rows[first])
	mock.ExpectQuery("FOR UPDATE").WithArgs(string(second)).WillReturnRows(rows[second])
	mock.ExpectExec("UPDATE custody_accounts").WithArgs(string(first), balances[first]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE custody_accounts").WithArgs(string(second), balances[second]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewPostgresCustody().Execute(context.Background(), []types.Transfer{
		{From: from, To: to, Amount: 40, AuthorizedBy: addr(1)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustody_ExecuteRollsBackOnShortfall(t *testing.T) {
	mock := setupMockDB(t)
	from := types.NewAccountID(addr(1), "ureward")
	to := types.NewAccountID(addr(2), "ureward")
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	rows := map[types.AccountID]*sqlmock.Rows{
		from: accountRow(from, addr(1), "ureward", "10"),
		to:   accountRow(to, addr(2), "ureward", "0"),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(string(first)).WillReturnRows(rows[first])
	mock.ExpectQuery("FOR UPDATE").WithArgs(string(second)).WillReturnRows(rows[second])
	mock.ExpectRollback()

	err := NewPostgresCustody().Execute(context.Background(), []types.Transfer{
		{From: from, To: to, Amount: 6, AuthorizedBy: addr(1)},
		{From: from, To: to, Amount: 6, AuthorizedBy: addr(1)},
	})
	assert.ErrorIs(t, err, vault.ErrInsufficientFunds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustody_OpenAccountExists(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectExec("INSERT INTO custody_accounts").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewPostgresCustody().OpenAccount(context.Background(), addr(1), "ureward", 1)
	assert.ErrorIs(t, err, vault.ErrAccountExists)
}
