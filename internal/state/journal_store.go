/*

The journal persists committed ledger state: pools, participants and orders are upserted after
every operation and loaded back at startup. Claim receipts are append-only.

*/

package state

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/feesplit"
	"github.com/elys-network/stakeledger/internal/types"
)

// Journal writes ledger state through the global DB.
type Journal struct{}

func NewJournal() Journal {
	return Journal{}
}

// RecordPool upserts the current state of a reward pool.
func (Journal) RecordPool(ctx context.Context, pool types.RewardPool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO reward_pools (pool_key, tier, rate, acc_per_share, last_update_time, total_shares, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (pool_key) DO UPDATE SET
			rate = EXCLUDED.rate,
			acc_per_share = EXCLUDED.acc_per_share,
			last_update_time = EXCLUDED.last_update_time,
			total_shares = EXCLUDED.total_shares,
			updated_at = CURRENT_TIMESTAMP;
	`
	_, err := DB.ExecContext(ctx, query,
		pool.Key(), int(pool.Tier), formatU64(pool.Rate), formatU64(pool.AccPerShare),
		formatU64(pool.LastUpdateTime), formatU64(pool.TotalShares),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pool %s: %w", pool.Key(), err)
	}
	return nil
}

// RecordParticipant upserts a participant with its slots as JSONB.
func (Journal) RecordParticipant(ctx context.Context, participant types.Participant) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	slotsJSON, err := json.Marshal(participant.Slots)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}

	query := `
		INSERT INTO participants (address, upline, total_deposited, slots, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO UPDATE SET
			total_deposited = EXCLUDED.total_deposited,
			slots = EXCLUDED.slots,
			updated_at = CURRENT_TIMESTAMP;
	`
	_, err = DB.ExecContext(ctx, query,
		participant.Address.String(), participant.Upline.String(),
		formatU64(participant.TotalDeposited), slotsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant %s: %w", participant.Address, err)
	}
	return nil
}

// RecordOrder upserts a compute order.
func (Journal) RecordOrder(ctx context.Context, order types.ComputeOrder) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	purchaseJSON, err := json.Marshal(order.Purchase)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase: %w", err)
	}
	positionJSON, err := json.Marshal(order.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	query := `
		INSERT INTO compute_orders (owner, order_index, upline, purchase, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (owner, order_index) DO UPDATE SET
			purchase = EXCLUDED.purchase,
			position = EXCLUDED.position,
			updated_at = CURRENT_TIMESTAMP;
	`
	_, err = DB.ExecContext(ctx, query,
		order.Owner.String(), formatU64(order.OrderIndex), order.Upline.String(), purchaseJSON, positionJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s/%d: %w", order.Owner, order.OrderIndex, err)
	}
	return nil
}

// RecordClaim appends a claim receipt and returns its id.
func (Journal) RecordClaim(ctx context.Context, receipt types.ClaimReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	payoutsJSON, err := json.Marshal(receipt.Payouts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payouts: %w", err)
	}
	roles := make([]string, 0, len(receipt.Payouts))
	for _, p := range receipt.Payouts {
		roles = append(roles, string(p.Role))
	}

	query := `
		INSERT INTO claim_receipts (
			operation_id, variant, owner, slot, total, paid, outcome, payouts, roles, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;
	`

	var receiptID int64
	err = DB.QueryRowContext(ctx, query,
		receipt.OperationID, string(receipt.Variant), receipt.Owner, formatU64(receipt.Slot),
		formatU64(receipt.Total), formatU64(feesplit.Sum(receipt.Payouts)), string(receipt.Outcome),
		payoutsJSON, pq.Array(roles), receipt.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save claim receipt: %w", err)
	}

	log.Debug().
		Int64("receipt_id", receiptID).
		Str("owner", receipt.Owner).
		Str("outcome", string(receipt.Outcome)).
		Msg("Claim receipt saved to database")

	return receiptID, nil
}

// LoadPools returns every persisted pool.
func (Journal) LoadPools(ctx context.Context) ([]types.RewardPool, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT tier, rate, acc_per_share, last_update_time, total_shares
		FROM reward_pools
		ORDER BY pool_key;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []types.RewardPool
	for rows.Next() {
		var (
			tier                               int
			rate, acc, lastUpdate, totalShares string
		)
		if err := rows.Scan(&tier, &rate, &acc, &lastUpdate, &totalShares); err != nil {
			return nil, fmt.Errorf("failed to scan pool row: %w", err)
		}
		pool := types.RewardPool{Tier: types.Tier(tier)}
		if pool.Rate, err = parseU64("rate", rate); err != nil {
			return nil, err
		}
		if pool.AccPerShare, err = parseU64("acc_per_share", acc); err != nil {
			return nil, err
		}
		if pool.LastUpdateTime, err = parseU64("last_update_time", lastUpdate); err != nil {
			return nil, err
		}
		if pool.TotalShares, err = parseU64("total_shares", totalShares); err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return pools, nil
}

// LoadParticipants returns every persisted participant.
func (Journal) LoadParticipants(ctx context.Context) ([]types.Participant, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT address, upline, total_deposited, slots
		FROM participants
		ORDER BY address;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []types.Participant
	for rows.Next() {
		var (
			address, upline, total string
			slotsJSON              []byte
		)
		if err := rows.Scan(&address, &upline, &total, &slotsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}

		var p types.Participant
		if p.Address, err = sdk.AccAddressFromBech32(address); err != nil {
			return nil, fmt.Errorf("participant %q: %w", address, err)
		}
		if p.Upline, err = sdk.AccAddressFromBech32(upline); err != nil {
			return nil, fmt.Errorf("participant %q upline: %w", address, err)
		}
		if p.TotalDeposited, err = parseU64("total_deposited", total); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(slotsJSON, &p.Slots); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slots of %s: %w", address, err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return participants, nil
}

// LoadOrders returns every persisted compute order.
func (Journal) LoadOrders(ctx context.Context) ([]types.ComputeOrder, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT owner, order_index, upline, purchase, position
		FROM compute_orders
		ORDER BY owner, order_index;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []types.ComputeOrder
	for rows.Next() {
		var (
			owner, index, upline       string
			purchaseJSON, positionJSON []byte
		)
		if err := rows.Scan(&owner, &index, &upline, &purchaseJSON, &positionJSON); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}

		var o types.ComputeOrder
		if o.Owner, err = sdk.AccAddressFromBech32(owner); err != nil {
			return nil, fmt.Errorf("order owner %q: %w", owner, err)
		}
		if o.Upline, err = sdk.AccAddressFromBech32(upline); err != nil {
			return nil, fmt.Errorf("order %s upline: %w", owner, err)
		}
		if o.OrderIndex, err = parseU64("order_index", index); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(purchaseJSON, &o.Purchase); err != nil {
			return nil, fmt.Errorf("failed to unmarshal purchase of %s/%d: %w", owner, o.OrderIndex, err)
		}
		if err := json.Unmarshal(positionJSON, &o.Position); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position of %s/%d: %w", owner, o.OrderIndex, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return orders, nil
}
