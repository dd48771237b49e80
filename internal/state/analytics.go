package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/types"
)

// LedgerSummary represents high-level ledger statistics
type LedgerSummary struct {
	TotalClaims      int    `json:"total_claims"`
	PaidClaims       int    `json:"paid_claims"`
	DeferredClaims   int    `json:"deferred_claims"`
	TotalPaid        uint64 `json:"total_paid"`
	ParticipantCount int    `json:"participant_count"`
	OrderCount       int    `json:"order_count"`
	LastClaimAt      string `json:"last_claim_at,omitempty"`
}

// StoredClaim is a claim receipt as read back from the database.
type StoredClaim struct {
	types.ClaimReceipt
	Paid  uint64   `json:"paid"`
	Roles []string `json:"roles"`
}

const claimColumns = `
	receipt_id, operation_id, variant, owner, slot, total, paid, outcome, payouts, roles, claimed_at
`

// GetRecentClaims retrieves the most recent claim receipts
func GetRecentClaims(limit int) ([]StoredClaim, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `SELECT ` + claimColumns + `
		FROM claim_receipts
		ORDER BY claimed_at DESC, receipt_id DESC
		LIMIT $1
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent claims")
		return nil, fmt.Errorf("failed to query recent claims: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaims(rows)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(claims)).Int("limit", limit).Msg("Retrieved recent claims")
	return claims, nil
}

// GetClaimsByOwner retrieves the most recent claim receipts of one owner
func GetClaimsByOwner(owner string, limit int) ([]StoredClaim, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `SELECT ` + claimColumns + `
		FROM claim_receipts
		WHERE owner = $1
		ORDER BY claimed_at DESC, receipt_id DESC
		LIMIT $2
	`
	rows, err := DB.Query(query, owner, limit)
	if err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("Failed to query claims by owner")
		return nil, fmt.Errorf("failed to query claims for %s: %w", owner, err)
	}
	defer rows.Close()

	return scanClaims(rows)
}

func scanClaims(rows *sql.Rows) ([]StoredClaim, error) {
	var claims []StoredClaim
	for rows.Next() {
		var (
			c                 StoredClaim
			variant, outcome  string
			slot, total, paid string
			payoutsJSON       []byte
			claimedAt         time.Time
		)
		err := rows.Scan(
			&c.ReceiptID, &c.OperationID, &variant, &c.Owner, &slot, &total, &paid, &outcome,
			&payoutsJSON, pq.Array(&c.Roles), &claimedAt,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan claim row")
			continue // Skip this row and continue with others
		}

		c.Variant = types.Variant(variant)
		c.Outcome = types.ClaimOutcome(outcome)
		c.Timestamp = claimedAt
		if c.Slot, err = parseU64("slot", slot); err != nil {
			log.Error().Err(err).Int64("receipt_id", c.ReceiptID).Msg("Skipping claim row")
			continue
		}
		if c.Total, err = parseU64("total", total); err != nil {
			log.Error().Err(err).Int64("receipt_id", c.ReceiptID).Msg("Skipping claim row")
			continue
		}
		if c.Paid, err = parseU64("paid", paid); err != nil {
			log.Error().Err(err).Int64("receipt_id", c.ReceiptID).Msg("Skipping claim row")
			continue
		}
		if len(payoutsJSON) > 0 {
			if err := json.Unmarshal(payoutsJSON, &c.Payouts); err != nil {
				log.Error().Err(err).Int64("receipt_id", c.ReceiptID).Msg("Failed to unmarshal payouts for claim")
				continue
			}
		}

		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return claims, nil
}

// GetLedgerSummary retrieves high-level ledger statistics
func GetLedgerSummary() (*LedgerSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &LedgerSummary{}

	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN outcome = 'paid' THEN 1 END),
			COUNT(CASE WHEN outcome = 'deferred_shortfall' THEN 1 END),
			COALESCE(SUM(paid), 0)::TEXT,
			MAX(claimed_at)
		FROM claim_receipts
	`

	var (
		totalPaid   string
		lastClaimAt sql.NullTime
	)
	err := DB.QueryRow(query).Scan(
		&summary.TotalClaims, &summary.PaidClaims, &summary.DeferredClaims, &totalPaid, &lastClaimAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claim totals: %w", err)
	}
	if summary.TotalPaid, err = parseU64("paid", totalPaid); err != nil {
		return nil, err
	}
	if lastClaimAt.Valid {
		summary.LastClaimAt = lastClaimAt.Time.UTC().Format(time.RFC3339)
	}

	if err := DB.QueryRow("SELECT COUNT(*) FROM participants").Scan(&summary.ParticipantCount); err != nil {
		log.Error().Err(err).Msg("Failed to get participant count")
	}
	if err := DB.QueryRow("SELECT COUNT(*) FROM compute_orders").Scan(&summary.OrderCount); err != nil {
		log.Error().Err(err).Msg("Failed to get order count")
	}

	log.Info().
		Int("totalClaims", summary.TotalClaims).
		Uint64("totalPaid", summary.TotalPaid).
		Msg("Retrieved ledger summary")
	return summary, nil
}

// Reports exposes the analytics queries to the engine.
type Reports struct{}

func (Reports) RecentClaims(limit int) ([]StoredClaim, error) {
	return GetRecentClaims(limit)
}

func (Reports) ClaimsByOwner(owner string, limit int) ([]StoredClaim, error) {
	return GetClaimsByOwner(owner, limit)
}

func (Reports) Summary() (*LedgerSummary, error) {
	return GetLedgerSummary()
}

func (Reports) PoolCheckpoints(ctx context.Context, poolKey string, limit int) ([]PoolCheckpoint, error) {
	return CheckpointStore{}.GetPoolCheckpoints(ctx, poolKey, limit)
}
