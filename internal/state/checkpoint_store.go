/*

This file records periodic pool checkpoints so the accumulator history survives restarts
and can be audited.

*/

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/types"
)

// PoolCheckpoint is one snapshot of a pool.
type PoolCheckpoint struct {
	CheckpointID int64            `json:"checkpoint_id"`
	PoolKey      string           `json:"pool_key"`
	Pool         types.RewardPool `json:"pool"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// CheckpointStore persists pool checkpoints through the global DB.
type CheckpointStore struct{}

// SavePoolCheckpoint appends a snapshot of pool and returns its id.
func (CheckpointStore) SavePoolCheckpoint(ctx context.Context, pool types.RewardPool, at time.Time) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO pool_checkpoints (pool_key, tier, rate, acc_per_share, last_update_time, total_shares, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING checkpoint_id;
	`

	var checkpointID int64
	err := DB.QueryRowContext(ctx, query,
		pool.Key(), int(pool.Tier), formatU64(pool.Rate), formatU64(pool.AccPerShare),
		formatU64(pool.LastUpdateTime), formatU64(pool.TotalShares), at,
	).Scan(&checkpointID)
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint for %s: %w", pool.Key(), err)
	}

	log.Debug().
		Int64("checkpoint_id", checkpointID).
		Str("pool", pool.Key()).
		Uint64("accPerShare", pool.AccPerShare).
		Msg("Pool checkpoint saved to database")
	return checkpointID, nil
}

// GetPoolCheckpoints returns the latest checkpoints of one pool, newest first.
func (CheckpointStore) GetPoolCheckpoints(ctx context.Context, poolKey string, limit int) ([]PoolCheckpoint, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT checkpoint_id, pool_key, tier, rate, acc_per_share, last_update_time, total_shares, recorded_at
		FROM pool_checkpoints
		WHERE pool_key = $1
		ORDER BY recorded_at DESC, checkpoint_id DESC
		LIMIT $2
	`, poolKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints for %s: %w", poolKey, err)
	}
	defer rows.Close()

	var checkpoints []PoolCheckpoint
	for rows.Next() {
		var (
			cp                                 PoolCheckpoint
			tier                               int
			rate, acc, lastUpdate, totalShares string
		)
		if err := rows.Scan(&cp.CheckpointID, &cp.PoolKey, &tier, &rate, &acc, &lastUpdate, &totalShares, &cp.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp.Pool.Tier = types.Tier(tier)
		if cp.Pool.Rate, err = parseU64("rate", rate); err != nil {
			return nil, err
		}
		if cp.Pool.AccPerShare, err = parseU64("acc_per_share", acc); err != nil {
			return nil, err
		}
		if cp.Pool.LastUpdateTime, err = parseU64("last_update_time", lastUpdate); err != nil {
			return nil, err
		}
		if cp.Pool.TotalShares, err = parseU64("total_shares", totalShares); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return checkpoints, nil
}
