package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/metrics"
	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/state"
	"github.com/elys-network/stakeledger/internal/types"
)

var (
	ErrVariantDisabled    = errors.New("ledger variant is not enabled on this host")
	ErrReportsUnavailable = errors.New("claim reports require database persistence")
)

// Clock returns the current time in unix seconds.
type Clock func() uint64

// SystemClock reads the wall clock.
func SystemClock() uint64 {
	return uint64(time.Now().Unix())
}

// CheckpointStore appends pool snapshots.
type CheckpointStore interface {
	SavePoolCheckpoint(ctx context.Context, pool types.RewardPool, at time.Time) (int64, error)
}

// Loader reads the persisted ledger state back at startup.
type Loader interface {
	LoadPools(ctx context.Context) ([]types.RewardPool, error)
	LoadParticipants(ctx context.Context) ([]types.Participant, error)
	LoadOrders(ctx context.Context) ([]types.ComputeOrder, error)
}

// Reports answers the claim history queries.
type Reports interface {
	RecentClaims(limit int) ([]state.StoredClaim, error)
	ClaimsByOwner(owner string, limit int) ([]state.StoredClaim, error)
	Summary() (*state.LedgerSummary, error)
	PoolCheckpoints(ctx context.Context, poolKey string, limit int) ([]state.PoolCheckpoint, error)
}

// Engine serializes every ledger operation behind one mutex.
type Engine struct {
	logger zerolog.Logger
	mu     sync.Mutex

	tiered  *staking.TieredLedger
	compute *staking.ComputeLedger
	clock   Clock

	checkpoints CheckpointStore
	loader      Loader
	reports     Reports

	checkpointCount int
}

// Config holds the collaborators of an Engine. At least one ledger is required.
type Config struct {
	Tiered          *staking.TieredLedger
	Compute         *staking.ComputeLedger
	Clock           Clock
	CheckpointStore CheckpointStore
	Loader          Loader
	Reports         Reports
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}

	e := &Engine{
		logger:      logger.GetForComponent("engine"),
		tiered:      cfg.Tiered,
		compute:     cfg.Compute,
		clock:       clock,
		checkpoints: cfg.CheckpointStore,
		loader:      cfg.Loader,
		reports:     cfg.Reports,
	}

	e.logger.Info().
		Bool("tiered", e.tiered != nil).
		Bool("compute", e.compute != nil).
		Bool("persistent", e.loader != nil).
		Msg("Engine created")

	return e, nil
}

func validateEngineConfig(cfg Config) error {
	if cfg.Tiered == nil && cfg.Compute == nil {
		return errors.New("at least one ledger must be configured")
	}
	return nil
}

// Restore loads persisted state into the configured ledgers. Without a loader it does nothing.
func (e *Engine) Restore(ctx context.Context) error {
	if e.loader == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pools, err := e.loader.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pools: %w", err)
	}

	var tieredPools []types.RewardPool
	var computePool *types.RewardPool
	for i := range pools {
		if pools[i].Tier == types.TierNone {
			computePool = &pools[i]
			continue
		}
		tieredPools = append(tieredPools, pools[i])
	}

	if e.tiered != nil {
		participants, err := e.loader.LoadParticipants(ctx)
		if err != nil {
			return fmt.Errorf("failed to load participants: %w", err)
		}
		if err := e.tiered.Restore(tieredPools, participants); err != nil {
			return fmt.Errorf("failed to restore tiered ledger: %w", err)
		}
	}
	if e.compute != nil {
		orders, err := e.loader.LoadOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to load orders: %w", err)
		}
		if err := e.compute.Restore(computePool, orders); err != nil {
			return fmt.Errorf("failed to restore compute ledger: %w", err)
		}
	}

	e.refreshGauges()
	return nil
}

// RunLoop checkpoints every pool immediately and then on each tick until ctx is cancelled.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().Dur("interval", interval).Msg("Starting checkpoint loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Checkpoint(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Checkpoint loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.Checkpoint(ctx)
		}
	}
}

// Checkpoint snapshots every pool, refreshes the pool gauges and reports broken share totals.
func (e *Engine) Checkpoint(ctx context.Context) {
	e.mu.Lock()
	e.checkpointCount++
	cycle := e.checkpointCount
	pools := e.pools()
	invariantErr := e.checkInvariants()
	e.mu.Unlock()

	cycleLogger := e.logger.With().Int("checkpoint", cycle).Logger()
	if invariantErr != nil {
		cycleLogger.Error().Err(invariantErr).Msg("Share invariant violated")
	}

	at := time.Now().UTC()
	for _, pool := range pools {
		metrics.SetPool(pool)
		if e.checkpoints == nil {
			continue
		}
		if _, err := e.checkpoints.SavePoolCheckpoint(ctx, pool, at); err != nil {
			cycleLogger.Error().Err(err).Str("pool", pool.Key()).Msg("Failed to save pool checkpoint")
		}
	}
	cycleLogger.Debug().Int("pools", len(pools)).Msg("Checkpoint completed")
}

// run executes op under the engine lock with a fresh operation id and a single reading of the clock.
func (e *Engine) run(ctx context.Context, op string, caller sdk.AccAddress, fn func(ctx context.Context, now uint64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	opID := uuid.New().String()
	ctx = staking.WithOperationID(ctx, opID)
	now := e.clock()

	err := fn(ctx, now)
	metrics.ObserveOperation(op, started, err)

	event := e.logger.Info()
	if err != nil {
		event = e.logger.Warn().Err(err)
	} else {
		e.refreshGauges()
	}
	event.
		Str("operation_id", opID).
		Str("op", op).
		Str("caller", caller.String()).
		Uint64("now", now).
		Dur("elapsed", time.Since(started)).
		Msg("Ledger operation processed")
	return err
}

func (e *Engine) pools() []types.RewardPool {
	var pools []types.RewardPool
	if e.tiered != nil {
		pools = append(pools, e.tiered.Pools()...)
	}
	if e.compute != nil {
		pools = append(pools, e.compute.Pool())
	}
	return pools
}

func (e *Engine) refreshGauges() {
	for _, pool := range e.pools() {
		metrics.SetPool(pool)
	}
}

func (e *Engine) checkInvariants() error {
	var errs []error
	if e.tiered != nil {
		errs = append(errs, e.tiered.CheckInvariants())
	}
	if e.compute != nil {
		errs = append(errs, e.compute.CheckInvariants())
	}
	return errors.Join(errs...)
}

func (e *Engine) tieredLedger() (*staking.TieredLedger, error) {
	if e.tiered == nil {
		return nil, fmt.Errorf("%w: %s", ErrVariantDisabled, types.VariantTiered)
	}
	return e.tiered, nil
}

func (e *Engine) computeLedger() (*staking.ComputeLedger, error) {
	if e.compute == nil {
		return nil, fmt.Errorf("%w: %s", ErrVariantDisabled, types.VariantCompute)
	}
	return e.compute, nil
}

// Pools returns every pool served by this host.
func (e *Engine) Pools() []types.RewardPool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools()
}

// Now reads the engine clock.
func (e *Engine) Now() uint64 {
	return e.clock()
}

// CheckInvariants verifies the share totals of every ledger.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkInvariants()
}

func (e *Engine) RecentClaims(limit int) ([]state.StoredClaim, error) {
	if e.reports == nil {
		return nil, ErrReportsUnavailable
	}
	return e.reports.RecentClaims(limit)
}

func (e *Engine) ClaimsByOwner(owner sdk.AccAddress, limit int) ([]state.StoredClaim, error) {
	if e.reports == nil {
		return nil, ErrReportsUnavailable
	}
	return e.reports.ClaimsByOwner(owner.String(), limit)
}

func (e *Engine) Summary() (*state.LedgerSummary, error) {
	if e.reports == nil {
		return nil, ErrReportsUnavailable
	}
	return e.reports.Summary()
}

// PoolCheckpoints returns the saved snapshots of one pool, newest first.
func (e *Engine) PoolCheckpoints(ctx context.Context, poolKey string, limit int) ([]state.PoolCheckpoint, error) {
	if e.reports == nil {
		return nil, ErrReportsUnavailable
	}
	return e.reports.PoolCheckpoints(ctx, poolKey, limit)
}
