// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// ledgerTables lists every table owned by the ledger, in drop order.
var ledgerTables = []string{
	"claim_receipts",
	"pool_checkpoints",
	"compute_orders",
	"participants",
	"reward_pools",
	"custody_accounts",
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
// u64 quantities are stored as NUMERIC(20, 0) since they can exceed BIGINT.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS reward_pools (
			pool_key VARCHAR(32) PRIMARY KEY,
			tier SMALLINT NOT NULL,
			rate NUMERIC(20, 0) NOT NULL,
			acc_per_share NUMERIC(20, 0) NOT NULL,
			last_update_time NUMERIC(20, 0) NOT NULL,
			total_shares NUMERIC(20, 0) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS participants (
			address VARCHAR(128) PRIMARY KEY,
			upline VARCHAR(128) NOT NULL,
			total_deposited NUMERIC(20, 0) NOT NULL,
			slots JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS compute_orders (
			owner VARCHAR(128) NOT NULL,
			order_index NUMERIC(20, 0) NOT NULL,
			upline VARCHAR(128) NOT NULL,
			purchase JSONB NOT NULL,
			position JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, order_index)
		);

		CREATE TABLE IF NOT EXISTS claim_receipts (
			receipt_id BIGSERIAL PRIMARY KEY,
			operation_id VARCHAR(64) NOT NULL,
			variant VARCHAR(16) NOT NULL,
			owner VARCHAR(128) NOT NULL,
			slot NUMERIC(20, 0) NOT NULL,
			total NUMERIC(20, 0) NOT NULL,
			paid NUMERIC(20, 0) NOT NULL,
			outcome VARCHAR(32) NOT NULL,
			payouts JSONB,
			roles TEXT[],
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_claim_receipts_claimed_at ON claim_receipts(claimed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_claim_receipts_owner ON claim_receipts(owner, claimed_at DESC);

		CREATE TABLE IF NOT EXISTS pool_checkpoints (
			checkpoint_id BIGSERIAL PRIMARY KEY,
			pool_key VARCHAR(32) NOT NULL,
			tier SMALLINT NOT NULL,
			rate NUMERIC(20, 0) NOT NULL,
			acc_per_share NUMERIC(20, 0) NOT NULL,
			last_update_time NUMERIC(20, 0) NOT NULL,
			total_shares NUMERIC(20, 0) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pool_checkpoints_pool ON pool_checkpoints(pool_key, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS custody_accounts (
			account_id VARCHAR(256) PRIMARY KEY,
			owner VARCHAR(128) NOT NULL,
			denom VARCHAR(128) NOT NULL,
			balance NUMERIC(20, 0) NOT NULL CHECK (balance >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// DropSchema removes every ledger table. Used by the reset script.
func DropSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	for _, table := range ledgerTables {
		if _, err := DB.Exec("DROP TABLE IF EXISTS " + table + " CASCADE;"); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	log.Warn().Int("tables", len(ledgerTables)).Msg("Dropped ledger tables")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// NUMERIC columns travel as decimal strings.
func formatU64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64(column, raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s holds %q, not a u64: %w", column, raw, err)
	}
	return v, nil
}
