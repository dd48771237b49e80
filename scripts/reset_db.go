package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/config"
	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/state"
	"github.com/elys-network/stakeledger/internal/wallet"
)

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Initialize(logLevel)
	log.Info().Msg("Starting database reset script...")

	// Load environment variables from .env file
	err := godotenv.Load()
	if err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	// Get database configuration from environment variables
	dbHost := os.Getenv("DB_HOST")
	dbPortStr := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSSLMode := os.Getenv("DB_SSLMODE")

	// Set defaults for missing values
	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPortStr == "" {
		dbPortStr = "5432"
	}
	if dbUser == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if dbName == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}
	if dbSSLMode == "" {
		dbSSLMode = "disable"
	}

	// Convert dbPort to integer
	dbPort := 5432
	if dbPortStr != "" {
		fmt.Sscanf(dbPortStr, "%d", &dbPort)
	}

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host:     dbHost,
		Port:     dbPort,
		User:     dbUser,
		Password: dbPassword,
		DBName:   dbName,
		SSLMode:  dbSSLMode,
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	log.Info().Msg("Connected to database. Dropping ledger tables, custody balances included...")

	if err := state.DropSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to drop tables")
	}
	log.Info().Msg("Successfully dropped all ledger tables")

	// Recreate the schema
	log.Info().Msg("Recreating database schema...")
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate database schema")
	}
	log.Info().Msg("Database schema successfully recreated")

	if raw := os.Getenv("SEED_REWARD_VAULT"); raw != "" {
		if err := seedRewardVault(raw); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed reward vault")
		}
	}

	log.Info().Msg("Database reset complete!")
}

// seedRewardVault opens the reward vault of VAULT_AUTHORITY with an opening balance so a
// fresh postgres-custody deployment can pay claims.
func seedRewardVault(raw string) error {
	balance, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("SEED_REWARD_VAULT must be a uint64, got %q", raw)
	}
	prefix := os.Getenv("BECH32_PREFIX")
	if prefix == "" {
		prefix = config.DefaultBech32Prefix
	}
	if err := wallet.ConfigureSDK(prefix); err != nil {
		return err
	}
	authority, err := sdk.AccAddressFromBech32(os.Getenv("VAULT_AUTHORITY"))
	if err != nil {
		return fmt.Errorf("VAULT_AUTHORITY: %w", err)
	}
	denom := os.Getenv("REWARD_DENOM")
	if denom == "" {
		return fmt.Errorf("REWARD_DENOM environment variable not set")
	}

	id, err := state.NewPostgresCustody().OpenAccount(context.Background(), authority, denom, balance)
	if err != nil {
		return err
	}
	log.Info().Str("account", string(id)).Uint64("balance", balance).Msg("Reward vault seeded")
	return nil
}
