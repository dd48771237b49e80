package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/utils"
)

const (
	VariantTiered  = "tiered"
	VariantCompute = "compute"
	VariantBoth    = "both"

	CustodyMemory   = "memory"
	CustodyPostgres = "postgres"
	CustodyChain    = "chain"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// LedgerVariant selects which ledgers the engine hosts.
	LedgerVariant string
	// CustodyMode selects where balances live.
	CustodyMode string

	// StakeDenom is the LP token staked into the tiered ledger.
	StakeDenom string
	// RewardDenom is the token paid out by every claim.
	RewardDenom string
	// RewardDecimals converts whole-token settings into base units.
	RewardDecimals uint32
	// TopUpDenom is the asset burned when compute power is topped up. Optional.
	TopUpDenom string

	// MaxClaimTokens overrides the per-variant single-claim ceiling, in whole reward tokens.
	// Zero keeps the defaults.
	MaxClaimTokens uint64

	// ProgramStart is the unix timestamp accrual starts from.
	ProgramStart uint64
	// TierRates are the per-second emission rates of the quarter, half-year and year pools.
	TierRates [types.TierCount]uint64

	// ComputeDailyOutput is the compute pool's emission per day, in reward base units.
	ComputeDailyOutput uint64
	// ClaimCooldown is the minimum number of seconds between two compute claims.
	ClaimCooldown uint64

	AdminAddress    sdk.AccAddress
	VaultAuthority  sdk.AccAddress
	DividendAddress sdk.AccAddress
	BurnAddress     sdk.AccAddress

	// SplitTableFile optionally points at a YAML file overriding the default split tables.
	SplitTableFile string

	Bech32Prefix       string
	WebPort            string
	LogLevel           string
	// LogFile optionally mirrors the log stream into a file as JSON lines.
	LogFile            string
	CheckpointInterval time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LedgerVariant, err = getEnvOneOf("LEDGER_VARIANT", VariantTiered, VariantCompute, VariantBoth)
	if err != nil {
		return err
	}

	CustodyMode, err = getEnvOneOf("CUSTODY_MODE", CustodyMemory, CustodyPostgres, CustodyChain)
	if err != nil {
		return err
	}

	Bech32Prefix = getEnvOrDefault("BECH32_PREFIX", DefaultBech32Prefix)

	RewardDenom, err = getEnv("REWARD_DENOM")
	if err != nil {
		return err
	}

	decimals, err := getEnvAsUint64("REWARD_DECIMALS")
	if err != nil {
		return err
	}
	if decimals > utils.MaxDecimals {
		return errors.New("environment variable REWARD_DECIMALS must be at most " + strconv.Itoa(utils.MaxDecimals))
	}
	RewardDecimals = uint32(decimals)

	TopUpDenom = getEnvOrDefault("TOP_UP_DENOM", "")

	if MaxClaimTokens, err = getEnvAsUint64OrDefault("MAX_CLAIM_TOKENS", 0); err != nil {
		return err
	}

	ProgramStart, err = getEnvAsUint64("PROGRAM_START")
	if err != nil {
		return err
	}

	if HostsTiered() {
		StakeDenom, err = getEnv("STAKE_DENOM")
		if err != nil {
			return err
		}
		if TierRates, err = getEnvAsTierRates("TIER_RATES"); err != nil {
			return err
		}
	}

	if HostsCompute() {
		if ComputeDailyOutput, err = getEnvAsUint64OrDefault("COMPUTE_DAILY_OUTPUT", DefaultComputeDailyOutput); err != nil {
			return err
		}
		if ClaimCooldown, err = getEnvAsUint64OrDefault("CLAIM_COOLDOWN_SECONDS", DefaultClaimCooldownSeconds); err != nil {
			return err
		}
	}

	if AdminAddress, err = getEnvAsAddress("ADMIN_ADDRESS"); err != nil {
		return err
	}
	if VaultAuthority, err = getEnvAsAddress("VAULT_AUTHORITY"); err != nil {
		return err
	}
	if DividendAddress, err = getEnvAsAddress("DIVIDEND_ADDRESS"); err != nil {
		return err
	}
	if _, set := os.LookupEnv("BURN_ADDRESS"); set {
		if BurnAddress, err = getEnvAsAddress("BURN_ADDRESS"); err != nil {
			return err
		}
	} else {
		BurnAddress = types.NullIdentity()
	}

	SplitTableFile = getEnvOrDefault("SPLIT_TABLE_FILE", "")
	WebPort = getEnvOrDefault("WEB_PORT", DefaultWebPort)
	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")

	CheckpointInterval = DefaultCheckpointInterval
	if raw, set := os.LookupEnv("CHECKPOINT_INTERVAL"); set {
		CheckpointInterval, err = time.ParseDuration(raw)
		if err != nil || CheckpointInterval <= 0 {
			return errors.New("environment variable CHECKPOINT_INTERVAL must be a positive duration, got: " + raw)
		}
	}

	// Chain endpoints and signer settings are only needed when balances live on chain.
	if CustodyMode == CustodyChain {
		if err := loadEndpointConfig(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("LedgerVariant", LedgerVariant).
		Str("CustodyMode", CustodyMode).
		Str("RewardDenom", RewardDenom).
		Uint64("ProgramStart", ProgramStart).
		Msg("Configuration loaded successfully.")

	return nil
}

// HostsTiered reports whether the configured variant runs the tiered LP ledger.
func HostsTiered() bool {
	return LedgerVariant == VariantTiered || LedgerVariant == VariantBoth
}

// HostsCompute reports whether the configured variant runs the compute ledger.
func HostsCompute() bool {
	return LedgerVariant == VariantCompute || LedgerVariant == VariantBoth
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvOneOf retrieves a required environment variable restricted to a set of values.
func getEnvOneOf(key string, allowed ...string) (string, error) {
	value, err := getEnv(key)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if value == a {
			return value, nil
		}
	}
	return "", errors.New("environment variable " + key + " must be one of " + strings.Join(allowed, ", ") + ", got: " + value)
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsUint64OrDefault(key string, fallback uint64) (uint64, error) {
	if _, set := os.LookupEnv(key); !set {
		return fallback, nil
	}
	return getEnvAsUint64(key)
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves a bech32 address carrying the configured prefix.
func getEnvAsAddress(key string) (sdk.AccAddress, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return nil, err
	}
	bz, err := sdk.GetFromBech32(valueStr, Bech32Prefix)
	if err != nil {
		return nil, errors.New("environment variable " + key + " must be a " + Bech32Prefix + " bech32 address: " + err.Error())
	}
	if err := sdk.VerifyAddressFormat(bz); err != nil {
		return nil, errors.New("environment variable " + key + " holds an invalid address: " + err.Error())
	}
	return sdk.AccAddress(bz), nil
}

// getEnvAsTierRates parses a comma separated list with one rate per tier.
func getEnvAsTierRates(key string) ([types.TierCount]uint64, error) {
	var rates [types.TierCount]uint64
	valueStr, err := getEnv(key)
	if err != nil {
		return rates, err
	}
	parts := strings.Split(valueStr, ",")
	if len(parts) != types.TierCount {
		return rates, errors.New("environment variable " + key + " must list " + strconv.Itoa(types.TierCount) + " rates, got: " + valueStr)
	}
	for i, part := range parts {
		rate, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rates, errors.New("environment variable " + key + " holds an invalid rate: " + part)
		}
		rates[i] = rate
	}
	return rates, nil
}
