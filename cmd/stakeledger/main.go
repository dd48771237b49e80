package main

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	sdk "github.com/cosmos/cosmos-sdk/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/elys-network/stakeledger/internal/config"
	"github.com/elys-network/stakeledger/internal/engine"
	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/state"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
	"github.com/elys-network/stakeledger/internal/wallet"
	"github.com/elys-network/stakeledger/internal/web"
)

// backend bundles everything that depends on where balances and ledger state live.
type backend struct {
	custody  vault.Custody
	open     func(ctx context.Context, owner sdk.AccAddress, denom string) error
	recorder staking.Recorder
	engine   engine.Config
	dbCheck  func() error
	close    func()
}

func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if config.LogFile != "" {
		fileWriter, err := logger.FileWriter(config.LogFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", config.LogFile).Msg("Failed to open log file")
		}
		logger.Initialize(config.LogLevel, fileWriter)
	} else {
		logger.Initialize(config.LogLevel)
	}
	log.Info().Str("variant", config.LedgerVariant).Str("custody", config.CustodyMode).Msg("Stake ledger starting...")

	// Addresses in logs, the API and the custody ids all use the configured prefix.
	if err := wallet.ConfigureSDK(config.Bech32Prefix); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure address prefixes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Custody and persistence ---
	be, err := openBackend()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize custody backend")
	}
	defer be.close()

	accounts, err := systemAccounts(ctx, be)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare system accounts")
	}

	splits, err := config.LoadSplitTables(config.SplitTableFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load split tables")
	}

	// --- 3. Ledgers and engine ---
	engineCfg := be.engine
	rewardToken := types.Token{Symbol: config.RewardDenom, Denom: config.RewardDenom, Decimals: config.RewardDecimals}

	if config.HostsTiered() {
		maxClaim, err := config.MaxClaim(types.VariantTiered)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid tiered claim ceiling")
		}
		engineCfg.Tiered, err = staking.NewTieredLedger(staking.TieredConfig{
			Start:       config.ProgramStart,
			Terms:       config.TierTerms(config.TierRates),
			StakeToken:  types.Token{Symbol: config.StakeDenom, Denom: config.StakeDenom},
			RewardToken: rewardToken,
			Admin:       config.AdminAddress,
			Accounts:    accounts,
			Split:       splits.Tiered,
			MaxClaim:    maxClaim,
			Custody:     be.custody,
			Recorder:    be.recorder,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create tiered ledger")
		}
	}

	if config.HostsCompute() {
		maxClaim, err := config.MaxClaim(types.VariantCompute)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid compute claim ceiling")
		}
		engineCfg.Compute, err = staking.NewComputeLedger(staking.ComputeConfig{
			Start:       config.ProgramStart,
			DailyOutput: config.ComputeDailyOutput,
			RewardToken: rewardToken,
			TopUpToken:  types.Token{Symbol: config.TopUpDenom, Denom: config.TopUpDenom},
			Admin:       config.AdminAddress,
			Accounts:    accounts,
			Split:       splits.Compute,
			MaxClaim:    maxClaim,
			Cooldown:    config.ClaimCooldown,
			Custody:     be.custody,
			Recorder:    be.recorder,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create compute ledger")
		}
	}

	ledger, err := engine.NewEngine(engineCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	if err := ledger.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore ledger state")
	}

	// --- 4. Web server ---
	webServer := web.NewWebServer(config.WebPort, ledger)
	if be.dbCheck != nil {
		webServer.SetDatabaseCheck(be.dbCheck)
	}
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting ledger API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
			stop()
		}
	}()

	// --- 5. Checkpoint loop, runs until a signal arrives ---
	log.Info().Str("interval", config.CheckpointInterval.String()).Msg("Starting checkpoint loop")
	ledger.RunLoop(ctx, config.CheckpointInterval)
	log.Info().Msg("Stake ledger stopped")
}

// openBackend wires custody, the journal and the reports for the configured custody mode.
func openBackend() (*backend, error) {
	switch config.CustodyMode {
	case config.CustodyMemory:
		log.Warn().Msg("Running with in-memory custody. Balances and ledger state are lost on exit.")
		custody := vault.NewMemoryCustody()
		return &backend{
			custody: custody,
			open: func(_ context.Context, owner sdk.AccAddress, denom string) error {
				_, err := custody.Open(owner, denom, 0)
				return err
			},
			close: func() {},
		}, nil

	case config.CustodyPostgres:
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			return nil, err
		}
		if err := state.EnsureSchema(); err != nil {
			state.CloseDB()
			return nil, err
		}
		custody := state.NewPostgresCustody()
		journal := state.NewJournal()
		return &backend{
			custody: custody,
			open: func(ctx context.Context, owner sdk.AccAddress, denom string) error {
				_, err := custody.OpenAccount(ctx, owner, denom, 0)
				return err
			},
			recorder: journal,
			engine: engine.Config{
				CheckpointStore: state.CheckpointStore{},
				Loader:          journal,
				Reports:         state.Reports{},
			},
			dbCheck: state.TestDBConnection,
			close:   state.CloseDB,
		}, nil

	case config.CustodyChain:
		log.Warn().Msg("Running with chain custody. Real transactions will be broadcast.")
		grpcClient, err := dialGRPC(config.NodeGRPC)
		if err != nil {
			return nil, err
		}
		signer, err := wallet.NewSigningClient(grpcClient)
		if err != nil {
			grpcClient.Close()
			return nil, err
		}
		custody, err := wallet.NewChainCustody(signer, banktypes.NewQueryClient(grpcClient))
		if err != nil {
			grpcClient.Close()
			return nil, err
		}
		if !signer.GetAddress().Equals(config.VaultAuthority) {
			log.Warn().
				Str("signer", signer.GetAddress().String()).
				Str("vaultAuthority", config.VaultAuthority.String()).
				Msg("Signing key is not the vault authority; vault payouts need an authz send grant")
		}
		return &backend{
			custody: custody,
			close: func() {
				if err := grpcClient.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing gRPC connection")
				}
			},
		}, nil
	}
	return nil, errors.New("unsupported custody mode: " + config.CustodyMode)
}

// systemAccounts derives the vault and sink accounts from the configured addresses and,
// for custody backends that keep their own books, makes sure they exist.
func systemAccounts(ctx context.Context, be *backend) (staking.Accounts, error) {
	accounts := staking.Accounts{
		Authority:   config.VaultAuthority,
		RewardVault: types.NewAccountID(config.VaultAuthority, config.RewardDenom),
		Dividend:    types.NewAccountID(config.DividendAddress, config.RewardDenom),
		Burn:        types.NewAccountID(config.BurnAddress, config.RewardDenom),
	}
	if config.HostsTiered() {
		accounts.StakeVault = types.NewAccountID(config.VaultAuthority, config.StakeDenom)
	}
	if config.TopUpDenom != "" {
		accounts.TopUpBurn = types.NewAccountID(config.BurnAddress, config.TopUpDenom)
	}

	if be.open == nil {
		return accounts, nil
	}
	for _, id := range []types.AccountID{accounts.RewardVault, accounts.StakeVault, accounts.Dividend, accounts.Burn, accounts.TopUpBurn} {
		if id == "" {
			continue
		}
		owner, denom, err := id.Parse()
		if err != nil {
			return staking.Accounts{}, err
		}
		if err := be.open(ctx, owner, denom); err != nil && !errors.Is(err, vault.ErrAccountExists) {
			return staking.Accounts{}, err
		}
	}
	return accounts, nil
}

func dialGRPC(endpoint string) (*grpc.ClientConn, error) {
	var creds grpc.DialOption
	if strings.Contains(endpoint, ":443") {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))
	} else {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	conn, err := grpc.NewClient(endpoint, creds)
	if err != nil {
		return nil, err
	}
	log.Info().Str("endpoint", endpoint).Msg("gRPC client created")
	return conn, nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
