package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/client/flags"
	"github.com/cosmos/cosmos-sdk/client/tx"
	"cosmossdk.io/x/tx/signing"
	"github.com/cosmos/cosmos-sdk/codec"
	"github.com/cosmos/cosmos-sdk/codec/address"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	"github.com/cosmos/cosmos-sdk/std"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	signingtypes "github.com/cosmos/cosmos-sdk/types/tx/signing"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"github.com/cosmos/cosmos-sdk/x/authz"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/cosmos/gogoproto/proto"
	"google.golang.org/grpc"

	"github.com/elys-network/stakeledger/internal/config"
	"github.com/elys-network/stakeledger/internal/logger"
)

var (
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrKeyringInit            = errors.New("keyring initialization failed")
	ErrKeyNotFound            = errors.New("signing key not found")
	ErrRPCConnectionFailed    = errors.New("RPC connection failed")
	ErrGRPCConnectionInvalid  = errors.New("gRPC connection is invalid")
	ErrAccountRetrievalFailed = errors.New("account retrieval failed")
	ErrTxBuildFailed          = errors.New("transaction build failed")
	ErrTxSignFailed           = errors.New("transaction signing failed")
	ErrTxBroadcastFailed      = errors.New("transaction broadcast failed")
	ErrSDKConfigFailed        = errors.New("SDK configuration failed")
	ErrGasSimulationFailed    = errors.New("gas simulation failed")
)

// gasBuffer is added on top of the adjusted simulation result.
const gasBuffer uint64 = 10_000

var walletLogger = logger.GetForComponent("wallet_client")

var (
	sdkConfigOnce  sync.Once
	sdkConfigError error
)

// EncodingConfig bundles the codecs needed to sign bank and authz transactions.
type EncodingConfig struct {
	InterfaceRegistry codectypes.InterfaceRegistry
	Codec             codec.Codec
	TxConfig          client.TxConfig
}

// SigningClient signs and broadcasts transactions with the configured keyring key.
type SigningClient struct {
	clientCtx   client.Context
	txFactory   tx.Factory
	grpcConn    *grpc.ClientConn
	keyName     string
	fromAddress sdk.AccAddress
}

// NewSigningClient builds a signing client on top of an existing gRPC connection.
// The caller keeps ownership of grpcConn.
func NewSigningClient(grpcConn *grpc.ClientConn) (*SigningClient, error) {
	if grpcConn == nil {
		return nil, errors.Join(ErrGRPCConnectionInvalid, errors.New("gRPC connection cannot be nil"))
	}
	if err := validateWalletConfig(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := ConfigureSDK(config.Bech32Prefix); err != nil {
		return nil, errors.Join(ErrSDKConfigFailed, err)
	}

	encodingConfig, err := NewEncodingConfig()
	if err != nil {
		return nil, errors.Join(ErrSDKConfigFailed, err)
	}

	kr, err := initializeKeyring(encodingConfig)
	if err != nil {
		return nil, errors.Join(ErrKeyringInit, err)
	}

	fromAddress, err := signingAddress(kr)
	if err != nil {
		return nil, errors.Join(ErrKeyNotFound, err)
	}

	rpcClient, err := rpchttp.New(config.NodeRPC, "/websocket")
	if err != nil {
		return nil, errors.Join(ErrRPCConnectionFailed, err)
	}

	clientCtx := client.Context{}.
		WithCodec(encodingConfig.Codec).
		WithInterfaceRegistry(encodingConfig.InterfaceRegistry).
		WithTxConfig(encodingConfig.TxConfig).
		WithInput(os.Stdin).
		WithAccountRetriever(authtypes.AccountRetriever{}).
		WithBroadcastMode(flags.BroadcastSync).
		WithHomeDir(config.KeyringDir).
		WithKeyring(kr).
		WithChainID(config.ChainID).
		WithGRPCClient(grpcConn).
		WithClient(rpcClient).
		WithFromAddress(fromAddress).
		WithFromName(config.KeyName)

	txFactory := tx.Factory{}.
		WithChainID(config.ChainID).
		WithKeybase(kr).
		WithGas(config.DefaultGasLimit).
		WithGasAdjustment(config.GasAdjustment).
		WithSignMode(signingtypes.SignMode_SIGN_MODE_DIRECT).
		WithAccountRetriever(clientCtx.AccountRetriever).
		WithTxConfig(clientCtx.TxConfig)

	walletLogger.Info().
		Str("address", fromAddress.String()).
		Str("chainID", config.ChainID).
		Msg("Signing client initialized")

	return &SigningClient{
		clientCtx:   clientCtx,
		txFactory:   txFactory,
		grpcConn:    grpcConn,
		keyName:     config.KeyName,
		fromAddress: fromAddress,
	}, nil
}

func validateWalletConfig() error {
	var errs []error
	if config.ChainID == "" {
		errs = append(errs, errors.New("chain ID cannot be empty"))
	}
	if config.KeyName == "" {
		errs = append(errs, errors.New("key name cannot be empty"))
	}
	if config.KeyringDir == "" {
		errs = append(errs, errors.New("keyring directory cannot be empty"))
	}
	if config.KeyringBackend == "" {
		errs = append(errs, errors.New("keyring backend cannot be empty"))
	}
	if config.NodeRPC == "" {
		errs = append(errs, errors.New("node RPC endpoint cannot be empty"))
	}
	if err := validateGasConfiguration(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateGasConfiguration() error {
	if config.DefaultGasLimit == 0 {
		return errors.New("default gas limit cannot be zero")
	}
	if math.IsNaN(config.GasAdjustment) || math.IsInf(config.GasAdjustment, 0) {
		return errors.New("gas adjustment is not finite")
	}
	if config.GasAdjustment <= 0 || config.GasAdjustment > 10 {
		return errors.New("gas adjustment must be between 0 and 10")
	}
	if config.GasPriceAmount == "" {
		return errors.New("gas price amount cannot be empty")
	}
	if config.GasPriceDenom == "" {
		return errors.New("gas price denomination cannot be empty")
	}
	return nil
}

// ConfigureSDK sets the global bech32 prefixes and seals the SDK config.
// Only the first call has any effect; later calls return its result.
func ConfigureSDK(prefix string) error {
	sdkConfigOnce.Do(func() {
		if prefix == "" {
			sdkConfigError = errors.New("bech32 prefix cannot be empty")
			return
		}
		sdkConfig := sdk.GetConfig()
		sdkConfig.SetBech32PrefixForAccount(prefix, prefix+"pub")
		sdkConfig.SetBech32PrefixForValidator(prefix+"valoper", prefix+"valoperpub")
		sdkConfig.SetBech32PrefixForConsensusNode(prefix+"valcons", prefix+"valconspub")
		sdkConfig.Seal()

		walletLogger.Debug().Str("prefix", prefix).Msg("SDK configuration sealed")
	})
	return sdkConfigError
}

// NewEncodingConfig registers the interfaces needed for bank sends wrapped in authz grants.
// Signer addresses are resolved with the bech32 prefixes in effect when it is called.
func NewEncodingConfig() (EncodingConfig, error) {
	sdkConfig := sdk.GetConfig()
	registry, err := codectypes.NewInterfaceRegistryWithOptions(codectypes.InterfaceRegistryOptions{
		ProtoFiles: proto.HybridResolver,
		SigningOptions: signing.Options{
			AddressCodec:          address.NewBech32Codec(sdkConfig.GetBech32AccountAddrPrefix()),
			ValidatorAddressCodec: address.NewBech32Codec(sdkConfig.GetBech32ValidatorAddrPrefix()),
		},
	})
	if err != nil {
		return EncodingConfig{}, fmt.Errorf("failed to create interface registry: %w", err)
	}
	std.RegisterInterfaces(registry)
	authtypes.RegisterInterfaces(registry)
	banktypes.RegisterInterfaces(registry)
	authz.RegisterInterfaces(registry)

	cdc := codec.NewProtoCodec(registry)
	return EncodingConfig{
		InterfaceRegistry: registry,
		Codec:             cdc,
		TxConfig:          authtx.NewTxConfig(cdc, authtx.DefaultSignModes),
	}, nil
}

func initializeKeyring(encodingConfig EncodingConfig) (keyring.Keyring, error) {
	if err := os.MkdirAll(config.KeyringDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}
	kr, err := keyring.New("stakeledger", config.KeyringBackend, config.KeyringDir, os.Stdin, encodingConfig.Codec)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyring: %w", err)
	}
	return kr, nil
}

func signingAddress(kr keyring.Keyring) (sdk.AccAddress, error) {
	record, err := kr.Key(config.KeyName)
	if err != nil {
		return nil, fmt.Errorf("key '%s' not found in keyring: %w", config.KeyName, err)
	}
	addr, err := record.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get address from key: %w", err)
	}
	if err := sdk.VerifyAddressFormat(addr); err != nil {
		return nil, fmt.Errorf("invalid address format: %w", err)
	}
	return addr, nil
}

// SignAndBroadcastTx signs msgs into a single transaction and broadcasts it in sync mode.
// A non-zero response code is returned to the caller, not treated as an error.
func (s *SigningClient) SignAndBroadcastTx(ctx context.Context, msgs ...sdk.Msg) (*sdk.TxResponse, error) {
	if err := validateMsgs(msgs); err != nil {
		return nil, errors.Join(ErrTxBuildFailed, err)
	}

	account, err := s.clientCtx.AccountRetriever.GetAccount(s.clientCtx, s.fromAddress)
	if err != nil {
		return nil, errors.Join(ErrAccountRetrievalFailed, err)
	}

	gas, err := s.CalculateGas(ctx, msgs...)
	if err != nil {
		walletLogger.Warn().Err(err).Uint64("fallbackGas", config.DefaultGasLimit).Msg("Gas estimation failed, using default gas limit")
		gas = config.DefaultGasLimit
	}

	factory := s.txFactory.
		WithAccountNumber(account.GetAccountNumber()).
		WithSequence(account.GetSequence()).
		WithGas(gas).
		WithGasPrices(config.GasPriceAmount + config.GasPriceDenom)

	txBuilder, err := factory.BuildUnsignedTx(msgs...)
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, err)
	}
	if err := tx.Sign(ctx, factory, s.keyName, txBuilder, true); err != nil {
		return nil, errors.Join(ErrTxSignFailed, err)
	}
	txBytes, err := s.clientCtx.TxConfig.TxEncoder()(txBuilder.GetTx())
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, fmt.Errorf("failed to encode transaction: %w", err))
	}

	res, err := s.clientCtx.BroadcastTx(txBytes)
	if err != nil {
		return nil, errors.Join(ErrTxBroadcastFailed, err)
	}
	if res == nil || res.TxHash == "" {
		return nil, errors.Join(ErrTxBroadcastFailed, errors.New("empty transaction response"))
	}

	walletLogger.Info().
		Str("txHash", res.TxHash).
		Uint32("code", res.Code).
		Uint64("gas", gas).
		Uint64("sequence", account.GetSequence()).
		Int("messageCount", len(msgs)).
		Msg("Transaction broadcast")

	return res, nil
}

func validateMsgs(msgs []sdk.Msg) error {
	if len(msgs) == 0 {
		return errors.New("messages cannot be empty")
	}
	for i, msg := range msgs {
		if msg == nil {
			return fmt.Errorf("message %d is nil", i)
		}
		if validator, ok := msg.(interface{ ValidateBasic() error }); ok {
			if err := validator.ValidateBasic(); err != nil {
				return fmt.Errorf("message %d validation failed: %w", i, err)
			}
		}
	}
	return nil
}

// CalculateGas simulates msgs and returns the adjusted gas plus a fixed buffer.
func (s *SigningClient) CalculateGas(ctx context.Context, msgs ...sdk.Msg) (uint64, error) {
	account, err := s.clientCtx.AccountRetriever.GetAccount(s.clientCtx, s.fromAddress)
	if err != nil {
		return 0, errors.Join(ErrAccountRetrievalFailed, err)
	}

	simFactory := s.txFactory.
		WithAccountNumber(account.GetAccountNumber()).
		WithSequence(account.GetSequence()).
		WithGas(0).
		WithGasPrices(config.GasPriceAmount + config.GasPriceDenom)

	txBytes, err := simFactory.BuildSimTx(msgs...)
	if err != nil {
		return 0, errors.Join(ErrGasSimulationFailed, fmt.Errorf("failed to build simulation tx: %w", err))
	}

	simRes, err := txtypes.NewServiceClient(s.grpcConn).Simulate(ctx, &txtypes.SimulateRequest{TxBytes: txBytes})
	if err != nil {
		return 0, errors.Join(ErrGasSimulationFailed, err)
	}
	if simRes == nil || simRes.GasInfo == nil || simRes.GasInfo.GasUsed == 0 {
		return 0, errors.Join(ErrGasSimulationFailed, errors.New("simulation returned no gas usage"))
	}

	return adjustGas(simRes.GasInfo.GasUsed, simFactory.GasAdjustment())
}

func adjustGas(simulated uint64, adjustment float64) (uint64, error) {
	if adjustment <= 0 {
		return 0, fmt.Errorf("invalid gas adjustment: %f", adjustment)
	}
	adjusted := uint64(adjustment * float64(simulated))
	if adjusted == 0 {
		return 0, errors.New("adjusted gas calculation resulted in zero")
	}
	return adjusted + gasBuffer, nil
}

// QueryTxByHash fetches a committed transaction.
func (s *SigningClient) QueryTxByHash(ctx context.Context, txHash string) (*sdk.TxResponse, error) {
	if txHash == "" {
		return nil, errors.New("transaction hash cannot be empty")
	}
	res, err := authtx.QueryTx(s.clientCtx.WithCmdContext(ctx), txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", txHash, err)
	}
	return res, nil
}

// GetAddress returns the signing address.
func (s *SigningClient) GetAddress() sdk.AccAddress {
	return s.fromAddress
}
