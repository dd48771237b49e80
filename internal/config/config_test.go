package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/stakeledger/internal/feesplit"
	"github.com/elys-network/stakeledger/internal/types"
)

func bech32(t *testing.T, b byte) string {
	t.Helper()
	s, err := sdk.Bech32ifyAddressBytes(DefaultBech32Prefix, bytes.Repeat([]byte{b}, 20))
	require.NoError(t, err)
	return s
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_VARIANT", VariantBoth)
	t.Setenv("CUSTODY_MODE", CustodyMemory)
	t.Setenv("STAKE_DENOM", "ulp")
	t.Setenv("REWARD_DENOM", "ureward")
	t.Setenv("REWARD_DECIMALS", "6")
	t.Setenv("PROGRAM_START", "1700000000")
	t.Setenv("TIER_RATES", "100, 200,300")
	t.Setenv("ADMIN_ADDRESS", bech32(t, 0xAD))
	t.Setenv("VAULT_AUTHORITY", bech32(t, 0xA0))
	t.Setenv("DIVIDEND_ADDRESS", bech32(t, 0xD1))
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)
	require.NoError(t, LoadConfig())

	assert.True(t, HostsTiered())
	assert.True(t, HostsCompute())
	assert.Equal(t, [types.TierCount]uint64{100, 200, 300}, TierRates)
	assert.Equal(t, DefaultComputeDailyOutput, ComputeDailyOutput)
	assert.Equal(t, DefaultClaimCooldownSeconds, ClaimCooldown)
	assert.True(t, types.IsNullIdentity(BurnAddress))
	assert.Equal(t, DefaultWebPort, WebPort)
	assert.Equal(t, DefaultCheckpointInterval, CheckpointInterval)
	assert.Equal(t, uint32(6), RewardDecimals)
	assert.True(t, AdminAddress.Equals(sdk.AccAddress(bytes.Repeat([]byte{0xAD}, 20))))
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setBaseEnv(t)
	os.Unsetenv("REWARD_DENOM")

	err := LoadConfig()
	require.Error(t, err)
	assert.Equal(t, "environment variable REWARD_DENOM is required but not set", err.Error())
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"LEDGER_VARIANT":      "perpetual",
		"TIER_RATES":          "1,2",
		"ADMIN_ADDRESS":       "cosmos1notanaddress",
		"REWARD_DECIMALS":     "19",
		"CHECKPOINT_INTERVAL": "-5s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(key, value)
			assert.Error(t, LoadConfig())
		})
	}
}

func TestLoadConfig_ComputeSkipsTieredSettings(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LEDGER_VARIANT", VariantCompute)
	os.Unsetenv("TIER_RATES")
	os.Unsetenv("STAKE_DENOM")
	t.Setenv("CLAIM_COOLDOWN_SECONDS", "60")
	t.Setenv("CHECKPOINT_INTERVAL", "30s")

	require.NoError(t, LoadConfig())
	assert.False(t, HostsTiered())
	assert.Equal(t, uint64(60), ClaimCooldown)
	assert.Equal(t, 30*time.Second, CheckpointInterval)
}

func TestLoadConfig_ChainModeNeedsEndpoints(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CUSTODY_MODE", CustodyChain)

	err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NODE_RPC")
}

func TestMaxClaim(t *testing.T) {
	RewardDecimals = 6
	MaxClaimTokens = 0

	lp, err := MaxClaim(types.VariantTiered)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), lp)

	compute, err := MaxClaim(types.VariantCompute)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), compute)

	MaxClaimTokens = 5
	override, err := MaxClaim(types.VariantCompute)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), override)
	MaxClaimTokens = 0
}

func TestTierTerms(t *testing.T) {
	terms := TierTerms([types.TierCount]uint64{1, 2, 3})
	assert.Equal(t, 90*types.SecondsPerDay, terms[0].Duration)
	assert.Equal(t, 365*types.SecondsPerDay, terms[2].Duration)
	assert.Equal(t, uint64(2335136861), terms[2].Deadline)
	assert.Equal(t, uint64(2), terms[1].Rate)
}

func TestDefaultSplitTablesAreValid(t *testing.T) {
	tables := DefaultSplitTables()
	require.NoError(t, feesplit.Validate(tables.Tiered))
	require.NoError(t, feesplit.Validate(tables.Compute))

	// copies must not alias the package defaults
	tables.Tiered.Legs[0].Bps = 1
	assert.Equal(t, uint64(500), DefaultTieredSplit.Legs[0].Bps)
}

func TestParseSplitTables(t *testing.T) {
	raw := []byte(`
compute:
  name: compute-lean
  total_bps: 1500
  legs:
    - role: dividend
      bps: 500
    - role: burn
      bps: 1000
    - role: participant
`)
	tables, err := ParseSplitTables(raw)
	require.NoError(t, err)
	assert.Equal(t, "compute-lean", tables.Compute.Name)
	assert.Len(t, tables.Compute.Legs, 3)
	assert.Equal(t, DefaultTieredSplit.Name, tables.Tiered.Name)

	_, err = ParseSplitTables([]byte(`
tiered:
  name: bad
  total_bps: 2000
  legs:
    - role: burn
      bps: 1000
    - role: participant
`))
	assert.ErrorIs(t, err, feesplit.ErrSplitMismatch)

	_, err = ParseSplitTables([]byte("tiered:\n  unknown: 1\n"))
	assert.Error(t, err)

	empty, err := ParseSplitTables(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultComputeSplit.Name, empty.Compute.Name)
}

func TestLoadSplitTables_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiered:\n  name: lp-flat\n  legs:\n    - role: burn\n      bps: 100\n    - role: participant\n"), 0o600))

	tables, err := LoadSplitTables(path)
	require.NoError(t, err)
	assert.Equal(t, "lp-flat", tables.Tiered.Name)

	_, err = LoadSplitTables(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
