package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/stakeledger/internal/feesplit"
	"github.com/elys-network/stakeledger/internal/types"
)

// SplitTables holds the split table of each ledger variant.
type SplitTables struct {
	Tiered  types.SplitTable `yaml:"tiered"`
	Compute types.SplitTable `yaml:"compute"`
}

// DefaultSplitTables returns copies of the built-in tables.
func DefaultSplitTables() SplitTables {
	return SplitTables{
		Tiered:  cloneTable(DefaultTieredSplit),
		Compute: cloneTable(DefaultComputeSplit),
	}
}

// LoadSplitTables reads SPLIT_TABLE_FILE when set. A variant missing from the file keeps
// its default table; every table is validated before it is returned.
func LoadSplitTables(path string) (SplitTables, error) {
	tables := DefaultSplitTables()
	if path == "" {
		return tables, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return SplitTables{}, fmt.Errorf("failed to read split table file: %w", err)
	}
	parsed, err := ParseSplitTables(raw)
	if err != nil {
		return SplitTables{}, fmt.Errorf("split table file %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Str("tiered", parsed.Tiered.Name).
		Str("compute", parsed.Compute.Name).
		Msg("Loaded split tables from file")
	return parsed, nil
}

// ParseSplitTables decodes YAML on top of the default tables.
func ParseSplitTables(raw []byte) (SplitTables, error) {
	var file SplitTables
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return SplitTables{}, fmt.Errorf("failed to decode split tables: %w", err)
	}

	tables := DefaultSplitTables()
	if len(file.Tiered.Legs) > 0 {
		tables.Tiered = file.Tiered
	}
	if len(file.Compute.Legs) > 0 {
		tables.Compute = file.Compute
	}
	if err := feesplit.Validate(tables.Tiered); err != nil {
		return SplitTables{}, err
	}
	if err := feesplit.Validate(tables.Compute); err != nil {
		return SplitTables{}, err
	}
	return tables, nil
}

func cloneTable(t types.SplitTable) types.SplitTable {
	t.Legs = append([]types.LegSpec(nil), t.Legs...)
	return t
}
