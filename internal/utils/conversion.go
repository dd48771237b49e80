/*
This file contains common utility functions for converting between token units and for the
overflow-aware uint64 arithmetic used by the ledgers.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrOutOfRange       = errors.New("value does not fit in uint64")
)

// MaxDecimals bounds token decimals so 10^decimals always fits a uint64.
const MaxDecimals = 18

// WholeTokensToBaseUnits converts a whole-token amount into base units (whole * 10^decimals).
func WholeTokensToBaseUnits(whole uint64, decimals uint32) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	factor := sdkmath.NewIntWithDecimal(1, int(decimals))
	result := sdkmath.NewIntFromUint64(whole).Mul(factor)
	if !result.IsUint64() {
		return 0, fmt.Errorf("%w: %d tokens at %d decimals", ErrOutOfRange, whole, decimals)
	}
	return result.Uint64(), nil
}

// BaseUnitsToFloat64 converts base units into a float token amount, for logs and summaries only.
func BaseUnitsToFloat64(amount uint64, decimals uint32) (float64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	return SDKIntToFloat64(sdkmath.NewIntFromUint64(amount), int(decimals))
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(precision))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// SaturatingAdd returns a+b, clamped at MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// SaturatingMul returns a*b, clamped at MaxUint64.
func SaturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

// CheckedAdd returns a+b or false on overflow.
func CheckedAdd(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// CheckedSub returns a-b or false on underflow.
func CheckedSub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}
