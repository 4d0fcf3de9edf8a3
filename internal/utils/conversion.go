/*
This file contains common utility functions for fixed-point amount math,
particularly the truncating multiply-divide every valuation path uses and
precision rescaling between assets with different decimals.
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
	ErrDivisionByZero   = errors.New("division by zero")
	ErrConversionFailed = errors.New("conversion failed")
)

// MulDivDown computes a * b / denominator truncated toward zero. This is the
// single rounding primitive for all valuation math: every conversion rounds
// down so repeated conversions can never mint value out of rounding.
func MulDivDown(a, b, denominator sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() || denominator.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if denominator.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	if a.IsNegative() || b.IsNegative() || denominator.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return a.Mul(b).Quo(denominator), nil
}

// PowerOfTen returns 10^exp as an Int. exp must be within token decimals range.
func PowerOfTen(exp uint8) (sdkmath.Int, error) {
	if exp > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, exp)
	}
	result := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		result = result.Mul(ten)
	}
	return result, nil
}

// ChangeDecimals rescales an amount from one decimal precision to another,
// truncating when scaling down.
func ChangeDecimals(amount sdkmath.Int, from, to uint8) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if from > 18 || to > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: from=%d to=%d", ErrInvalidPrecision, from, to)
	}
	if from == to {
		return amount, nil
	}
	if to > from {
		factor, err := PowerOfTen(to - from)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		return amount.Mul(factor), nil
	}
	factor, err := PowerOfTen(from - to)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amount.Quo(factor), nil
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling.
// Display-path only; never feed the result back into accounting math.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}
