package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestMulDivDownTruncates(t *testing.T) {
	result, err := MulDivDown(sdkmath.NewInt(7), sdkmath.NewInt(3), sdkmath.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10), result) // 21/2 = 10.5 -> 10

	result, err = MulDivDown(sdkmath.NewInt(10), sdkmath.NewInt(10), sdkmath.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(25), result)
}

func TestMulDivDownRejectsBadInputs(t *testing.T) {
	_, err := MulDivDown(sdkmath.Int{}, sdkmath.OneInt(), sdkmath.OneInt())
	require.ErrorIs(t, err, ErrAmountNil)

	_, err = MulDivDown(sdkmath.OneInt(), sdkmath.OneInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MulDivDown(sdkmath.NewInt(-1), sdkmath.OneInt(), sdkmath.OneInt())
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestPowerOfTen(t *testing.T) {
	one, err := PowerOfTen(0)
	require.NoError(t, err)
	require.Equal(t, sdkmath.OneInt(), one)

	million, err := PowerOfTen(6)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), million)

	_, err = PowerOfTen(19)
	require.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestChangeDecimals(t *testing.T) {
	// Scaling up is exact.
	up, err := ChangeDecimals(sdkmath.NewInt(5), 6, 8)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500), up)

	// Scaling down truncates.
	down, err := ChangeDecimals(sdkmath.NewInt(199), 8, 6)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1), down)

	same, err := ChangeDecimals(sdkmath.NewInt(42), 6, 6)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(42), same)

	_, err = ChangeDecimals(sdkmath.NewInt(-1), 6, 8)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestSDKIntToFloat64(t *testing.T) {
	value, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.InDelta(t, 1.5, value, 1e-9)

	_, err = SDKIntToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)
}
