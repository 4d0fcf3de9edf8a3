package oracle

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/types"
)

const (
	governance = "gov"
	keeper     = "keeper"
)

// stubVault is a controllable Vault for tests.
type stubVault struct {
	totalAssets sdkmath.Int
	totalShares sdkmath.Int
	err         error
}

func (v *stubVault) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	if v.err != nil {
		return sdkmath.ZeroInt(), v.err
	}
	return v.totalAssets, nil
}

func (v *stubVault) TotalShares() sdkmath.Int { return v.totalShares }

func (v *stubVault) BaseAsset() types.Asset {
	return types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
}

type oracleEnv struct {
	oracle *Oracle
	vault  *stubVault
	now    time.Time
}

func newOracleEnv(t *testing.T) *oracleEnv {
	t.Helper()
	ring := auth.NewRing()
	ring.Grant(governance, auth.RoleGovernance)
	ring.Grant(keeper, auth.RoleKeeper)

	env := &oracleEnv{
		vault: &stubVault{
			totalAssets: sdkmath.NewInt(1_000_000),
			totalShares: sdkmath.NewInt(1_000_000),
		},
		now: time.Unix(1_700_000_000, 0),
	}
	var err error
	env.oracle, err = New(ring, env.vault, Config{
		Heartbeat:           time.Hour,
		GracePeriod:         10 * time.Minute,
		AllowedDeviationBps: 300,
		ObservationsToKeep:  5,
	})
	require.NoError(t, err)
	env.oracle.SetClock(func() time.Time { return env.now })
	return env
}

func TestNewValidatesConfig(t *testing.T) {
	ring := auth.NewRing()
	vault := &stubVault{totalAssets: sdkmath.ZeroInt(), totalShares: sdkmath.ZeroInt()}

	_, err := New(ring, nil, Config{Heartbeat: time.Hour, AllowedDeviationBps: 300})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ring, vault, Config{Heartbeat: 0, AllowedDeviationBps: 300})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ring, vault, Config{Heartbeat: time.Hour, AllowedDeviationBps: 0})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFirstUpkeepIsAlwaysDue(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	due, reason, err := env.oracle.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.True(t, due)
	require.Equal(t, "no observations yet", reason)

	observation, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)
	require.Equal(t, int64(1), observation.ObservationID)
	require.Equal(t, sdkmath.NewInt(1_000_000), observation.SharePrice)
}

func TestPerformUpkeepRequiresKeeperRole(t *testing.T) {
	env := newOracleEnv(t)

	_, err := env.oracle.PerformUpkeep(context.Background(), "nobody")
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = env.oracle.PerformUpkeep(context.Background(), governance)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestHeartbeatTriggersUpkeep(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	_, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)

	due, _, err := env.oracle.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.False(t, due)

	env.now = env.now.Add(61 * time.Minute)
	due, _, err = env.oracle.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.True(t, due)
}

func TestPriceMoveTriggersEarlyUpkeep(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	_, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)

	// A 2% move is past half the 300 bps deviation allowance.
	env.vault.totalAssets = sdkmath.NewInt(1_020_000)
	env.now = env.now.Add(time.Minute)
	due, reason, err := env.oracle.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.True(t, due)
	require.Contains(t, reason, "deviation")
}

func TestDeviationBreachTripsKillSwitch(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	_, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)

	// A 10% jump breaches the 300 bps allowance; the sample is rejected.
	env.vault.totalAssets = sdkmath.NewInt(1_100_000)
	env.now = env.now.Add(time.Minute)
	_, err = env.oracle.PerformUpkeep(ctx, keeper)
	require.ErrorIs(t, err, ErrDeviationBreached)
	require.True(t, env.oracle.KillSwitchActive())
	require.Len(t, env.oracle.Observations(), 1)

	// Tripped oracle reads unsafe and refuses further upkeep.
	require.False(t, env.oracle.Latest().SafeToUse)
	_, err = env.oracle.PerformUpkeep(ctx, keeper)
	require.ErrorIs(t, err, ErrKillSwitchActive)

	due, reason, err := env.oracle.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.False(t, due)
	require.Equal(t, "kill switch active", reason)
}

func TestResetKillSwitchIsGovernanceOnly(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	_, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)
	env.vault.totalAssets = sdkmath.NewInt(2_000_000)
	_, err = env.oracle.PerformUpkeep(ctx, keeper)
	require.ErrorIs(t, err, ErrDeviationBreached)

	// The keeper that tripped it cannot clear it.
	require.ErrorIs(t, env.oracle.ResetKillSwitch(keeper), auth.ErrUnauthorized)

	require.NoError(t, env.oracle.ResetKillSwitch(governance))
	require.False(t, env.oracle.KillSwitchActive())

	// After the reset the new level is accepted as the next baseline only if
	// it is re-observed within tolerance; a still-deviant price trips again.
	_, err = env.oracle.PerformUpkeep(ctx, keeper)
	require.ErrorIs(t, err, ErrDeviationBreached)
	require.True(t, env.oracle.KillSwitchActive())
}

func TestLatestFailsClosedOnStaleness(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	require.False(t, env.oracle.Latest().SafeToUse)

	observation, err := env.oracle.PerformUpkeep(ctx, keeper)
	require.NoError(t, err)

	cached := env.oracle.Latest()
	require.True(t, cached.SafeToUse)
	require.Equal(t, observation.SharePrice, cached.SharePrice)
	require.Equal(t, observation.Timestamp, cached.UpdatedAt)

	// Within heartbeat plus grace the cache stays safe.
	env.now = env.now.Add(65 * time.Minute)
	require.True(t, env.oracle.Latest().SafeToUse)

	// Past it the cache fails closed.
	env.now = env.now.Add(10 * time.Minute)
	require.False(t, env.oracle.Latest().SafeToUse)
}

func TestEmptyVaultReadsParPrice(t *testing.T) {
	env := newOracleEnv(t)
	env.vault.totalAssets = sdkmath.ZeroInt()
	env.vault.totalShares = sdkmath.ZeroInt()

	observation, err := env.oracle.PerformUpkeep(context.Background(), keeper)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), observation.SharePrice)
}

func TestObservationHistoryIsBounded(t *testing.T) {
	env := newOracleEnv(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := env.oracle.PerformUpkeep(ctx, keeper)
		require.NoError(t, err)
		env.now = env.now.Add(time.Minute)
	}

	observations := env.oracle.Observations()
	require.Len(t, observations, 5)
	require.Equal(t, int64(4), observations[0].ObservationID)
	require.Equal(t, int64(8), observations[len(observations)-1].ObservationID)
}
