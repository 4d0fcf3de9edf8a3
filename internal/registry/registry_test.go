package registry

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cellar-network/cvm/internal/adaptors"
	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/types"
)

const (
	governance = "gov"
	stranger   = "nobody"
)

func newTestRegistry(t *testing.T) (*Registry, *protocols.World) {
	t.Helper()
	ring := auth.NewRing()
	ring.Grant(governance, auth.RoleGovernance)

	world := protocols.NewWorld()
	usdc := types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
	world.AddLendingMarket(protocols.NewLendingMarket("usdc-main", usdc, world.Bank))

	reg := New(ring)
	reg.RegisterAdaptor(adaptors.NewHoldingAdaptor(world, map[string]types.Asset{usdc.Denom: usdc}))
	reg.RegisterAdaptor(adaptors.NewLendingAdaptor(world))
	return reg, world
}

func TestTrustAdaptorRequiresGovernance(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.TrustAdaptor(stranger, "lending")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	require.False(t, reg.IsAdaptorTrusted("lending"))

	require.NoError(t, reg.TrustAdaptor(governance, "lending"))
	require.True(t, reg.IsAdaptorTrusted("lending"))

	// Re-trusting is a no-op.
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	err = reg.TrustAdaptor(governance, "missing")
	require.ErrorIs(t, err, ErrAdaptorNotRegistered)
}

func TestDistrustAdaptorIsForwardOnly(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	id, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)

	require.NoError(t, reg.DistrustAdaptor(governance, "lending"))
	require.False(t, reg.IsAdaptorTrusted("lending"))

	// The already-trusted position record survives adaptor distrust.
	require.True(t, reg.IsPositionTrusted(id))

	// But no new positions can be trusted against the adaptor.
	_, err = reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"other"}`))
	require.ErrorIs(t, err, ErrAdaptorNotTrusted)
}

func TestTrustPositionGating(t *testing.T) {
	reg, _ := newTestRegistry(t)

	// Untrusted adaptor is rejected even when registered.
	_, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.ErrorIs(t, err, ErrAdaptorNotTrusted)

	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	_, err = reg.TrustPosition(stranger, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	id, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)
	require.Equal(t, types.PositionID(1), id)

	position, err := reg.Position(id)
	require.NoError(t, err)
	require.Equal(t, "lending", position.AdaptorID)
	require.Equal(t, "uusdc", position.Asset.Denom)
	require.False(t, position.IsDebt)
	require.False(t, position.Distrusted)
}

func TestTrustPositionRejectsDuplicates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	_, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)

	// Same pair again is an error, not a lookup.
	_, err = reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.ErrorIs(t, err, ErrPositionExists)

	// Formatting differences do not defeat deduplication.
	_, err = reg.TrustPosition(governance, "lending", json.RawMessage(`{ "market_id" : "usdc-main" }`))
	require.ErrorIs(t, err, ErrPositionExists)
}

func TestTrustPositionProbeFailureLeavesNoState(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	// Unknown market fails the adaptor probe.
	_, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"missing"}`))
	require.ErrorIs(t, err, ErrProbeFailed)

	// The failed probe consumed no id and left no record.
	require.Empty(t, reg.Positions())
	id, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)
	require.Equal(t, types.PositionID(1), id)
}

func TestDistrustPosition(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.TrustAdaptor(governance, "holding"))

	id, err := reg.TrustPosition(governance, "holding", json.RawMessage(`{"denom":"uusdc"}`))
	require.NoError(t, err)
	require.True(t, reg.IsPositionTrusted(id))

	require.ErrorIs(t, reg.DistrustPosition(stranger, id), auth.ErrUnauthorized)

	require.NoError(t, reg.DistrustPosition(governance, id))
	require.False(t, reg.IsPositionTrusted(id))

	// The record is kept so active positions can still be valued.
	position, err := reg.Position(id)
	require.NoError(t, err)
	require.True(t, position.Distrusted)

	err = reg.DistrustPosition(governance, types.PositionID(42))
	require.ErrorIs(t, err, ErrPositionNotTrusted)
}

func TestRestorePositionKeepsIDsMonotonic(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))

	restored := types.TrustedPosition{
		ID:           7,
		AdaptorID:    "lending",
		PositionData: json.RawMessage(`{"market_id":"usdc-main"}`),
		Asset:        types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6},
		TrustedAt:    time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, reg.RestorePosition(restored))
	require.True(t, reg.IsPositionTrusted(7))

	// Restoring the same id or pair twice fails.
	require.ErrorIs(t, reg.RestorePosition(restored), ErrPositionExists)

	// Fresh trust continues after the highest restored id.
	id, err := reg.TrustPosition(governance, "holding", json.RawMessage(`{"denom":"uusdc"}`))
	require.NoError(t, err)
	require.Equal(t, types.PositionID(8), id)
}

func TestRestoreAdaptorTrust(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.RestoreAdaptorTrust("lending"))
	require.True(t, reg.IsAdaptorTrusted("lending"))

	err := reg.RestoreAdaptorTrust("missing")
	require.ErrorIs(t, err, ErrAdaptorNotRegistered)
}

func TestRestoreDistrustedPositionStaysDistrusted(t *testing.T) {
	reg, _ := newTestRegistry(t)

	restored := types.TrustedPosition{
		ID:           3,
		AdaptorID:    "holding",
		PositionData: json.RawMessage(`{"denom":"uusdc"}`),
		Asset:        types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6},
		Distrusted:   true,
		TrustedAt:    time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, reg.RestorePosition(restored))
	require.False(t, reg.IsPositionTrusted(3))

	// The distrusted record still blocks its id from reassignment.
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))
	id, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)
	require.Equal(t, types.PositionID(4), id)
}

func TestTrustChangesReachPersistenceSinks(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var trustWrites []string
	var positionWrites []types.TrustedPosition
	reg.SetPersistenceSinks(
		func(adaptorID string, trusted bool) {
			trustWrites = append(trustWrites, fmt.Sprintf("%s=%t", adaptorID, trusted))
		},
		func(position types.TrustedPosition) {
			positionWrites = append(positionWrites, position)
		},
	)

	require.NoError(t, reg.TrustAdaptor(governance, "lending"))
	// A no-op re-trust writes nothing.
	require.NoError(t, reg.TrustAdaptor(governance, "lending"))
	require.NoError(t, reg.DistrustAdaptor(governance, "lending"))
	require.Equal(t, []string{"lending=true", "lending=false"}, trustWrites)

	require.NoError(t, reg.TrustAdaptor(governance, "lending"))
	id, err := reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)
	require.NoError(t, reg.DistrustPosition(governance, id))

	// Trust writes the full record; distrust rewrites it with the flag set.
	require.Len(t, positionWrites, 2)
	require.Equal(t, id, positionWrites[0].ID)
	require.False(t, positionWrites[0].Distrusted)
	require.Equal(t, id, positionWrites[1].ID)
	require.True(t, positionWrites[1].Distrusted)
}

func TestRestoreBypassesPersistenceSinks(t *testing.T) {
	reg, _ := newTestRegistry(t)

	sinkFired := false
	reg.SetPersistenceSinks(
		func(string, bool) { sinkFired = true },
		func(types.TrustedPosition) { sinkFired = true },
	)

	require.NoError(t, reg.RestoreAdaptorTrust("lending"))
	require.NoError(t, reg.RestorePosition(types.TrustedPosition{
		ID:           2,
		AdaptorID:    "lending",
		PositionData: json.RawMessage(`{"market_id":"usdc-main"}`),
		Asset:        types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6},
		TrustedAt:    time.Now().Add(-time.Hour),
	}))

	// Replay loads rows that are already in the database.
	require.False(t, sinkFired)
}
