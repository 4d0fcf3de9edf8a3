package cellar

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/cellar-network/cvm/internal/adaptors"
	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/pricerouter"
	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/registry"
	"github.com/cellar-network/cvm/internal/types"
)

const (
	governance = "gov"
	strategist = "strat"
	vaultAcct  = "vault"
)

var (
	usdc = types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
	atom = types.Asset{Denom: "uatom", Symbol: "ATOM", Decimals: 6}
)

type stubFeed struct {
	answer    sdkmath.Int
	updatedAt time.Time
}

func (f *stubFeed) LatestRoundData(ctx context.Context) (sdkmath.Int, time.Time, error) {
	return f.answer, f.updatedAt, nil
}

type cellarEnv struct {
	ring   *auth.Ring
	world  *protocols.World
	reg    *registry.Registry
	router *pricerouter.Router
	vault  *Cellar
	now    time.Time

	usdcFeed *stubFeed
	atomFeed *stubFeed

	holdingID types.PositionID
	lendingID types.PositionID
	debtID    types.PositionID
}

// advance moves the shared clock and keeps the price feeds fresh.
func (e *cellarEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
	e.usdcFeed.updatedAt = e.now
	e.atomFeed.updatedAt = e.now
}

func newCellarEnv(t *testing.T) *cellarEnv {
	t.Helper()
	ctx := context.Background()

	env := &cellarEnv{now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return env.now }

	env.ring = auth.NewRing()
	env.ring.Grant(governance, auth.RoleGovernance)
	env.ring.Grant(strategist, auth.RoleStrategist)

	env.world = protocols.NewWorld()
	env.world.AddLendingMarket(protocols.NewLendingMarket("usdc-main", usdc, env.world.Bank))

	env.router = pricerouter.New(env.ring, env.world, pricerouter.Config{MinEditDelay: time.Hour, ToleranceBps: 200})
	env.router.SetClock(clock)
	env.usdcFeed = &stubFeed{answer: sdkmath.NewInt(100_000_000), updatedAt: env.now}
	env.atomFeed = &stubFeed{answer: sdkmath.NewInt(400_000_000), updatedAt: env.now}
	env.router.RegisterFeed("usdc-usd", env.usdcFeed)
	env.router.RegisterFeed("atom-usd", env.atomFeed)

	feedSettings := func(source string) types.AssetSettings {
		return types.AssetSettings{
			Derivative: types.DerivativeFeed,
			Source:     source,
			Feed: &types.FeedSettings{
				Heartbeat: 24 * time.Hour,
				MinAnswer: sdkmath.OneInt(),
				MaxAnswer: sdkmath.NewInt(1_000_000_000_000),
			},
		}
	}
	require.NoError(t, env.router.AddAsset(ctx, governance, usdc, feedSettings("usdc-usd"), sdkmath.NewInt(100_000_000)))
	require.NoError(t, env.router.AddAsset(ctx, governance, atom, feedSettings("atom-usd"), sdkmath.NewInt(400_000_000)))

	env.reg = registry.New(env.ring)
	env.reg.RegisterAdaptor(adaptors.NewHoldingAdaptor(env.world, map[string]types.Asset{usdc.Denom: usdc, atom.Denom: atom}))
	env.reg.RegisterAdaptor(adaptors.NewLendingAdaptor(env.world))
	env.reg.RegisterAdaptor(adaptors.NewDebtAdaptor(env.world))
	env.reg.RegisterAdaptor(adaptors.NewAMMAdaptor(env.world))
	for _, id := range []string{"holding", "lending", "lending_debt", "amm_lp"} {
		require.NoError(t, env.reg.TrustAdaptor(governance, id))
	}

	var err error
	env.holdingID, err = env.reg.TrustPosition(governance, "holding", json.RawMessage(`{"denom":"uusdc"}`))
	require.NoError(t, err)
	env.lendingID, err = env.reg.TrustPosition(governance, "lending", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)
	env.debtID, err = env.reg.TrustPosition(governance, "lending_debt", json.RawMessage(`{"market_id":"usdc-main"}`))
	require.NoError(t, err)

	env.vault, err = New(env.ring, env.reg, env.router, env.world, Config{
		Name:               "test",
		Account:            vaultAcct,
		BaseAsset:          usdc,
		ShareLockPeriod:    10 * time.Minute,
		MinimumSeedDeposit: sdkmath.NewInt(1_000_000),
	})
	require.NoError(t, err)
	env.vault.SetClock(clock)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.holdingID))
	require.NoError(t, env.vault.AddPosition(strategist, 0, env.holdingID))
	require.NoError(t, env.vault.SetHoldingPosition(strategist, env.holdingID))
	return env
}

func (e *cellarEnv) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	require.NoError(t, e.world.Bank.Mint(account, usdc.Denom, sdkmath.NewInt(amount)))
}

func TestDepositSeedMinimum(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 2_000_000)

	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(500_000))
	require.ErrorIs(t, err, ErrBelowMinimumSeed)
	require.True(t, env.vault.TotalShares().IsZero())

	minted, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), minted)
	require.Equal(t, minted, env.vault.ShareBalance("alice"))
	require.Equal(t, sdkmath.NewInt(1_000_000), env.world.Bank.Balance(vaultAcct, usdc.Denom))
}

func TestDepositMintsProportionalShares(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	env.fund(t, "bob", 1_000_000)

	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// NAV doubles through external yield landing in the holding position.
	env.fund(t, vaultAcct, 1_000_000)
	total, err := env.vault.TotalAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(2_000_000), total)

	minted, err := env.vault.Deposit(ctx, "bob", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500_000), minted)
}

func TestShareLockBlocksEarlyRedemption(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)

	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	_, err = env.vault.Redeem(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrSharesLocked)

	env.advance(11 * time.Minute)
	assets, err := env.vault.Redeem(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), assets)
	require.Equal(t, sdkmath.NewInt(1_000_000), env.world.Bank.Balance("alice", usdc.Denom))
	require.True(t, env.vault.TotalShares().IsZero())
}

func TestRedeemMoreThanHeld(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	env.advance(11 * time.Minute)

	_, err = env.vault.Redeem(ctx, "alice", sdkmath.NewInt(2_000_000))
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestWithdrawBurnsSharesRoundedUp(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Yield pushes NAV to 1_500_000 over 1_000_000 shares.
	env.fund(t, vaultAcct, 500_000)
	env.advance(11 * time.Minute)

	// 1000 assets needs ceil(1000 * 1_000_000 / 1_500_000) = 667 shares.
	burned, err := env.vault.Withdraw(ctx, "alice", sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(667), burned)
	require.Equal(t, sdkmath.NewInt(1000), env.world.Bank.Balance("alice", usdc.Denom))
	require.Equal(t, sdkmath.NewInt(999_333), env.vault.ShareBalance("alice"))
}

func TestNAVSubtractsDebtPositions(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.lendingID))
	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.debtID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, env.lendingID))
	require.NoError(t, env.vault.AddPosition(strategist, 0, env.debtID))

	receipt, err := env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "supply", Payload: json.RawMessage(`{"amount":"400000"}`)},
		{PositionID: env.debtID, Action: "borrow", Payload: json.RawMessage(`{"amount":"100000"}`)},
	})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Equal(t, sdkmath.NewInt(1_000_000), receipt.TotalAssetsBefore)
	require.Equal(t, sdkmath.NewInt(1_000_000), receipt.TotalAssetsAfter)

	// Holding 700_000 + supplied 400_000 - borrowed 100_000.
	total, err := env.vault.TotalAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), total)

	views, err := env.vault.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)
	require.False(t, views[0].IsDebt)
	require.True(t, views[2].IsDebt)
	require.Equal(t, sdkmath.NewInt(100_000), views[2].Balance)
}

func TestRebalanceRollsBackOnFailedCall(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.lendingID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, env.lendingID))

	var receipts []types.RebalanceReceipt
	env.vault.SetReceiptSink(func(r types.RebalanceReceipt) { receipts = append(receipts, r) })

	receipt, err := env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "supply", Payload: json.RawMessage(`{"amount":"400000"}`)},
		{PositionID: env.lendingID, Action: "withdraw", Payload: json.RawMessage(`{"amount":"9000000"}`)},
	})
	require.ErrorIs(t, err, ErrRebalanceCallFailed)
	require.False(t, receipt.Success)

	// The first call's supply was rolled back with the failed batch.
	require.Equal(t, sdkmath.NewInt(1_000_000), env.world.Bank.Balance(vaultAcct, usdc.Denom))
	market, err := env.world.LendingMarket("usdc-main")
	require.NoError(t, err)
	require.True(t, market.SupplyBalance(vaultAcct).IsZero())

	require.Len(t, receipts, 1)
	require.False(t, receipts[0].Success)
	require.NotEmpty(t, receipts[0].Message)
}

func TestRebalanceRollsBackOnDeviationBreach(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// A funded AMM pool the vault can swap against.
	pool := protocols.NewAMMPool(1, usdc, atom, 30, env.world.Bank)
	env.world.AddAMMPool(pool)
	require.NoError(t, env.world.Bank.Mint("lp", usdc.Denom, sdkmath.NewInt(10_000_000)))
	require.NoError(t, env.world.Bank.Mint("lp", atom.Denom, sdkmath.NewInt(10_000_000)))
	_, err = pool.Join("lp", sdkmath.NewInt(10_000_000), sdkmath.NewInt(10_000_000))
	require.NoError(t, err)

	ammID, err := env.reg.TrustPosition(governance, "amm_lp", json.RawMessage(`{"pool_id":1}`))
	require.NoError(t, err)
	require.NoError(t, env.vault.AddPositionToCatalogue(governance, ammID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, ammID))

	// Swapping base asset out of the vault leaves the proceeds in a token no
	// active position tracks, so total assets collapse past the deviation cap.
	_, err = env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: ammID, Action: "swap", Payload: json.RawMessage(`{"denom_in":"uusdc","amount_in":"200000"}`)},
	})
	require.ErrorIs(t, err, ErrRebalanceDeviation)

	// Everything rolled back: vault balance and pool reserves untouched.
	require.Equal(t, sdkmath.NewInt(1_000_000), env.world.Bank.Balance(vaultAcct, usdc.Denom))
	reserveA, _, _ := pool.Reserves()
	require.Equal(t, sdkmath.NewInt(10_000_000), reserveA)
	require.True(t, env.world.Bank.Balance(vaultAcct, atom.Denom).IsZero())
}

func TestRebalanceRejectsDistrustedPosition(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.lendingID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, env.lendingID))
	require.NoError(t, env.reg.DistrustPosition(governance, env.lendingID))

	_, err = env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "supply", Payload: json.RawMessage(`{"amount":"100000"}`)},
	})
	require.ErrorIs(t, err, ErrPositionDistrusted)

	// The distrusted position still values, so NAV keeps working while the
	// strategist unwinds it.
	total, err := env.vault.TotalAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), total)
}

func TestRebalanceGating(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()

	_, err := env.vault.CallOnAdaptor(ctx, "nobody", []types.AdaptorCall{{PositionID: env.lendingID}})
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = env.vault.CallOnAdaptor(ctx, strategist, nil)
	require.ErrorIs(t, err, ErrEmptyRebalance)

	// Active but never catalogued positions cannot be called either; the
	// inactive gate fires first for a position that was never added.
	_, err = env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "supply", Payload: json.RawMessage(`{"amount":"1"}`)},
	})
	require.ErrorIs(t, err, ErrPositionNotActive)
}

func TestAddPositionGating(t *testing.T) {
	env := newCellarEnv(t)

	// Not catalogued yet.
	err := env.vault.AddPosition(strategist, 1, env.lendingID)
	require.ErrorIs(t, err, ErrPositionNotCatalogued)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.lendingID))

	err = env.vault.AddPosition("nobody", 1, env.lendingID)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	err = env.vault.AddPosition(strategist, 5, env.lendingID)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	require.NoError(t, env.vault.AddPosition(strategist, 1, env.lendingID))

	err = env.vault.AddPosition(strategist, 0, env.lendingID)
	require.ErrorIs(t, err, ErrPositionActive)

	// Catalogue removal requires deactivation first.
	err = env.vault.RemovePositionFromCatalogue(governance, env.lendingID)
	require.ErrorIs(t, err, ErrPositionActive)

	require.NoError(t, env.vault.RemovePosition(strategist, 1, false))
	require.NoError(t, env.vault.RemovePositionFromCatalogue(governance, env.lendingID))
	require.False(t, env.vault.IsCatalogued(env.lendingID))
}

func TestRemovePositionRequiresEmptyBalance(t *testing.T) {
	env := newCellarEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1_000_000)
	_, err := env.vault.Deposit(ctx, "alice", sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, env.vault.AddPositionToCatalogue(governance, env.lendingID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, env.lendingID))

	_, err = env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "supply", Payload: json.RawMessage(`{"amount":"100000"}`)},
	})
	require.NoError(t, err)

	err = env.vault.RemovePosition(strategist, 1, false)
	require.ErrorIs(t, err, ErrPositionNotEmpty)

	_, err = env.vault.CallOnAdaptor(ctx, strategist, []types.AdaptorCall{
		{PositionID: env.lendingID, Action: "withdraw", Payload: json.RawMessage(`{"amount":"100000"}`)},
	})
	require.NoError(t, err)
	require.NoError(t, env.vault.RemovePosition(strategist, 1, false))
}

func TestHoldingPositionProtections(t *testing.T) {
	env := newCellarEnv(t)

	// The holding position cannot be deactivated.
	err := env.vault.RemovePosition(strategist, 0, false)
	require.ErrorIs(t, err, ErrHoldingPosition)

	// A non-base-asset position cannot become the holding position.
	atomID, err := env.reg.TrustPosition(governance, "holding", json.RawMessage(`{"denom":"uatom"}`))
	require.NoError(t, err)
	require.NoError(t, env.vault.AddPositionToCatalogue(governance, atomID))
	require.NoError(t, env.vault.AddPosition(strategist, 1, atomID))

	err = env.vault.SetHoldingPosition(strategist, atomID)
	require.ErrorIs(t, err, ErrHoldingPosition)

	// An inactive position cannot either.
	err = env.vault.SetHoldingPosition(strategist, env.lendingID)
	require.ErrorIs(t, err, ErrPositionNotActive)

	require.Equal(t, env.holdingID, env.vault.HoldingPosition())
}

func TestCellarRequiresRegisteredBaseAsset(t *testing.T) {
	env := newCellarEnv(t)

	_, err := New(env.ring, env.reg, env.router, env.world, Config{
		Name:               "bad",
		Account:            "bad-acct",
		BaseAsset:          types.Asset{Denom: "unknown", Decimals: 6},
		MinimumSeedDeposit: sdkmath.OneInt(),
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
