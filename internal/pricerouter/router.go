/*

This file contains the price router core: asset registration with sanity
validation, and the read path converting any registered asset pair through
8-decimal USD prices. Every conversion truncates toward zero and every
failure is a hard error; the router never serves a stale or best-effort
price.

*/

package pricerouter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/types"
	"github.com/cellar-network/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAssetNotRegistered  = errors.New("asset is not registered")
	ErrAssetExists         = errors.New("asset is already registered")
	ErrSourceNotRegistered = errors.New("price source is not registered")
	ErrInvalidSettings     = errors.New("asset settings are invalid")
	ErrStalePrice          = errors.New("price source answer is stale")
	ErrPriceOutOfBounds    = errors.New("price source answer is out of bounds")
	ErrPriceSanity         = errors.New("price deviates from expected beyond tolerance")
	ErrRecursionDepth      = errors.New("price source recursion too deep")
	ErrInvalidPrice        = errors.New("price source answer is invalid")
)

var routerLogger = logger.GetForComponent("price_router")

// maxSourceDepth bounds nested source resolution (pool and extension sources
// price through other registered assets).
const maxSourceDepth = 4

// FeedReader is the direct-feed price source capability: the latest answer
// in 8-decimal USD (or quote-asset units) plus its update time.
type FeedReader interface {
	LatestRoundData(ctx context.Context) (answer sdkmath.Int, updatedAt time.Time, err error)
}

// PoolProvider resolves the AMM pools backing pool-derived sources.
type PoolProvider interface {
	PoolReserves(poolID uint64) (assetA, assetB types.Asset, reserveA, reserveB, totalShares sdkmath.Int, err error)
}

// Extension is a delegated price source composing other reads into the same
// (price, decimals) shape the router expects.
type Extension interface {
	PriceInUSD(ctx context.Context, pricer Pricer, asset types.Asset) (sdkmath.Int, error)
}

// Pricer is the read surface extensions get back into the router with.
type Pricer interface {
	GetPriceInUSD(ctx context.Context, denom string) (sdkmath.Int, error)
}

// Config carries the router's tunables.
type Config struct {
	// MinEditDelay is the mandatory wait between staging and committing a
	// price-source edit.
	MinEditDelay time.Duration
	// ToleranceBps bounds how far a candidate source's answer may deviate
	// from the caller-supplied expected price (basis points).
	ToleranceBps int64
}

type registeredAsset struct {
	asset    types.Asset
	settings types.AssetSettings
}

// Router is the central valuation engine. The asset-settings map is shared
// read-heavy state across every vault pointing at this instance; reads are
// lock-free and edits serialize through the edit mutex.
type Router struct {
	ring  *auth.Ring
	cfg   Config
	clock func() time.Time

	assets *xsync.Map[string, registeredAsset]

	// install-time source tables; written only during wiring
	feeds      map[string]FeedReader
	extensions map[string]Extension
	pools      PoolProvider

	editMu  sync.Mutex
	pending map[string]types.PendingEdit

	// persistence write-through; installed at wiring time
	assetSink       func(asset types.Asset, settings types.AssetSettings)
	editStagedSink  func(edit types.PendingEdit)
	editClearedSink func(denom string)
}

// New creates a router authorized by the given role ring.
func New(ring *auth.Ring, pools PoolProvider, cfg Config) *Router {
	if cfg.MinEditDelay <= 0 {
		cfg.MinEditDelay = 7 * 24 * time.Hour
	}
	if cfg.ToleranceBps <= 0 {
		cfg.ToleranceBps = 200
	}
	return &Router{
		ring:       ring,
		cfg:        cfg,
		clock:      time.Now,
		assets:     xsync.NewMap[string, registeredAsset](),
		feeds:      make(map[string]FeedReader),
		extensions: make(map[string]Extension),
		pools:      pools,
		pending:    make(map[string]types.PendingEdit),
	}
}

// SetClock overrides the time source.
func (r *Router) SetClock(clock func() time.Time) {
	r.clock = clock
}

// SetPersistenceSinks installs callbacks invoked after registrations and
// edit-queue changes commit. Used to write pricing state through to
// persistence without coupling the router to the database; startup replay
// through RestoreAsset and RestorePendingEdit bypasses them. Wiring-time only.
func (r *Router) SetPersistenceSinks(onAsset func(types.Asset, types.AssetSettings), onEditStaged func(types.PendingEdit), onEditCleared func(denom string)) {
	r.assetSink = onAsset
	r.editStagedSink = onEditStaged
	r.editClearedSink = onEditCleared
}

func (r *Router) emitAsset(asset types.Asset, settings types.AssetSettings) {
	if r.assetSink != nil {
		r.assetSink(asset, settings)
	}
}

func (r *Router) emitEditStaged(edit types.PendingEdit) {
	if r.editStagedSink != nil {
		r.editStagedSink(edit)
	}
}

func (r *Router) emitEditCleared(denom string) {
	if r.editClearedSink != nil {
		r.editClearedSink(denom)
	}
}

// RegisterFeed installs a feed reader under a key. Wiring-time only.
func (r *Router) RegisterFeed(key string, reader FeedReader) {
	r.feeds[key] = reader
}

// RegisterExtension installs an extension source under a key. Wiring-time only.
func (r *Router) RegisterExtension(key string, ext Extension) {
	r.extensions[key] = ext
}

// AddAsset registers a brand-new asset with its chosen price source.
// The source must answer within tolerance of expectedPrice before anything
// is committed; a misconfigured source never goes live.
func (r *Router) AddAsset(ctx context.Context, caller string, asset types.Asset, settings types.AssetSettings, expectedPrice sdkmath.Int) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if asset.Denom == "" {
		return fmt.Errorf("%w: empty denom", ErrInvalidSettings)
	}
	if asset.Decimals > 18 {
		return fmt.Errorf("%w: decimals %d", ErrInvalidSettings, asset.Decimals)
	}
	if _, exists := r.assets.Load(asset.Denom); exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.Denom)
	}
	if err := r.validateSettings(settings); err != nil {
		return err
	}
	if err := r.sanityCheck(ctx, asset, settings, expectedPrice); err != nil {
		return err
	}

	r.assets.Store(asset.Denom, registeredAsset{asset: asset, settings: settings})
	r.emitAsset(asset, settings)
	routerLogger.Info().
		Str("denom", asset.Denom).
		Str("derivative", string(settings.Derivative)).
		Str("source", settings.Source).
		Msg("Asset registered with price source")
	return nil
}

// RestoreAsset reinstates a persisted registration while replaying the
// database at startup. Settings are shape-validated but not re-priced; the
// sanity gate already passed when the registration was first committed.
// Wiring-time only.
func (r *Router) RestoreAsset(asset types.Asset, settings types.AssetSettings) error {
	if asset.Denom == "" {
		return fmt.Errorf("%w: empty denom", ErrInvalidSettings)
	}
	if _, exists := r.assets.Load(asset.Denom); exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.Denom)
	}
	if err := r.validateSettings(settings); err != nil {
		return err
	}
	r.assets.Store(asset.Denom, registeredAsset{asset: asset, settings: settings})
	routerLogger.Debug().Str("denom", asset.Denom).Msg("Asset registration restored from persistence")
	return nil
}

// RestorePendingEdit reinstates a staged edit at startup, preserving its
// original staging time so the review delay keeps counting. Wiring-time only.
func (r *Router) RestorePendingEdit(edit types.PendingEdit) error {
	if _, ok := r.assets.Load(edit.Denom); !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, edit.Denom)
	}
	if err := r.validateSettings(edit.Settings); err != nil {
		return err
	}
	r.editMu.Lock()
	defer r.editMu.Unlock()
	if _, exists := r.pending[edit.Denom]; exists {
		return fmt.Errorf("%w: %s", ErrEditPending, edit.Denom)
	}
	r.pending[edit.Denom] = edit
	routerLogger.Debug().Str("denom", edit.Denom).Msg("Pending edit restored from persistence")
	return nil
}

// Asset returns the registered metadata for a denom.
func (r *Router) Asset(denom string) (types.Asset, error) {
	reg, ok := r.assets.Load(denom)
	if !ok {
		return types.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotRegistered, denom)
	}
	return reg.asset, nil
}

// Settings returns the live settings for a denom.
func (r *Router) Settings(denom string) (types.AssetSettings, error) {
	reg, ok := r.assets.Load(denom)
	if !ok {
		return types.AssetSettings{}, fmt.Errorf("%w: %s", ErrAssetNotRegistered, denom)
	}
	return reg.settings, nil
}

// Assets returns every registered asset.
func (r *Router) Assets() []types.Asset {
	out := make([]types.Asset, 0)
	r.assets.Range(func(_ string, reg registeredAsset) bool {
		out = append(out, reg.asset)
		return true
	})
	return out
}

// GetPriceInUSD returns the asset's price in 8-decimal USD.
func (r *Router) GetPriceInUSD(ctx context.Context, denom string) (sdkmath.Int, error) {
	return r.priceInUSD(ctx, denom, 0)
}

// GetValue converts an amount of one registered asset into another,
// truncating toward zero. The cross rate is
// amount * priceFrom * 10^decTo / (priceTo * 10^decFrom).
func (r *Router) GetValue(ctx context.Context, fromDenom string, amount sdkmath.Int, toDenom string) (sdkmath.Int, error) {
	if amount.IsNil() || amount.IsNegative() {
		return sdkmath.ZeroInt(), utils.ErrAmountNegative
	}
	if fromDenom == toDenom {
		return amount, nil
	}
	fromAsset, err := r.Asset(fromDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	toAsset, err := r.Asset(toDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	priceFrom, err := r.priceInUSD(ctx, fromDenom, 0)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	priceTo, err := r.priceInUSD(ctx, toDenom, 0)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	scaleTo, err := utils.PowerOfTen(toAsset.Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	scaleFrom, err := utils.PowerOfTen(fromAsset.Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MulDivDown(amount.Mul(priceFrom), scaleTo, priceTo.Mul(scaleFrom))
}

// priceInUSD resolves the live settings and dispatches to the source variant.
func (r *Router) priceInUSD(ctx context.Context, denom string, depth int) (sdkmath.Int, error) {
	if depth > maxSourceDepth {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: at %s", ErrRecursionDepth, denom)
	}
	reg, ok := r.assets.Load(denom)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrAssetNotRegistered, denom)
	}
	return r.priceWithSettings(ctx, reg.asset, reg.settings, depth)
}

// sanityCheck prices an asset through candidate settings and rejects answers
// outside the tolerance band around expectedPrice. Shared by AddAsset and
// CompleteEditAsset so a misconfigured source is caught at both gates.
func (r *Router) sanityCheck(ctx context.Context, asset types.Asset, settings types.AssetSettings, expectedPrice sdkmath.Int) error {
	if expectedPrice.IsNil() || !expectedPrice.IsPositive() {
		return fmt.Errorf("%w: expected price must be positive", ErrInvalidPrice)
	}
	answer, err := r.priceWithSettings(ctx, asset, settings, 0)
	if err != nil {
		return err
	}
	diff := answer.Sub(expectedPrice).Abs()
	// diff / expected > tolerance  <=>  diff * 10000 > expected * toleranceBps
	if diff.Mul(sdkmath.NewInt(10_000)).GT(expectedPrice.Mul(sdkmath.NewInt(r.cfg.ToleranceBps))) {
		return fmt.Errorf("%w: got %s, expected %s (±%d bps)", ErrPriceSanity, answer, expectedPrice, r.cfg.ToleranceBps)
	}
	return nil
}

// validateSettings checks the settings payload shape against the installed
// source tables before any pricing is attempted.
func (r *Router) validateSettings(settings types.AssetSettings) error {
	switch settings.Derivative {
	case types.DerivativeFeed:
		if settings.Feed == nil || settings.Pool != nil || settings.Extension != nil {
			return fmt.Errorf("%w: feed derivative requires exactly feed settings", ErrInvalidSettings)
		}
		if _, ok := r.feeds[settings.Source]; !ok {
			return fmt.Errorf("%w: feed %s", ErrSourceNotRegistered, settings.Source)
		}
		if settings.Feed.Heartbeat <= 0 {
			return fmt.Errorf("%w: heartbeat must be positive", ErrInvalidSettings)
		}
		if settings.Feed.MinAnswer.IsNil() || settings.Feed.MaxAnswer.IsNil() ||
			settings.Feed.MinAnswer.IsNegative() || settings.Feed.MaxAnswer.LT(settings.Feed.MinAnswer) {
			return fmt.Errorf("%w: answer bounds are malformed", ErrInvalidSettings)
		}
	case types.DerivativePool:
		if settings.Pool == nil || settings.Feed != nil || settings.Extension != nil {
			return fmt.Errorf("%w: pool derivative requires exactly pool settings", ErrInvalidSettings)
		}
	case types.DerivativeExtension:
		if settings.Extension == nil || settings.Feed != nil || settings.Pool != nil {
			return fmt.Errorf("%w: extension derivative requires exactly extension settings", ErrInvalidSettings)
		}
		if _, ok := r.extensions[settings.Extension.Key]; !ok {
			return fmt.Errorf("%w: extension %s", ErrSourceNotRegistered, settings.Extension.Key)
		}
	default:
		return fmt.Errorf("%w: unknown derivative kind %q", ErrInvalidSettings, settings.Derivative)
	}
	return nil
}
