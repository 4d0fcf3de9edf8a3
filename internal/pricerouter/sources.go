/*

This file contains the source-variant resolution behind the router's read
path: direct feeds with staleness and bounds enforcement, pool-derived LP
valuation from reserves, and delegated extension sources. Adding a variant
means adding a case here; the router core never changes.

*/

package pricerouter

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
	"github.com/cellar-network/cvm/internal/utils"
)

// priceWithSettings prices an asset through explicit settings. Used by the
// live read path and by the registration/edit sanity checks.
func (r *Router) priceWithSettings(ctx context.Context, asset types.Asset, settings types.AssetSettings, depth int) (sdkmath.Int, error) {
	if depth > maxSourceDepth {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: at %s", ErrRecursionDepth, asset.Denom)
	}
	switch settings.Derivative {
	case types.DerivativeFeed:
		return r.priceFromFeed(ctx, asset, settings, depth)
	case types.DerivativePool:
		return r.priceFromPool(ctx, settings, depth)
	case types.DerivativeExtension:
		return r.priceFromExtension(ctx, asset, settings, depth)
	default:
		return sdkmath.ZeroInt(), fmt.Errorf("%w: unknown derivative kind %q", ErrInvalidSettings, settings.Derivative)
	}
}

// priceFromFeed reads the feed, enforces heartbeat and bounds, and re-bases
// quote-denominated answers through the quote asset's own USD price.
func (r *Router) priceFromFeed(ctx context.Context, asset types.Asset, settings types.AssetSettings, depth int) (sdkmath.Int, error) {
	reader, ok := r.feeds[settings.Source]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: feed %s", ErrSourceNotRegistered, settings.Source)
	}
	feed := settings.Feed

	answer, updatedAt, err := reader.LatestRoundData(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("feed %s read failed: %w", settings.Source, err)
	}
	if answer.IsNil() || !answer.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: feed %s answered %s", ErrInvalidPrice, settings.Source, answer)
	}

	age := r.clock().Sub(updatedAt)
	if age > feed.Heartbeat {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: feed %s age %s exceeds heartbeat %s",
			ErrStalePrice, settings.Source, age, feed.Heartbeat)
	}
	if answer.LT(feed.MinAnswer) || answer.GT(feed.MaxAnswer) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: feed %s answered %s outside [%s, %s]",
			ErrPriceOutOfBounds, settings.Source, answer, feed.MinAnswer, feed.MaxAnswer)
	}

	if feed.QuoteDenom == "" {
		return answer, nil
	}
	// In-quote feed: answer is priced in the quote asset's units at price
	// precision; re-base through the quote asset's USD price.
	quotePrice, err := r.priceInUSD(ctx, feed.QuoteDenom, depth+1)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("quote asset %s for feed %s: %w", feed.QuoteDenom, settings.Source, err)
	}
	return utils.MulDivDown(answer, quotePrice, types.OnePriceUnit)
}

// priceFromPool values one LP share as its proportional claim on reserves:
// (reserveA·priceA + reserveB·priceB) / totalShares, everything truncated.
func (r *Router) priceFromPool(ctx context.Context, settings types.AssetSettings, depth int) (sdkmath.Int, error) {
	if r.pools == nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: no pool provider installed", ErrSourceNotRegistered)
	}
	assetA, assetB, reserveA, reserveB, totalShares, err := r.pools.PoolReserves(settings.Pool.PoolID)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("pool %d: %w", settings.Pool.PoolID, err)
	}
	if totalShares.IsNil() || !totalShares.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: pool %d has no outstanding shares", ErrInvalidPrice, settings.Pool.PoolID)
	}

	valueA, err := r.reserveValueUSD(ctx, assetA, reserveA, depth)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	valueB, err := r.reserveValueUSD(ctx, assetB, reserveB, depth)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	shareScale, err := utils.PowerOfTen(r.lpShareDecimals(settings.Pool.PoolID))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MulDivDown(valueA.Add(valueB), shareScale, totalShares)
}

// reserveValueUSD converts a raw reserve amount into 8-decimal USD.
func (r *Router) reserveValueUSD(ctx context.Context, asset types.Asset, reserve sdkmath.Int, depth int) (sdkmath.Int, error) {
	price, err := r.priceInUSD(ctx, asset.Denom, depth+1)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("pool side %s: %w", asset.Denom, err)
	}
	scale, err := utils.PowerOfTen(asset.Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MulDivDown(reserve, price, scale)
}

// lpShareDecimals resolves the registered LP asset's decimals, falling back
// to the pool engine's share precision when the LP token is being priced
// during its own registration.
func (r *Router) lpShareDecimals(poolID uint64) uint8 {
	decimals := uint8(6)
	r.assets.Range(func(_ string, reg registeredAsset) bool {
		if reg.settings.Derivative == types.DerivativePool && reg.settings.Pool.PoolID == poolID {
			decimals = reg.asset.Decimals
			return false
		}
		return true
	})
	return decimals
}

// priceFromExtension delegates to the registered extension, handing it a
// depth-tracking pricer so composed sources cannot recurse unboundedly.
func (r *Router) priceFromExtension(ctx context.Context, asset types.Asset, settings types.AssetSettings, depth int) (sdkmath.Int, error) {
	ext, ok := r.extensions[settings.Extension.Key]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: extension %s", ErrSourceNotRegistered, settings.Extension.Key)
	}
	price, err := ext.PriceInUSD(ctx, &depthPricer{router: r, depth: depth + 1}, asset)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("extension %s: %w", settings.Extension.Key, err)
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: extension %s answered %s", ErrInvalidPrice, settings.Extension.Key, price)
	}
	return price, nil
}

// depthPricer carries recursion depth through extension callbacks.
type depthPricer struct {
	router *Router
	depth  int
}

func (p *depthPricer) GetPriceInUSD(ctx context.Context, denom string) (sdkmath.Int, error) {
	return p.router.priceInUSD(ctx, denom, p.depth)
}
