/*

This file contains the stock extension sources. The staked-derivative
extension prices a liquid-staking token off its underlying asset times the
staking pool's exchange rate, which is how wrapped/staked assets compose
onto direct feeds without their own oracle.

*/

package pricerouter

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

// ExchangeRateReader exposes a staking pool's underlying-per-derivative rate.
type ExchangeRateReader interface {
	ExchangeRate() sdkmath.LegacyDec
}

// StakedAssetExtension prices a derivative as underlyingPrice · exchangeRate,
// truncated to price precision.
type StakedAssetExtension struct {
	UnderlyingDenom string
	Rate            ExchangeRateReader
}

// NewStakedAssetExtension builds the extension for one staking pool.
func NewStakedAssetExtension(underlyingDenom string, rate ExchangeRateReader) *StakedAssetExtension {
	return &StakedAssetExtension{UnderlyingDenom: underlyingDenom, Rate: rate}
}

// PriceInUSD implements Extension.
func (e *StakedAssetExtension) PriceInUSD(ctx context.Context, pricer Pricer, asset types.Asset) (sdkmath.Int, error) {
	underlyingPrice, err := pricer.GetPriceInUSD(ctx, e.UnderlyingDenom)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	rate := e.Rate.ExchangeRate()
	if rate.IsNil() || !rate.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: exchange rate %s", ErrInvalidPrice, rate)
	}
	return sdkmath.LegacyNewDecFromInt(underlyingPrice).Mul(rate).TruncateInt(), nil
}
