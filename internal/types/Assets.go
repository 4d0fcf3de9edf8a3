/*

This file contains the types for assets and their registered price sources,
which carry all the state the price router needs for valuation.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PriceDecimals is the number of decimals every USD price carries.
// A price of 1.00000000 USD is represented as the integer 100000000.
const PriceDecimals = 8

// OnePriceUnit is 10^PriceDecimals, the integer representation of 1 USD.
var OnePriceUnit = sdkmath.NewInt(100_000_000)

// Asset describes a fungible token the system can hold and value.
type Asset struct {
	Denom    string `json:"denom"`    // e.g., "uusdc"
	Symbol   string `json:"symbol"`   // e.g., "USDC"
	Decimals uint8  `json:"decimals"` // 0-18
}

// DerivativeKind selects which price source variant values an asset.
type DerivativeKind string

const (
	DerivativeFeed      DerivativeKind = "FEED"      // direct oracle feed
	DerivativePool      DerivativeKind = "POOL"      // AMM LP token priced from reserves
	DerivativeExtension DerivativeKind = "EXTENSION" // delegated to an extension source
)

// FeedSettings configures a direct-feed price source.
type FeedSettings struct {
	Heartbeat time.Duration `json:"heartbeat"`  // max age of the latest answer
	MinAnswer sdkmath.Int   `json:"min_answer"` // inclusive lower bound, 8-decimal USD
	MaxAnswer sdkmath.Int   `json:"max_answer"` // inclusive upper bound, 8-decimal USD
	// QuoteDenom, when set, marks the feed's answer as denominated in that
	// asset rather than USD (e.g. an in-ETH feed). The router re-bases the
	// answer through the quote asset's own USD price.
	QuoteDenom string `json:"quote_denom,omitempty"`
}

// PoolSettings configures a pool-derived price source for an LP share token.
type PoolSettings struct {
	PoolID uint64 `json:"pool_id"`
}

// ExtensionSettings configures an extension price source.
type ExtensionSettings struct {
	Key string `json:"key"` // key of the registered extension implementation
}

// AssetSettings binds an asset to exactly one price source variant.
// Exactly one of Feed, Pool, Extension must be populated, matching Derivative.
type AssetSettings struct {
	Derivative DerivativeKind     `json:"derivative"`
	Source     string             `json:"source"` // feed key, pool denom key, or extension key
	Feed       *FeedSettings      `json:"feed,omitempty"`
	Pool       *PoolSettings      `json:"pool,omitempty"`
	Extension  *ExtensionSettings `json:"extension,omitempty"`
}

// Equal reports whether two settings payloads are identical. Used by the
// two-phase edit protocol: the commit must match the staged payload exactly.
func (s AssetSettings) Equal(o AssetSettings) bool {
	if s.Derivative != o.Derivative || s.Source != o.Source {
		return false
	}
	if (s.Feed == nil) != (o.Feed == nil) {
		return false
	}
	if s.Feed != nil {
		if s.Feed.Heartbeat != o.Feed.Heartbeat ||
			!s.Feed.MinAnswer.Equal(o.Feed.MinAnswer) ||
			!s.Feed.MaxAnswer.Equal(o.Feed.MaxAnswer) ||
			s.Feed.QuoteDenom != o.Feed.QuoteDenom {
			return false
		}
	}
	if (s.Pool == nil) != (o.Pool == nil) {
		return false
	}
	if s.Pool != nil && s.Pool.PoolID != o.Pool.PoolID {
		return false
	}
	if (s.Extension == nil) != (o.Extension == nil) {
		return false
	}
	if s.Extension != nil && s.Extension.Key != o.Extension.Key {
		return false
	}
	return true
}

// PendingEdit is a staged settings change waiting out the review delay.
type PendingEdit struct {
	Denom    string        `json:"denom"`
	Settings AssetSettings `json:"settings"`
	StagedAt time.Time     `json:"staged_at"`
}
