/*

This file contains the types for cached share-price observations pushed by
the upkeep keeper and consumed by anything that wants a bounded-gas NAV.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// SharePriceObservation is one accepted share-price sample.
type SharePriceObservation struct {
	ObservationID int64       `json:"observation_id,omitempty"` // Auto-incremented by DB
	Timestamp     time.Time   `json:"timestamp"`
	SharePrice    sdkmath.Int `json:"share_price"` // base-asset units per 10^decimals shares
	TotalAssets   sdkmath.Int `json:"total_assets"`
	TotalShares   sdkmath.Int `json:"total_shares"`
}

// CachedSharePrice is what consumers of the oracle read. SafeToUse is false
// when the latest observation is stale or the oracle has flagged a deviation
// breach; consumers must fail closed rather than trade against it.
type CachedSharePrice struct {
	SharePrice sdkmath.Int `json:"share_price"`
	UpdatedAt  time.Time   `json:"updated_at"`
	SafeToUse  bool        `json:"safe_to_use"`
}
