/*

This file contains the default protocol parameters for the CVM.

These values are used if no active parameter set is found in the database
during initialization. Each one bounds how fast the protocol can change or
how far a single operation can move value, so the defaults err conservative.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

const defaultFeedTimeout = 10 * time.Second

// DefaultProtocolParameters provides the baseline limits for a production
// deployment managing real user deposits.
var DefaultProtocolParameters = types.ProtocolParameters{
	Version:  1,
	IsActive: true,

	// --- Price router ---
	MinEditDelay: 7 * 24 * time.Hour, // One week between staging and committing a source edit.
	// Anyone watching the pending-edit queue gets a full week to flag a bad
	// proposal before it can touch live pricing.

	PriceToleranceBps: 200, // New sources must answer within 2% of the expected price.
	// Wide enough to absorb normal drift between proposal and commit, tight
	// enough to catch a decimal or denom mix-up outright.

	// --- Share-price oracle ---
	OracleHeartbeat:   time.Hour, // Observations older than an hour demand upkeep.
	OracleGracePeriod: 10 * time.Minute, // A slightly late keeper does not poison the cache.

	OracleDeviationBps: 300, // A 3% single-observation move trips the kill switch.
	// Share price is a slow aggregate of diversified positions; a jump this
	// size is far more likely a pricing fault than a real market move.

	ObservationsToKeep: 288, // Two days of history at 10-minute upkeep.

	// --- Cellar ---
	ShareLockPeriod: 10 * time.Minute, // Blocks deposit/redeem sandwiches around rebalances.

	MinimumSeedDeposit: sdkmath.NewInt(1_000_000), // First deposit floor, in base units.
	// Defends against the empty-vault share-inflation attack; with a 6
	// decimal base asset this is one whole token.

	RebalanceDeviationBps: 30, // A rebalance may move total assets at most 0.3%.
	// Swap fees and rounding cost something; anything past this means the
	// strategist's plan is leaking value and must not land.
}
