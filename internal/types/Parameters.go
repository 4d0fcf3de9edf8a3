/*

This file contains the tunable protocol parameters. Defaults live in the
config package; the active set is persisted in the database so operators can
adjust risk limits without a redeploy.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ProtocolParameters holds every governance-tunable limit in one place.
type ProtocolParameters struct {
	ParamsID  int64     `json:"params_id,omitempty"` // Auto-incremented by DB
	Version   int       `json:"version"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`

	// Price router
	MinEditDelay      time.Duration `json:"min_edit_delay"`
	PriceToleranceBps int64         `json:"price_tolerance_bps"`

	// Share-price oracle
	OracleHeartbeat    time.Duration `json:"oracle_heartbeat"`
	OracleGracePeriod  time.Duration `json:"oracle_grace_period"`
	OracleDeviationBps int64         `json:"oracle_deviation_bps"`
	ObservationsToKeep int           `json:"observations_to_keep"`

	// Cellar
	ShareLockPeriod       time.Duration `json:"share_lock_period"`
	MinimumSeedDeposit    sdkmath.Int   `json:"minimum_seed_deposit"`
	RebalanceDeviationBps int64         `json:"rebalance_deviation_bps"`
}
