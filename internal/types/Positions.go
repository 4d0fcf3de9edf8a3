/*

This file contains the types for positions which carry all the state needed
for the registry trust model and for vault rebalancing.

*/

package types

import (
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
)

// PositionID is the globally unique identifier assigned when a position is
// trusted. Immutable once assigned: one (adaptor, positionData) combination
// maps to exactly one id forever.
type PositionID uint32

// TrustedPosition is the registry record for one unit of externally-held
// capital: an adaptor plus the opaque data that adaptor needs to locate it.
type TrustedPosition struct {
	ID           PositionID      `json:"id"`
	AdaptorID    string          `json:"adaptor_id"`
	PositionData json.RawMessage `json:"position_data"`
	Asset        Asset           `json:"asset"`   // resolved at trust time via the adaptor probe
	IsDebt       bool            `json:"is_debt"` // debt positions subtract from NAV
	TrustedAt    time.Time       `json:"trusted_at"`
	Distrusted   bool            `json:"distrusted"`
}

// AdaptorCall is a single, executable step in a rebalance plan: one action
// dispatched to the adaptor behind an active position.
type AdaptorCall struct {
	PositionID PositionID      `json:"position_id"`
	Action     string          `json:"action"`            // adaptor-specific action name
	Payload    json.RawMessage `json:"payload,omitempty"` // adaptor-specific parameters
}

// RebalanceReceipt records the outcome of one CallOnAdaptor dispatch.
type RebalanceReceipt struct {
	ReceiptID         int64         `json:"receipt_id,omitempty"` // Auto-incremented by DB
	RebalanceID       string        `json:"rebalance_id"`
	Timestamp         time.Time     `json:"timestamp"`
	Calls             []AdaptorCall `json:"calls"`
	Success           bool          `json:"success"`
	Message           string        `json:"message,omitempty"`
	TotalAssetsBefore sdkmath.Int   `json:"total_assets_before"`
	TotalAssetsAfter  sdkmath.Int   `json:"total_assets_after"`
}
