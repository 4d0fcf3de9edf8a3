/*

This file contains the Adaptor capability interface: the one contract every
protocol integration implements. Adaptors are stateless translators; all
state lives in the protocol world and all authorization lives in the vault.

*/

package adaptors

import (
	"encoding/json"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrBadPositionData = errors.New("position data is invalid")
	ErrUnknownAction   = errors.New("unknown adaptor action")
	ErrUnsupported     = errors.New("operation not supported by adaptor")
	ErrInvalidAmount   = errors.New("amount is invalid")
)

// Adaptor translates generic vault calls into one protocol's specific calls.
//
// AssetOf must not fail for any position data the registry has trusted; the
// registry probes it at trust time. BalanceOf reports the holder's balance in
// the position asset's native decimals. Mutating entry points are reached
// only through the vault's rebalance dispatch.
type Adaptor interface {
	// ID is the stable identifier the registry trusts.
	ID() string
	// IsDebt reports whether balances of this adaptor subtract from NAV.
	IsDebt() bool
	// AssetOf resolves the asset a position is denominated in.
	AssetOf(positionData json.RawMessage) (types.Asset, error)
	// BalanceOf reports the holder's current balance for a position.
	BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error)
	// Deposit moves base-asset capital into the position, when supported.
	Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error
	// Withdraw pulls capital out of the position, when supported.
	Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error
	// Call executes a protocol-specific action against the position.
	Call(holder, action string, positionData, payload json.RawMessage) error
}

func decodeData(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return errors.Join(ErrBadPositionData, errors.New("position data is empty"))
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.Join(ErrBadPositionData, err)
	}
	return nil
}

func requirePositive(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
