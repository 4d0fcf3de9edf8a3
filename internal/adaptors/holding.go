/*

This file contains the holding adaptor: the simplest position, a plain token
balance sitting in the vault's own ledger account. New deposits land here
before the strategist moves them anywhere else.

*/

package adaptors

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/types"
)

// HoldingData identifies which token the position holds.
type HoldingData struct {
	Denom string `json:"denom"`
}

// HoldingAdaptor reports the holder's bank balance for a denom. Deposits and
// withdrawals are settled by the vault's own transfers, so both are no-ops
// past validation here.
type HoldingAdaptor struct {
	world  *protocols.World
	assets map[string]types.Asset // denom -> asset metadata
}

// NewHoldingAdaptor creates a holding adaptor able to resolve the given assets.
func NewHoldingAdaptor(world *protocols.World, assets map[string]types.Asset) *HoldingAdaptor {
	return &HoldingAdaptor{world: world, assets: assets}
}

func (a *HoldingAdaptor) ID() string   { return "holding" }
func (a *HoldingAdaptor) IsDebt() bool { return false }

func (a *HoldingAdaptor) AssetOf(positionData json.RawMessage) (types.Asset, error) {
	var data HoldingData
	if err := decodeData(positionData, &data); err != nil {
		return types.Asset{}, err
	}
	asset, ok := a.assets[data.Denom]
	if !ok {
		return types.Asset{}, fmt.Errorf("%w: unknown denom %s", ErrBadPositionData, data.Denom)
	}
	return asset, nil
}

func (a *HoldingAdaptor) BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error) {
	var data HoldingData
	if err := decodeData(positionData, &data); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if _, ok := a.assets[data.Denom]; !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: unknown denom %s", ErrBadPositionData, data.Denom)
	}
	return a.world.Bank.Balance(holder, data.Denom), nil
}

func (a *HoldingAdaptor) Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	var data HoldingData
	return decodeData(positionData, &data)
}

func (a *HoldingAdaptor) Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	var data HoldingData
	if err := decodeData(positionData, &data); err != nil {
		return err
	}
	if a.world.Bank.Balance(holder, data.Denom).LT(amount) {
		return fmt.Errorf("%w: holding balance below withdrawal", ErrInvalidAmount)
	}
	return nil
}

func (a *HoldingAdaptor) Call(holder, action string, positionData, payload json.RawMessage) error {
	return fmt.Errorf("%w: holding adaptor has no actions, got %q", ErrUnknownAction, action)
}
