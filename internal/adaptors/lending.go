/*

This file contains the lending adaptors: the credit side (supplied liquidity
earning yield) and the debt side (borrowed principal) of a money market.
They are two adaptors because credit and debt positions live in different
vault sub-lists and carry opposite NAV signs.

*/

package adaptors

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/types"
)

// LendingData identifies which money market the position sits in.
type LendingData struct {
	MarketID string `json:"market_id"`
}

// LendingAdaptor wraps the supply side of a lending market.
type LendingAdaptor struct {
	world *protocols.World
}

// NewLendingAdaptor creates the supply-side adaptor.
func NewLendingAdaptor(world *protocols.World) *LendingAdaptor {
	return &LendingAdaptor{world: world}
}

func (a *LendingAdaptor) ID() string   { return "lending" }
func (a *LendingAdaptor) IsDebt() bool { return false }

func (a *LendingAdaptor) market(positionData json.RawMessage) (*protocols.LendingMarket, error) {
	var data LendingData
	if err := decodeData(positionData, &data); err != nil {
		return nil, err
	}
	market, err := a.world.LendingMarket(data.MarketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPositionData, err)
	}
	return market, nil
}

func (a *LendingAdaptor) AssetOf(positionData json.RawMessage) (types.Asset, error) {
	market, err := a.market(positionData)
	if err != nil {
		return types.Asset{}, err
	}
	return market.Asset, nil
}

func (a *LendingAdaptor) BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error) {
	market, err := a.market(positionData)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return market.SupplyBalance(holder), nil
}

func (a *LendingAdaptor) Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	market, err := a.market(positionData)
	if err != nil {
		return err
	}
	return market.Supply(holder, amount)
}

func (a *LendingAdaptor) Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	market, err := a.market(positionData)
	if err != nil {
		return err
	}
	return market.Withdraw(holder, amount)
}

// amountPayload is the shared action payload for amount-taking actions.
type amountPayload struct {
	Amount sdkmath.Int `json:"amount"`
}

func (a *LendingAdaptor) Call(holder, action string, positionData, payload json.RawMessage) error {
	var p amountPayload
	if err := decodeData(payload, &p); err != nil {
		return err
	}
	switch action {
	case "supply":
		return a.Deposit(holder, p.Amount, positionData)
	case "withdraw":
		return a.Withdraw(holder, p.Amount, positionData)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// DebtAdaptor wraps the borrow side of a lending market. Balances reported
// here are owed, not owned.
type DebtAdaptor struct {
	world *protocols.World
}

// NewDebtAdaptor creates the borrow-side adaptor.
func NewDebtAdaptor(world *protocols.World) *DebtAdaptor {
	return &DebtAdaptor{world: world}
}

func (a *DebtAdaptor) ID() string   { return "lending_debt" }
func (a *DebtAdaptor) IsDebt() bool { return true }

func (a *DebtAdaptor) market(positionData json.RawMessage) (*protocols.LendingMarket, error) {
	var data LendingData
	if err := decodeData(positionData, &data); err != nil {
		return nil, err
	}
	market, err := a.world.LendingMarket(data.MarketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPositionData, err)
	}
	return market, nil
}

func (a *DebtAdaptor) AssetOf(positionData json.RawMessage) (types.Asset, error) {
	market, err := a.market(positionData)
	if err != nil {
		return types.Asset{}, err
	}
	return market.Asset, nil
}

func (a *DebtAdaptor) BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error) {
	market, err := a.market(positionData)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return market.BorrowBalance(holder), nil
}

func (a *DebtAdaptor) Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	return fmt.Errorf("%w: debt positions take no deposits", ErrUnsupported)
}

func (a *DebtAdaptor) Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	return fmt.Errorf("%w: debt positions take no withdrawals", ErrUnsupported)
}

// Call dispatches borrow and repay. Repay propagates the market's own error
// text for zero amounts verbatim; the ambiguity defense belongs to the
// market and rewording it here would hide which layer rejected the call.
func (a *DebtAdaptor) Call(holder, action string, positionData, payload json.RawMessage) error {
	market, err := a.market(positionData)
	if err != nil {
		return err
	}
	var p amountPayload
	if err := decodeData(payload, &p); err != nil {
		return err
	}
	switch action {
	case "borrow":
		return market.Borrow(holder, p.Amount)
	case "repay":
		return market.Repay(holder, p.Amount)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
