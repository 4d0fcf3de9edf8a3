/*

This file contains the AMM LP adaptor. The position asset is the pool's LP
share token; joining and exiting the pool are strategist actions, and the
balance is simply the vault's LP share holding.

*/

package adaptors

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/types"
)

// LPShareDecimals is the decimal precision of every pool's LP share token.
const LPShareDecimals = 6

// AMMData identifies which pool the position provides liquidity to.
type AMMData struct {
	PoolID uint64 `json:"pool_id"`
}

// AMMAdaptor wraps liquidity provision in a constant-product pool.
type AMMAdaptor struct {
	world *protocols.World
}

// NewAMMAdaptor creates the LP adaptor.
func NewAMMAdaptor(world *protocols.World) *AMMAdaptor {
	return &AMMAdaptor{world: world}
}

func (a *AMMAdaptor) ID() string   { return "amm_lp" }
func (a *AMMAdaptor) IsDebt() bool { return false }

func (a *AMMAdaptor) pool(positionData json.RawMessage) (*protocols.AMMPool, error) {
	var data AMMData
	if err := decodeData(positionData, &data); err != nil {
		return nil, err
	}
	pool, err := a.world.AMMPool(data.PoolID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPositionData, err)
	}
	return pool, nil
}

func (a *AMMAdaptor) AssetOf(positionData json.RawMessage) (types.Asset, error) {
	pool, err := a.pool(positionData)
	if err != nil {
		return types.Asset{}, err
	}
	return types.Asset{
		Denom:    pool.ShareDenom(),
		Symbol:   fmt.Sprintf("%s-%s-LP", pool.AssetA.Symbol, pool.AssetB.Symbol),
		Decimals: LPShareDecimals,
	}, nil
}

func (a *AMMAdaptor) BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error) {
	pool, err := a.pool(positionData)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.world.Bank.Balance(holder, pool.ShareDenom()), nil
}

func (a *AMMAdaptor) Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	return fmt.Errorf("%w: LP positions are entered via the join action", ErrUnsupported)
}

func (a *AMMAdaptor) Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	return fmt.Errorf("%w: LP positions are exited via the exit action", ErrUnsupported)
}

type joinPayload struct {
	AmountA sdkmath.Int `json:"amount_a"`
	AmountB sdkmath.Int `json:"amount_b"`
}

type exitPayload struct {
	Shares sdkmath.Int `json:"shares"`
}

type swapPayload struct {
	DenomIn  string      `json:"denom_in"`
	AmountIn sdkmath.Int `json:"amount_in"`
}

func (a *AMMAdaptor) Call(holder, action string, positionData, payload json.RawMessage) error {
	pool, err := a.pool(positionData)
	if err != nil {
		return err
	}
	switch action {
	case "join":
		var p joinPayload
		if err := decodeData(payload, &p); err != nil {
			return err
		}
		_, err := pool.Join(holder, p.AmountA, p.AmountB)
		return err
	case "exit":
		var p exitPayload
		if err := decodeData(payload, &p); err != nil {
			return err
		}
		_, _, err := pool.Exit(holder, p.Shares)
		return err
	case "swap":
		var p swapPayload
		if err := decodeData(payload, &p); err != nil {
			return err
		}
		_, err := pool.Swap(holder, p.DenomIn, p.AmountIn)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
