/*

This file contains the liquid-staking adaptor. The position asset is the
staked derivative token; its value comes from the extension price source
reading the pool's exchange rate.

*/

package adaptors

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/types"
)

// StakingData identifies which staking pool the position uses.
type StakingData struct {
	PoolKey string `json:"pool_key"`
}

// StakingAdaptor wraps a liquid-staking derivative holding.
type StakingAdaptor struct {
	world *protocols.World
}

// NewStakingAdaptor creates the staking adaptor.
func NewStakingAdaptor(world *protocols.World) *StakingAdaptor {
	return &StakingAdaptor{world: world}
}

func (a *StakingAdaptor) ID() string   { return "staking" }
func (a *StakingAdaptor) IsDebt() bool { return false }

func (a *StakingAdaptor) pool(positionData json.RawMessage) (*protocols.StakingPool, error) {
	var data StakingData
	if err := decodeData(positionData, &data); err != nil {
		return nil, err
	}
	pool, err := a.world.StakingPool(data.PoolKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPositionData, err)
	}
	return pool, nil
}

func (a *StakingAdaptor) AssetOf(positionData json.RawMessage) (types.Asset, error) {
	pool, err := a.pool(positionData)
	if err != nil {
		return types.Asset{}, err
	}
	return pool.Derivative, nil
}

func (a *StakingAdaptor) BalanceOf(holder string, positionData json.RawMessage) (sdkmath.Int, error) {
	pool, err := a.pool(positionData)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.world.Bank.Balance(holder, pool.Derivative.Denom), nil
}

func (a *StakingAdaptor) Deposit(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	pool, err := a.pool(positionData)
	if err != nil {
		return err
	}
	_, err = pool.Stake(holder, amount)
	return err
}

func (a *StakingAdaptor) Withdraw(holder string, amount sdkmath.Int, positionData json.RawMessage) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	pool, err := a.pool(positionData)
	if err != nil {
		return err
	}
	_, err = pool.Unstake(holder, amount)
	return err
}

func (a *StakingAdaptor) Call(holder, action string, positionData, payload json.RawMessage) error {
	var p amountPayload
	if err := decodeData(payload, &p); err != nil {
		return err
	}
	switch action {
	case "stake":
		return a.Deposit(holder, p.Amount, positionData)
	case "unstake":
		return a.Withdraw(holder, p.Amount, positionData)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
