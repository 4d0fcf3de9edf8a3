/*

This file contains the cellar's position management: the per-vault catalogue
gating which registry-trusted positions this vault may ever activate, the
ordered credit and debt arrays driving valuation, and the holding position
that receives deposits and sources withdrawals.

*/

package cellar

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/types"
)

var (
	ErrPositionNotCatalogued = errors.New("position is not in the vault catalogue")
	ErrPositionActive        = errors.New("position is active in the vault")
	ErrPositionNotActive     = errors.New("position is not active in the vault")
	ErrPositionNotEmpty      = errors.New("position still reports a balance")
	ErrIndexOutOfRange       = errors.New("position index out of range")
	ErrHoldingPosition       = errors.New("invalid holding position")
)

// PositionView is a read-model row for one active position.
type PositionView struct {
	Position types.TrustedPosition `json:"position"`
	IsDebt   bool                  `json:"isDebt"`
	Balance  sdkmath.Int           `json:"balance"`
	Value    sdkmath.Int           `json:"value"`
}

// AddPositionToCatalogue lets governance approve a trusted position for this
// specific vault. Catalogue membership is a prerequisite for activation, not
// activation itself.
func (c *Cellar) AddPositionToCatalogue(caller string, id types.PositionID) error {
	if err := c.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reg.IsPositionTrusted(id) {
		return fmt.Errorf("position %d: not trusted in registry", id)
	}
	c.catalogue[id] = true
	c.logger.Info().Uint32("positionID", uint32(id)).Msg("Position added to catalogue")
	return nil
}

// RemovePositionFromCatalogue revokes a vault-level approval. Active
// positions must be deactivated first.
func (c *Cellar) RemovePositionFromCatalogue(caller string, id types.PositionID) error {
	if err := c.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPositionActive, id)
	}
	delete(c.catalogue, id)
	c.logger.Info().Uint32("positionID", uint32(id)).Msg("Position removed from catalogue")
	return nil
}

// AddPosition activates a position at the given index of the credit or debt
// array, chosen by the registry's debt flag. The position must be trusted
// globally and catalogued locally.
func (c *Cellar) AddPosition(caller string, index int, id types.PositionID) error {
	if err := c.ring.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.IsPositionTrusted(id) {
		return fmt.Errorf("position %d: not trusted in registry", id)
	}
	if !c.catalogue[id] {
		return fmt.Errorf("%w: %d", ErrPositionNotCatalogued, id)
	}
	if c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPositionActive, id)
	}
	position, err := c.reg.Position(id)
	if err != nil {
		return err
	}

	target := &c.creditPositions
	if position.IsDebt {
		target = &c.debtPositions
	}
	if index < 0 || index > len(*target) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(*target))
	}
	*target = append(*target, 0)
	copy((*target)[index+1:], (*target)[index:])
	(*target)[index] = id

	c.logger.Info().
		Uint32("positionID", uint32(id)).
		Bool("isDebt", position.IsDebt).
		Int("index", index).
		Msg("Position activated")
	return nil
}

// RemovePosition deactivates the position at the given index. The adaptor
// must report a zero balance; value cannot silently drop out of NAV.
func (c *Cellar) RemovePosition(caller string, index int, isDebt bool) error {
	if err := c.ring.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	target := &c.creditPositions
	if isDebt {
		target = &c.debtPositions
	}
	if index < 0 || index >= len(*target) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(*target))
	}
	id := (*target)[index]
	if id == c.holdingPosition {
		return fmt.Errorf("%w: cannot remove the holding position", ErrHoldingPosition)
	}

	position, err := c.reg.Position(id)
	if err != nil {
		return err
	}
	adaptor, err := c.reg.Adaptor(position.AdaptorID)
	if err != nil {
		return err
	}
	balance, err := adaptor.BalanceOf(c.cfg.Account, position.PositionData)
	if err != nil {
		return err
	}
	if !balance.IsZero() {
		return fmt.Errorf("%w: position %d holds %s", ErrPositionNotEmpty, id, balance)
	}

	*target = append((*target)[:index], (*target)[index+1:]...)
	c.logger.Info().Uint32("positionID", uint32(id)).Bool("isDebt", isDebt).Msg("Position deactivated")
	return nil
}

// SetHoldingPosition designates the active credit position that absorbs
// deposits and backs withdrawals. It must be denominated in the base asset.
func (c *Cellar) SetHoldingPosition(caller string, id types.PositionID) error {
	if err := c.ring.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, active := range c.creditPositions {
		if active == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %d is not an active credit position", ErrPositionNotActive, id)
	}
	position, err := c.reg.Position(id)
	if err != nil {
		return err
	}
	if position.Asset.Denom != c.cfg.BaseAsset.Denom {
		return fmt.Errorf("%w: position asset %s, base asset %s",
			ErrHoldingPosition, position.Asset.Denom, c.cfg.BaseAsset.Denom)
	}
	c.holdingPosition = id
	c.logger.Info().Uint32("positionID", uint32(id)).Msg("Holding position set")
	return nil
}

// HoldingPosition returns the current holding position id, zero if unset.
func (c *Cellar) HoldingPosition() types.PositionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdingPosition
}

// IsCatalogued reports vault-level approval for a position.
func (c *Cellar) IsCatalogued(id types.PositionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalogue[id]
}

// ActivePositions returns a read model of every active position with its
// live balance and base-asset value.
func (c *Cellar) ActivePositions(ctx context.Context) ([]PositionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]PositionView, 0, len(c.creditPositions)+len(c.debtPositions))
	for _, group := range []struct {
		ids    []types.PositionID
		isDebt bool
	}{
		{c.creditPositions, false},
		{c.debtPositions, true},
	} {
		for _, id := range group.ids {
			position, err := c.reg.Position(id)
			if err != nil {
				return nil, err
			}
			adaptor, err := c.reg.Adaptor(position.AdaptorID)
			if err != nil {
				return nil, err
			}
			balance, err := adaptor.BalanceOf(c.cfg.Account, position.PositionData)
			if err != nil {
				return nil, err
			}
			value := sdkmath.ZeroInt()
			if !balance.IsZero() {
				value, err = c.router.GetValue(ctx, position.Asset.Denom, balance, c.cfg.BaseAsset.Denom)
				if err != nil {
					return nil, err
				}
			}
			views = append(views, PositionView{
				Position: position,
				IsDebt:   group.isDebt,
				Balance:  balance,
				Value:    value,
			})
		}
	}
	return views, nil
}

func (c *Cellar) isActive(id types.PositionID) bool {
	for _, active := range c.creditPositions {
		if active == id {
			return true
		}
	}
	for _, active := range c.debtPositions {
		if active == id {
			return true
		}
	}
	return false
}
