/*

This file contains the strategist rebalance path. A rebalance is a batch of
adaptor calls executed against a world snapshot: any call failing, or total
assets drifting past the allowed deviation, restores the snapshot so the
vault never observes a half-applied rebalance.

*/

package cellar

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/types"
)

var (
	ErrEmptyRebalance      = errors.New("rebalance contains no calls")
	ErrRebalanceDeviation  = errors.New("rebalance moved total assets beyond the allowed deviation")
	ErrPositionDistrusted  = errors.New("position was distrusted after activation")
	ErrRebalanceCallFailed = errors.New("adaptor call failed")
)

// SetReceiptSink installs a callback invoked with every dispatch outcome,
// success or failure. Used to write receipts through to persistence without
// coupling the vault core to the database.
func (c *Cellar) SetReceiptSink(sink func(types.RebalanceReceipt)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptSink = sink
}

// CallOnAdaptor executes a strategist's batch of adaptor calls atomically.
// Every call must target an active, catalogued, still-trusted position; the
// registry's distrust flag is re-checked here so revoking trust takes effect
// immediately even for already-active positions.
func (c *Cellar) CallOnAdaptor(ctx context.Context, caller string, calls []types.AdaptorCall) (types.RebalanceReceipt, error) {
	receipt := types.RebalanceReceipt{
		RebalanceID:       uuid.New().String(),
		Calls:             calls,
		TotalAssetsBefore: sdkmath.ZeroInt(),
		TotalAssetsAfter:  sdkmath.ZeroInt(),
	}
	if err := c.ring.Require(caller, auth.RoleStrategist); err != nil {
		return receipt, err
	}
	if len(calls) == 0 {
		return receipt, ErrEmptyRebalance
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	receipt.Timestamp = c.clock()

	totalBefore, err := c.totalAssets(ctx)
	if err != nil {
		return c.failReceipt(receipt, fmt.Errorf("pre-rebalance valuation: %w", err))
	}
	receipt.TotalAssetsBefore = totalBefore

	snapshot := c.world.Snapshot()
	start := time.Now()

	for i, call := range calls {
		if err := c.executeCall(call); err != nil {
			c.world.Restore(snapshot)
			return c.failReceipt(receipt, fmt.Errorf("call %d on position %d: %w", i, call.PositionID, err))
		}
	}

	totalAfter, err := c.totalAssets(ctx)
	if err != nil {
		c.world.Restore(snapshot)
		return c.failReceipt(receipt, fmt.Errorf("post-rebalance valuation: %w", err))
	}
	if err := c.checkDeviation(totalBefore, totalAfter); err != nil {
		c.world.Restore(snapshot)
		return c.failReceipt(receipt, err)
	}

	receipt.TotalAssetsAfter = totalAfter
	receipt.Success = true
	receipt.Message = "rebalance applied"
	c.emitReceipt(receipt)
	c.logger.Info().
		Str("rebalanceID", receipt.RebalanceID).
		Int("calls", len(calls)).
		Str("totalBefore", totalBefore.String()).
		Str("totalAfter", totalAfter.String()).
		Dur("duration", time.Since(start)).
		Msg("Rebalance applied")
	return receipt, nil
}

// executeCall validates one call's gating and dispatches it to the adaptor.
func (c *Cellar) executeCall(call types.AdaptorCall) error {
	if !c.isActive(call.PositionID) {
		return fmt.Errorf("%w: %d", ErrPositionNotActive, call.PositionID)
	}
	if !c.catalogue[call.PositionID] {
		return fmt.Errorf("%w: %d", ErrPositionNotCatalogued, call.PositionID)
	}
	if !c.reg.IsPositionTrusted(call.PositionID) {
		return fmt.Errorf("%w: %d", ErrPositionDistrusted, call.PositionID)
	}
	position, err := c.reg.Position(call.PositionID)
	if err != nil {
		return err
	}
	adaptor, err := c.reg.Adaptor(position.AdaptorID)
	if err != nil {
		return err
	}
	if err := adaptor.Call(c.cfg.Account, call.Action, position.PositionData, call.Payload); err != nil {
		return errors.Join(ErrRebalanceCallFailed, err)
	}
	return nil
}

// checkDeviation bounds |after - before| against before, in basis points.
func (c *Cellar) checkDeviation(before, after sdkmath.Int) error {
	if before.IsZero() {
		return nil
	}
	diff := after.Sub(before).Abs()
	if diff.MulRaw(10_000).GT(before.MulRaw(c.cfg.AllowedRebalanceDeviationBps)) {
		return fmt.Errorf("%w: before %s, after %s, limit %d bps",
			ErrRebalanceDeviation, before, after, c.cfg.AllowedRebalanceDeviationBps)
	}
	return nil
}

func (c *Cellar) failReceipt(receipt types.RebalanceReceipt, err error) (types.RebalanceReceipt, error) {
	receipt.Success = false
	receipt.Message = err.Error()
	c.emitReceipt(receipt)
	c.logger.Error().
		Str("rebalanceID", receipt.RebalanceID).
		Err(err).
		Msg("Rebalance rejected, state rolled back")
	return receipt, err
}

func (c *Cellar) emitReceipt(receipt types.RebalanceReceipt) {
	if c.receiptSink != nil {
		c.receiptSink(receipt)
	}
}
