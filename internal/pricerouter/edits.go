/*

This file contains the two-phase price-source edit protocol. Swapping a live
oracle source in one step would let a mispriced transition be front-run, so
edits stage first, wait out a mandatory review delay, and commit only with a
payload equal to the staged one, re-validated against an expected price.

*/

package pricerouter

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/types"
)

var (
	ErrEditPending         = errors.New("an edit is already pending for asset")
	ErrNoEditPending       = errors.New("no edit is pending for asset")
	ErrEditDelayNotElapsed = errors.New("edit review delay has not elapsed")
	ErrEditMismatch        = errors.New("commit settings do not match staged proposal")
)

// StartEditAsset stages a settings change for an already-registered asset.
// Nothing takes effect until CompleteEditAsset; at most one edit may be
// pending per asset.
func (r *Router) StartEditAsset(caller, denom string, newSettings types.AssetSettings) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if _, ok := r.assets.Load(denom); !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, denom)
	}
	if err := r.validateSettings(newSettings); err != nil {
		return err
	}

	r.editMu.Lock()
	defer r.editMu.Unlock()
	if _, exists := r.pending[denom]; exists {
		return fmt.Errorf("%w: %s", ErrEditPending, denom)
	}
	stagedAt := r.clock()
	edit := types.PendingEdit{
		Denom:    denom,
		Settings: newSettings,
		StagedAt: stagedAt,
	}
	r.pending[denom] = edit
	r.emitEditStaged(edit)
	routerLogger.Warn().
		Str("denom", denom).
		Str("derivative", string(newSettings.Derivative)).
		Str("source", newSettings.Source).
		Time("stagedAt", stagedAt).
		Dur("minDelay", r.cfg.MinEditDelay).
		Msg("Price source edit staged; commit allowed after review delay")
	return nil
}

// CompleteEditAsset commits a staged edit after the review delay. The commit
// payload must equal the staged payload exactly and the new source must
// answer within tolerance of expectedPrice; any failure leaves the live
// settings untouched and the edit still pending.
func (r *Router) CompleteEditAsset(ctx context.Context, caller, denom string, settings types.AssetSettings, expectedPrice sdkmath.Int) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	reg, ok := r.assets.Load(denom)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotRegistered, denom)
	}

	r.editMu.Lock()
	defer r.editMu.Unlock()
	staged, exists := r.pending[denom]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoEditPending, denom)
	}
	elapsed := r.clock().Sub(staged.StagedAt)
	if elapsed < r.cfg.MinEditDelay {
		return fmt.Errorf("%w: %s elapsed of %s", ErrEditDelayNotElapsed, elapsed, r.cfg.MinEditDelay)
	}
	if !settings.Equal(staged.Settings) {
		return fmt.Errorf("%w: %s", ErrEditMismatch, denom)
	}
	if err := r.sanityCheck(ctx, reg.asset, settings, expectedPrice); err != nil {
		return err
	}

	r.assets.Store(denom, registeredAsset{asset: reg.asset, settings: settings})
	delete(r.pending, denom)
	r.emitAsset(reg.asset, settings)
	r.emitEditCleared(denom)
	routerLogger.Info().
		Str("denom", denom).
		Str("derivative", string(settings.Derivative)).
		Str("source", settings.Source).
		Msg("Price source edit committed")
	return nil
}

// CancelEditAsset discards a staged edit without touching live settings.
func (r *Router) CancelEditAsset(caller, denom string) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.editMu.Lock()
	defer r.editMu.Unlock()
	if _, exists := r.pending[denom]; !exists {
		return fmt.Errorf("%w: %s", ErrNoEditPending, denom)
	}
	delete(r.pending, denom)
	r.emitEditCleared(denom)
	routerLogger.Info().Str("denom", denom).Msg("Price source edit cancelled")
	return nil
}

// PendingEdit returns the staged edit for an asset, if any.
func (r *Router) PendingEdit(denom string) (types.PendingEdit, bool) {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	edit, ok := r.pending[denom]
	return edit, ok
}
