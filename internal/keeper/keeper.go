/*

This file contains the upkeep keeper: a cron-scheduled loop that asks the
share-price oracle whether an observation is due, performs the upkeep when
it is, and writes the accepted observation through to the database. The
keeper holds only the keeper role; it can refresh the cache but cannot
touch positions, parameters, or the kill switch.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/oracle"
	"github.com/cellar-network/cvm/internal/state"
)

var (
	ErrInvalidSchedule = errors.New("keeper cron schedule is invalid")
	ErrAlreadyRunning  = errors.New("keeper is already running")
)

const upkeepTimeout = 30 * time.Second

// Keeper drives the oracle's upkeep on a cron schedule.
type Keeper struct {
	logger   zerolog.Logger
	oracle   *oracle.Oracle
	identity string
	cron     *cron.Cron
	entry    cron.EntryID
}

// New creates a keeper acting under the given identity.
func New(shareOracle *oracle.Oracle, identity string) *Keeper {
	return &Keeper{
		logger:   logger.GetForComponent("upkeep_keeper"),
		oracle:   shareOracle,
		identity: identity,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start schedules the upkeep job and begins running it. The schedule uses
// the six-field cron format with seconds.
func (k *Keeper) Start(schedule string) error {
	if k.entry != 0 {
		return ErrAlreadyRunning
	}
	entry, err := k.cron.AddFunc(schedule, k.runUpkeep)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, schedule, err)
	}
	k.entry = entry
	k.cron.Start()
	k.logger.Info().Str("schedule", schedule).Msg("Upkeep keeper started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (k *Keeper) Stop() {
	ctx := k.cron.Stop()
	<-ctx.Done()
	k.logger.Info().Msg("Upkeep keeper stopped")
}

// runUpkeep is one scheduled tick: check, perform, persist.
func (k *Keeper) runUpkeep() {
	ctx, cancel := context.WithTimeout(context.Background(), upkeepTimeout)
	defer cancel()

	needed, reason, err := k.oracle.CheckUpkeep(ctx)
	if err != nil {
		k.logger.Error().Err(err).Msg("CheckUpkeep failed")
		return
	}
	if !needed {
		k.logger.Debug().Str("reason", reason).Msg("Upkeep not needed")
		return
	}

	observation, err := k.oracle.PerformUpkeep(ctx, k.identity)
	if err != nil {
		// A deviation breach is the oracle protecting itself; log loudly
		// but keep the schedule running so governance sees the state.
		k.logger.Error().Err(err).Str("reason", reason).Msg("PerformUpkeep failed")
		return
	}

	observationID, err := state.SaveObservation(observation)
	if err != nil {
		k.logger.Error().Err(err).Msg("Failed to persist observation")
		return
	}

	k.logger.Info().
		Int64("observationID", observationID).
		Str("sharePrice", observation.SharePrice.String()).
		Str("reason", reason).
		Msg("Upkeep performed")
}
