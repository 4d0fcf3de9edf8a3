/*

This file manages persistence of the protocol parameter sets. Exactly one
set is active at a time; activating a new set deactivates the rest in the
same transaction.

*/

package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/cellar-network/cvm/internal/types"
)

// SaveParameters inserts a parameter set. If params.IsActive, every other
// set is deactivated atomically.
func SaveParameters(params types.ProtocolParameters) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if params.IsActive {
		if _, err := tx.Exec(`UPDATE protocol_parameters SET is_active = FALSE WHERE is_active = TRUE;`); err != nil {
			return 0, fmt.Errorf("failed to deactivate previous parameters: %w", err)
		}
	}

	insertSQL := `
		INSERT INTO protocol_parameters (
			version, is_active,
			min_edit_delay_seconds, price_tolerance_bps,
			oracle_heartbeat_seconds, oracle_grace_period_seconds, oracle_deviation_bps, observations_to_keep,
			share_lock_period_seconds, minimum_seed_deposit, rebalance_deviation_bps
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING params_id;`

	var paramsID int64
	err = tx.QueryRow(insertSQL,
		params.Version, params.IsActive,
		int64(params.MinEditDelay.Seconds()), params.PriceToleranceBps,
		int64(params.OracleHeartbeat.Seconds()), int64(params.OracleGracePeriod.Seconds()),
		params.OracleDeviationBps, params.ObservationsToKeep,
		int64(params.ShareLockPeriod.Seconds()), params.MinimumSeedDeposit.String(),
		params.RebalanceDeviationBps,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert protocol parameters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit parameters transaction: %w", err)
	}

	log.Info().Int64("paramsID", paramsID).Bool("isActive", params.IsActive).Msg("Saved protocol parameters")
	return paramsID, nil
}

// LoadActiveParameters returns the active parameter set, or a wrapped
// sql.ErrNoRows when none exists so callers can fall back to defaults.
func LoadActiveParameters() (types.ProtocolParameters, error) {
	if DB == nil {
		return types.ProtocolParameters{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT params_id, version, is_active, created_at,
			min_edit_delay_seconds, price_tolerance_bps,
			oracle_heartbeat_seconds, oracle_grace_period_seconds, oracle_deviation_bps, observations_to_keep,
			share_lock_period_seconds, minimum_seed_deposit, rebalance_deviation_bps
		FROM protocol_parameters
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1;`

	var (
		params                 types.ProtocolParameters
		editDelaySeconds       int64
		heartbeatSeconds       int64
		graceSeconds           int64
		shareLockSeconds       int64
		minimumSeedDepositText string
	)
	err := DB.QueryRow(query).Scan(
		&params.ParamsID, &params.Version, &params.IsActive, &params.CreatedAt,
		&editDelaySeconds, &params.PriceToleranceBps,
		&heartbeatSeconds, &graceSeconds, &params.OracleDeviationBps, &params.ObservationsToKeep,
		&shareLockSeconds, &minimumSeedDepositText, &params.RebalanceDeviationBps,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.ProtocolParameters{}, fmt.Errorf("no active protocol parameters: %w", err)
		}
		return types.ProtocolParameters{}, fmt.Errorf("failed to load active parameters: %w", err)
	}

	params.MinEditDelay = time.Duration(editDelaySeconds) * time.Second
	params.OracleHeartbeat = time.Duration(heartbeatSeconds) * time.Second
	params.OracleGracePeriod = time.Duration(graceSeconds) * time.Second
	params.ShareLockPeriod = time.Duration(shareLockSeconds) * time.Second

	seed, ok := sdkmath.NewIntFromString(minimumSeedDepositText)
	if !ok {
		return types.ProtocolParameters{}, fmt.Errorf("invalid minimum_seed_deposit in database: %s", minimumSeedDepositText)
	}
	params.MinimumSeedDeposit = seed

	log.Debug().Int64("paramsID", params.ParamsID).Msg("Loaded active protocol parameters")
	return params, nil
}
