/*

This file manages persistence of share-price observations written by the
upkeep keeper. The dashboard reads them back for charting; the oracle's own
cache stays in memory.

*/

package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/cellar-network/cvm/internal/types"
)

// SaveObservation appends an accepted share-price observation.
func SaveObservation(observation types.SharePriceObservation) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	insertSQL := `
		INSERT INTO share_price_observations (observation_timestamp, share_price, total_assets, total_shares)
		VALUES ($1, $2, $3, $4)
		RETURNING observation_id;`

	var observationID int64
	err := DB.QueryRow(insertSQL,
		observation.Timestamp,
		observation.SharePrice.String(),
		observation.TotalAssets.String(),
		observation.TotalShares.String(),
	).Scan(&observationID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert share price observation: %w", err)
	}

	log.Debug().Int64("observationID", observationID).Msg("Persisted share price observation")
	return observationID, nil
}

// GetRecentObservations retrieves recent observations, newest first.
func GetRecentObservations(limit int) ([]types.SharePriceObservation, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 1000 {
		limit = 100 // Default limit
	}

	query := `
		SELECT observation_id, observation_timestamp, share_price, total_assets, total_shares
		FROM share_price_observations
		ORDER BY observation_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []types.SharePriceObservation
	for rows.Next() {
		var (
			observation types.SharePriceObservation
			priceText   string
			assetsText  string
			sharesText  string
		)
		if err := rows.Scan(&observation.ObservationID, &observation.Timestamp, &priceText, &assetsText, &sharesText); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		if observation.SharePrice, err = parseStoredInt(priceText, "share_price"); err != nil {
			return nil, err
		}
		if observation.TotalAssets, err = parseStoredInt(assetsText, "total_assets"); err != nil {
			return nil, err
		}
		if observation.TotalShares, err = parseStoredInt(sharesText, "total_shares"); err != nil {
			return nil, err
		}
		observations = append(observations, observation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during observation iteration: %w", err)
	}

	log.Debug().Int("count", len(observations)).Msg("Retrieved recent observations")
	return observations, nil
}

// parseStoredInt converts a NUMERIC column read back as text into an Int.
func parseStoredInt(text, column string) (sdkmath.Int, error) {
	value, ok := sdkmath.NewIntFromString(text)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid %s in database: %s", column, text)
	}
	return value, nil
}
