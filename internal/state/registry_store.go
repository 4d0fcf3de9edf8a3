/*

This file manages persistence of the registry's trust decisions: which
adaptors are trusted and the full trusted-position records, including the
forward-only distrust flag.

*/

package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cellar-network/cvm/internal/types"
)

// SaveAdaptorTrust records an adaptor's trust flag.
func SaveAdaptorTrust(adaptorID string, trusted bool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	upsertSQL := `
		INSERT INTO trusted_adaptors (adaptor_id, trusted, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (adaptor_id) DO UPDATE
		SET trusted = EXCLUDED.trusted, updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(upsertSQL, adaptorID, trusted); err != nil {
		return fmt.Errorf("failed to save adaptor trust for %s: %w", adaptorID, err)
	}
	log.Debug().Str("adaptorID", adaptorID).Bool("trusted", trusted).Msg("Persisted adaptor trust")
	return nil
}

// LoadTrustedAdaptorIDs returns the ids of adaptors currently trusted.
func LoadTrustedAdaptorIDs() ([]string, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT adaptor_id FROM trusted_adaptors WHERE trusted = TRUE ORDER BY adaptor_id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trusted adaptors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan trusted adaptor row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during trusted adaptor iteration: %w", err)
	}
	return ids, nil
}

// SaveTrustedPosition writes a full position record, including the
// distrust flag, keyed by its immutable id.
func SaveTrustedPosition(position types.TrustedPosition) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	assetJSON, err := json.Marshal(position.Asset)
	if err != nil {
		return fmt.Errorf("failed to marshal position asset: %w", err)
	}

	upsertSQL := `
		INSERT INTO trusted_positions (position_id, adaptor_id, position_data, asset, is_debt, trusted_at, distrusted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (position_id) DO UPDATE
		SET distrusted = EXCLUDED.distrusted;`

	_, err = DB.Exec(upsertSQL,
		int64(position.ID), position.AdaptorID, []byte(position.PositionData),
		assetJSON, position.IsDebt, position.TrustedAt, position.Distrusted,
	)
	if err != nil {
		return fmt.Errorf("failed to save trusted position %d: %w", position.ID, err)
	}

	log.Debug().Uint32("positionID", uint32(position.ID)).Bool("distrusted", position.Distrusted).Msg("Persisted trusted position")
	return nil
}

// LoadTrustedPositions returns every persisted position record, including
// distrusted ones so ids are never reassigned after a restart.
func LoadTrustedPositions() ([]types.TrustedPosition, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT position_id, adaptor_id, position_data, asset, is_debt, trusted_at, distrusted
		FROM trusted_positions
		ORDER BY position_id;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trusted positions: %w", err)
	}
	defer rows.Close()

	var positions []types.TrustedPosition
	for rows.Next() {
		var (
			position     types.TrustedPosition
			positionID   int64
			positionData []byte
			assetJSON    []byte
		)
		err := rows.Scan(&positionID, &position.AdaptorID, &positionData,
			&assetJSON, &position.IsDebt, &position.TrustedAt, &position.Distrusted)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trusted position row: %w", err)
		}
		position.ID = types.PositionID(positionID)
		position.PositionData = positionData
		if err := json.Unmarshal(assetJSON, &position.Asset); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asset for position %d: %w", position.ID, err)
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during trusted position iteration: %w", err)
	}

	log.Info().Int("count", len(positions)).Msg("Loaded persisted trusted positions")
	return positions, nil
}
