/*

This file manages persistence of the price router's asset registrations and
the two-phase edit queue. The in-memory router is authoritative at runtime;
these tables exist so a restart replays the same registrations and pending
edits instead of starting blind.

*/

package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cellar-network/cvm/internal/types"
)

// PersistedAsset is one asset registration row.
type PersistedAsset struct {
	Asset    types.Asset
	Settings types.AssetSettings
}

// UpsertAssetSettings writes an asset's live settings.
func UpsertAssetSettings(asset types.Asset, settings types.AssetSettings) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal asset settings: %w", err)
	}

	upsertSQL := `
		INSERT INTO asset_settings (denom, symbol, decimals, settings, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (denom) DO UPDATE
		SET symbol = EXCLUDED.symbol,
		    decimals = EXCLUDED.decimals,
		    settings = EXCLUDED.settings,
		    updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(upsertSQL, asset.Denom, asset.Symbol, asset.Decimals, settingsJSON); err != nil {
		return fmt.Errorf("failed to upsert asset settings for %s: %w", asset.Denom, err)
	}

	log.Debug().Str("denom", asset.Denom).Msg("Persisted asset settings")
	return nil
}

// LoadAssetSettings returns every persisted asset registration.
func LoadAssetSettings() ([]PersistedAsset, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT denom, symbol, decimals, settings FROM asset_settings ORDER BY denom;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset settings: %w", err)
	}
	defer rows.Close()

	var assets []PersistedAsset
	for rows.Next() {
		var (
			entry        PersistedAsset
			settingsJSON []byte
		)
		if err := rows.Scan(&entry.Asset.Denom, &entry.Asset.Symbol, &entry.Asset.Decimals, &settingsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan asset settings row: %w", err)
		}
		if err := json.Unmarshal(settingsJSON, &entry.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings for %s: %w", entry.Asset.Denom, err)
		}
		assets = append(assets, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during asset settings iteration: %w", err)
	}

	log.Info().Int("count", len(assets)).Msg("Loaded persisted asset settings")
	return assets, nil
}

// SavePendingEdit writes a staged source edit.
func SavePendingEdit(edit types.PendingEdit) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	settingsJSON, err := json.Marshal(edit.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal pending edit settings: %w", err)
	}

	upsertSQL := `
		INSERT INTO pending_edits (denom, settings, staged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (denom) DO UPDATE
		SET settings = EXCLUDED.settings, staged_at = EXCLUDED.staged_at;`

	if _, err := DB.Exec(upsertSQL, edit.Denom, settingsJSON, edit.StagedAt); err != nil {
		return fmt.Errorf("failed to save pending edit for %s: %w", edit.Denom, err)
	}
	return nil
}

// DeletePendingEdit removes a staged edit after commit or cancel.
func DeletePendingEdit(denom string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := DB.Exec(`DELETE FROM pending_edits WHERE denom = $1;`, denom); err != nil {
		return fmt.Errorf("failed to delete pending edit for %s: %w", denom, err)
	}
	return nil
}

// LoadPendingEdits returns every staged edit.
func LoadPendingEdits() ([]types.PendingEdit, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT denom, settings, staged_at FROM pending_edits ORDER BY staged_at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending edits: %w", err)
	}
	defer rows.Close()

	var edits []types.PendingEdit
	for rows.Next() {
		var (
			edit         types.PendingEdit
			settingsJSON []byte
			stagedAt     time.Time
		)
		if err := rows.Scan(&edit.Denom, &settingsJSON, &stagedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending edit row: %w", err)
		}
		if err := json.Unmarshal(settingsJSON, &edit.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending edit for %s: %w", edit.Denom, err)
		}
		edit.StagedAt = stagedAt
		edits = append(edits, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during pending edit iteration: %w", err)
	}
	return edits, nil
}
