/*

This file manages persistence of rebalance receipts. Failed dispatches are
recorded too; an audit trail that only shows successes is not an audit
trail.

*/

package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cellar-network/cvm/internal/types"
)

// SaveRebalanceReceipt appends a dispatch outcome.
func SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	callsJSON, err := json.Marshal(receipt.Calls)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal rebalance calls: %w", err)
	}

	insertSQL := `
		INSERT INTO rebalance_receipts (rebalance_id, receipt_timestamp, calls, success, message, total_assets_before, total_assets_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING receipt_id;`

	var receiptID int64
	err = DB.QueryRow(insertSQL,
		receipt.RebalanceID, receipt.Timestamp, callsJSON,
		receipt.Success, receipt.Message,
		receipt.TotalAssetsBefore.String(), receipt.TotalAssetsAfter.String(),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rebalance receipt: %w", err)
	}

	log.Debug().Int64("receiptID", receiptID).Str("rebalanceID", receipt.RebalanceID).Msg("Persisted rebalance receipt")
	return receiptID, nil
}

// GetRecentRebalances retrieves recent receipts, newest first.
func GetRecentRebalances(limit int) ([]types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT receipt_id, rebalance_id, receipt_timestamp, calls, success, message, total_assets_before, total_assets_after
		FROM rebalance_receipts
		ORDER BY receipt_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceReceipt
	for rows.Next() {
		var (
			receipt    types.RebalanceReceipt
			callsJSON  []byte
			beforeText string
			afterText  string
		)
		err := rows.Scan(&receipt.ReceiptID, &receipt.RebalanceID, &receipt.Timestamp,
			&callsJSON, &receipt.Success, &receipt.Message, &beforeText, &afterText)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rebalance receipt row: %w", err)
		}
		if err := json.Unmarshal(callsJSON, &receipt.Calls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal calls for receipt %d: %w", receipt.ReceiptID, err)
		}
		if receipt.TotalAssetsBefore, err = parseStoredInt(beforeText, "total_assets_before"); err != nil {
			return nil, err
		}
		if receipt.TotalAssetsAfter, err = parseStoredInt(afterText, "total_assets_after"); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rebalance receipt iteration: %w", err)
	}

	log.Debug().Int("count", len(receipts)).Msg("Retrieved recent rebalances")
	return receipts, nil
}
