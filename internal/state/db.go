// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS protocol_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			min_edit_delay_seconds BIGINT NOT NULL,
			price_tolerance_bps BIGINT NOT NULL,
			oracle_heartbeat_seconds BIGINT NOT NULL,
			oracle_grace_period_seconds BIGINT NOT NULL,
			oracle_deviation_bps BIGINT NOT NULL,
			observations_to_keep INTEGER NOT NULL,
			share_lock_period_seconds BIGINT NOT NULL,
			minimum_seed_deposit NUMERIC(78, 0) NOT NULL,
			rebalance_deviation_bps BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_protocol_parameters_active ON protocol_parameters(is_active, created_at DESC);

		CREATE TABLE IF NOT EXISTS asset_settings (
			denom VARCHAR(128) PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			decimals SMALLINT NOT NULL,
			settings JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS pending_edits (
			denom VARCHAR(128) PRIMARY KEY REFERENCES asset_settings(denom),
			settings JSONB NOT NULL,
			staged_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trusted_adaptors (
			adaptor_id VARCHAR(64) PRIMARY KEY,
			trusted BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS trusted_positions (
			position_id INTEGER PRIMARY KEY,
			adaptor_id VARCHAR(64) NOT NULL,
			position_data JSONB NOT NULL,
			asset JSONB NOT NULL,
			is_debt BOOLEAN NOT NULL,
			trusted_at TIMESTAMPTZ NOT NULL,
			distrusted BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_trusted_positions_adaptor ON trusted_positions(adaptor_id);

		CREATE TABLE IF NOT EXISTS share_price_observations (
			observation_id SERIAL PRIMARY KEY,
			observation_timestamp TIMESTAMPTZ NOT NULL,
			share_price NUMERIC(78, 0) NOT NULL,
			total_assets NUMERIC(78, 0) NOT NULL,
			total_shares NUMERIC(78, 0) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_share_price_observations_timestamp ON share_price_observations(observation_timestamp DESC);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id SERIAL PRIMARY KEY,
			rebalance_id UUID NOT NULL,
			receipt_timestamp TIMESTAMPTZ NOT NULL,
			calls JSONB NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT,
			total_assets_before NUMERIC(78, 0) NOT NULL,
			total_assets_after NUMERIC(78, 0) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_timestamp ON rebalance_receipts(receipt_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_rebalance_id ON rebalance_receipts(rebalance_id);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
