package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultName identifies the cellar this CVM instance manages.
	VaultName string
	// VaultAccount is the ledger account the cellar holds positions under.
	VaultAccount string

	// BaseAssetDenom is the cellar's unit of account.
	BaseAssetDenom string
	// BaseAssetSymbol is the display symbol for the base asset.
	BaseAssetSymbol string
	// BaseAssetDecimals is the base asset's on-ledger precision.
	BaseAssetDecimals uint8

	// GovernanceIdentity is the identity granted the governance role.
	GovernanceIdentity string
	// StrategistIdentity is the identity granted the strategist role.
	StrategistIdentity string
	// KeeperIdentity is the identity granted the keeper role.
	KeeperIdentity string

	// KeeperCronSpec is the cron schedule driving oracle upkeep.
	KeeperCronSpec string

	// WebListenPort is the port for the dashboard HTTP server.
	WebListenPort string

	// Database connection parameters.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultName, err = getEnv("CVM_VAULT_NAME")
	if err != nil {
		return err
	}

	VaultAccount, err = getEnv("CVM_VAULT_ACCOUNT")
	if err != nil {
		return err
	}

	BaseAssetDenom, err = getEnv("CVM_BASE_ASSET_DENOM")
	if err != nil {
		return err
	}

	BaseAssetSymbol, err = getEnv("CVM_BASE_ASSET_SYMBOL")
	if err != nil {
		return err
	}

	baseDecimals, err := getEnvAsUint64("CVM_BASE_ASSET_DECIMALS")
	if err != nil {
		return err
	}
	if baseDecimals > 18 {
		return errors.New("CVM_BASE_ASSET_DECIMALS must be 18 or less")
	}
	BaseAssetDecimals = uint8(baseDecimals)

	GovernanceIdentity, err = getEnv("CVM_GOVERNANCE_IDENTITY")
	if err != nil {
		return err
	}

	StrategistIdentity, err = getEnv("CVM_STRATEGIST_IDENTITY")
	if err != nil {
		return err
	}

	KeeperIdentity, err = getEnv("CVM_KEEPER_IDENTITY")
	if err != nil {
		return err
	}

	KeeperCronSpec, err = getEnv("CVM_KEEPER_CRON")
	if err != nil {
		return err
	}

	WebListenPort, err = getEnv("CVM_WEB_PORT")
	if err != nil {
		return err
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	dbPort, err := getEnvAsUint64("DB_PORT")
	if err != nil {
		return err
	}
	DBPort = int(dbPort)

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultName", VaultName).
		Str("BaseAssetDenom", BaseAssetDenom).
		Str("KeeperCronSpec", KeeperCronSpec).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a Go duration string
// such as "30s" or "12h". Returns error if not set or invalid.
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
