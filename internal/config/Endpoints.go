package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// PriceFeedAPI is the base URL of the external price feed service.
	PriceFeedAPI string
	// PriceFeedTimeout bounds each feed HTTP request.
	PriceFeedTimeout = defaultFeedTimeout
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	PriceFeedAPI, err = getEnv("PRICE_FEED_API")
	if err != nil {
		return err
	}

	PriceFeedTimeout, err = getEnvAsDuration("PRICE_FEED_TIMEOUT")
	if err != nil {
		return err
	}

	log.Debug().
		Str("PriceFeedAPI", PriceFeedAPI).
		Dur("PriceFeedTimeout", PriceFeedTimeout).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
