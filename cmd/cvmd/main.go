package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cellar-network/cvm/internal/adaptors"
	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/cellar"
	"github.com/cellar-network/cvm/internal/config"
	"github.com/cellar-network/cvm/internal/datafetcher"
	"github.com/cellar-network/cvm/internal/keeper"
	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/oracle"
	"github.com/cellar-network/cvm/internal/pricerouter"
	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/registry"
	"github.com/cellar-network/cvm/internal/state"
	"github.com/cellar-network/cvm/internal/types"
	"github.com/cellar-network/cvm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the CVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("CVM Core Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Protocol Parameters
	params, err := state.LoadActiveParameters()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active protocol parameters, using defaults and saving.")
		params = config.DefaultProtocolParameters
		if _, err := state.SaveParameters(params); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default protocol parameters.")
		}
	}
	log.Info().Msg("Protocol parameters loaded successfully.")

	// --- 2. Core Assembly with Dependency Injection ---
	ring := auth.NewRing()
	ring.Grant(config.GovernanceIdentity, auth.RoleGovernance)
	ring.Grant(config.StrategistIdentity, auth.RoleStrategist)
	ring.Grant(config.KeeperIdentity, auth.RoleKeeper)

	world := protocols.NewWorld()

	baseAsset := types.Asset{
		Denom:    config.BaseAssetDenom,
		Symbol:   config.BaseAssetSymbol,
		Decimals: config.BaseAssetDecimals,
	}

	priceRouter := pricerouter.New(ring, world, pricerouter.Config{
		MinEditDelay: params.MinEditDelay,
		ToleranceBps: params.PriceToleranceBps,
	})

	reg := registry.New(ring)
	knownAssets := map[string]types.Asset{baseAsset.Denom: baseAsset}
	reg.RegisterAdaptor(adaptors.NewHoldingAdaptor(world, knownAssets))
	reg.RegisterAdaptor(adaptors.NewLendingAdaptor(world))
	reg.RegisterAdaptor(adaptors.NewDebtAdaptor(world))
	reg.RegisterAdaptor(adaptors.NewAMMAdaptor(world))
	reg.RegisterAdaptor(adaptors.NewStakingAdaptor(world))

	// Install the external feed client for the base asset's price source.
	baseFeed, err := datafetcher.NewFeedClient(config.PriceFeedAPI, config.BaseAssetSymbol+"-USD", config.PriceFeedTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build base asset feed client")
	}
	priceRouter.RegisterFeed(baseFeed.FeedName(), baseFeed)

	// --- 3. Replay Persisted State ---
	if err := replayPersistedState(reg, priceRouter); err != nil {
		log.Fatal().Err(err).Msg("Failed to replay persisted state")
	}

	// Write-through sinks: every trust and pricing commit lands in the tables
	// the replay above reads. Installed after replay; Restore paths never fire
	// them.
	reg.SetPersistenceSinks(
		func(adaptorID string, trusted bool) {
			if err := state.SaveAdaptorTrust(adaptorID, trusted); err != nil {
				log.Error().Err(err).Str("adaptorID", adaptorID).Msg("Failed to persist adaptor trust")
			}
		},
		func(position types.TrustedPosition) {
			if err := state.SaveTrustedPosition(position); err != nil {
				log.Error().Err(err).Uint32("positionID", uint32(position.ID)).Msg("Failed to persist trusted position")
			}
		},
	)
	priceRouter.SetPersistenceSinks(
		func(asset types.Asset, settings types.AssetSettings) {
			if err := state.UpsertAssetSettings(asset, settings); err != nil {
				log.Error().Err(err).Str("denom", asset.Denom).Msg("Failed to persist asset settings")
			}
		},
		func(edit types.PendingEdit) {
			if err := state.SavePendingEdit(edit); err != nil {
				log.Error().Err(err).Str("denom", edit.Denom).Msg("Failed to persist pending edit")
			}
		},
		func(denom string) {
			if err := state.DeletePendingEdit(denom); err != nil {
				log.Error().Err(err).Str("denom", denom).Msg("Failed to delete persisted pending edit")
			}
		},
	)

	// --- 4. Cellar, Oracle, Keeper ---
	vault, err := cellar.New(ring, reg, priceRouter, world, cellar.Config{
		Name:                         config.VaultName,
		Account:                      config.VaultAccount,
		BaseAsset:                    baseAsset,
		ShareLockPeriod:              params.ShareLockPeriod,
		MinimumSeedDeposit:           params.MinimumSeedDeposit,
		AllowedRebalanceDeviationBps: params.RebalanceDeviationBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create cellar")
	}
	vault.SetReceiptSink(func(receipt types.RebalanceReceipt) {
		if _, err := state.SaveRebalanceReceipt(receipt); err != nil {
			log.Error().Err(err).Str("rebalanceID", receipt.RebalanceID).Msg("Failed to persist rebalance receipt")
		}
	})

	shareOracle, err := oracle.New(ring, vault, oracle.Config{
		Heartbeat:           params.OracleHeartbeat,
		GracePeriod:         params.OracleGracePeriod,
		AllowedDeviationBps: params.OracleDeviationBps,
		ObservationsToKeep:  params.ObservationsToKeep,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create share price oracle")
	}

	upkeepKeeper := keeper.New(shareOracle, config.KeeperIdentity)
	if err := upkeepKeeper.Start(config.KeeperCronSpec); err != nil {
		log.Fatal().Err(err).Msg("Failed to start upkeep keeper")
	}
	defer upkeepKeeper.Stop()

	// --- 5. Start Web Server ---
	webServer := web.NewWebServer(config.WebListenPort, vault, priceRouter, shareOracle)
	go func() {
		log.Info().Str("port", config.WebListenPort).Str("url", "http://localhost:"+config.WebListenPort).Msg("Starting CVM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	log.Info().
		Str("vault", config.VaultName).
		Str("baseAsset", baseAsset.Denom).
		Msg("CVM running")

	// Block until shutdown is requested
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("Shutdown signal received, stopping...")
	time.Sleep(time.Second)
}

// replayPersistedState loads trust decisions and asset registrations from
// the database back into the in-memory core. Registrations passed their
// validation gates when first committed; replay only re-checks shape.
func replayPersistedState(reg *registry.Registry, priceRouter *pricerouter.Router) error {
	adaptorIDs, err := state.LoadTrustedAdaptorIDs()
	if err != nil {
		return err
	}
	for _, adaptorID := range adaptorIDs {
		if err := reg.RestoreAdaptorTrust(adaptorID); err != nil {
			return err
		}
	}

	positions, err := state.LoadTrustedPositions()
	if err != nil {
		return err
	}
	for _, position := range positions {
		if err := reg.RestorePosition(position); err != nil {
			return err
		}
	}

	assets, err := state.LoadAssetSettings()
	if err != nil {
		return err
	}
	for _, entry := range assets {
		if err := priceRouter.RestoreAsset(entry.Asset, entry.Settings); err != nil {
			return err
		}
	}

	edits, err := state.LoadPendingEdits()
	if err != nil {
		return err
	}
	for _, edit := range edits {
		if err := priceRouter.RestorePendingEdit(edit); err != nil {
			return err
		}
	}

	log.Info().
		Int("adaptors", len(adaptorIDs)).
		Int("positions", len(positions)).
		Int("assets", len(assets)).
		Int("pendingEdits", len(edits)).
		Msg("Persisted state replayed")
	return nil
}
