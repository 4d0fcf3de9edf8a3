/*

This file contains the share-price oracle: a cached view of the vault's
share price refreshed by an untrusted-but-rate-limited keeper through the
CheckUpkeep/PerformUpkeep pair. Full NAV aggregation walks every position
and every price source, so consumers that only need "what is a share worth
right now" read the cache instead, and must fail closed when the cache says
it is not safe to use.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/types"
	"github.com/cellar-network/cvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig     = errors.New("oracle configuration is invalid")
	ErrUpkeepNotNeeded   = errors.New("upkeep conditions are not met")
	ErrDeviationBreached = errors.New("share price deviated beyond the allowed percentage")
	ErrKillSwitchActive  = errors.New("oracle kill switch is active")
	ErrNoObservations    = errors.New("oracle has no observations")
)

// Vault is the slice of the cellar the oracle observes.
type Vault interface {
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
	TotalShares() sdkmath.Int
	BaseAsset() types.Asset
}

// Config carries the oracle's tunables.
type Config struct {
	// Heartbeat is the maximum age an observation may reach before upkeep
	// is due regardless of price movement.
	Heartbeat time.Duration
	// GracePeriod extends the heartbeat for the staleness check only, so a
	// slightly late keeper does not immediately poison the cache.
	GracePeriod time.Duration
	// AllowedDeviationBps is the largest single-observation move accepted.
	// A breach rejects the observation and trips the kill switch.
	AllowedDeviationBps int64
	// ObservationsToKeep bounds the in-memory history.
	ObservationsToKeep int
}

// Oracle caches share-price observations for one cellar.
type Oracle struct {
	mu     sync.Mutex
	logger zerolog.Logger
	ring   *auth.Ring
	vault  Vault
	clock  func() time.Time
	cfg    Config

	observations    []types.SharePriceObservation
	nextObservation int64
	killSwitch      bool
}

// New creates an oracle over the given vault.
func New(ring *auth.Ring, vault Vault, cfg Config) (*Oracle, error) {
	if ring == nil || vault == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidConfig)
	}
	if cfg.Heartbeat <= 0 {
		return nil, fmt.Errorf("%w: heartbeat must be positive", ErrInvalidConfig)
	}
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("%w: grace period cannot be negative", ErrInvalidConfig)
	}
	if cfg.AllowedDeviationBps <= 0 {
		return nil, fmt.Errorf("%w: allowed deviation must be positive", ErrInvalidConfig)
	}
	if cfg.ObservationsToKeep <= 0 {
		cfg.ObservationsToKeep = 100
	}
	return &Oracle{
		logger:          logger.GetForComponent("share_price_oracle"),
		ring:            ring,
		vault:           vault,
		clock:           time.Now,
		cfg:             cfg,
		nextObservation: 1,
	}, nil
}

// SetClock overrides the time source.
func (o *Oracle) SetClock(clock func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock = clock
}

// CheckUpkeep reports whether PerformUpkeep would accept a new observation:
// the first observation is always due, then heartbeat expiry or a price move
// past half the allowed deviation brings upkeep forward.
func (o *Oracle) CheckUpkeep(ctx context.Context) (bool, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.killSwitch {
		return false, "kill switch active", nil
	}
	if len(o.observations) == 0 {
		return true, "no observations yet", nil
	}
	last := o.observations[len(o.observations)-1]
	age := o.clock().Sub(last.Timestamp)
	if age >= o.cfg.Heartbeat {
		return true, fmt.Sprintf("observation age %s past heartbeat %s", age, o.cfg.Heartbeat), nil
	}

	current, err := o.currentSharePrice(ctx)
	if err != nil {
		return false, "", err
	}
	if deviationExceeds(last.SharePrice, current, o.cfg.AllowedDeviationBps/2) {
		return true, "share price moved past half the allowed deviation", nil
	}
	return false, "cache is fresh", nil
}

// PerformUpkeep samples the vault and appends an observation. A move beyond
// the allowed deviation rejects the sample and trips the kill switch; the
// cache then reads as unsafe until governance resets it.
func (o *Oracle) PerformUpkeep(ctx context.Context, caller string) (types.SharePriceObservation, error) {
	if err := o.ring.Require(caller, auth.RoleKeeper); err != nil {
		return types.SharePriceObservation{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.killSwitch {
		return types.SharePriceObservation{}, ErrKillSwitchActive
	}

	totalAssets, err := o.vault.TotalAssets(ctx)
	if err != nil {
		return types.SharePriceObservation{}, fmt.Errorf("upkeep valuation failed: %w", err)
	}
	totalShares := o.vault.TotalShares()
	price, err := o.sharePrice(totalAssets, totalShares)
	if err != nil {
		return types.SharePriceObservation{}, err
	}

	if len(o.observations) > 0 {
		last := o.observations[len(o.observations)-1]
		if deviationExceeds(last.SharePrice, price, o.cfg.AllowedDeviationBps) {
			o.killSwitch = true
			o.logger.Error().
				Str("previous", last.SharePrice.String()).
				Str("current", price.String()).
				Int64("allowedBps", o.cfg.AllowedDeviationBps).
				Msg("Share price deviation breached, kill switch tripped")
			return types.SharePriceObservation{}, fmt.Errorf("%w: previous %s, current %s",
				ErrDeviationBreached, last.SharePrice, price)
		}
	}

	observation := types.SharePriceObservation{
		ObservationID: o.nextObservation,
		Timestamp:     o.clock(),
		SharePrice:    price,
		TotalAssets:   totalAssets,
		TotalShares:   totalShares,
	}
	o.nextObservation++
	o.observations = append(o.observations, observation)
	if len(o.observations) > o.cfg.ObservationsToKeep {
		o.observations = o.observations[len(o.observations)-o.cfg.ObservationsToKeep:]
	}

	o.logger.Info().
		Int64("observationID", observation.ObservationID).
		Str("sharePrice", price.String()).
		Str("totalAssets", totalAssets.String()).
		Msg("Share price observation recorded")
	return observation, nil
}

// Latest returns the cached share price. SafeToUse is false when the kill
// switch is tripped, no observation exists, or the newest observation is
// older than heartbeat plus grace.
func (o *Oracle) Latest() types.CachedSharePrice {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.observations) == 0 {
		return types.CachedSharePrice{SharePrice: sdkmath.ZeroInt(), SafeToUse: false}
	}
	last := o.observations[len(o.observations)-1]
	age := o.clock().Sub(last.Timestamp)
	return types.CachedSharePrice{
		SharePrice: last.SharePrice,
		UpdatedAt:  last.Timestamp,
		SafeToUse:  !o.killSwitch && age <= o.cfg.Heartbeat+o.cfg.GracePeriod,
	}
}

// Observations returns a copy of the retained history, oldest first.
func (o *Oracle) Observations() []types.SharePriceObservation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.SharePriceObservation, len(o.observations))
	copy(out, o.observations)
	return out
}

// KillSwitchActive reports whether the oracle has flagged itself unsafe.
func (o *Oracle) KillSwitchActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.killSwitch
}

// ResetKillSwitch clears a tripped kill switch. Governance only; the keeper
// that tripped it must not be able to clear it.
func (o *Oracle) ResetKillSwitch(caller string) error {
	if err := o.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.killSwitch = false
	o.logger.Warn().Str("caller", caller).Msg("Oracle kill switch reset")
	return nil
}

// sharePrice computes base-asset units per whole share, truncated. An empty
// vault reads 1:1 so the first post-seed observation has a sane baseline.
func (o *Oracle) sharePrice(totalAssets, totalShares sdkmath.Int) (sdkmath.Int, error) {
	oneShare, err := utils.PowerOfTen(o.vault.BaseAsset().Decimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if totalShares.IsZero() {
		return oneShare, nil
	}
	return utils.MulDivDown(totalAssets, oneShare, totalShares)
}

func (o *Oracle) currentSharePrice(ctx context.Context) (sdkmath.Int, error) {
	totalAssets, err := o.vault.TotalAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return o.sharePrice(totalAssets, o.vault.TotalShares())
}

// deviationExceeds reports |current - previous| > previous · bps / 10000.
func deviationExceeds(previous, current sdkmath.Int, bps int64) bool {
	if previous.IsZero() {
		return false
	}
	diff := current.Sub(previous).Abs()
	return diff.MulRaw(10_000).GT(previous.MulRaw(bps))
}
