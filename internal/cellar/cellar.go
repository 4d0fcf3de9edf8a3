/*

This file contains the Cellar: the share-issuing vault holding user deposits
in a base asset and valuing strategist-directed positions through the price
router. Share math truncates toward zero on both mint and payout so rounding
can never favor the user over the vault.

*/

package cellar

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
	"github.com/cellar-network/cvm/internal/pricerouter"
	"github.com/cellar-network/cvm/internal/protocols"
	"github.com/cellar-network/cvm/internal/registry"
	"github.com/cellar-network/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig      = errors.New("cellar configuration is invalid")
	ErrInvalidAmount      = errors.New("amount is invalid")
	ErrBelowMinimumSeed   = errors.New("first deposit is below the minimum seed")
	ErrSharesLocked       = errors.New("shares are still locked")
	ErrInsufficientShares = errors.New("holder has insufficient shares")
	ErrIlliquidWithdrawal = errors.New("vault cannot source base asset for withdrawal")
	ErrNegativeNAV        = errors.New("debt exceeds credit value")
	ErrZeroShares         = errors.New("computation yields zero shares")
)

// Config carries a cellar's tunables.
type Config struct {
	// Name identifies the vault in logs and persistence.
	Name string
	// Account is the vault's own ledger account holding external positions.
	Account string
	// BaseAsset is the unit of account all valuation resolves to.
	BaseAsset types.Asset
	// ShareLockPeriod blocks redemption of freshly minted shares.
	ShareLockPeriod time.Duration
	// MinimumSeedDeposit is the floor for the first deposit, defending
	// against the empty-vault share-inflation attack.
	MinimumSeedDeposit sdkmath.Int
	// AllowedRebalanceDeviationBps bounds how far a rebalance may move
	// total assets before the whole dispatch is rolled back.
	AllowedRebalanceDeviationBps int64
}

// Cellar is one vault instance. The registry and router are shared services
// injected at construction; all vault-local state lives here.
type Cellar struct {
	mu     sync.Mutex
	logger zerolog.Logger
	ring   *auth.Ring
	reg    *registry.Registry
	router *pricerouter.Router
	world  *protocols.World
	clock  func() time.Time
	cfg    Config

	creditPositions []types.PositionID
	debtPositions   []types.PositionID
	catalogue       map[types.PositionID]bool
	holdingPosition types.PositionID

	totalShares sdkmath.Int
	shares      map[string]sdkmath.Int
	unlockAt    map[string]time.Time

	receiptSink func(types.RebalanceReceipt)
}

// New creates a cellar wired to the shared registry, router and world.
func New(ring *auth.Ring, reg *registry.Registry, router *pricerouter.Router, world *protocols.World, cfg Config) (*Cellar, error) {
	if ring == nil || reg == nil || router == nil || world == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidConfig)
	}
	if cfg.Name == "" || cfg.Account == "" {
		return nil, fmt.Errorf("%w: name and account are required", ErrInvalidConfig)
	}
	if cfg.BaseAsset.Denom == "" {
		return nil, fmt.Errorf("%w: base asset is required", ErrInvalidConfig)
	}
	if _, err := router.Asset(cfg.BaseAsset.Denom); err != nil {
		return nil, fmt.Errorf("%w: base asset must be registered with the price router: %w", ErrInvalidConfig, err)
	}
	if cfg.MinimumSeedDeposit.IsNil() || !cfg.MinimumSeedDeposit.IsPositive() {
		return nil, fmt.Errorf("%w: minimum seed deposit must be positive", ErrInvalidConfig)
	}
	if cfg.AllowedRebalanceDeviationBps <= 0 {
		cfg.AllowedRebalanceDeviationBps = 30
	}
	c := &Cellar{
		logger:      logger.GetForComponent("cellar_" + cfg.Name),
		ring:        ring,
		reg:         reg,
		router:      router,
		world:       world,
		clock:       time.Now,
		cfg:         cfg,
		catalogue:   make(map[types.PositionID]bool),
		totalShares: sdkmath.ZeroInt(),
		shares:      make(map[string]sdkmath.Int),
		unlockAt:    make(map[string]time.Time),
	}
	c.logger.Info().
		Str("baseAsset", cfg.BaseAsset.Denom).
		Str("account", cfg.Account).
		Msg("Cellar created")
	return c, nil
}

// SetClock overrides the time source.
func (c *Cellar) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// BaseAsset returns the vault's unit of account.
func (c *Cellar) BaseAsset() types.Asset {
	return c.cfg.BaseAsset
}

// Account returns the vault's ledger account.
func (c *Cellar) Account() string {
	return c.cfg.Account
}

// TotalShares returns the outstanding share supply.
func (c *Cellar) TotalShares() sdkmath.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalShares
}

// ShareBalance returns a holder's shares.
func (c *Cellar) ShareBalance(holder string) sdkmath.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shareBalance(holder)
}

// TotalAssets aggregates every active position into base-asset units:
// Σ credit − Σ debt. Any sub-failure fails the whole aggregation; a partial
// NAV would misprice shares, which is worse than no NAV at all.
func (c *Cellar) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalAssets(ctx)
}

func (c *Cellar) totalAssets(ctx context.Context) (sdkmath.Int, error) {
	credit, err := c.sumPositions(ctx, c.creditPositions)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	debt, err := c.sumPositions(ctx, c.debtPositions)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if debt.GT(credit) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: credit %s, debt %s", ErrNegativeNAV, credit, debt)
	}
	return credit.Sub(debt), nil
}

func (c *Cellar) sumPositions(ctx context.Context, ids []types.PositionID) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, id := range ids {
		value, err := c.positionValue(ctx, id)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(value)
	}
	return total, nil
}

// positionValue reads one position's adaptor balance and converts it into
// the base asset.
func (c *Cellar) positionValue(ctx context.Context, id types.PositionID) (sdkmath.Int, error) {
	position, err := c.reg.Position(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	adaptor, err := c.reg.Adaptor(position.AdaptorID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	balance, err := adaptor.BalanceOf(c.cfg.Account, position.PositionData)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("position %d balance: %w", id, err)
	}
	if balance.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	value, err := c.router.GetValue(ctx, position.Asset.Denom, balance, c.cfg.BaseAsset.Denom)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("position %d valuation: %w", id, err)
	}
	return value, nil
}

// Deposit takes base-asset units from the depositor, routes them into the
// holding position, and mints shares truncated down. The first deposit seeds
// shares 1:1 and must meet the configured minimum.
func (c *Cellar) Deposit(ctx context.Context, depositor string, assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holdingPosition == 0 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: no holding position set", ErrInvalidConfig)
	}

	// Shares are computed against NAV before the deposit lands.
	var minted sdkmath.Int
	if c.totalShares.IsZero() {
		if assets.LT(c.cfg.MinimumSeedDeposit) {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: %s below %s", ErrBelowMinimumSeed, assets, c.cfg.MinimumSeedDeposit)
		}
		minted = assets
	} else {
		total, err := c.totalAssets(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		if total.IsZero() {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: vault has shares but no assets", ErrNegativeNAV)
		}
		minted = assets.Mul(c.totalShares).Quo(total)
	}
	if minted.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit too small", ErrZeroShares)
	}

	if err := c.world.Bank.Transfer(depositor, c.cfg.Account, c.cfg.BaseAsset.Denom, assets); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := c.enterHoldingPosition(assets); err != nil {
		// Undo the transfer; the deposit must be all-or-nothing.
		if txErr := c.world.Bank.Transfer(c.cfg.Account, depositor, c.cfg.BaseAsset.Denom, assets); txErr != nil {
			c.logger.Error().Err(txErr).Msg("Failed to unwind deposit transfer")
		}
		return sdkmath.ZeroInt(), err
	}

	c.shares[depositor] = c.shareBalance(depositor).Add(minted)
	c.totalShares = c.totalShares.Add(minted)
	c.unlockAt[depositor] = c.clock().Add(c.cfg.ShareLockPeriod)

	c.logger.Info().
		Str("depositor", depositor).
		Str("assets", assets.String()).
		Str("shares", minted.String()).
		Msg("Deposit accepted")
	return minted, nil
}

// Redeem burns shares and pays out the proportional base-asset value,
// truncated down. Fails while the holder's shares are share-locked.
func (c *Cellar) Redeem(ctx context.Context, holder string, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: redeem must be positive", ErrInvalidAmount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkShareLock(holder); err != nil {
		return sdkmath.ZeroInt(), err
	}
	held := c.shareBalance(holder)
	if held.LT(shares) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: holds %s, redeeming %s", ErrInsufficientShares, held, shares)
	}
	total, err := c.totalAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	assets := shares.Mul(total).Quo(c.totalShares)
	if assets.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: redemption rounds to zero assets", ErrInvalidAmount)
	}

	if err := c.sourceLiquidity(assets); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := c.world.Bank.Transfer(c.cfg.Account, holder, c.cfg.BaseAsset.Denom, assets); err != nil {
		return sdkmath.ZeroInt(), err
	}

	c.shares[holder] = held.Sub(shares)
	c.totalShares = c.totalShares.Sub(shares)

	c.logger.Info().
		Str("holder", holder).
		Str("shares", shares.String()).
		Str("assets", assets.String()).
		Msg("Redemption paid")
	return assets, nil
}

// Withdraw pays out an exact asset amount, burning shares rounded up so the
// vault never gives out more value than the burned shares cover.
func (c *Cellar) Withdraw(ctx context.Context, holder string, assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkShareLock(holder); err != nil {
		return sdkmath.ZeroInt(), err
	}
	total, err := c.totalAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if total.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: vault is empty", ErrInvalidAmount)
	}
	// ceil(assets * totalShares / totalAssets)
	num := assets.Mul(c.totalShares)
	burned := num.Quo(total)
	if !num.Mod(total).IsZero() {
		burned = burned.Add(sdkmath.OneInt())
	}
	held := c.shareBalance(holder)
	if held.LT(burned) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: holds %s, needs %s", ErrInsufficientShares, held, burned)
	}

	if err := c.sourceLiquidity(assets); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := c.world.Bank.Transfer(c.cfg.Account, holder, c.cfg.BaseAsset.Denom, assets); err != nil {
		return sdkmath.ZeroInt(), err
	}

	c.shares[holder] = held.Sub(burned)
	c.totalShares = c.totalShares.Sub(burned)

	c.logger.Info().
		Str("holder", holder).
		Str("assets", assets.String()).
		Str("shares", burned.String()).
		Msg("Withdrawal paid")
	return burned, nil
}

// enterHoldingPosition pushes freshly deposited base assets into the holding
// position via its adaptor.
func (c *Cellar) enterHoldingPosition(assets sdkmath.Int) error {
	position, err := c.reg.Position(c.holdingPosition)
	if err != nil {
		return err
	}
	adaptor, err := c.reg.Adaptor(position.AdaptorID)
	if err != nil {
		return err
	}
	return adaptor.Deposit(c.cfg.Account, assets, position.PositionData)
}

// sourceLiquidity ensures the vault account holds enough base asset to pay
// out, pulling the shortfall from the holding position.
func (c *Cellar) sourceLiquidity(assets sdkmath.Int) error {
	liquid := c.world.Bank.Balance(c.cfg.Account, c.cfg.BaseAsset.Denom)
	if liquid.GTE(assets) {
		return nil
	}
	shortfall := assets.Sub(liquid)

	position, err := c.reg.Position(c.holdingPosition)
	if err != nil {
		return errors.Join(ErrIlliquidWithdrawal, err)
	}
	adaptor, err := c.reg.Adaptor(position.AdaptorID)
	if err != nil {
		return errors.Join(ErrIlliquidWithdrawal, err)
	}
	if err := adaptor.Withdraw(c.cfg.Account, shortfall, position.PositionData); err != nil {
		return errors.Join(ErrIlliquidWithdrawal, err)
	}
	if c.world.Bank.Balance(c.cfg.Account, c.cfg.BaseAsset.Denom).LT(assets) {
		return fmt.Errorf("%w: shortfall %s not covered by holding position", ErrIlliquidWithdrawal, shortfall)
	}
	return nil
}

func (c *Cellar) checkShareLock(holder string) error {
	unlock, ok := c.unlockAt[holder]
	if ok && c.clock().Before(unlock) {
		return fmt.Errorf("%w: until %s", ErrSharesLocked, unlock)
	}
	return nil
}

func (c *Cellar) shareBalance(holder string) sdkmath.Int {
	if s, ok := c.shares[holder]; ok {
		return s
	}
	return sdkmath.ZeroInt()
}
