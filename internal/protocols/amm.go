/*

This file contains the two-asset constant-product AMM engine. LP shares are
real bank denoms so vault positions can hold them like any other token, and
the pool exposes its reserves for the router's pool-derived valuation.

*/

package protocols

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

// AMMPool is a constant-product pool over two assets.
type AMMPool struct {
	ID         uint64
	AssetA     types.Asset
	AssetB     types.Asset
	SwapFeeBps int64

	bank    *Bank
	account string

	reserveA    sdkmath.Int
	reserveB    sdkmath.Int
	totalShares sdkmath.Int
}

// NewAMMPool creates an empty pool backed by the given ledger.
func NewAMMPool(id uint64, assetA, assetB types.Asset, swapFeeBps int64, bank *Bank) *AMMPool {
	return &AMMPool{
		ID:          id,
		AssetA:      assetA,
		AssetB:      assetB,
		SwapFeeBps:  swapFeeBps,
		bank:        bank,
		account:     fmt.Sprintf("amm/pool/%d", id),
		reserveA:    sdkmath.ZeroInt(),
		reserveB:    sdkmath.ZeroInt(),
		totalShares: sdkmath.ZeroInt(),
	}
}

// ShareDenom is the bank denom of this pool's LP share token.
func (p *AMMPool) ShareDenom() string {
	return fmt.Sprintf("amm/pool/%d", p.ID)
}

// Reserves returns the pool's current balances and outstanding shares.
func (p *AMMPool) Reserves() (reserveA, reserveB, totalShares sdkmath.Int) {
	return p.reserveA, p.reserveB, p.totalShares
}

// Join deposits both assets and mints LP shares to the provider, truncated
// down to the lesser proportional claim.
func (p *AMMPool) Join(provider string, amountA, amountB sdkmath.Int) (sdkmath.Int, error) {
	if amountA.IsNil() || amountB.IsNil() || !amountA.IsPositive() || !amountB.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: join amounts must be positive", ErrInvalidAmount)
	}
	var shares sdkmath.Int
	if p.totalShares.IsZero() {
		shares = amountA.Add(amountB)
	} else {
		byA := amountA.Mul(p.totalShares).Quo(p.reserveA)
		byB := amountB.Mul(p.totalShares).Quo(p.reserveB)
		shares = byA
		if byB.LT(byA) {
			shares = byB
		}
	}
	if shares.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: join too small to mint shares", ErrInvalidAmount)
	}
	if err := p.bank.Transfer(provider, p.account, p.AssetA.Denom, amountA); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := p.bank.Transfer(provider, p.account, p.AssetB.Denom, amountB); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := p.bank.Mint(provider, p.ShareDenom(), shares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	p.reserveA = p.reserveA.Add(amountA)
	p.reserveB = p.reserveB.Add(amountB)
	p.totalShares = p.totalShares.Add(shares)
	return shares, nil
}

// Exit burns LP shares and pays out the proportional reserves, truncated down.
func (p *AMMPool) Exit(provider string, shares sdkmath.Int) (amountA, amountB sdkmath.Int, err error) {
	zero := sdkmath.ZeroInt()
	if shares.IsNil() || !shares.IsPositive() {
		return zero, zero, fmt.Errorf("%w: exit shares must be positive", ErrInvalidAmount)
	}
	if p.totalShares.IsZero() {
		return zero, zero, fmt.Errorf("%w: pool %d has no shares", ErrInsufficientFunds, p.ID)
	}
	amountA = shares.Mul(p.reserveA).Quo(p.totalShares)
	amountB = shares.Mul(p.reserveB).Quo(p.totalShares)
	if err := p.bank.Burn(provider, p.ShareDenom(), shares); err != nil {
		return zero, zero, err
	}
	if err := p.bank.Transfer(p.account, provider, p.AssetA.Denom, amountA); err != nil {
		return zero, zero, err
	}
	if err := p.bank.Transfer(p.account, provider, p.AssetB.Denom, amountB); err != nil {
		return zero, zero, err
	}
	p.reserveA = p.reserveA.Sub(amountA)
	p.reserveB = p.reserveB.Sub(amountB)
	p.totalShares = p.totalShares.Sub(shares)
	return amountA, amountB, nil
}

// Swap trades denomIn for the other asset at constant product less the swap
// fee, truncating output toward zero.
func (p *AMMPool) Swap(trader, denomIn string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: swap amount must be positive", ErrInvalidAmount)
	}
	var denomOut string
	var reserveIn, reserveOut sdkmath.Int
	switch denomIn {
	case p.AssetA.Denom:
		denomOut, reserveIn, reserveOut = p.AssetB.Denom, p.reserveA, p.reserveB
	case p.AssetB.Denom:
		denomOut, reserveIn, reserveOut = p.AssetA.Denom, p.reserveB, p.reserveA
	default:
		return sdkmath.ZeroInt(), fmt.Errorf("%w: pool %d does not hold %s", ErrInvalidDenom, p.ID, denomIn)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: pool %d has empty reserves", ErrInsufficientFunds, p.ID)
	}

	feeBps := sdkmath.NewInt(p.SwapFeeBps)
	effectiveIn := amountIn.Mul(sdkmath.NewInt(10_000).Sub(feeBps)).Quo(sdkmath.NewInt(10_000))
	amountOut := reserveOut.Mul(effectiveIn).Quo(reserveIn.Add(effectiveIn))
	if amountOut.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: swap output rounds to zero", ErrInvalidAmount)
	}

	if err := p.bank.Transfer(trader, p.account, denomIn, amountIn); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := p.bank.Transfer(p.account, trader, denomOut, amountOut); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if denomIn == p.AssetA.Denom {
		p.reserveA = p.reserveA.Add(amountIn)
		p.reserveB = p.reserveB.Sub(amountOut)
	} else {
		p.reserveB = p.reserveB.Add(amountIn)
		p.reserveA = p.reserveA.Sub(amountOut)
	}
	return amountOut, nil
}

func (p *AMMPool) clone(bank *Bank) *AMMPool {
	out := *p
	out.bank = bank
	return &out
}
