/*

This file contains the liquid-staking engine: a derivative token whose claim
on the underlying grows with an exchange rate. The rate is what the router's
extension source reads when pricing the derivative off its underlying.

*/

package protocols

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

// StakingPool wraps an underlying asset into an appreciating derivative.
type StakingPool struct {
	Key        string
	Underlying types.Asset
	Derivative types.Asset

	bank    *Bank
	account string

	// underlying units per 10^decimals derivative units; starts at 1.0 and
	// only moves through Accrue.
	exchangeRate sdkmath.LegacyDec
}

// NewStakingPool creates a pool at a 1:1 exchange rate.
func NewStakingPool(key string, underlying, derivative types.Asset, bank *Bank) *StakingPool {
	return &StakingPool{
		Key:          key,
		Underlying:   underlying,
		Derivative:   derivative,
		bank:         bank,
		account:      "staking/" + key,
		exchangeRate: sdkmath.LegacyOneDec(),
	}
}

// ExchangeRate is the current underlying-per-derivative rate.
func (p *StakingPool) ExchangeRate() sdkmath.LegacyDec {
	return p.exchangeRate
}

// Stake locks underlying and mints derivative at the current rate, truncated.
func (p *StakingPool) Stake(staker string, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: stake amount must be positive", ErrInvalidAmount)
	}
	minted := sdkmath.LegacyNewDecFromInt(amount).Quo(p.exchangeRate).TruncateInt()
	if minted.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: stake too small to mint derivative", ErrInvalidAmount)
	}
	if err := p.bank.Transfer(staker, p.account, p.Underlying.Denom, amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := p.bank.Mint(staker, p.Derivative.Denom, minted); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return minted, nil
}

// Unstake burns derivative and returns underlying at the current rate,
// truncated.
func (p *StakingPool) Unstake(staker string, derivativeAmount sdkmath.Int) (sdkmath.Int, error) {
	if derivativeAmount.IsNil() || !derivativeAmount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: unstake amount must be positive", ErrInvalidAmount)
	}
	owed := sdkmath.LegacyNewDecFromInt(derivativeAmount).Mul(p.exchangeRate).TruncateInt()
	held := p.bank.Balance(p.account, p.Underlying.Denom)
	if held.LT(owed) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: pool %s holds %s underlying, owes %s", ErrInsufficientFunds, p.Key, held, owed)
	}
	if err := p.bank.Burn(staker, p.Derivative.Denom, derivativeAmount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := p.bank.Transfer(p.account, staker, p.Underlying.Denom, owed); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return owed, nil
}

// Accrue grows the exchange rate by basis points, minting the matching
// underlying into the pool so unstakes stay solvent.
func (p *StakingPool) Accrue(bps int64) error {
	if bps < 0 {
		return fmt.Errorf("%w: accrual bps cannot be negative", ErrInvalidAmount)
	}
	growth := sdkmath.LegacyNewDecWithPrec(bps, 4) // bps / 10000
	held := p.bank.Balance(p.account, p.Underlying.Denom)
	reward := sdkmath.LegacyNewDecFromInt(held).Mul(growth).TruncateInt()
	if reward.IsPositive() {
		if err := p.bank.Mint(p.account, p.Underlying.Denom, reward); err != nil {
			return err
		}
	}
	p.exchangeRate = p.exchangeRate.Mul(sdkmath.LegacyOneDec().Add(growth))
	return nil
}

func (p *StakingPool) clone(bank *Bank) *StakingPool {
	out := *p
	out.bank = bank
	return &out
}
