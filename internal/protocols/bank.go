/*

This file contains the fungible token ledger the protocol engines and vaults
settle against. Balances are tracked per account per denom; amounts never go
negative and every mutation validates its inputs before touching state.

*/

package protocols

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAccount     = errors.New("account is invalid")
	ErrInvalidDenom       = errors.New("denom is invalid")
	ErrInvalidAmount      = errors.New("amount is invalid")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrUnknownMarket      = errors.New("unknown lending market")
	ErrUnknownPool        = errors.New("unknown pool")
	ErrUnknownStakingPool = errors.New("unknown staking pool")
)

// Bank is the in-process token ledger.
type Bank struct {
	balances map[string]map[string]sdkmath.Int // account -> denom -> amount
}

// NewBank creates an empty ledger.
func NewBank() *Bank {
	return &Bank{balances: make(map[string]map[string]sdkmath.Int)}
}

// Balance returns the account's balance for a denom. Missing entries are zero.
func (b *Bank) Balance(account, denom string) sdkmath.Int {
	if acct, ok := b.balances[account]; ok {
		if amt, ok := acct[denom]; ok {
			return amt
		}
	}
	return sdkmath.ZeroInt()
}

// Mint credits newly created tokens to an account.
func (b *Bank) Mint(account, denom string, amount sdkmath.Int) error {
	if err := validateEntry(account, denom, amount); err != nil {
		return err
	}
	if b.balances[account] == nil {
		b.balances[account] = make(map[string]sdkmath.Int)
	}
	b.balances[account][denom] = b.Balance(account, denom).Add(amount)
	return nil
}

// Burn destroys tokens held by an account.
func (b *Bank) Burn(account, denom string, amount sdkmath.Int) error {
	if err := validateEntry(account, denom, amount); err != nil {
		return err
	}
	current := b.Balance(account, denom)
	if current.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientFunds, account, current, denom, amount)
	}
	b.balances[account][denom] = current.Sub(amount)
	return nil
}

// Transfer moves tokens between accounts.
func (b *Bank) Transfer(from, to, denom string, amount sdkmath.Int) error {
	if err := b.Burn(from, denom, amount); err != nil {
		return err
	}
	return b.Mint(to, denom, amount)
}

// Supply returns the total amount of a denom across all accounts.
func (b *Bank) Supply(denom string) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, acct := range b.balances {
		if amt, ok := acct[denom]; ok {
			total = total.Add(amt)
		}
	}
	return total
}

func (b *Bank) clone() *Bank {
	out := NewBank()
	for account, denoms := range b.balances {
		out.balances[account] = make(map[string]sdkmath.Int, len(denoms))
		for denom, amt := range denoms {
			out.balances[account][denom] = amt
		}
	}
	return out
}

func validateEntry(account, denom string, amount sdkmath.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if denom == "" {
		return ErrInvalidDenom
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}
