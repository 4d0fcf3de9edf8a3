/*

This file contains the share-based lending market engine. Suppliers receive
shares against pooled liquidity and borrowers take principal debt against it.
Supply balances grow when yield accrues because shares are claims on the
market's total underlying, not raw amounts.

*/

package protocols

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/types"
)

// LendingMarket is one money market for a single underlying asset.
type LendingMarket struct {
	ID    string
	Asset types.Asset

	bank    *Bank
	account string // the market's own ledger account holding cash

	totalShares     sdkmath.Int            // all supply shares outstanding
	supplyShares    map[string]sdkmath.Int // supplier -> shares
	totalUnderlying sdkmath.Int            // cash + borrows, the base of share value
	borrows         map[string]sdkmath.Int // borrower -> principal owed
	totalBorrowed   sdkmath.Int
}

// NewLendingMarket creates an empty market backed by the given ledger.
func NewLendingMarket(id string, asset types.Asset, bank *Bank) *LendingMarket {
	return &LendingMarket{
		ID:              id,
		Asset:           asset,
		bank:            bank,
		account:         "lending/" + id,
		totalShares:     sdkmath.ZeroInt(),
		supplyShares:    make(map[string]sdkmath.Int),
		totalUnderlying: sdkmath.ZeroInt(),
		borrows:         make(map[string]sdkmath.Int),
		totalBorrowed:   sdkmath.ZeroInt(),
	}
}

// Supply moves underlying from the supplier into the market and mints shares.
// Shares are truncated down so a supplier can never claim more than deposited.
func (m *LendingMarket) Supply(supplier string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: supply amount must be positive", ErrInvalidAmount)
	}
	shares := amount
	if m.totalShares.IsPositive() {
		shares = amount.Mul(m.totalShares).Quo(m.totalUnderlying)
	}
	if shares.IsZero() {
		return fmt.Errorf("%w: supply too small to mint shares", ErrInvalidAmount)
	}
	if err := m.bank.Transfer(supplier, m.account, m.Asset.Denom, amount); err != nil {
		return err
	}
	m.supplyShares[supplier] = m.shareBalance(supplier).Add(shares)
	m.totalShares = m.totalShares.Add(shares)
	m.totalUnderlying = m.totalUnderlying.Add(amount)
	return nil
}

// Withdraw redeems underlying back to the supplier, burning the matching
// shares rounded up so the market never pays out more than the shares cover.
func (m *LendingMarket) Withdraw(supplier string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidAmount)
	}
	if m.totalShares.IsZero() {
		return fmt.Errorf("%w: market has no supply", ErrInsufficientFunds)
	}
	// ceil(amount * totalShares / totalUnderlying)
	num := amount.Mul(m.totalShares)
	shares := num.Quo(m.totalUnderlying)
	if !num.Mod(m.totalUnderlying).IsZero() {
		shares = shares.Add(sdkmath.OneInt())
	}
	held := m.shareBalance(supplier)
	if held.LT(shares) {
		return fmt.Errorf("%w: supplier %s holds %s shares, needs %s", ErrInsufficientFunds, supplier, held, shares)
	}
	cash := m.bank.Balance(m.account, m.Asset.Denom)
	if cash.LT(amount) {
		return fmt.Errorf("%w: market cash %s below withdrawal %s", ErrInsufficientFunds, cash, amount)
	}
	if err := m.bank.Transfer(m.account, supplier, m.Asset.Denom, amount); err != nil {
		return err
	}
	m.supplyShares[supplier] = held.Sub(shares)
	m.totalShares = m.totalShares.Sub(shares)
	m.totalUnderlying = m.totalUnderlying.Sub(amount)
	return nil
}

// SupplyBalance is the supplier's current claim in underlying units,
// truncated down.
func (m *LendingMarket) SupplyBalance(supplier string) sdkmath.Int {
	shares := m.shareBalance(supplier)
	if shares.IsZero() || m.totalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(m.totalUnderlying).Quo(m.totalShares)
}

// Borrow lends market cash out to the borrower, recording principal debt.
func (m *LendingMarket) Borrow(borrower string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: borrow amount must be positive", ErrInvalidAmount)
	}
	cash := m.bank.Balance(m.account, m.Asset.Denom)
	if cash.LT(amount) {
		return fmt.Errorf("%w: market cash %s below borrow %s", ErrInsufficientFunds, cash, amount)
	}
	if err := m.bank.Transfer(m.account, borrower, m.Asset.Denom, amount); err != nil {
		return err
	}
	m.borrows[borrower] = m.BorrowBalance(borrower).Add(amount)
	m.totalBorrowed = m.totalBorrowed.Add(amount)
	return nil
}

// Repay pays debt down. A zero amount is rejected with the market's own raw
// error text; the wrapped protocol treats zero as ambiguous ("repay
// everything" vs "repay nothing") and callers must pass an explicit amount.
func (m *LendingMarket) Repay(borrower string, amount sdkmath.Int) error {
	if amount.IsNil() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return errors.New("input amount of zero is ambiguous, pass exact repay amount")
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	owed := m.BorrowBalance(borrower)
	if owed.LT(amount) {
		return fmt.Errorf("%w: borrower %s owes %s, repaying %s", ErrInvalidAmount, borrower, owed, amount)
	}
	if err := m.bank.Transfer(borrower, m.account, m.Asset.Denom, amount); err != nil {
		return err
	}
	m.borrows[borrower] = owed.Sub(amount)
	m.totalBorrowed = m.totalBorrowed.Sub(amount)
	return nil
}

// BorrowBalance is the borrower's outstanding principal.
func (m *LendingMarket) BorrowBalance(borrower string) sdkmath.Int {
	if owed, ok := m.borrows[borrower]; ok {
		return owed
	}
	return sdkmath.ZeroInt()
}

// AccrueYield mints interest into the market, growing every supplier's claim
// proportionally. Basis points of the current total underlying.
func (m *LendingMarket) AccrueYield(bps int64) error {
	if bps < 0 {
		return fmt.Errorf("%w: yield bps cannot be negative", ErrInvalidAmount)
	}
	interest := m.totalUnderlying.Mul(sdkmath.NewInt(bps)).Quo(sdkmath.NewInt(10_000))
	if interest.IsZero() {
		return nil
	}
	if err := m.bank.Mint(m.account, m.Asset.Denom, interest); err != nil {
		return err
	}
	m.totalUnderlying = m.totalUnderlying.Add(interest)
	return nil
}

func (m *LendingMarket) shareBalance(supplier string) sdkmath.Int {
	if s, ok := m.supplyShares[supplier]; ok {
		return s
	}
	return sdkmath.ZeroInt()
}

func (m *LendingMarket) clone(bank *Bank) *LendingMarket {
	out := &LendingMarket{
		ID:              m.ID,
		Asset:           m.Asset,
		bank:            bank,
		account:         m.account,
		totalShares:     m.totalShares,
		supplyShares:    make(map[string]sdkmath.Int, len(m.supplyShares)),
		totalUnderlying: m.totalUnderlying,
		borrows:         make(map[string]sdkmath.Int, len(m.borrows)),
		totalBorrowed:   m.totalBorrowed,
	}
	for k, v := range m.supplyShares {
		out.supplyShares[k] = v
	}
	for k, v := range m.borrows {
		out.borrows[k] = v
	}
	return out
}
