/*

This file contains the World: the container owning the bank ledger and every
protocol engine instance. Snapshot/Restore deep-copies the whole state so a
multi-step rebalance can be rolled back as one unit when any step fails.

*/

package protocols

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/types"
)

var worldLogger = logger.GetForComponent("protocol_world")

// World owns all external-protocol state the adaptors read and write.
type World struct {
	Bank *Bank

	lendingMarkets map[string]*LendingMarket
	ammPools       map[uint64]*AMMPool
	stakingPools   map[string]*StakingPool
}

// NewWorld creates an empty world with a fresh ledger.
func NewWorld() *World {
	return &World{
		Bank:           NewBank(),
		lendingMarkets: make(map[string]*LendingMarket),
		ammPools:       make(map[uint64]*AMMPool),
		stakingPools:   make(map[string]*StakingPool),
	}
}

// AddLendingMarket registers a market. The market must have been created
// against this world's bank.
func (w *World) AddLendingMarket(m *LendingMarket) {
	w.lendingMarkets[m.ID] = m
}

// AddAMMPool registers a pool.
func (w *World) AddAMMPool(p *AMMPool) {
	w.ammPools[p.ID] = p
}

// AddStakingPool registers a staking pool.
func (w *World) AddStakingPool(p *StakingPool) {
	w.stakingPools[p.Key] = p
}

// LendingMarket resolves a market by id.
func (w *World) LendingMarket(id string) (*LendingMarket, error) {
	m, ok := w.lendingMarkets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}

// AMMPool resolves a pool by id.
func (w *World) AMMPool(id uint64) (*AMMPool, error) {
	p, ok := w.ammPools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPool, id)
	}
	return p, nil
}

// StakingPool resolves a staking pool by key.
func (w *World) StakingPool(key string) (*StakingPool, error) {
	p, ok := w.stakingPools[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStakingPool, key)
	}
	return p, nil
}

// PoolReserves exposes a pool's assets, reserves and outstanding shares in
// the shape pool-derived price sources consume.
func (w *World) PoolReserves(poolID uint64) (assetA, assetB types.Asset, reserveA, reserveB, totalShares sdkmath.Int, err error) {
	pool, err := w.AMMPool(poolID)
	if err != nil {
		zero := sdkmath.ZeroInt()
		return types.Asset{}, types.Asset{}, zero, zero, zero, err
	}
	reserveA, reserveB, totalShares = pool.Reserves()
	return pool.AssetA, pool.AssetB, reserveA, reserveB, totalShares, nil
}

// Snapshot captures a deep copy of all protocol state.
type Snapshot struct {
	bank           *Bank
	lendingMarkets map[string]*LendingMarket
	ammPools       map[uint64]*AMMPool
	stakingPools   map[string]*StakingPool
}

// Snapshot deep-copies the world. The copy shares nothing with live state.
func (w *World) Snapshot() *Snapshot {
	bank := w.Bank.clone()
	snap := &Snapshot{
		bank:           bank,
		lendingMarkets: make(map[string]*LendingMarket, len(w.lendingMarkets)),
		ammPools:       make(map[uint64]*AMMPool, len(w.ammPools)),
		stakingPools:   make(map[string]*StakingPool, len(w.stakingPools)),
	}
	for id, m := range w.lendingMarkets {
		snap.lendingMarkets[id] = m.clone(bank)
	}
	for id, p := range w.ammPools {
		snap.ammPools[id] = p.clone(bank)
	}
	for key, p := range w.stakingPools {
		snap.stakingPools[key] = p.clone(bank)
	}
	return snap
}

// Restore replaces live state with the snapshot's copy. Engine pointers held
// by adaptors stay valid because restoration rewrites state in place.
func (w *World) Restore(snap *Snapshot) {
	if snap == nil {
		worldLogger.Error().Msg("Restore called with nil snapshot, ignoring")
		return
	}
	*w.Bank = *snap.bank
	for id, m := range w.lendingMarkets {
		restored, ok := snap.lendingMarkets[id]
		if !ok {
			continue
		}
		bank := m.bank
		*m = *restored
		m.bank = bank
	}
	for id, p := range w.ammPools {
		restored, ok := snap.ammPools[id]
		if !ok {
			continue
		}
		bank := p.bank
		*p = *restored
		p.bank = bank
	}
	for key, p := range w.stakingPools {
		restored, ok := snap.stakingPools[key]
		if !ok {
			continue
		}
		bank := p.bank
		*p = *restored
		p.bank = bank
	}
	worldLogger.Debug().Msg("Protocol world state restored from snapshot")
}
