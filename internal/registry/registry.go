/*

This file contains the registry: the process-wide trust store mapping
position ids to (adaptor, positionData) records and gating which adaptors
may ever hold vault capital. Trust is granted by governance only and is
independent of any one vault; vaults layer their own catalogue on top.

*/

package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cellar-network/cvm/internal/adaptors"
	"github.com/cellar-network/cvm/internal/auth"
	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAdaptorNotRegistered = errors.New("adaptor implementation is not registered")
	ErrAdaptorNotTrusted    = errors.New("adaptor is not trusted")
	ErrPositionNotTrusted   = errors.New("position is not trusted")
	ErrPositionExists       = errors.New("position is already trusted")
	ErrProbeFailed          = errors.New("adaptor probe failed")
)

var registryLogger = logger.GetForComponent("registry")

// Registry is the shared trust store. One instance is injected into every
// vault at construction time; tests build isolated instances.
type Registry struct {
	mu    sync.Mutex
	ring  *auth.Ring
	clock func() time.Time

	adaptors        map[string]adaptors.Adaptor
	trustedAdaptors map[string]bool
	positions       map[types.PositionID]*types.TrustedPosition
	index           map[string]types.PositionID // adaptorID|data -> id
	nextID          types.PositionID

	adaptorTrustSink func(adaptorID string, trusted bool)
	positionSink     func(position types.TrustedPosition)
}

// New creates an empty registry authorized by the given role ring.
func New(ring *auth.Ring) *Registry {
	return &Registry{
		ring:            ring,
		clock:           time.Now,
		adaptors:        make(map[string]adaptors.Adaptor),
		trustedAdaptors: make(map[string]bool),
		positions:       make(map[types.PositionID]*types.TrustedPosition),
		index:           make(map[string]types.PositionID),
		nextID:          1,
	}
}

// SetClock overrides the time source.
func (r *Registry) SetClock(clock func() time.Time) {
	r.clock = clock
}

// SetPersistenceSinks installs callbacks invoked with every committed trust
// change. Used to write trust state through to persistence without coupling
// the registry to the database; startup replay through RestoreAdaptorTrust
// and RestorePosition bypasses them.
func (r *Registry) SetPersistenceSinks(onAdaptorTrust func(adaptorID string, trusted bool), onPosition func(types.TrustedPosition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adaptorTrustSink = onAdaptorTrust
	r.positionSink = onPosition
}

// emitAdaptorTrust forwards a committed adaptor trust flag to the sink, if
// one is installed. Callers hold r.mu.
func (r *Registry) emitAdaptorTrust(adaptorID string, trusted bool) {
	if r.adaptorTrustSink != nil {
		r.adaptorTrustSink(adaptorID, trusted)
	}
}

// emitPosition forwards a committed position record to the sink, if one is
// installed. Callers hold r.mu.
func (r *Registry) emitPosition(position types.TrustedPosition) {
	if r.positionSink != nil {
		r.positionSink(position)
	}
}

// RegisterAdaptor installs an adaptor implementation. Installation is a
// deployment concern and grants no trust by itself.
func (r *Registry) RegisterAdaptor(adaptor adaptors.Adaptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adaptors[adaptor.ID()] = adaptor
}

// Adaptor resolves a registered adaptor implementation by id.
func (r *Registry) Adaptor(adaptorID string) (adaptors.Adaptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adaptor, ok := r.adaptors[adaptorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdaptorNotRegistered, adaptorID)
	}
	return adaptor, nil
}

// TrustAdaptor marks an adaptor as safe to deploy positions against.
// Governance-only. Re-trusting an already-trusted adaptor is a no-op.
func (r *Registry) TrustAdaptor(caller, adaptorID string) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adaptors[adaptorID]; !ok {
		return fmt.Errorf("%w: %s", ErrAdaptorNotRegistered, adaptorID)
	}
	if r.trustedAdaptors[adaptorID] {
		registryLogger.Debug().Str("adaptor", adaptorID).Msg("Adaptor already trusted, no-op")
		return nil
	}
	r.trustedAdaptors[adaptorID] = true
	r.emitAdaptorTrust(adaptorID, true)
	registryLogger.Info().Str("adaptor", adaptorID).Msg("Adaptor trusted")
	return nil
}

// DistrustAdaptor marks an adaptor untrusted going forward. Vaults that have
// already activated positions against it keep them until they exit; trust
// removal is never retroactive.
func (r *Registry) DistrustAdaptor(caller, adaptorID string) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adaptors[adaptorID]; !ok {
		return fmt.Errorf("%w: %s", ErrAdaptorNotRegistered, adaptorID)
	}
	r.trustedAdaptors[adaptorID] = false
	r.emitAdaptorTrust(adaptorID, false)
	registryLogger.Warn().Str("adaptor", adaptorID).Msg("Adaptor distrusted going forward")
	return nil
}

// IsAdaptorTrusted reports current adaptor trust.
func (r *Registry) IsAdaptorTrusted(adaptorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trustedAdaptors[adaptorID]
}

// TrustPosition assigns a new globally unique id to an (adaptor, data) pair.
// Governance-only. The adaptor must already be trusted and must resolve the
// position's asset without error; a failed probe leaves no state behind.
// Trusting the same pair twice is an error, not a lookup.
func (r *Registry) TrustPosition(caller, adaptorID string, positionData json.RawMessage) (types.PositionID, error) {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	adaptor, ok := r.adaptors[adaptorID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAdaptorNotRegistered, adaptorID)
	}
	if !r.trustedAdaptors[adaptorID] {
		return 0, fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, adaptorID)
	}

	key, err := positionKey(adaptorID, positionData)
	if err != nil {
		return 0, err
	}
	if existing, ok := r.index[key]; ok {
		return 0, fmt.Errorf("%w: id %d", ErrPositionExists, existing)
	}

	asset, err := adaptor.AssetOf(positionData)
	if err != nil {
		return 0, errors.Join(ErrProbeFailed, err)
	}

	id := r.nextID
	r.nextID++
	r.positions[id] = &types.TrustedPosition{
		ID:           id,
		AdaptorID:    adaptorID,
		PositionData: append(json.RawMessage(nil), positionData...),
		Asset:        asset,
		IsDebt:       adaptor.IsDebt(),
		TrustedAt:    r.clock(),
	}
	r.index[key] = id
	r.emitPosition(*r.positions[id])

	registryLogger.Info().
		Uint32("positionId", uint32(id)).
		Str("adaptor", adaptorID).
		Str("asset", asset.Denom).
		Bool("isDebt", adaptor.IsDebt()).
		Msg("Position trusted")
	return id, nil
}

// RestoreAdaptorTrust reinstates a persisted trust flag while replaying the
// database at startup. Wiring-time only; runtime trust changes go through
// TrustAdaptor and DistrustAdaptor.
func (r *Registry) RestoreAdaptorTrust(adaptorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adaptors[adaptorID]; !ok {
		return fmt.Errorf("%w: %s", ErrAdaptorNotRegistered, adaptorID)
	}
	r.trustedAdaptors[adaptorID] = true
	return nil
}

// RestorePosition reinstates a persisted position record under its original
// id, keeping id assignment monotonic across restarts. Wiring-time only.
func (r *Registry) RestorePosition(position types.TrustedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[position.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrPositionExists, position.ID)
	}
	key, err := positionKey(position.AdaptorID, position.PositionData)
	if err != nil {
		return err
	}
	if existing, ok := r.index[key]; ok {
		return fmt.Errorf("%w: id %d", ErrPositionExists, existing)
	}

	stored := position
	stored.PositionData = append(json.RawMessage(nil), position.PositionData...)
	r.positions[position.ID] = &stored
	r.index[key] = position.ID
	if position.ID >= r.nextID {
		r.nextID = position.ID + 1
	}

	registryLogger.Debug().
		Uint32("positionId", uint32(position.ID)).
		Bool("distrusted", position.Distrusted).
		Msg("Position restored from persistence")
	return nil
}

// DistrustPosition marks a position untrusted going forward. Vaults holding
// it must proactively unwind; the record itself is kept so active positions
// can still be valued while they exit.
func (r *Registry) DistrustPosition(caller string, id types.PositionID) error {
	if err := r.ring.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	position, ok := r.positions[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrPositionNotTrusted, id)
	}
	position.Distrusted = true
	r.emitPosition(*position)
	registryLogger.Warn().Uint32("positionId", uint32(id)).Msg("Position distrusted going forward")
	return nil
}

// Position returns the trusted record for an id.
func (r *Registry) Position(id types.PositionID) (types.TrustedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	position, ok := r.positions[id]
	if !ok {
		return types.TrustedPosition{}, fmt.Errorf("%w: id %d", ErrPositionNotTrusted, id)
	}
	return *position, nil
}

// IsPositionTrusted reports whether an id is trusted right now.
func (r *Registry) IsPositionTrusted(id types.PositionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	position, ok := r.positions[id]
	return ok && !position.Distrusted
}

// Positions returns a copy of every trusted position record.
func (r *Registry) Positions() []types.TrustedPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TrustedPosition, 0, len(r.positions))
	for _, position := range r.positions {
		out = append(out, *position)
	}
	return out
}

// positionKey builds the uniqueness key for an (adaptor, data) pair using
// compacted JSON so formatting differences do not defeat deduplication.
func positionKey(adaptorID string, positionData json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, positionData); err != nil {
		return "", errors.Join(adaptors.ErrBadPositionData, err)
	}
	return adaptorID + "|" + buf.String(), nil
}
