/*

This file contains the role ring shared by every mutating entry point in the
core. The authorization model is deliberately small: an identity either holds
a role or it does not, and every mutating call checks its required role
before touching any state.

*/

package auth

import (
	"errors"
	"fmt"
	"sync"
)

// Role names required by core entry points.
type Role string

const (
	RoleGovernance Role = "governance" // registry trust and price-source edits
	RoleStrategist Role = "strategist" // vault position management and rebalances
	RoleKeeper     Role = "keeper"     // share-price oracle upkeep
)

var ErrUnauthorized = errors.New("caller lacks required role")

// Ring maps identities to the roles they hold. Safe for concurrent reads;
// grants and revocations are expected to be rare.
type Ring struct {
	mu    sync.RWMutex
	roles map[string]map[Role]bool
}

// NewRing creates an empty role ring.
func NewRing() *Ring {
	return &Ring{roles: make(map[string]map[Role]bool)}
}

// Grant gives an identity a role. Idempotent.
func (r *Ring) Grant(identity string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[identity] == nil {
		r.roles[identity] = make(map[Role]bool)
	}
	r.roles[identity][role] = true
}

// Revoke removes a role from an identity. Idempotent.
func (r *Ring) Revoke(identity string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[identity] != nil {
		delete(r.roles[identity], role)
	}
}

// Has reports whether an identity holds a role.
func (r *Ring) Has(identity string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[identity][role]
}

// Require returns ErrUnauthorized unless the identity holds the role.
func (r *Ring) Require(identity string, role Role) error {
	if !r.Has(identity, role) {
		return fmt.Errorf("%w: %q needs %s", ErrUnauthorized, identity, role)
	}
	return nil
}
