package identity

import (
	"bytes"
	"sync"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// RevocationHook is invoked after an identity transitions to
// StatusRevoked, so the capability store can cascade-revoke everything
// granted to that principal. The registry has no notion of capabilities
// itself; wiring this closure is the kernel's job.
type RevocationHook func(agentID string)

// Registry is the identity registry: the agent_id -> public key map.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Identity
	onRevoke RevocationHook
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Identity)}
}

// OnRevoke installs the cascade-revocation hook, replacing any earlier
// one. It is normally wired once at startup.
func (r *Registry) OnRevoke(hook RevocationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRevoke = hook
}

// Register adds a new identity. Re-registering the same agent_id with
// the same public key is a no-op; re-registering with a different public
// key is rejected since agent_id is derived from the key.
func (r *Registry) Register(id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub := id.PublicOnly()
	existing, ok := r.entries[id.AgentID]
	if ok {
		if !bytes.Equal(existing.PublicKey, pub.PublicKey) {
			return kernelerr.ErrInvalidSignature
		}
		return nil
	}
	if pub.Status == StatusActive && pub.CreatedAt.IsZero() {
		pub.Status = StatusActive
	}
	r.entries[id.AgentID] = pub
	return nil
}

// Lookup returns the public-only identity for agentID, or
// ErrUnknownPrincipal if never registered.
func (r *Registry) Lookup(agentID string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.entries[agentID]
	if !ok {
		return Identity{}, kernelerr.ErrUnknownPrincipal
	}
	return id, nil
}

// Unregister removes an agent_id entirely (distinct from revoke: no
// cascade, no tombstone — used for cleanup of never-activated test
// identities).
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, agentID)
}

// Suspend marks an identity suspended: verify_signed_request will reject
// it with IdentitySuspended until Resume is called.
func (r *Registry) Suspend(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[agentID]
	if !ok {
		return kernelerr.ErrUnknownPrincipal
	}
	if id.Status == StatusRevoked {
		return kernelerr.ErrIdentityRevoked
	}
	id.Status = StatusSuspended
	r.entries[agentID] = id
	return nil
}

// Resume clears a suspension.
func (r *Registry) Resume(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[agentID]
	if !ok {
		return kernelerr.ErrUnknownPrincipal
	}
	if id.Status == StatusRevoked {
		return kernelerr.ErrIdentityRevoked
	}
	id.Status = StatusActive
	r.entries[agentID] = id
	return nil
}

// Revoke permanently marks an identity revoked and fires the cascade
// hook, if one is installed. Revocation is terminal: a revoked agent_id
// can never transition back to active.
func (r *Registry) Revoke(agentID string) error {
	r.mu.Lock()
	id, ok := r.entries[agentID]
	if !ok {
		r.mu.Unlock()
		return kernelerr.ErrUnknownPrincipal
	}
	id.Status = StatusRevoked
	r.entries[agentID] = id
	hook := r.onRevoke
	r.mu.Unlock()

	if hook != nil {
		hook(agentID)
	}
	return nil
}

// Status reports an identity's current lifecycle state.
func (r *Registry) Status(agentID string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.entries[agentID]
	if !ok {
		return 0, kernelerr.ErrUnknownPrincipal
	}
	return id.Status, nil
}

// Len reports the number of registered identities, mostly useful for tests
// and metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
