package kernel

import (
	"time"

	"github.com/google/uuid"

	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/identity"
)

func newCapabilityID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "cap_" + id.String(), nil
}

// GrantRequest is the input to Grant: either a fresh, authority-signed
// capability (ParentID empty) or a delegation (ParentID set, narrowed
// Constraints validated against the parent's).
type GrantRequest struct {
	PrincipalID string
	ResourceURI string
	TTL         time.Duration
	Constraints map[string]any
	ParentID    string
	DelegatorID string
	Metadata    map[string]any
}

// Grant issues a new capability signed by the system authority. A
// delegation is authority-signed as well, and the delegator's signed
// DelegationRecord is then appended to the chain (spec §4.4). Narrowing is validated against the
// parent's constraints before the store's quota checks run.
func (k *Kernel) Grant(req GrantRequest, delegatorPriv crypto.SigningPrivateKey, now time.Time) (capability.Capability, error) {
	id, err := newCapabilityID()
	if err != nil {
		return capability.Capability{}, err
	}

	cap := capability.Capability{
		ID:          id,
		ResourceURI: req.ResourceURI,
		PrincipalID: req.PrincipalID,
		GrantedAt:   now,
		Constraints: req.Constraints,
		Metadata:    req.Metadata,
	}
	if req.TTL > 0 {
		expiry := now.Add(req.TTL)
		cap.ExpiresAt = &expiry
	}

	if req.ParentID == "" {
		cap = k.Authority.SignCapability(cap)
	} else {
		parent, err := k.Store.Get(req.ParentID, now)
		if err != nil {
			return capability.Capability{}, err
		}
		if err := capability.ValidateNarrowing(parent.Constraints, req.Constraints); err != nil {
			return capability.Capability{}, err
		}
		cap.ParentCapabilityID = parent.ID
		cap.DelegationDepth = parent.DelegationDepth + 1
		cap.DelegationChain = append([]capability.DelegationRecord{}, parent.DelegationChain...)
		cap = k.Authority.SignCapability(cap)
		record := capability.SignDelegation(cap, req.Constraints, req.DelegatorID, delegatorPriv)
		cap.DelegationChain = append(cap.DelegationChain, record)
	}

	if err := k.Store.Put(cap, now); err != nil {
		return capability.Capability{}, err
	}
	k.Audit.Emit(EventCapabilityGranted, map[string]any{
		"capability_id": cap.ID,
		"principal_id":  cap.PrincipalID,
		"resource_uri":  cap.ResourceURI,
	})
	if req.ParentID != "" {
		k.Audit.Emit(EventDelegationCreated, map[string]any{
			"capability_id":        cap.ID,
			"parent_capability_id": req.ParentID,
			"delegator_id":         req.DelegatorID,
		})
	}
	return cap, nil
}

// Revoke removes a single capability.
func (k *Kernel) Revoke(capabilityID string) error {
	if err := k.Store.Revoke(capabilityID); err != nil {
		return err
	}
	k.Audit.Emit(EventCapabilityRevoked, map[string]any{"capability_id": capabilityID})
	return nil
}

// CascadeRevoke revokes capabilityID and every capability delegated from
// it, transitively.
func (k *Kernel) CascadeRevoke(capabilityID string) (int, error) {
	count, err := k.Store.CascadeRevoke(capabilityID)
	if err != nil {
		return 0, err
	}
	k.Audit.Emit(EventCascadeRevocation, map[string]any{"capability_id": capabilityID, "count": count})
	return count, nil
}

// RevokeAllForPrincipal revokes every capability held by principalID.
func (k *Kernel) RevokeAllForPrincipal(principalID string) int {
	count := k.Store.RevokeAll(principalID)
	k.Audit.Emit(EventCascadeRevocation, map[string]any{"principal_id": principalID, "count": count, "reason": "manual"})
	return count
}

// ListCapabilities returns the live capabilities held by principalID.
func (k *Kernel) ListCapabilities(principalID string, now time.Time) []capability.Capability {
	return k.Store.ListByPrincipal(principalID, now)
}

// RegisterIdentity adds id's public-only projection to the registry; a
// private key carried by id is never stored.
func (k *Kernel) RegisterIdentity(id identity.Identity) error {
	if err := k.Registry.Register(id); err != nil {
		return err
	}
	k.Audit.Emit(EventIdentityRegistered, map[string]any{"agent_id": id.AgentID})
	return nil
}

// LookupIdentity returns the public-only identity registered under agentID.
func (k *Kernel) LookupIdentity(agentID string) (identity.Identity, error) {
	return k.Registry.Lookup(agentID)
}

// SuspendIdentity reversibly disables an identity.
func (k *Kernel) SuspendIdentity(agentID string) error {
	if err := k.Registry.Suspend(agentID); err != nil {
		return err
	}
	k.Audit.Emit(EventIdentitySuspended, map[string]any{"agent_id": agentID})
	return nil
}

// ResumeIdentity clears a suspension.
func (k *Kernel) ResumeIdentity(agentID string) error {
	if err := k.Registry.Resume(agentID); err != nil {
		return err
	}
	k.Audit.Emit(EventIdentityResumed, map[string]any{"agent_id": agentID})
	return nil
}

// RevokeIdentity permanently revokes agentID, cascading to every
// capability it holds via the registry's revocation hook.
func (k *Kernel) RevokeIdentity(agentID string) error {
	if err := k.Registry.Revoke(agentID); err != nil {
		return err
	}
	k.Audit.Emit(EventIdentityRevoked, map[string]any{"agent_id": agentID})
	return nil
}

// SweepExpired removes every expired capability and idle rate-limit
// bucket; intended to run from a periodic background ticker.
func (k *Kernel) SweepExpired(now time.Time) (expiredCapabilities int, sweptBuckets int) {
	return k.Store.SweepExpired(now), k.Limiter.Sweep(now)
}
