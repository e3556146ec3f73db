// Package capability implements the canonical signer and the capability
// store: grant/delegate/revoke, the by_id/by_principal/by_issuer/by_parent
// indexes, quota enforcement, and cascade revocation.
package capability

import (
	"time"
)

// DelegationRecord is one link in a capability's delegation chain: the
// delegator's signature over the child capability's canonical payload,
// plus the narrowed constraints the child was granted with.
type DelegationRecord struct {
	DelegatorID        string         `json:"delegator_id"`
	DelegatorSignature []byte         `json:"delegator_signature"`
	Constraints        map[string]any `json:"constraints"`
	DelegatedAt        time.Time      `json:"delegated_at"`
}

// Capability is a signed token granting PrincipalID an action on
// ResourceURI, possibly narrowed by Constraints and possibly delegated
// from a ParentCapabilityID.
type Capability struct {
	ID                 string             `json:"id"`
	ResourceURI        string             `json:"resource_uri"`
	PrincipalID        string             `json:"principal_id"`
	GrantedAt          time.Time          `json:"granted_at"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	ParentCapabilityID string             `json:"parent_capability_id,omitempty"`
	DelegationDepth    uint32             `json:"delegation_depth"`
	Constraints        map[string]any     `json:"constraints,omitempty"`
	IssuerID           string             `json:"issuer_id,omitempty"`
	IssuerSignature    []byte             `json:"issuer_signature,omitempty"`
	DelegationChain    []DelegationRecord `json:"delegation_chain,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
}

// Expired reports whether the capability has a set expiry strictly in the
// past relative to now.
func (c Capability) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// AuthorizesResource implements the prefix-with-separator match: exact
// equality, or resourceURI == c.ResourceURI + "/" + rest. The separator is
// mandatory — "arbor://fs/read/home" never authorizes
// "arbor://fs/read/home_config".
func (c Capability) AuthorizesResource(resourceURI string) bool {
	return ResourceMatches(c.ResourceURI, resourceURI)
}

// ResourceMatches implements the shared prefix-with-separator rule used
// by both the capability store and FileGuard's capability lookup.
func ResourceMatches(granted, requested string) bool {
	if granted == requested {
		return true
	}
	if len(requested) <= len(granted)+1 {
		return false
	}
	return requested[:len(granted)+1] == granted+"/"
}
