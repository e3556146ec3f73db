package capability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// KeyLookup resolves an agent_id to its current signing public key, for
// verifying delegation chains and capability signatures by issuers other
// than the caller's own identity.
type KeyLookup func(agentID string) (crypto.SigningPublicKey, error)

// canonicalView is the deterministic, signature-excluding projection of a
// capability. Struct field order is fixed by declaration; the Constraints
// and Metadata maps are sorted lexicographically by encoding/json, which
// is how two capabilities equal up to map key insertion order end up
// byte-identical.
type canonicalView struct {
	ID                 string         `json:"id"`
	ResourceURI        string         `json:"resource_uri"`
	PrincipalID        string         `json:"principal_id"`
	GrantedAt          string         `json:"granted_at"`
	ExpiresAt          string         `json:"expires_at,omitempty"`
	ParentCapabilityID string         `json:"parent_capability_id,omitempty"`
	DelegationDepth    uint32         `json:"delegation_depth"`
	Constraints        map[string]any `json:"constraints,omitempty"`
	IssuerID           string         `json:"issuer_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// CanonicalPayload returns the deterministic byte encoding of cap used for
// signing: it excludes IssuerSignature, DelegationChain, and any
// delegator signatures, and orders map keys lexicographically.
func CanonicalPayload(cap Capability) []byte {
	view := canonicalView{
		ID:                 cap.ID,
		ResourceURI:        cap.ResourceURI,
		PrincipalID:        cap.PrincipalID,
		GrantedAt:          cap.GrantedAt.UTC().Format(time.RFC3339Nano),
		ParentCapabilityID: cap.ParentCapabilityID,
		DelegationDepth:    cap.DelegationDepth,
		Constraints:        cap.Constraints,
		IssuerID:           cap.IssuerID,
		Metadata:           cap.Metadata,
	}
	if cap.ExpiresAt != nil {
		view.ExpiresAt = cap.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	// json.Marshal errors only on unsupported types (channels, funcs);
	// constraint/metadata maps are always plain JSON-compatible values.
	out, err := json.Marshal(view)
	if err != nil {
		panic(fmt.Sprintf("capability: canonical payload encoding: %v", err))
	}
	return out
}

// Sign computes IssuerSignature over cap's canonical payload and returns
// the signed copy.
func Sign(cap Capability, priv crypto.SigningPrivateKey) Capability {
	cap.IssuerSignature = crypto.Sign(CanonicalPayload(cap), priv)
	return cap
}

// Verify checks cap.IssuerSignature against pub.
func Verify(cap Capability, pub crypto.SigningPublicKey) error {
	if len(cap.IssuerSignature) == 0 {
		return kernelerr.ErrInvalidCapabilitySignature
	}
	if !crypto.Verify(CanonicalPayload(cap), cap.IssuerSignature, pub) {
		return kernelerr.ErrInvalidCapabilitySignature
	}
	return nil
}

// SignDelegation produces the DelegationRecord a delegator attaches when
// narrowing parent into child: a signature over child's canonical payload
// plus the narrowed constraints that produced it.
func SignDelegation(child Capability, narrowedConstraints map[string]any, delegatorID string, delegatorPriv crypto.SigningPrivateKey) DelegationRecord {
	payload := CanonicalPayload(child)
	return DelegationRecord{
		DelegatorID:        delegatorID,
		DelegatorSignature: crypto.Sign(payload, delegatorPriv),
		Constraints:        narrowedConstraints,
		DelegatedAt:        time.Now().UTC(),
	}
}

// VerifyDelegationChain verifies every DelegationRecord in cap's chain, in
// order, using lookup to resolve each delegator's current public key. An
// empty chain is valid (a root, non-delegated capability).
func VerifyDelegationChain(cap Capability, lookup KeyLookup) error {
	payload := CanonicalPayload(cap)
	for _, rec := range cap.DelegationChain {
		pub, err := lookup(rec.DelegatorID)
		if err != nil {
			return kernelerr.ErrBrokenDelegationChain
		}
		if !crypto.Verify(payload, rec.DelegatorSignature, pub) {
			return kernelerr.ErrBrokenDelegationChain
		}
	}
	return nil
}
