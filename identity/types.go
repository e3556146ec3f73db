// Package identity holds the agent_id -> public key map and the replay
// cache every signed request is checked against before it reaches the
// capability store. Both structures are owned exclusively by this
// package: no other component mutates registry or nonce state directly.
package identity

import (
	"time"

	"github.com/trust-arbor/arbor-sub008/crypto"
)

// Status tracks an identity's lifecycle. Suspension is reversible;
// revocation is not and cascades to every capability the principal holds.
type Status int

const (
	StatusActive Status = iota
	StatusSuspended
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Identity is an agent's registered key material. PrivateKey is populated
// only in the owner's own in-memory copy; the registry never stores it.
type Identity struct {
	AgentID    string                   `json:"agent_id"`
	PublicKey  crypto.SigningPublicKey  `json:"public_key"`
	PrivateKey crypto.SigningPrivateKey `json:"private_key,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	Metadata   map[string]any           `json:"metadata,omitempty"`
	Status     Status                   `json:"status"`
}

// PublicOnly strips the private key, the form the registry persists and
// returns from lookups.
func (id Identity) PublicOnly() Identity {
	id.PrivateKey = nil
	return id
}

// Generate creates a fresh identity with a new Ed25519 keypair. The
// returned identity carries its private key; callers are responsible for
// handing it to a keychain and registering only the public projection.
func Generate(metadata map[string]any) (Identity, error) {
	pub, priv, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		AgentID:    crypto.DeriveAgentID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
		Status:     StatusActive,
	}, nil
}

// SignedRequest is the payload verify_signed_request checks: an Ed25519
// signature over (principal_id, resource_uri, action, timestamp, nonce).
type SignedRequest struct {
	PrincipalID string
	ResourceURI string
	Action      string
	Timestamp   time.Time
	Nonce       string
	Signature   []byte
}

// CanonicalBytes returns the deterministic byte encoding signed by the
// caller: a newline-joined, fixed-order field list. Changing the field
// order here would invalidate every previously issued signature.
func (r SignedRequest) CanonicalBytes() []byte {
	ts := r.Timestamp.UTC().Format(time.RFC3339)
	payload := r.PrincipalID + "\n" + r.ResourceURI + "\n" + r.Action + "\n" + ts + "\n" + r.Nonce
	return []byte(payload)
}
