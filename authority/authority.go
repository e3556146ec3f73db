// Package authority implements the system authority: the cluster-root
// Ed25519 signer every capability ultimately chains back to. One
// instance is created per kernel deployment; its private key never
// leaves process memory.
package authority

import (
	"time"

	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/identity"
)

// ServiceAgentID is the deterministic agent_id the authority registers
// its public-only identity under.
const ServiceAgentID = "agent_system_authority"

// Authority holds the root keypair and signs/verifies capabilities on
// the registry's behalf.
type Authority struct {
	pub  crypto.SigningPublicKey
	priv crypto.SigningPrivateKey
}

// New generates a fresh root keypair and registers its public-only
// projection under ServiceAgentID.
func New(registry *identity.Registry) (*Authority, error) {
	pub, priv, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, err
	}
	a := &Authority{pub: pub, priv: priv}
	id := identity.Identity{
		AgentID:   ServiceAgentID,
		PublicKey: pub,
		CreatedAt: time.Now().UTC(),
		Status:    identity.StatusActive,
	}
	if err := registry.Register(id); err != nil {
		return nil, err
	}
	return a, nil
}

// PublicKey returns the authority's public signing key.
func (a *Authority) PublicKey() crypto.SigningPublicKey { return a.pub }

// SignCapability fills issuer_id with ServiceAgentID and computes
// issuer_signature over cap's canonical payload.
func (a *Authority) SignCapability(cap capability.Capability) capability.Capability {
	cap.IssuerID = ServiceAgentID
	return capability.Sign(cap, a.priv)
}

// VerifyCapabilitySignature verifies cap's issuer_signature: with the
// authority's own key if issuer_id matches ServiceAgentID, otherwise by
// looking the issuer up in the registry.
func (a *Authority) VerifyCapabilitySignature(cap capability.Capability, registry *identity.Registry) error {
	if cap.IssuerID == ServiceAgentID {
		return capability.Verify(cap, a.pub)
	}
	issuer, err := registry.Lookup(cap.IssuerID)
	if err != nil {
		return err
	}
	return capability.Verify(cap, issuer.PublicKey)
}
