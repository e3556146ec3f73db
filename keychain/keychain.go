// Package keychain implements the per-agent keystore: an agent's own
// Ed25519/X25519 keypairs, its known peers' public keys and ratchet
// sessions, sealed communication with a peer, and encrypted
// serialization (with escrow double-wrapping) for at-rest storage.
// A Keychain is owned exclusively by its agent's task — no sharing
// between goroutines.
package keychain

import (
	"time"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/ratchet"
)

// PeerRecord is what a keychain remembers about another agent: its
// current public keys, when it was trusted, and an optional live
// ratchet session for forward-secret messaging.
type PeerRecord struct {
	AgentID          string
	SigningPublic    crypto.SigningPublicKey
	EncryptionPublic crypto.EncryptionPublicKey
	TrustedAt        time.Time
	Ratchet          *ratchet.Session
}

// Keychain holds one agent's own key material plus everything it knows
// about its peers.
type Keychain struct {
	AgentID string

	SigningPublic  crypto.SigningPublicKey
	SigningPrivate crypto.SigningPrivateKey

	EncryptionPublic  crypto.EncryptionPublicKey
	EncryptionPrivate crypto.EncryptionPrivateKey

	Peers map[string]*PeerRecord
}

// New generates fresh Ed25519 and X25519 keypairs for agentID.
func New(agentID string) (*Keychain, error) {
	signPub, signPriv, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, err
	}
	encPub, encPriv, err := crypto.GenerateEncryptionKeypair()
	if err != nil {
		return nil, err
	}
	return FromKeypairs(agentID, signPub, signPriv, encPub, encPriv), nil
}

// FromKeypairs binds an existing set of keys to a keychain, e.g. after
// deserializing one from disk.
func FromKeypairs(agentID string, signPub crypto.SigningPublicKey, signPriv crypto.SigningPrivateKey, encPub crypto.EncryptionPublicKey, encPriv crypto.EncryptionPrivateKey) *Keychain {
	return &Keychain{
		AgentID:           agentID,
		SigningPublic:     signPub,
		SigningPrivate:    signPriv,
		EncryptionPublic:  encPub,
		EncryptionPrivate: encPriv,
		Peers:             make(map[string]*PeerRecord),
	}
}

// AddPeer records a newly trusted peer's public keys. An existing ratchet
// session for that peer, if any, is discarded.
func (k *Keychain) AddPeer(agentID string, signingPublic crypto.SigningPublicKey, encryptionPublic crypto.EncryptionPublicKey) {
	k.Peers[agentID] = &PeerRecord{
		AgentID:          agentID,
		SigningPublic:    signingPublic,
		EncryptionPublic: encryptionPublic,
		TrustedAt:        time.Now().UTC(),
	}
}

// RemovePeer forgets everything about a peer, including any ratchet
// session.
func (k *Keychain) RemovePeer(agentID string) {
	delete(k.Peers, agentID)
}

// GetPeer returns the peer record for agentID, if known.
func (k *Keychain) GetPeer(agentID string) (*PeerRecord, bool) {
	p, ok := k.Peers[agentID]
	return p, ok
}
