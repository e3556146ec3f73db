package keychain

import (
	"errors"
	"fmt"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
	"github.com/trust-arbor/arbor-sub008/ratchet"
)

// ratchetMarker tags a sealed envelope that was produced by a ratchet
// session rather than a one-shot ECDH seal, so the receiving side knows
// how to unwrap it without probing.
const ratchetMarker = "__ratchet__"

// SealedEnvelope is what SealForPeer produces and UnsealFromPeer consumes.
// When Marker is ratchetMarker, Header and Ciphertext carry a ratchet
// message; otherwise OneShot carries a one-shot ECDH seal.
type SealedEnvelope struct {
	Marker     string
	Header     ratchet.Header
	Ciphertext []byte
	OneShot    *crypto.Sealed
}

var errUnknownPeer = errors.New("keychain: unknown peer")

// SealForPeer encrypts plaintext for peerID. If a ratchet session is
// already established with that peer it is used (forward secrecy,
// out-of-order tolerant); otherwise this falls back to a one-shot ECDH
// seal against the peer's known static X25519 key.
func (k *Keychain) SealForPeer(peerID string, plaintext, aad []byte) (SealedEnvelope, error) {
	peer, ok := k.Peers[peerID]
	if !ok {
		return SealedEnvelope{}, errUnknownPeer
	}

	if peer.Ratchet != nil {
		msg, err := peer.Ratchet.Encrypt(plaintext, aad)
		if err != nil {
			return SealedEnvelope{}, err
		}
		return SealedEnvelope{Marker: ratchetMarker, Header: msg.Header, Ciphertext: msg.Ciphertext}, nil
	}

	sealed, err := crypto.Seal(plaintext, peer.EncryptionPublic, k.EncryptionPrivate, k.EncryptionPublic)
	if err != nil {
		return SealedEnvelope{}, err
	}
	return SealedEnvelope{Marker: "oneshot", OneShot: sealed}, nil
}

// UnsealFromPeer reverses SealForPeer. When env carries the ratchet
// marker and no session exists yet for peerID, a fresh receiver session
// is bootstrapped from the shared secret — mirroring the first-message
// bootstrap a real deployment performs out of band during peer trust
// establishment.
func (k *Keychain) UnsealFromPeer(peerID string, env SealedEnvelope, aad []byte) ([]byte, error) {
	peer, ok := k.Peers[peerID]
	if !ok {
		return nil, errUnknownPeer
	}

	if env.Marker == ratchetMarker {
		if peer.Ratchet == nil {
			shared, err := crypto.DeriveSharedSecret(k.EncryptionPrivate, peer.EncryptionPublic)
			if err != nil {
				return nil, err
			}
			peer.Ratchet = ratchet.InitReceiver(shared, k.EncryptionPublic, k.EncryptionPrivate, ratchet.DefaultMaxSkip)
		}
		plaintext, err := peer.Ratchet.Decrypt(ratchet.Message{Header: env.Header, Ciphertext: env.Ciphertext}, aad)
		if err != nil {
			return nil, fmt.Errorf("keychain: ratchet decrypt: %w", err)
		}
		return plaintext, nil
	}

	plaintext, err := crypto.Unseal(env.OneShot, k.EncryptionPrivate)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, kernelerr.ErrDecryptionFailed
		}
		return nil, err
	}
	return plaintext, nil
}

// StartRatchetAsSender establishes a sending-side ratchet session with
// peerID, to be used by subsequent SealForPeer calls. Call this once two
// agents have agreed (out of band, e.g. via an initial one-shot seal) to
// upgrade to a forward-secret channel.
func (k *Keychain) StartRatchetAsSender(peerID string) error {
	peer, ok := k.Peers[peerID]
	if !ok {
		return errUnknownPeer
	}
	shared, err := crypto.DeriveSharedSecret(k.EncryptionPrivate, peer.EncryptionPublic)
	if err != nil {
		return err
	}
	session, err := ratchet.InitSender(shared, peer.EncryptionPublic, ratchet.DefaultMaxSkip)
	if err != nil {
		return err
	}
	peer.Ratchet = session
	return nil
}
