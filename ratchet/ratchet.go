// Package ratchet implements the two-party Double Ratchet: an X25519 DH
// ratchet layered over HKDF symmetric-key chains, encrypting individual
// messages with AES-256-GCM. Forward secrecy comes from deriving a fresh
// message key per message and discarding chain keys as soon as they are
// advanced past.
package ratchet

import (
	"encoding/binary"
	"errors"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

const (
	rootInfo    = "arbor-dr-root-v1"
	chainInfo   = "arbor-dr-chain-v1"
	messageInfo = "arbor-dr-msg-v1"

	// DefaultMaxSkip bounds the number of derived-but-unconsumed receive
	// chain keys retained for out-of-order delivery.
	DefaultMaxSkip = 100
)

// Header travels alongside every ciphertext: the sender's current DH
// public key, the message index on the sending chain, and the length of
// the previous sending chain (so the receiver knows how many keys to
// skip before ratcheting).
type Header struct {
	DHPublic crypto.EncryptionPublicKey
	N        uint32
	PN       uint32
}

// aad builds the full additional-authenticated-data for a message:
// dh_public || be32(n) || be32(pn) || caller_aad.
func (h Header) aad(callerAAD []byte) []byte {
	out := make([]byte, 0, 32+4+4+len(callerAAD))
	out = append(out, h.DHPublic[:]...)
	var n, pn [4]byte
	binary.BigEndian.PutUint32(n[:], h.N)
	binary.BigEndian.PutUint32(pn[:], h.PN)
	out = append(out, n[:]...)
	out = append(out, pn[:]...)
	out = append(out, callerAAD...)
	return out
}

// skippedKey identifies one derived-but-unused receive-chain message key.
type skippedKey struct {
	dh crypto.EncryptionPublicKey
	n  uint32
}

// Session is one party's view of a Double Ratchet conversation. Not safe
// for concurrent use — callers own a Session exclusively, matching the
// keychain's per-agent ownership model.
type Session struct {
	dhSelf   crypto.EncryptionPrivateKey
	dhPublic crypto.EncryptionPublicKey
	dhRemote crypto.EncryptionPublicKey
	hasPeer  bool

	rootKey []byte
	sendKey []byte
	recvKey []byte

	sendN  uint32
	recvN  uint32
	prevN  uint32

	maxSkip int
	skipped map[skippedKey][]byte
}

// Message is a sealed ciphertext plus the header the receiver needs to
// decrypt it.
type Message struct {
	Header     Header
	Ciphertext []byte
}

func newSession(maxSkip int) *Session {
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}
	return &Session{maxSkip: maxSkip, skipped: make(map[skippedKey][]byte)}
}

// InitSender begins a session as the party who computed the shared
// secret SK out-of-band (e.g. via the keychain's one-shot ECDH seal) and
// knows the peer's current DH public key.
func InitSender(sk []byte, peerPublic crypto.EncryptionPublicKey, maxSkip int) (*Session, error) {
	s := newSession(maxSkip)
	pub, priv, err := crypto.GenerateEncryptionKeypair()
	if err != nil {
		return nil, err
	}
	s.dhSelf, s.dhPublic = priv, pub
	s.dhRemote, s.hasPeer = peerPublic, true

	dh, err := crypto.DeriveSharedSecret(priv, peerPublic)
	if err != nil {
		return nil, err
	}
	rootKey, chainKey, err := kdfRoot(sk, dh)
	if err != nil {
		return nil, err
	}
	s.rootKey = rootKey
	s.sendKey = chainKey
	return s, nil
}

// InitReceiver begins a session as the party who will learn the peer's
// DH public key from the first received header.
func InitReceiver(sk []byte, selfPublic crypto.EncryptionPublicKey, selfPriv crypto.EncryptionPrivateKey, maxSkip int) *Session {
	s := newSession(maxSkip)
	s.dhSelf, s.dhPublic = selfPriv, selfPublic
	s.rootKey = append([]byte(nil), sk...)
	return s
}

// Encrypt advances the sending chain, derives a fresh message key, and
// seals plaintext under it. callerAAD is folded into the header AAD.
func (s *Session) Encrypt(plaintext, callerAAD []byte) (Message, error) {
	chainKey, messageKey, err := kdfChain(s.sendKey)
	if err != nil {
		return Message{}, err
	}
	s.sendKey = chainKey

	header := Header{DHPublic: s.dhPublic, N: s.sendN, PN: s.prevN}
	s.sendN++

	encKey, err := messageEncryptionKey(messageKey)
	if err != nil {
		return Message{}, err
	}
	ct, iv, tag, err := crypto.Encrypt(plaintext, encKey, header.aad(callerAAD))
	if err != nil {
		return Message{}, err
	}
	return Message{Header: header, Ciphertext: pack(iv, tag, ct)}, nil
}

// Decrypt opens msg, performing a DH ratchet step if the header carries a
// new peer public key, and skipping forward through the relevant chain(s)
// to derive the correct message key. Returns kernelerr.ErrMaxSkipExceeded
// if the gap is too large, or kernelerr.ErrDecryptionFailed if the AEAD
// tag does not verify.
func (s *Session) Decrypt(msg Message, callerAAD []byte) ([]byte, error) {
	key := skippedKey{dh: msg.Header.DHPublic, n: msg.Header.N}
	if mk, ok := s.skipped[key]; ok {
		delete(s.skipped, key)
		return s.open(mk, msg, callerAAD)
	}

	if !s.hasPeer || msg.Header.DHPublic != s.dhRemote {
		if err := s.skipReceiveChain(msg.Header.PN); err != nil {
			return nil, err
		}
		if err := s.dhRatchet(msg.Header.DHPublic); err != nil {
			return nil, err
		}
	}

	if err := s.skipReceiveChain(msg.Header.N); err != nil {
		return nil, err
	}

	chainKey, messageKey, err := kdfChain(s.recvKey)
	if err != nil {
		return nil, err
	}
	s.recvKey = chainKey
	s.recvN++
	return s.open(messageKey, msg, callerAAD)
}

func (s *Session) open(messageKey []byte, msg Message, callerAAD []byte) ([]byte, error) {
	encKey, err := messageEncryptionKey(messageKey)
	if err != nil {
		return nil, err
	}
	iv, tag, ct, err := unpack(msg.Ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Decrypt(ct, encKey, iv, tag, msg.Header.aad(callerAAD))
	if err != nil {
		// Translate the crypto package's local sentinel to the kernel's
		// flat taxonomy; crypto stays decoupled from kernelerr.
		return nil, kernelerr.ErrDecryptionFailed
	}
	return plaintext, nil
}

// skipReceiveChain derives and stores every message key from the current
// receive index up to (but not including) until, bounded by maxSkip.
func (s *Session) skipReceiveChain(until uint32) error {
	if s.recvKey == nil {
		return nil
	}
	for s.recvN < until {
		if len(s.skipped) >= s.maxSkip {
			return kernelerr.ErrMaxSkipExceeded
		}
		chainKey, messageKey, err := kdfChain(s.recvKey)
		if err != nil {
			return err
		}
		s.recvKey = chainKey
		s.skipped[skippedKey{dh: s.dhRemote, n: s.recvN}] = messageKey
		s.recvN++
	}
	return nil
}

// dhRatchet performs a full DH ratchet step on receipt of a new peer
// public key: derive the new receive chain from the old keypair, then
// generate a fresh keypair and derive the new send chain.
func (s *Session) dhRatchet(peerPublic crypto.EncryptionPublicKey) error {
	s.prevN = s.sendN
	s.sendN = 0
	s.recvN = 0
	s.dhRemote = peerPublic
	s.hasPeer = true

	dh, err := crypto.DeriveSharedSecret(s.dhSelf, s.dhRemote)
	if err != nil {
		return err
	}
	rootKey, recvKey, err := kdfRoot(s.rootKey, dh)
	if err != nil {
		return err
	}
	s.rootKey, s.recvKey = rootKey, recvKey

	pub, priv, err := crypto.GenerateEncryptionKeypair()
	if err != nil {
		return err
	}
	s.dhSelf, s.dhPublic = priv, pub

	dh, err = crypto.DeriveSharedSecret(s.dhSelf, s.dhRemote)
	if err != nil {
		return err
	}
	rootKey, sendKey, err := kdfRoot(s.rootKey, dh)
	if err != nil {
		return err
	}
	s.rootKey, s.sendKey = rootKey, sendKey
	return nil
}

func kdfRoot(rootKey, dh []byte) (newRootKey, chainKey []byte, err error) {
	ikm := append(append([]byte(nil), rootKey...), dh...)
	out, err := crypto.DeriveKey(ikm, nil, []byte(rootInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return out[:32], out[32:], nil
}

func kdfChain(chainKey []byte) (newChainKey, messageKey []byte, err error) {
	out, err := crypto.DeriveKey(chainKey, nil, []byte(chainInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return out[:32], out[32:], nil
}

func messageEncryptionKey(messageKey []byte) ([]byte, error) {
	return crypto.DeriveKey(messageKey, nil, []byte(messageInfo), 32)
}

func pack(iv, tag, ct []byte) []byte {
	out := make([]byte, 0, len(iv)+len(tag)+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out
}

const (
	ivSize  = 12
	tagSize = 16
)

func unpack(packed []byte) (iv, tag, ct []byte, err error) {
	if len(packed) < ivSize+tagSize {
		return nil, nil, nil, errors.New("ratchet: packed ciphertext too short")
	}
	iv = packed[:ivSize]
	tag = packed[ivSize : ivSize+tagSize]
	ct = packed[ivSize+tagSize:]
	return iv, tag, ct, nil
}
