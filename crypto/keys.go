// Package crypto provides the kernel's pure cryptographic primitives:
// Ed25519 signing, X25519 key agreement, HKDF-SHA-256 derivation, and
// AES-256-GCM sealing. Every function here is stateless — callers own
// key material and lifetime.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned whenever an AEAD tag fails to verify.
var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// SigningPublicKey and SigningPrivateKey alias the stdlib Ed25519 sizes so
// callers never need to import crypto/ed25519 directly.
type (
	SigningPublicKey  = ed25519.PublicKey
	SigningPrivateKey = ed25519.PrivateKey
)

// GenerateSigningKeypair creates a fresh Ed25519 identity keypair.
func GenerateSigningKeypair() (SigningPublicKey, SigningPrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate signing keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign produces an Ed25519 signature over msg.
func Sign(msg []byte, priv SigningPrivateKey) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg by pub.
func Verify(msg, sig []byte, pub SigningPublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// DeriveAgentID computes the canonical agent identifier for a public
// signing key: "agent_" followed by the lowercase hex SHA-256 digest.
func DeriveAgentID(pub SigningPublicKey) string {
	sum := sha256.Sum256(pub)
	return "agent_" + hex.EncodeToString(sum[:])
}

// EncryptionPublicKey and EncryptionPrivateKey are X25519 scalars/points.
type EncryptionPublicKey [32]byte
type EncryptionPrivateKey [32]byte

// GenerateEncryptionKeypair creates a fresh X25519 Diffie-Hellman keypair.
func GenerateEncryptionKeypair() (EncryptionPublicKey, EncryptionPrivateKey, error) {
	var priv EncryptionPrivateKey
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return EncryptionPublicKey{}, EncryptionPrivateKey{}, fmt.Errorf("crypto: read entropy: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return EncryptionPublicKey{}, EncryptionPrivateKey{}, fmt.Errorf("crypto: derive public point: %w", err)
	}
	var pub EncryptionPublicKey
	copy(pub[:], pubBytes)
	return pub, priv, nil
}

// DeriveSharedSecret computes the X25519 ECDH shared secret between myPriv
// and theirPub.
func DeriveSharedSecret(myPriv EncryptionPrivateKey, theirPub EncryptionPublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(myPriv[:], theirPub[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}
	return secret, nil
}

// DeriveKey runs HKDF-SHA-256 over ikm with the given info string and
// returns length bytes of output keying material. salt may be nil.
func DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out, nil
}

// Encrypt seals plaintext under key (32 bytes, AES-256) with a fresh random
// 12-byte nonce, returning ciphertext, nonce, and authentication tag
// separately. aad may be nil.
func Encrypt(plaintext, key, aad []byte) (ciphertext, iv, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: read nonce: %w", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	ciphertext = sealed[:split]
	tag = sealed[split:]
	return ciphertext, iv, tag, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Returns ErrDecryptionFailed
// on tag mismatch.
func Decrypt(ciphertext, key, iv, tag, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return aead, nil
}

// Sealed is the output of a one-shot ECDH seal: a sender X25519 public key
// plus an AES-256-GCM envelope.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	SenderPub  EncryptionPublicKey
}

// Seal performs a one-shot authenticated ECDH seal: the sender's static
// X25519 key agrees with the recipient's public key, and the resulting
// shared secret is expanded via HKDF into an AES-256-GCM key.
func Seal(plaintext []byte, recipientPub EncryptionPublicKey, senderPriv EncryptionPrivateKey, senderPub EncryptionPublicKey) (*Sealed, error) {
	shared, err := DeriveSharedSecret(senderPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(shared, nil, []byte("arbor-seal-v1"), 32)
	if err != nil {
		return nil, err
	}
	ct, iv, tag, err := Encrypt(plaintext, key, senderPub[:])
	if err != nil {
		return nil, err
	}
	return &Sealed{Ciphertext: ct, IV: iv, Tag: tag, SenderPub: senderPub}, nil
}

// Unseal reverses Seal given the recipient's private key.
func Unseal(sealed *Sealed, recipientPriv EncryptionPrivateKey) ([]byte, error) {
	shared, err := DeriveSharedSecret(recipientPriv, sealed.SenderPub)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(shared, nil, []byte("arbor-seal-v1"), 32)
	if err != nil {
		return nil, err
	}
	return Decrypt(sealed.Ciphertext, key, sealed.IV, sealed.Tag, sealed.SenderPub[:])
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
