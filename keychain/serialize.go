package keychain

import (
	"crypto/ed25519"
	"errors"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// currentVersion is the serialization format version stamped into every
// encrypted keychain blob.
const currentVersion = 1

// Record is the at-rest encoding of a Keychain: public keys in the
// clear, private keys sealed under a caller-supplied 32-byte key.
type Record struct {
	Version          int
	AgentID          string
	SigningPublic    crypto.SigningPublicKey
	EncryptionPublic crypto.EncryptionPublicKey
	PrivateEncrypted []byte
	IV               []byte
	Tag              []byte
}

var errUnsupportedRecordVersion = errors.New("keychain: unsupported record version")

// Serialize encrypts the keychain's private key material under encKey (a
// 32-byte key the caller manages, typically the agent's own master key)
// and returns a Record suitable for persistence.
func (k *Keychain) Serialize(encKey []byte) (Record, error) {
	plaintext := make([]byte, 0, len(k.SigningPrivate)+len(k.EncryptionPrivate))
	plaintext = append(plaintext, k.SigningPrivate...)
	plaintext = append(plaintext, k.EncryptionPrivate[:]...)

	ciphertext, iv, tag, err := crypto.Encrypt(plaintext, encKey, []byte(k.AgentID))
	if err != nil {
		return Record{}, err
	}
	return Record{
		Version:          currentVersion,
		AgentID:          k.AgentID,
		SigningPublic:    k.SigningPublic,
		EncryptionPublic: k.EncryptionPublic,
		PrivateEncrypted: ciphertext,
		IV:               iv,
		Tag:              tag,
	}, nil
}

// Deserialize reverses Serialize given the same encKey. A wrong key
// surfaces as kernelerr.ErrInvalidEncryptionKey rather than the
// package-local crypto sentinel, so callers outside this module never
// need to import crypto to handle the failure.
func Deserialize(rec Record, encKey []byte) (*Keychain, error) {
	if rec.Version != currentVersion {
		return nil, errUnsupportedRecordVersion
	}
	plaintext, err := crypto.Decrypt(rec.PrivateEncrypted, encKey, rec.IV, rec.Tag, []byte(rec.AgentID))
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, kernelerr.ErrInvalidEncryptionKey
		}
		return nil, err
	}
	const signLen = ed25519.PrivateKeySize
	if len(plaintext) < signLen+32 {
		return nil, kernelerr.ErrInvalidPayload
	}
	signPriv := crypto.SigningPrivateKey(append([]byte(nil), plaintext[:signLen]...))
	var encPriv crypto.EncryptionPrivateKey
	copy(encPriv[:], plaintext[signLen:signLen+32])

	return FromKeypairs(rec.AgentID, rec.SigningPublic, signPriv, rec.EncryptionPublic, encPriv), nil
}

// EscrowRecord double-wraps a keychain's private key material: once
// under the agent's own key, once under an escrow authority's key, so a
// recovery workflow can restore access without the agent's original key
// ever touching the escrow side.
type EscrowRecord struct {
	Inner         Record
	EscrowWrapped []byte
	EscrowIV      []byte
	EscrowTag     []byte
}

// CreateEscrow seals the keychain under encKey as usual, then wraps that
// entire sealed record under escrowKey.
func (k *Keychain) CreateEscrow(encKey, escrowKey []byte) (EscrowRecord, error) {
	inner, err := k.Serialize(encKey)
	if err != nil {
		return EscrowRecord{}, err
	}
	plaintext := append(append([]byte(nil), inner.PrivateEncrypted...), inner.Tag...)
	wrapped, iv, tag, err := crypto.Encrypt(plaintext, escrowKey, []byte(inner.AgentID))
	if err != nil {
		return EscrowRecord{}, err
	}
	return EscrowRecord{Inner: inner, EscrowWrapped: wrapped, EscrowIV: iv, EscrowTag: tag}, nil
}

// RecoverFromEscrow reverses CreateEscrow given the escrow authority's
// key, then opens the inner record with the agent's own key to fully
// restore the keychain.
func RecoverFromEscrow(rec EscrowRecord, escrowKey, encKey []byte) (*Keychain, error) {
	plaintext, err := crypto.Decrypt(rec.EscrowWrapped, escrowKey, rec.EscrowIV, rec.EscrowTag, []byte(rec.Inner.AgentID))
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, kernelerr.ErrInvalidEncryptionKey
		}
		return nil, err
	}
	if len(plaintext) < len(rec.Inner.Tag) {
		return nil, kernelerr.ErrInvalidPayload
	}
	split := len(plaintext) - len(rec.Inner.Tag)
	inner := rec.Inner
	inner.PrivateEncrypted = plaintext[:split]
	inner.Tag = plaintext[split:]

	return Deserialize(inner, encKey)
}
