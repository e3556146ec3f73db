package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidEncryptionKey is returned when a ciphertext cannot be opened
// under the supplied key — either the key is wrong or the ciphertext was
// tampered with.
var ErrInvalidEncryptionKey = errors.New("crypto: invalid encryption key")

// SigningKeyRecord is the envelope-encrypted at-rest form of an agent's
// Ed25519 private key: one record per agent in the signing-key store.
type SigningKeyRecord struct {
	Version    int    `json:"v"`
	Ciphertext []byte `json:"ct"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// SealSigningKey envelope-encrypts priv under masterKey (32 bytes).
func SealSigningKey(priv SigningPrivateKey, masterKey []byte) (*SigningKeyRecord, error) {
	ct, iv, tag, err := Encrypt(priv, masterKey, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal signing key: %w", err)
	}
	return &SigningKeyRecord{Version: 1, Ciphertext: ct, IV: iv, Tag: tag}, nil
}

// OpenSigningKey reverses SealSigningKey.
func OpenSigningKey(rec *SigningKeyRecord, masterKey []byte) (SigningPrivateKey, error) {
	if rec == nil {
		return nil, errors.New("crypto: nil signing key record")
	}
	if rec.Version != 1 {
		return nil, fmt.Errorf("crypto: unsupported signing key record version %d", rec.Version)
	}
	pt, err := Decrypt(rec.Ciphertext, masterKey, rec.IV, rec.Tag, nil)
	if err != nil {
		return nil, ErrInvalidEncryptionKey
	}
	return SigningPrivateKey(pt), nil
}

// LoadOrCreateMasterKey reads a 32-byte master key from path, bootstrapping
// a fresh random key on first run. The file is created with 0600
// permissions; existing files may hold either raw 32-byte content or a
// hex-encoded 64-character string, to accommodate operator-provisioned
// keys.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("crypto: empty master key path")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return bootstrapMasterKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: read master key: %w", err)
	}
	return decodeMasterKey(data)
}

func decodeMasterKey(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(data) == 32 {
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("crypto: master key must be 32 raw bytes or 64 hex characters")
}

func bootstrapMasterKey(path string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate master key: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("crypto: create master key directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, "master-*.key.tmp")
	if err != nil {
		return nil, fmt.Errorf("crypto: create temp master key file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(key); err != nil {
		cleanup()
		tmp.Close()
		return nil, fmt.Errorf("crypto: write master key: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		tmp.Close()
		return nil, fmt.Errorf("crypto: chmod master key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("crypto: close master key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return nil, fmt.Errorf("crypto: install master key: %w", err)
	}
	return key, nil
}
