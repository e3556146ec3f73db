package identity

import (
	"time"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// Verifier ties the registry and nonce cache together to implement
// verify_signed_request: signature check, timestamp drift, then replay.
type Verifier struct {
	Registry *Registry
	Nonces   *NonceCache
	MaxDrift time.Duration
	NowFn    func() time.Time
}

// NewVerifier builds a Verifier with the spec's default drift window.
// Pass a custom NowFn in tests to control the clock.
func NewVerifier(registry *Registry, nonces *NonceCache) *Verifier {
	return &Verifier{
		Registry: registry,
		Nonces:   nonces,
		MaxDrift: DefaultTimestampMaxDriftSeconds * time.Second,
		NowFn:    time.Now,
	}
}

func (v *Verifier) now() time.Time {
	if v.NowFn != nil {
		return v.NowFn()
	}
	return time.Now()
}

// VerifySignedRequest validates req's Ed25519 signature, rejects stale
// timestamps, and rejects replayed nonces — in that order, since a
// signature check is the cheapest way to reject most garbage before
// touching the replay cache.
func (v *Verifier) VerifySignedRequest(req SignedRequest) error {
	id, err := v.Registry.Lookup(req.PrincipalID)
	if err != nil {
		return err
	}
	switch id.Status {
	case StatusSuspended:
		return kernelerr.ErrIdentitySuspended
	case StatusRevoked:
		return kernelerr.ErrIdentityRevoked
	}
	if !crypto.Verify(req.CanonicalBytes(), req.Signature, id.PublicKey) {
		return kernelerr.ErrInvalidSignature
	}
	now := v.now()
	drift := now.Sub(req.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if v.MaxDrift > 0 && drift > v.MaxDrift {
		return kernelerr.ErrStaleTimestamp
	}
	replayed, err := v.Nonces.CheckAndRecord(req.PrincipalID, req.Nonce, now)
	if err != nil {
		return err
	}
	if replayed {
		return kernelerr.ErrReplayedNonce
	}
	return nil
}
