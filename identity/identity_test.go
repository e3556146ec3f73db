package identity

import (
	"testing"
	"time"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

func TestRegisterIdempotentAndRejectsKeyChange(t *testing.T) {
	reg := NewRegistry()
	id, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := reg.Register(id); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(id); err != nil {
		t.Fatalf("re-register with identical key should be idempotent: %v", err)
	}
	other, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	clash := other
	clash.AgentID = id.AgentID
	if err := reg.Register(clash); err == nil {
		t.Fatalf("expected rejection when re-registering agent_id with a different public key")
	}
}

func TestLookupUnknownPrincipal(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Lookup("agent_does_not_exist"); err != kernelerr.ErrUnknownPrincipal {
		t.Fatalf("expected ErrUnknownPrincipal, got %v", err)
	}
}

func TestRevokeFiresCascadeHook(t *testing.T) {
	reg := NewRegistry()
	id, _ := Generate(nil)
	if err := reg.Register(id); err != nil {
		t.Fatalf("register: %v", err)
	}
	var fired string
	reg.OnRevoke(func(agentID string) { fired = agentID })
	if err := reg.Revoke(id.AgentID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if fired != id.AgentID {
		t.Fatalf("expected cascade hook to fire with %s, got %q", id.AgentID, fired)
	}
	if err := reg.Resume(id.AgentID); err != kernelerr.ErrIdentityRevoked {
		t.Fatalf("expected revocation to be terminal, got %v", err)
	}
}

func TestVerifySignedRequestRejectsInvalidSignature(t *testing.T) {
	reg := NewRegistry()
	id, _ := Generate(nil)
	reg.Register(id)
	nonces := NewNonceCache(5*time.Minute, 16)
	v := NewVerifier(reg, nonces)

	req := SignedRequest{
		PrincipalID: id.AgentID,
		ResourceURI: "arbor://fs/read/home",
		Action:      "read",
		Timestamp:   time.Now().UTC(),
		Nonce:       "n1",
	}
	req.Signature = crypto.Sign(req.CanonicalBytes(), id.PrivateKey)
	if err := v.VerifySignedRequest(req); err != nil {
		t.Fatalf("expected valid request to pass: %v", err)
	}

	tampered := req
	tampered.Nonce = "n2"
	if err := v.VerifySignedRequest(tampered); err != kernelerr.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature for tampered field, got %v", err)
	}
}

func TestVerifySignedRequestRejectsStaleTimestamp(t *testing.T) {
	reg := NewRegistry()
	id, _ := Generate(nil)
	reg.Register(id)
	nonces := NewNonceCache(5*time.Minute, 16)
	v := NewVerifier(reg, nonces)

	req := SignedRequest{
		PrincipalID: id.AgentID,
		ResourceURI: "arbor://fs/read/home",
		Action:      "read",
		Timestamp:   time.Now().UTC().Add(-10 * time.Minute),
		Nonce:       "n1",
	}
	req.Signature = crypto.Sign(req.CanonicalBytes(), id.PrivateKey)
	if err := v.VerifySignedRequest(req); err != kernelerr.ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifySignedRequestRejectsReplayedNonce(t *testing.T) {
	reg := NewRegistry()
	id, _ := Generate(nil)
	reg.Register(id)
	nonces := NewNonceCache(5*time.Minute, 16)
	v := NewVerifier(reg, nonces)

	sign := func(nonce string, ts time.Time) SignedRequest {
		req := SignedRequest{
			PrincipalID: id.AgentID,
			ResourceURI: "arbor://fs/read/home",
			Action:      "read",
			Timestamp:   ts,
			Nonce:       nonce,
		}
		req.Signature = crypto.Sign(req.CanonicalBytes(), id.PrivateKey)
		return req
	}

	now := time.Now().UTC()
	first := sign("dup", now)
	if err := v.VerifySignedRequest(first); err != nil {
		t.Fatalf("expected first submission to succeed: %v", err)
	}
	second := sign("dup", now)
	if err := v.VerifySignedRequest(second); err != kernelerr.ErrReplayedNonce {
		t.Fatalf("expected ErrReplayedNonce on duplicate, got %v", err)
	}
}

func TestVerifySignedRequestRejectsSuspendedIdentity(t *testing.T) {
	reg := NewRegistry()
	id, _ := Generate(nil)
	reg.Register(id)
	if err := reg.Suspend(id.AgentID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	nonces := NewNonceCache(5*time.Minute, 16)
	v := NewVerifier(reg, nonces)

	req := SignedRequest{
		PrincipalID: id.AgentID,
		ResourceURI: "arbor://fs/read/home",
		Action:      "read",
		Timestamp:   time.Now().UTC(),
		Nonce:       "n1",
	}
	req.Signature = crypto.Sign(req.CanonicalBytes(), id.PrivateKey)
	if err := v.VerifySignedRequest(req); err != kernelerr.ErrIdentitySuspended {
		t.Fatalf("expected ErrIdentitySuspended, got %v", err)
	}
}

func TestNonceCacheCapacityEviction(t *testing.T) {
	cache := NewNonceCache(5*time.Minute, 3)
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 3; i++ {
		nonce := "n" + string(rune('0'+i))
		replayed, err := cache.CheckAndRecord("agent_x", nonce, base)
		if err != nil {
			t.Fatalf("check and record: %v", err)
		}
		if replayed {
			t.Fatalf("expected first observation of %s to be false", nonce)
		}
	}
	if cache.Len() != 3 {
		t.Fatalf("expected 3 entries after initial fill, got %d", cache.Len())
	}
	replayed, err := cache.CheckAndRecord("agent_x", "n3", base)
	if err != nil {
		t.Fatalf("check and record: %v", err)
	}
	if replayed {
		t.Fatalf("expected new key to be accepted after capacity eviction")
	}
	if cache.Len() != 3 {
		t.Fatalf("expected capacity to remain bounded at 3, got %d", cache.Len())
	}
}

func TestNonceCacheEvictsPastTTL(t *testing.T) {
	cache := NewNonceCache(1*time.Minute, 16)
	base := time.Unix(1700000000, 0).UTC()
	if replayed, err := cache.CheckAndRecord("agent_x", "n0", base); err != nil || replayed {
		t.Fatalf("expected first observation to succeed")
	}
	later := base.Add(2 * time.Minute)
	if replayed, err := cache.CheckAndRecord("agent_x", "n0", later); err != nil || replayed {
		t.Fatalf("expected nonce to be reusable once past TTL")
	}
}
