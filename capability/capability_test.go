package capability

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

func newCap(id, principal, resource string) Capability {
	return Capability{
		ID:          id,
		ResourceURI: resource,
		PrincipalID: principal,
		GrantedAt:   time.Now().UTC(),
	}
}

func TestCanonicalPayloadStableUnderMapKeyOrder(t *testing.T) {
	capA := newCap("cap1", "agent_x", "arbor://fs/read/home")
	capA.Constraints = map[string]any{"b": 1, "a": 2}
	capB := newCap("cap1", "agent_x", "arbor://fs/read/home")
	capB.Constraints = map[string]any{"a": 2, "b": 1}
	capA.GrantedAt = capB.GrantedAt
	if string(CanonicalPayload(capA)) != string(CanonicalPayload(capB)) {
		t.Fatalf("expected canonical payload to be stable under map key insertion order")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, _ := crypto.GenerateSigningKeypair()
	cap := newCap("cap1", "agent_x", "arbor://fs/read/home")
	cap.IssuerID = crypto.DeriveAgentID(pub)
	signed := Sign(cap, priv)
	if err := Verify(signed, pub); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	tampered := signed
	tampered.ResourceURI = "arbor://fs/read/other"
	if err := Verify(tampered, pub); err == nil {
		t.Fatalf("expected tampered capability to fail verification")
	}
}

func TestResourceMatchesRequiresSeparator(t *testing.T) {
	if !ResourceMatches("arbor://fs/read/home", "arbor://fs/read/home") {
		t.Fatalf("expected exact match")
	}
	if !ResourceMatches("arbor://fs/read/home", "arbor://fs/read/home/x.txt") {
		t.Fatalf("expected prefix-with-separator match")
	}
	if ResourceMatches("arbor://fs/read/home", "arbor://fs/read/home_config") {
		t.Fatalf("expected no match without separator")
	}
}

func TestPutThenGet(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), NoopPersistence{}, nil)
	now := time.Now().UTC()
	cap := newCap(uuid.NewString(), "agent_x", "arbor://fs/read/home")
	require.NoError(t, store.Put(cap, now))
	got, err := store.Get(cap.ID, now)
	require.NoError(t, err)
	require.Equal(t, cap.ID, got.ID)
}

func TestGetReturnsExpired(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), NoopPersistence{}, nil)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	cap := newCap(uuid.NewString(), "agent_x", "arbor://fs/read/home")
	cap.ExpiresAt = &past
	if err := store.Put(cap, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(cap.ID, now); err != kernelerr.ErrCapabilityExpired {
		t.Fatalf("expected CapabilityExpired, got %v", err)
	}
}

func TestFindAuthorizingPrefixSeparatorScenario(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), NoopPersistence{}, nil)
	now := time.Now().UTC()
	cap := newCap(uuid.NewString(), "agent_A", "arbor://fs/read/home")
	if err := store.Put(cap, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.FindAuthorizing("agent_A", "arbor://fs/read/home/x.txt", now); err != nil {
		t.Fatalf("expected authorized match, got %v", err)
	}
	if _, err := store.FindAuthorizing("agent_A", "arbor://fs/read/home_config", now); err != kernelerr.ErrCapabilityNotFound {
		t.Fatalf("expected CapabilityNotFound for non-separator match, got %v", err)
	}
}

func TestCascadeRevoke(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), NoopPersistence{}, nil)
	now := time.Now().UTC()
	root := newCap("root", "agent_root", "arbor://fs/read/home")
	d1 := newCap("d1", "agent_d1", "arbor://fs/read/home")
	d1.ParentCapabilityID = "root"
	d2 := newCap("d2", "agent_d2", "arbor://fs/read/home")
	d2.ParentCapabilityID = "d1"
	for _, c := range []Capability{root, d1, d2} {
		require.NoError(t, store.Put(c, now))
	}
	count, err := store.CascadeRevoke("root")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	_, err = store.FindAuthorizing("agent_d2", "arbor://fs/read/home", now)
	require.ErrorIs(t, err, kernelerr.ErrCapabilityNotFound)
}

func TestQuotaPerAgentCapabilityLimit(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.MaxCapabilitiesPerAgent = 2
	store := NewStore(cfg, NoopPersistence{}, nil)
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		cap := newCap(uuid.NewString(), "agent_X", "arbor://fs/read/home")
		require.NoError(t, store.Put(cap, now), "put %d", i)
	}
	third := newCap(uuid.NewString(), "agent_X", "arbor://fs/read/home")
	err := store.Put(third, now)
	require.Error(t, err, "expected third grant to fail with quota error")
}

func TestValidateNarrowingRejectsWidening(t *testing.T) {
	parent := map[string]any{"rate_limit": 5}
	child := map[string]any{"rate_limit": 10}
	if err := ValidateNarrowing(parent, child); err == nil {
		t.Fatalf("expected widening rate_limit to be rejected")
	}
	narrower := map[string]any{"rate_limit": 2}
	if err := ValidateNarrowing(parent, narrower); err != nil {
		t.Fatalf("expected narrower rate_limit to be accepted: %v", err)
	}
}
