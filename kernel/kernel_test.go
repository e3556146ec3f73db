package kernel

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/config"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/identity"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
	"github.com/trust-arbor/arbor-sub008/policy"
)

func testConfig() *config.Config {
	return &config.Config{
		IdentityVerification:         true,
		NonceTTLSeconds:              300,
		TimestampMaxDriftSeconds:     60,
		CapabilitySigningRequired:    false,
		ConstraintEnforcementEnabled: true,
		RateLimitRefillPeriodSeconds: 3600,
		RateLimitBucketTTLSeconds:    3600,
		ConsensusEscalationEnabled:   true,
		MaxCapabilitiesPerAgent:      1000,
		MaxGlobalCapabilities:        100000,
		MaxDelegationDepth:           10,
		QuotaEnforcementEnabled:      true,
		ApprovalGuardEnabled:         false,
	}
}

func newTestKernel(t *testing.T, cfg *config.Config) *Kernel {
	t.Helper()
	audit := NewAuditLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	metrics := NewMetrics("arbor_kernel_test")
	k, err := New(cfg, capability.NoopPersistence{}, policy.NullConsensus{}, nil, audit, metrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func registerAgent(t *testing.T, k *Kernel, metadata map[string]any) identity.Identity {
	t.Helper()
	id, err := identity.Generate(metadata)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := k.RegisterIdentity(id.PublicOnly()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func signedRequest(id identity.Identity, resourceURI, action, nonce string, now time.Time) identity.SignedRequest {
	req := identity.SignedRequest{
		PrincipalID: id.AgentID,
		ResourceURI: resourceURI,
		Action:      action,
		Timestamp:   now,
		Nonce:       nonce,
	}
	req.Signature = crypto.Sign(req.CanonicalBytes(), id.PrivateKey)
	return req
}

func TestPrefixSeparatorScenario(t *testing.T) {
	k := newTestKernel(t, testConfig())
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)

	if _, err := k.Grant(GrantRequest{
		PrincipalID: agent.AgentID,
		ResourceURI: "arbor://fs/read/home",
	}, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	ok := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/read/home/x.txt", "read", AuthorizeOpts{
		SignedRequest: ptrReq(signedRequest(agent, "arbor://fs/read/home/x.txt", "read", "n1", now)),
		Now:           now,
	})
	if ok.Kind != ResultAuthorized {
		t.Fatalf("expected authorized, got %+v", ok)
	}

	bad := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/read/home_config", "read", AuthorizeOpts{
		SignedRequest: ptrReq(signedRequest(agent, "arbor://fs/read/home_config", "read", "n2", now)),
		Now:           now,
	})
	if bad.Kind != ResultError || bad.Err != kernelerr.ErrCapabilityNotFound {
		t.Fatalf("expected CapabilityNotFound, got %+v", bad)
	}
}

func TestConstraintOrderingScenario(t *testing.T) {
	k := newTestKernel(t, testConfig())
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	k.Verifier.NowFn = func() time.Time { return now }
	agent := registerAgent(t, k, nil)

	if _, err := k.Grant(GrantRequest{
		PrincipalID: agent.AgentID,
		ResourceURI: "arbor://fs/read/vault",
		Constraints: map[string]any{
			"time_window": map[string]any{"start_hour": 22, "end_hour": 6},
			"rate_limit":  5.0,
		},
	}, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	result := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/read/vault", "read", AuthorizeOpts{
		SignedRequest: ptrReq(signedRequest(agent, "arbor://fs/read/vault", "read", "n1", now)),
		Now:           now,
	})
	if result.Kind != ResultError {
		t.Fatalf("expected error, got %+v", result)
	}
	violated, ok := result.Err.(*kernelerr.ConstraintViolated)
	if !ok || violated.Kind != kernelerr.ConstraintTimeWindow {
		t.Fatalf("expected time_window violation, got %+v", result.Err)
	}

	remaining := k.Limiter.Remaining(agent.AgentID, "arbor://fs/read/vault", 5.0, now)
	if remaining != 5.0 {
		t.Fatalf("expected untouched bucket at 5 tokens, got %v", remaining)
	}
}

func TestCascadeRevokeScenario(t *testing.T) {
	k := newTestKernel(t, testConfig())
	now := time.Now().UTC()
	root := registerAgent(t, k, nil)
	d1 := registerAgent(t, k, nil)
	d2 := registerAgent(t, k, nil)

	rootCap, err := k.Grant(GrantRequest{PrincipalID: root.AgentID, ResourceURI: "arbor://fs/read/shared"}, nil, now)
	require.NoError(t, err)
	cap1, err := k.Grant(GrantRequest{
		PrincipalID: d1.AgentID,
		ResourceURI: "arbor://fs/read/shared",
		ParentID:    rootCap.ID,
		DelegatorID: root.AgentID,
	}, root.PrivateKey, now)
	require.NoError(t, err)
	_, err = k.Grant(GrantRequest{
		PrincipalID: d2.AgentID,
		ResourceURI: "arbor://fs/read/shared",
		ParentID:    cap1.ID,
		DelegatorID: d1.AgentID,
	}, d1.PrivateKey, now)
	require.NoError(t, err)

	count, err := k.CascadeRevoke(rootCap.ID)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.False(t, k.Can(d2.AgentID, "arbor://fs/read/shared"), "expected d2 to have no authorizing capability after cascade revoke")
}

func TestQuotaScenario(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapabilitiesPerAgent = 2
	k := newTestKernel(t, cfg)
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)

	var errs []error
	for i := 0; i < 3; i++ {
		_, err := k.Grant(GrantRequest{PrincipalID: agent.AgentID, ResourceURI: "arbor://fs/read/x" + string(rune('a'+i))}, nil, now)
		errs = append(errs, err)
	}
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("expected first two grants to succeed, got %v, %v", errs[0], errs[1])
	}
	quotaErr, ok := errs[2].(*kernelerr.QuotaExceeded)
	if !ok || quotaErr.Kind != kernelerr.QuotaPerAgentCapability || quotaErr.Current != 2 || quotaErr.Limit != 2 {
		t.Fatalf("expected QuotaExceeded{per_agent_capability_limit,2,2}, got %+v", errs[2])
	}
}

func TestReplayAttackScenario(t *testing.T) {
	k := newTestKernel(t, testConfig())
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)
	if _, err := k.Grant(GrantRequest{PrincipalID: agent.AgentID, ResourceURI: "arbor://fs/read/doc"}, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	req := signedRequest(agent, "arbor://fs/read/doc", "read", "fixed-nonce", now)
	first := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/read/doc", "read", AuthorizeOpts{SignedRequest: &req, Now: now})
	if first.Kind != ResultAuthorized {
		t.Fatalf("expected first call authorized, got %+v", first)
	}
	second := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/read/doc", "read", AuthorizeOpts{SignedRequest: &req, Now: now})
	if second.Kind != ResultError || second.Err != kernelerr.ErrReplayedNonce {
		t.Fatalf("expected ReplayedNonce, got %+v", second)
	}
}

func TestIdentityRevocationCascadesCapabilities(t *testing.T) {
	k := newTestKernel(t, testConfig())
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)
	if _, err := k.Grant(GrantRequest{PrincipalID: agent.AgentID, ResourceURI: "arbor://fs/read/doc"}, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !k.Can(agent.AgentID, "arbor://fs/read/doc") {
		t.Fatal("expected capability before revoke")
	}
	if err := k.RevokeIdentity(agent.AgentID); err != nil {
		t.Fatalf("revoke identity: %v", err)
	}
	if k.Can(agent.AgentID, "arbor://fs/read/doc") {
		t.Fatal("expected capability cascade-revoked after identity revoke")
	}
}

func TestEscalationDisabledFallsBackCorrectly(t *testing.T) {
	cfg := testConfig()
	cfg.ConsensusEscalationEnabled = false
	cfg.ApprovalGuardEnabled = false
	k := newTestKernel(t, cfg)
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)
	if _, err := k.Grant(GrantRequest{
		PrincipalID: agent.AgentID,
		ResourceURI: "arbor://fs/write/doc",
		Constraints: map[string]any{"requires_approval": true},
	}, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}
	result := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/write/doc", "write", AuthorizeOpts{
		SignedRequest: ptrReq(signedRequest(agent, "arbor://fs/write/doc", "write", "n1", now)),
		Now:           now,
	})
	require.Equal(t, ResultError, result.Kind)
	require.ErrorIs(t, result.Err, kernelerr.ErrEscalationDisabled)
}

// TestEscalationDisabledWithDefaultConsensusEnabled exercises the actually
// ambiguous case from spec §9 Open Question (a): guard disabled, approval
// required by constraint, ConsensusEscalationEnabled left at its true
// default (true), and no real consensus module wired. The default-enabled
// flag must not matter when nothing is configured to escalate to — the
// result must still be EscalationDisabled, not ConsensusUnavailable.
func TestEscalationDisabledWithDefaultConsensusEnabled(t *testing.T) {
	cfg := testConfig()
	require.True(t, cfg.ConsensusEscalationEnabled, "this test only means something at the true default")
	cfg.ApprovalGuardEnabled = false
	k := newTestKernel(t, cfg)
	now := time.Now().UTC()
	agent := registerAgent(t, k, nil)
	_, err := k.Grant(GrantRequest{
		PrincipalID: agent.AgentID,
		ResourceURI: "arbor://fs/write/doc",
		Constraints: map[string]any{"requires_approval": true},
	}, nil, now)
	require.NoError(t, err)

	result := k.Authorize(context.Background(), agent.AgentID, "arbor://fs/write/doc", "write", AuthorizeOpts{
		SignedRequest: ptrReq(signedRequest(agent, "arbor://fs/write/doc", "write", "n1", now)),
		Now:           now,
	})
	require.Equal(t, ResultError, result.Kind)
	require.ErrorIs(t, result.Err, kernelerr.ErrEscalationDisabled)
}

func ptrReq(r identity.SignedRequest) *identity.SignedRequest { return &r }
