// Package kernel wires the identity registry, capability store, rate
// limiter, constraint evaluator, approval guard, and escalator into the
// top-level authorize pipeline (spec §4.10) and the kernel API surface
// (spec §6).
package kernel

import (
	"time"

	"github.com/trust-arbor/arbor-sub008/authority"
	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/config"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/identity"
	"github.com/trust-arbor/arbor-sub008/policy"
	"github.com/trust-arbor/arbor-sub008/ratelimit"
)

// Kernel holds every actor and pure module the authorize pipeline
// depends on, plus the ambient audit/metrics sinks.
type Kernel struct {
	Config *config.Config

	Registry  *identity.Registry
	Verifier  *identity.Verifier
	Store     *capability.Store
	Limiter   *ratelimit.Limiter
	Guard     *policy.Guard
	Escalator *policy.Escalator
	Authority *authority.Authority

	Audit   *AuditLog
	Metrics *Metrics
}

// New wires a Kernel from cfg. Callers supply persist (bbolt or noop), the
// consensus module and the policy service, since those backends depend on
// deployment choices the kernel itself does not make. The key lookup used
// for capability signature checks is built from the kernel's own registry.
func New(cfg *config.Config, persist capability.Persistence, consensus policy.ConsensusModule, svc policy.Service, audit *AuditLog, metrics *Metrics) (*Kernel, error) {
	registry := identity.NewRegistry()
	authorityInst, err := authority.New(registry)
	if err != nil {
		return nil, err
	}

	storeCfg := capability.StoreConfig{
		MaxDelegationDepth:        uint32(cfg.MaxDelegationDepth),
		MaxCapabilitiesPerAgent:   cfg.MaxCapabilitiesPerAgent,
		MaxGlobalCapabilities:     cfg.MaxGlobalCapabilities,
		QuotaEnforcementEnabled:   cfg.QuotaEnforcementEnabled,
		CapabilitySigningRequired: cfg.CapabilitySigningRequired,
	}
	lookup := func(agentID string) (crypto.SigningPublicKey, error) {
		id, err := registry.Lookup(agentID)
		if err != nil {
			return nil, err
		}
		return id.PublicKey, nil
	}
	store := capability.NewStore(storeCfg, persist, lookup)

	nonces := identity.NewNonceCache(time.Duration(cfg.NonceTTLSeconds)*time.Second, 0)
	verifier := identity.NewVerifier(registry, nonces)
	verifier.MaxDrift = time.Duration(cfg.TimestampMaxDriftSeconds) * time.Second

	limiter := ratelimit.NewLimiter(
		time.Duration(cfg.RateLimitRefillPeriodSeconds)*time.Second,
		time.Duration(cfg.RateLimitBucketTTLSeconds)*time.Second,
	)

	registry.OnRevoke(func(agentID string) {
		store.RevokeAll(agentID)
		audit.Emit(EventCascadeRevocation, map[string]any{"principal_id": agentID, "reason": "identity_revoked"})
	})

	return &Kernel{
		Config:    cfg,
		Registry:  registry,
		Verifier:  verifier,
		Store:     store,
		Limiter:   limiter,
		Guard:     &policy.Guard{Enabled: cfg.ApprovalGuardEnabled, Service: svc},
		Escalator: &policy.Escalator{Enabled: cfg.ConsensusEscalationEnabled, Module: consensus},
		Authority: authorityInst,
		Audit:     audit,
		Metrics:   metrics,
	}, nil
}
