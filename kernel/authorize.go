package kernel

import (
	"context"
	"time"

	"github.com/trust-arbor/arbor-sub008/constraint"
	"github.com/trust-arbor/arbor-sub008/identity"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
	"github.com/trust-arbor/arbor-sub008/policy"
)

// ResultKind is the tag of an AuthorizationResult.
type ResultKind string

const (
	ResultAuthorized     ResultKind = "authorized"
	ResultPendingApproval ResultKind = "pending_approval"
	ResultError           ResultKind = "error"
)

// AuthorizationResult is the authorize pipeline's terminal outcome.
type AuthorizationResult struct {
	Kind       ResultKind
	ProposalID string
	Err        error
}

// AuthorizeOpts carries the per-call knobs from spec §4.10: the signed
// request that identity verification checks (required when
// IdentityVerification is on, ignored otherwise), the time used for the
// capability and constraint checks, and a deadline for any consensus
// escalation.
type AuthorizeOpts struct {
	SignedRequest *identity.SignedRequest
	Now           time.Time
	Deadline      time.Duration
}

// Authorize runs the full staged pipeline: identity verify, registry
// resolve, find authorizing capability, re-check expiration/signature,
// enforce constraints, approval guard / escalation, then dual-emit an
// audit event. Each stage may short-circuit per spec §4.10.
func (k *Kernel) Authorize(ctx context.Context, principalID, resourceURI, action string, opts AuthorizeOpts) AuthorizationResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	start := time.Now()
	result := k.authorize(ctx, principalID, resourceURI, action, opts, now)
	k.Metrics.RecordAuthorize(string(result.Kind), time.Since(start).Seconds())
	return result
}

func (k *Kernel) authorize(ctx context.Context, principalID, resourceURI, action string, opts AuthorizeOpts, now time.Time) AuthorizationResult {
	// Stage 1+2: identity verification and principal resolution.
	if k.Config.IdentityVerification {
		if opts.SignedRequest == nil {
			return k.deny(principalID, resourceURI, kernelerr.ErrInvalidSignature)
		}
		if err := k.Verifier.VerifySignedRequest(*opts.SignedRequest); err != nil {
			k.Audit.Emit(EventIdentityFailed, map[string]any{"principal_id": principalID, "reason": err.Error()})
			return k.deny(principalID, resourceURI, err)
		}
		k.Audit.Emit(EventIdentityVerified, map[string]any{"principal_id": principalID})
	} else if _, err := k.Registry.Lookup(principalID); err != nil {
		return k.deny(principalID, resourceURI, err)
	}

	// Stage 3+4: find authorizing capability, re-check expiration/signature.
	cap, err := k.Store.FindAuthorizing(principalID, resourceURI, now)
	if err != nil {
		return k.deny(principalID, resourceURI, err)
	}

	// Stage 5: constraint enforcement.
	requiresApproval := false
	if k.Config.ConstraintEnforcementEnabled {
		if v, ok := cap.Constraints["requires_approval"]; ok {
			if b, ok := v.(bool); ok {
				requiresApproval = b
			}
		}
		if err := constraint.Enforce(cap.Constraints, principalID, resourceURI, k.Limiter, now); err != nil {
			return k.deny(principalID, resourceURI, err)
		}
	}

	// Stage 6: approval guard / escalation.
	outcome, err := k.Guard.Evaluate(principalID, resourceURI, requiresApproval)
	if err != nil {
		return k.deny(principalID, resourceURI, err)
	}
	switch outcome {
	case policy.OutcomeAuto, policy.OutcomeGraduated:
		k.Audit.Emit(EventAuthorizationGranted, map[string]any{"principal_id": principalID, "resource_uri": resourceURI, "capability_id": cap.ID})
		return AuthorizationResult{Kind: ResultAuthorized}
	case policy.OutcomeEscalate:
		deadlineCtx := ctx
		if opts.Deadline > 0 {
			var cancel context.CancelFunc
			deadlineCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
			defer cancel()
		}
		proposalID, err := k.Escalator.Escalate(deadlineCtx, policy.Proposal{
			Proposer:     principalID,
			Topic:        policy.TopicAuthorizationRequest,
			Description:  "authorization request for " + resourceURI,
			PrincipalID:  principalID,
			ResourceURI:  resourceURI,
			CapabilityID: cap.ID,
			Constraints:  cap.Constraints,
		})
		if err != nil {
			k.Metrics.RecordEscalation("failed")
			return k.deny(principalID, resourceURI, err)
		}
		k.Metrics.RecordEscalation("submitted")
		k.Audit.Emit(EventAuthorizationPending, map[string]any{"principal_id": principalID, "resource_uri": resourceURI, "proposal_id": proposalID})
		return AuthorizationResult{Kind: ResultPendingApproval, ProposalID: proposalID}
	default:
		return k.deny(principalID, resourceURI, kernelerr.ErrPolicyDenied)
	}
}

func (k *Kernel) deny(principalID, resourceURI string, err error) AuthorizationResult {
	k.Audit.Emit(EventAuthorizationDenied, map[string]any{"principal_id": principalID, "resource_uri": resourceURI, "reason": err.Error()})
	return AuthorizationResult{Kind: ResultError, Err: err}
}

// Can is the fast-path boolean check from spec §6: no consensus, no
// escalation, just "does an authorizing capability exist right now".
func (k *Kernel) Can(principalID, resourceURI string) bool {
	_, err := k.Store.FindAuthorizing(principalID, resourceURI, time.Now().UTC())
	return err == nil
}
