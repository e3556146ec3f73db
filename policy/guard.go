// Package policy implements the approval guard (§4.8) and consensus
// escalation (§4.9): the two stages between constraint enforcement and
// audit emission in the authorize pipeline.
package policy

import (
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// ConfirmationMode classifies how an authorization request should be
// confirmed before it is granted.
type ConfirmationMode string

const (
	ModeAuto  ConfirmationMode = "auto"
	ModeGated ConfirmationMode = "gated"
	ModeDeny  ConfirmationMode = "deny"
)

// Outcome is the approval guard's result for a single request.
type Outcome string

const (
	OutcomeAuto      Outcome = "approval_auto"
	OutcomeGraduated Outcome = "approval_graduated"
	OutcomeEscalate  Outcome = "escalate"
	OutcomeDenied    Outcome = "approval_denied"
)

// Service is the external policy service consulted for confirmation mode
// and graduation state. Implementations may be unavailable — the guard
// falls back to the constraint's requires_approval bit in that case.
type Service interface {
	ConfirmationMode(principalID, resourceURI string) (ConfirmationMode, error)
	Graduated(principalID, resourceURI string) (bool, error)
}

// ErrServiceUnavailable signals the policy service could not be reached;
// the guard treats this as "fall back to requires_approval".
var ErrServiceUnavailable = errServiceUnavailable{}

type errServiceUnavailable struct{}

func (errServiceUnavailable) Error() string { return "policy: service unavailable" }

// Guard implements the approval-guard pseudo-table from spec §4.8.
type Guard struct {
	Enabled bool
	Service Service
}

// Evaluate returns the guard's outcome for a single request.
// requiresApproval is the constraint's requires_approval bit, used as the
// fallback signal when the guard is disabled or the policy service is
// unavailable.
func (g *Guard) Evaluate(principalID, resourceURI string, requiresApproval bool) (Outcome, error) {
	if !g.Enabled {
		if requiresApproval {
			return OutcomeEscalate, nil
		}
		return OutcomeAuto, nil
	}
	if g.Service == nil {
		if requiresApproval {
			return OutcomeEscalate, nil
		}
		return OutcomeAuto, nil
	}
	mode, err := g.Service.ConfirmationMode(principalID, resourceURI)
	if err != nil {
		if requiresApproval {
			return OutcomeEscalate, nil
		}
		return OutcomeAuto, nil
	}
	switch mode {
	case ModeAuto:
		return OutcomeAuto, nil
	case ModeDeny:
		return OutcomeDenied, kernelerr.ErrPolicyDenied
	case ModeGated:
		graduated, err := g.Service.Graduated(principalID, resourceURI)
		if err != nil {
			return OutcomeEscalate, nil
		}
		if graduated {
			return OutcomeGraduated, nil
		}
		return OutcomeEscalate, nil
	default:
		if requiresApproval {
			return OutcomeEscalate, nil
		}
		return OutcomeAuto, nil
	}
}
