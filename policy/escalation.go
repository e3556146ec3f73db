package policy

import (
	"context"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// Proposal is the escalation request submitted to the consensus module
// when a gated, non-graduated request needs human/quorum sign-off.
type Proposal struct {
	Proposer     string
	Topic        string
	Description  string
	PrincipalID  string
	ResourceURI  string
	CapabilityID string
	Constraints  map[string]any
}

// TopicAuthorizationRequest is the fixed topic value from spec §4.9.
const TopicAuthorizationRequest = "AuthorizationRequest"

// ConsensusModule is the pluggable two-method contract (Submit plus a
// Healthy probe) the kernel depends on for escalation. A null implementation (see NullConsensus)
// makes consensus_escalation_enabled=false behave as EscalationDisabled.
type ConsensusModule interface {
	Submit(ctx context.Context, proposal Proposal) (proposalID string, err error)
	Healthy() bool
}

// NullConsensus is the no-op stand-in for "no consensus module configured".
// Escalator recognizes it specially (see Escalate) and treats it the same
// as a nil Module: EscalationDisabled, never ConsensusUnavailable.
type NullConsensus struct{}

func (NullConsensus) Submit(context.Context, Proposal) (string, error) {
	return "", kernelerr.ErrConsensusUnavailable
}

func (NullConsensus) Healthy() bool { return false }

// Escalator submits a proposal to the consensus module when escalation is
// enabled and the module is healthy; otherwise fails closed per spec §4.9.
type Escalator struct {
	Enabled bool
	Module  ConsensusModule
}

// Escalate returns the proposal id on success, or EscalationDisabled /
// ConsensusUnavailable / ConsensusSubmissionFailed on failure.
//
// "No consensus module configured" — a nil Module, or the explicit
// NullConsensus no-op — always yields EscalationDisabled, independent of
// Enabled: per spec, consensus_escalation_enabled=false and "nothing to
// escalate to" are the same failure-closed outcome, not two different
// ones distinguished only by which knob happened to be set.
func (e *Escalator) Escalate(ctx context.Context, proposal Proposal) (string, error) {
	if e.Module == nil {
		return "", kernelerr.ErrEscalationDisabled
	}
	if _, isNull := e.Module.(NullConsensus); isNull {
		return "", kernelerr.ErrEscalationDisabled
	}
	if !e.Enabled {
		return "", kernelerr.ErrEscalationDisabled
	}
	if !e.Module.Healthy() {
		return "", kernelerr.ErrConsensusUnavailable
	}
	id, err := e.Module.Submit(ctx, proposal)
	if err != nil {
		return "", &kernelerr.ConsensusSubmissionFailed{Inner: err}
	}
	return id, nil
}
