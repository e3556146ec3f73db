package policy

import (
	"context"
	"testing"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

type fakeService struct {
	mode      ConfirmationMode
	graduated bool
	err       error
}

func (f fakeService) ConfirmationMode(string, string) (ConfirmationMode, error) {
	return f.mode, f.err
}

func (f fakeService) Graduated(string, string) (bool, error) {
	return f.graduated, nil
}

func TestGuardAutoMode(t *testing.T) {
	g := &Guard{Enabled: true, Service: fakeService{mode: ModeAuto}}
	outcome, err := g.Evaluate("agent_x", "arbor://fs/read/home", false)
	if err != nil || outcome != OutcomeAuto {
		t.Fatalf("expected auto outcome, got %v %v", outcome, err)
	}
}

func TestGuardGatedGraduated(t *testing.T) {
	g := &Guard{Enabled: true, Service: fakeService{mode: ModeGated, graduated: true}}
	outcome, err := g.Evaluate("agent_x", "arbor://fs/read/home", false)
	if err != nil || outcome != OutcomeGraduated {
		t.Fatalf("expected graduated outcome, got %v %v", outcome, err)
	}
}

func TestGuardGatedNotGraduatedEscalates(t *testing.T) {
	g := &Guard{Enabled: true, Service: fakeService{mode: ModeGated, graduated: false}}
	outcome, err := g.Evaluate("agent_x", "arbor://fs/read/home", false)
	if err != nil || outcome != OutcomeEscalate {
		t.Fatalf("expected escalate outcome, got %v %v", outcome, err)
	}
}

func TestGuardDenyMode(t *testing.T) {
	g := &Guard{Enabled: true, Service: fakeService{mode: ModeDeny}}
	outcome, err := g.Evaluate("agent_x", "arbor://fs/read/home", false)
	if err != kernelerr.ErrPolicyDenied || outcome != OutcomeDenied {
		t.Fatalf("expected PolicyDenied, got %v %v", outcome, err)
	}
}

func TestGuardDisabledFallsBackToRequiresApproval(t *testing.T) {
	g := &Guard{Enabled: false}
	outcome, err := g.Evaluate("agent_x", "arbor://fs/read/home", true)
	if err != nil || outcome != OutcomeEscalate {
		t.Fatalf("expected disabled guard with requires_approval to escalate, got %v %v", outcome, err)
	}
	outcome, err = g.Evaluate("agent_x", "arbor://fs/read/home", false)
	if err != nil || outcome != OutcomeAuto {
		t.Fatalf("expected disabled guard without requires_approval to auto-approve, got %v %v", outcome, err)
	}
}

func TestEscalateDisabled(t *testing.T) {
	e := &Escalator{Enabled: false}
	_, err := e.Escalate(context.Background(), Proposal{})
	if err != kernelerr.ErrEscalationDisabled {
		t.Fatalf("expected EscalationDisabled, got %v", err)
	}
}

func TestEscalateNilModule(t *testing.T) {
	e := &Escalator{Enabled: true}
	_, err := e.Escalate(context.Background(), Proposal{})
	if err != kernelerr.ErrEscalationDisabled {
		t.Fatalf("expected EscalationDisabled for a nil module, got %v", err)
	}
}

func TestEscalateNullConsensusModule(t *testing.T) {
	// The spec's open question on "guard disabled + approval required +
	// no consensus module" pins this exact combination — default-enabled
	// escalation with nothing real wired — to EscalationDisabled, not
	// ConsensusUnavailable.
	e := &Escalator{Enabled: true, Module: NullConsensus{}}
	_, err := e.Escalate(context.Background(), Proposal{})
	if err != kernelerr.ErrEscalationDisabled {
		t.Fatalf("expected EscalationDisabled for NullConsensus, got %v", err)
	}
}

func TestEscalateUnhealthyRealModule(t *testing.T) {
	e := &Escalator{Enabled: true, Module: unhealthyModule{}}
	_, err := e.Escalate(context.Background(), Proposal{})
	if err != kernelerr.ErrConsensusUnavailable {
		t.Fatalf("expected ConsensusUnavailable, got %v", err)
	}
}

// unhealthyModule is a real (non-null) ConsensusModule reporting unhealthy,
// distinguishing "module configured but down" from "no module configured".
type unhealthyModule struct{}

func (unhealthyModule) Submit(context.Context, Proposal) (string, error) {
	return "", kernelerr.ErrConsensusUnavailable
}

func (unhealthyModule) Healthy() bool { return false }
