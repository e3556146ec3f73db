// Package kernelerr collects the flat reason taxonomy every kernel
// component returns through, per spec §7. Sentinel errors are compared
// with errors.Is; the structured variants carry Kind/Context for callers
// that need the detail (e.g. HTTP status mapping, audit events).
package kernelerr

import "errors"

// Identity errors.
var (
	ErrUnknownPrincipal  = errors.New("kernel: unknown principal")
	ErrInvalidSignature  = errors.New("kernel: invalid signature")
	ErrStaleTimestamp    = errors.New("kernel: stale timestamp")
	ErrReplayedNonce     = errors.New("kernel: replayed nonce")
	ErrIdentitySuspended = errors.New("kernel: identity suspended")
	ErrIdentityRevoked   = errors.New("kernel: identity revoked")
)

// Capability errors.
var (
	ErrCapabilityNotFound          = errors.New("kernel: capability not found")
	ErrCapabilityExpired           = errors.New("kernel: capability expired")
	ErrInvalidCapabilitySignature  = errors.New("kernel: invalid capability signature")
	ErrBrokenDelegationChain       = errors.New("kernel: broken delegation chain")
)

// Policy errors.
var (
	ErrPolicyDenied                = errors.New("kernel: policy denied")
	ErrEscalationDisabled          = errors.New("kernel: escalation disabled")
	// ErrNoConsensusModule is part of the reason taxonomy but is never
	// produced by policy.Escalator: a nil or null Module resolves to
	// ErrEscalationDisabled instead (see policy.Escalator.Escalate).
	// Kept for callers that build their own ConsensusModule wiring outside
	// the kernel's Escalator and want a distinct "not wired" sentinel.
	ErrNoConsensusModule           = errors.New("kernel: no consensus module configured")
	ErrConsensusUnavailable        = errors.New("kernel: consensus module unavailable")
)

// FS errors.
var (
	ErrPathTraversal    = errors.New("kernel: path traversal")
	ErrPatternMismatch  = errors.New("kernel: pattern mismatch")
	ErrExcludedPattern  = errors.New("kernel: excluded pattern")
	ErrMaxDepthExceeded = errors.New("kernel: max depth exceeded")
)

// Crypto/serialization errors.
var (
	ErrDecryptionFailed     = errors.New("kernel: decryption failed")
	ErrInvalidEncryptionKey = errors.New("kernel: invalid encryption key")
	ErrInvalidPayload       = errors.New("kernel: invalid payload")
	ErrUnsupportedVersion   = errors.New("kernel: unsupported version")
)

// Ratchet errors.
var (
	ErrMaxSkipExceeded = errors.New("kernel: max skip exceeded")
)

// Rate limit error (shared by the constraint evaluator and the standalone
// limiter).
var ErrRateLimited = errors.New("kernel: rate limited")

// QuotaKind identifies which capability-store quota was violated.
type QuotaKind string

const (
	QuotaDelegationDepth    QuotaKind = "delegation_depth"
	QuotaPerAgentCapability QuotaKind = "per_agent_capability_limit"
	QuotaGlobalCapability   QuotaKind = "global_capability_limit"
)

// QuotaExceeded reports which store quota tripped and the observed vs.
// configured limits.
type QuotaExceeded struct {
	Kind    QuotaKind
	Current int
	Limit   int
}

func (e *QuotaExceeded) Error() string {
	return "kernel: quota exceeded: " + string(e.Kind)
}

// ConstraintKind identifies which constraint in the ordered evaluator
// rejected a request.
type ConstraintKind string

const (
	ConstraintTimeWindow   ConstraintKind = "time_window"
	ConstraintAllowedPaths ConstraintKind = "allowed_paths"
	ConstraintRateLimit    ConstraintKind = "rate_limit"
)

// ConstraintViolated reports which ordered constraint rejected a request,
// plus a free-form context map (e.g. remaining tokens, the window bounds).
type ConstraintViolated struct {
	Kind    ConstraintKind
	Context map[string]any
}

func (e *ConstraintViolated) Error() string {
	return "kernel: constraint violated: " + string(e.Kind)
}

// ConsensusSubmissionFailed wraps the inner error from a failed consensus
// proposal submission.
type ConsensusSubmissionFailed struct {
	Inner error
}

func (e *ConsensusSubmissionFailed) Error() string {
	return "kernel: consensus submission failed: " + e.Inner.Error()
}

func (e *ConsensusSubmissionFailed) Unwrap() error { return e.Inner }

// InvalidPath wraps a caller-supplied path resolver's inner error.
type InvalidPath struct {
	Inner error
}

func (e *InvalidPath) Error() string {
	return "kernel: invalid path: " + e.Inner.Error()
}

func (e *InvalidPath) Unwrap() error { return e.Inner }
