package kernel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trust-arbor/arbor-sub008/observability/logging"
)

// EventType enumerates the audit events the authorize pipeline and
// lifecycle operations emit, per spec §4.10.
type EventType string

const (
	EventAuthorizationGranted EventType = "authorization_granted"
	EventAuthorizationDenied  EventType = "authorization_denied"
	EventAuthorizationPending EventType = "authorization_pending"
	EventCapabilityGranted    EventType = "capability_granted"
	EventCapabilityRevoked    EventType = "capability_revoked"
	EventIdentityRegistered   EventType = "identity_registered"
	EventIdentityVerified     EventType = "identity_verified"
	EventIdentityFailed       EventType = "identity_failed"
	EventIdentitySuspended    EventType = "identity_suspended"
	EventIdentityResumed      EventType = "identity_resumed"
	EventIdentityRevoked      EventType = "identity_revoked"
	EventDelegationCreated    EventType = "delegation_created"
	EventCascadeRevocation    EventType = "cascade_revocation"
)

// Event is the stream-id "security:events" record from spec §6: always
// permanent, carrying a type tag, free-form data, and a timestamp.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Permanent bool           `json:"permanent"`
}

// AuditSink receives every emitted event on a best-effort basis: a
// subscriber that panics or blocks must never affect the caller of
// Emit. Used for the real-time side of the dual-emit audit log.
type AuditSink func(Event)

// AuditLog dual-emits every security event to a durable structured log
// (via slog) and to a set of real-time subscribers (an in-process
// pub/sub bus). Both sinks are best-effort: neither failure propagates
// to the caller, matching spec §9's "audit emission never fails the
// caller" rule.
type AuditLog struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int]AuditSink
	next int
}

// NewAuditLog builds an AuditLog writing durable entries through logger.
func NewAuditLog(logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{logger: logger, subs: make(map[int]AuditSink)}
}

// Subscribe registers sink for every future emitted event and returns an
// unsubscribe function.
func (a *AuditLog) Subscribe(sink AuditSink) (unsubscribe func()) {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subs[id] = sink
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Emit writes the durable log entry, then best-effort fans the event out
// to every real-time subscriber. Subscriber panics are recovered so one
// misbehaving listener cannot crash the pipeline.
func (a *AuditLog) Emit(eventType EventType, data map[string]any) {
	if a == nil {
		return
	}
	event := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC(), Permanent: true}
	a.logger.Info("security event", "type", string(event.Type), "data", redactedFields(event.Data))

	a.mu.RLock()
	sinks := make([]AuditSink, 0, len(a.subs))
	for _, sink := range a.subs {
		sinks = append(sinks, sink)
	}
	a.mu.RUnlock()

	for _, sink := range sinks {
		dispatch(sink, event)
	}
}

func dispatch(sink AuditSink, event Event) {
	defer func() { _ = recover() }()
	sink(event)
}

// redactedFields masks every string-valued entry in data whose key isn't
// on the kernel's audit allowlist before it reaches the durable log,
// so a caller that ever passes a raw key or token in by mistake doesn't
// leak it to disk. Real-time subscribers still receive the unredacted
// event via Data.
func redactedFields(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = logging.MaskField(k, s).Value.String()
			continue
		}
		out[k] = v
	}
	return out
}
