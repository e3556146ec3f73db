package capability

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// StoreConfig carries the quota and signing-migration knobs from spec §6.
type StoreConfig struct {
	MaxDelegationDepth      uint32
	MaxCapabilitiesPerAgent int
	MaxGlobalCapabilities   int
	QuotaEnforcementEnabled bool
	CapabilitySigningRequired bool
}

// DefaultStoreConfig mirrors the spec's enumerated defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxDelegationDepth:        10,
		MaxCapabilitiesPerAgent:   1000,
		MaxGlobalCapabilities:     100000,
		QuotaEnforcementEnabled:   true,
		CapabilitySigningRequired: false,
	}
}

// Counters tracks the store's lifetime grant/revoke/expire totals.
type Counters struct {
	TotalGranted int64
	TotalRevoked int64
	TotalExpired int64
}

// Store is the capability store actor: every exported method takes the
// single internal mutex, so callers observe the ordering guarantees of
// spec §5 (put-then-find_authorizing read-your-writes, atomic cascade).
type Store struct {
	cfg     StoreConfig
	persist Persistence
	lookup  KeyLookup

	mu          sync.Mutex
	byID        map[string]Capability
	byPrincipal map[string]map[string]struct{}
	byIssuer    map[string]map[string]struct{}
	byParent    map[string]map[string]struct{}
	counters    Counters
}

// NewStore constructs an empty store backed by persist (use
// NoopPersistence{} to disable durability) and lookup for resolving
// issuer public keys during signature acceptability checks.
func NewStore(cfg StoreConfig, persist Persistence, lookup KeyLookup) *Store {
	if persist == nil {
		persist = NoopPersistence{}
	}
	return &Store{
		cfg:         cfg,
		persist:     persist,
		lookup:      lookup,
		byID:        make(map[string]Capability),
		byPrincipal: make(map[string]map[string]struct{}),
		byIssuer:    make(map[string]map[string]struct{}),
		byParent:    make(map[string]map[string]struct{}),
	}
}

// LoadFromPersistence rebuilds all indexes from the persisted
// "capabilities" collection, skipping already-expired entries. Call once
// at startup before serving requests.
func (s *Store) LoadFromPersistence(now time.Time) error {
	records, err := s.persist.List(capabilitiesCollection)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range records {
		var rec persistedCapability
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		cap, err := rec.toCapability()
		if err != nil {
			continue
		}
		if cap.Expired(now) {
			continue
		}
		s.indexLocked(cap)
	}
	return nil
}

// Put validates quotas then inserts cap into every index, persisting
// best-effort. Persistence failures are swallowed: in-memory state is
// authoritative for reads-your-writes.
func (s *Store) Put(cap Capability, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.QuotaEnforcementEnabled {
		if cap.DelegationDepth > s.cfg.MaxDelegationDepth {
			return &kernelerr.QuotaExceeded{Kind: kernelerr.QuotaDelegationDepth, Current: int(cap.DelegationDepth), Limit: int(s.cfg.MaxDelegationDepth)}
		}
		if principalCount := len(s.byPrincipal[cap.PrincipalID]); principalCount >= s.cfg.MaxCapabilitiesPerAgent {
			return &kernelerr.QuotaExceeded{Kind: kernelerr.QuotaPerAgentCapability, Current: principalCount, Limit: s.cfg.MaxCapabilitiesPerAgent}
		}
		if globalCount := len(s.byID); globalCount >= s.cfg.MaxGlobalCapabilities {
			return &kernelerr.QuotaExceeded{Kind: kernelerr.QuotaGlobalCapability, Current: globalCount, Limit: s.cfg.MaxGlobalCapabilities}
		}
	}
	s.indexLocked(cap)
	s.counters.TotalGranted++
	if payload, err := encodeCapability(cap); err == nil {
		_ = s.persist.Put(capabilitiesCollection, cap.ID, payload)
	}
	return nil
}

func (s *Store) indexLocked(cap Capability) {
	s.byID[cap.ID] = cap
	addToIndex(s.byPrincipal, cap.PrincipalID, cap.ID)
	if cap.IssuerID != "" {
		addToIndex(s.byIssuer, cap.IssuerID, cap.ID)
	}
	if cap.ParentCapabilityID != "" {
		addToIndex(s.byParent, cap.ParentCapabilityID, cap.ID)
	}
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Get performs the primary by_id lookup, returning CapabilityExpired if
// the capability has expired.
func (s *Store) Get(id string, now time.Time) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap, ok := s.byID[id]
	if !ok {
		return Capability{}, kernelerr.ErrCapabilityNotFound
	}
	if cap.Expired(now) {
		return Capability{}, kernelerr.ErrCapabilityExpired
	}
	return cap, nil
}

// FindAuthorizing scans by_principal for a live, resource-matching,
// signature-acceptable capability. Returns the first match;
// ErrCapabilityNotFound if none qualify.
func (s *Store) FindAuthorizing(principalID, resourceURI string, now time.Time) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byPrincipal[principalID] {
		cap, ok := s.byID[id]
		if !ok || cap.Expired(now) {
			continue
		}
		if !cap.AuthorizesResource(resourceURI) {
			continue
		}
		if !s.signatureAcceptableLocked(cap) {
			continue
		}
		return cap, nil
	}
	return Capability{}, kernelerr.ErrCapabilityNotFound
}

func (s *Store) signatureAcceptableLocked(cap Capability) bool {
	if len(cap.IssuerSignature) == 0 {
		return !s.cfg.CapabilitySigningRequired
	}
	if s.lookup == nil {
		return false
	}
	pub, err := s.lookup(cap.IssuerID)
	if err != nil {
		return false
	}
	return Verify(cap, pub) == nil
}

// Revoke removes id from every index, bumping total_revoked.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap, ok := s.byID[id]
	if !ok {
		return kernelerr.ErrCapabilityNotFound
	}
	s.removeLocked(cap)
	s.counters.TotalRevoked++
	_ = s.persist.Delete(capabilitiesCollection, id)
	return nil
}

func (s *Store) removeLocked(cap Capability) {
	delete(s.byID, cap.ID)
	removeFromIndex(s.byPrincipal, cap.PrincipalID, cap.ID)
	if cap.IssuerID != "" {
		removeFromIndex(s.byIssuer, cap.IssuerID, cap.ID)
	}
	if cap.ParentCapabilityID != "" {
		removeFromIndex(s.byParent, cap.ParentCapabilityID, cap.ID)
	}
}

// RevokeAll revokes every capability held by principalID, returning the
// count removed.
func (s *Store) RevokeAll(principalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byPrincipal[principalID]))
	for id := range s.byPrincipal[principalID] {
		ids = append(ids, id)
	}
	for _, id := range ids {
		cap := s.byID[id]
		s.removeLocked(cap)
		s.counters.TotalRevoked++
		_ = s.persist.Delete(capabilitiesCollection, id)
	}
	return len(ids)
}

// CascadeRevoke performs a BFS over by_parent starting at rootID,
// snapshotting the parent->children relation before deleting anything so
// a concurrent Put on the affected sub-tree cannot be half-observed: a
// find_authorizing call during the cascade either sees the full tree or
// none of it, since both run under the same store mutex.
func (s *Store) CascadeRevoke(rootID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rootID]; !ok {
		return 0, kernelerr.ErrCapabilityNotFound
	}
	descendants := s.collectDescendantsLocked(rootID)
	for _, id := range descendants {
		cap, ok := s.byID[id]
		if !ok {
			continue
		}
		s.removeLocked(cap)
		s.counters.TotalRevoked++
		_ = s.persist.Delete(capabilitiesCollection, id)
	}
	return len(descendants), nil
}

func (s *Store) collectDescendantsLocked(rootID string) []string {
	queue := []string{rootID}
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		children := make([]string, 0, len(s.byParent[id]))
		for childID := range s.byParent[id] {
			children = append(children, childID)
		}
		queue = append(queue, children...)
	}
	return order
}

// SweepExpired partitions by_id into expired/live, removing expired
// entries and bumping total_expired. Intended to run every 60s from a
// background ticker.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Capability
	for _, cap := range s.byID {
		if cap.Expired(now) {
			expired = append(expired, cap)
		}
	}
	for _, cap := range expired {
		s.removeLocked(cap)
		s.counters.TotalExpired++
		_ = s.persist.Delete(capabilitiesCollection, cap.ID)
	}
	return len(expired)
}

// ListByPrincipal returns a snapshot of every live capability granted to
// principalID.
func (s *Store) ListByPrincipal(principalID string, now time.Time) []Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Capability, 0, len(s.byPrincipal[principalID]))
	for id := range s.byPrincipal[principalID] {
		if cap, ok := s.byID[id]; ok && !cap.Expired(now) {
			out = append(out, cap)
		}
	}
	return out
}

// Counters returns a snapshot of the store's lifetime counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// persistedCapability is the on-disk JSON shape: string keys, ISO-8601
// datetimes, and a hex-encoded issuer signature. Delegation records are
// stored as they are, so their delegator signatures use encoding/json's
// default base64 encoding rather than hex.
type persistedCapability struct {
	ID                 string             `json:"id"`
	ResourceURI        string             `json:"resource_uri"`
	PrincipalID        string             `json:"principal_id"`
	GrantedAt          time.Time          `json:"granted_at"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	ParentCapabilityID string             `json:"parent_capability_id,omitempty"`
	DelegationDepth    uint32             `json:"delegation_depth"`
	Constraints        map[string]any     `json:"constraints,omitempty"`
	IssuerID           string             `json:"issuer_id,omitempty"`
	IssuerSignatureHex string             `json:"issuer_signature,omitempty"`
	DelegationChain    []DelegationRecord `json:"delegation_chain,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
}

func encodeCapability(cap Capability) ([]byte, error) {
	rec := persistedCapability{
		ID:                 cap.ID,
		ResourceURI:        cap.ResourceURI,
		PrincipalID:        cap.PrincipalID,
		GrantedAt:          cap.GrantedAt,
		ExpiresAt:          cap.ExpiresAt,
		ParentCapabilityID: cap.ParentCapabilityID,
		DelegationDepth:    cap.DelegationDepth,
		Constraints:        cap.Constraints,
		IssuerID:           cap.IssuerID,
		IssuerSignatureHex: hex.EncodeToString(cap.IssuerSignature),
		DelegationChain:    cap.DelegationChain,
		Metadata:           cap.Metadata,
	}
	return json.Marshal(rec)
}

func (rec persistedCapability) toCapability() (Capability, error) {
	sig, err := hex.DecodeString(rec.IssuerSignatureHex)
	if err != nil {
		return Capability{}, err
	}
	return Capability{
		ID:                 rec.ID,
		ResourceURI:        rec.ResourceURI,
		PrincipalID:        rec.PrincipalID,
		GrantedAt:          rec.GrantedAt,
		ExpiresAt:          rec.ExpiresAt,
		ParentCapabilityID: rec.ParentCapabilityID,
		DelegationDepth:    rec.DelegationDepth,
		Constraints:        rec.Constraints,
		IssuerID:           rec.IssuerID,
		IssuerSignature:    sig,
		DelegationChain:    rec.DelegationChain,
		Metadata:           rec.Metadata,
	}, nil
}
