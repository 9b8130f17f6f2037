// Package correlation keeps per-request state alive across the independent
// turns of a multi-step interaction. An ActiveRequest is created on the
// first dispatch for a request id, refreshed on later dispatches, and
// dropped when the interaction reaches a terminal state or its TTL lapses.
package correlation

import (
	"sync"
	"time"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/dedup"
)

// ActiveRequest is the correlation record for one logical multi-turn
// interaction. The store exclusively owns these records: reads hand out
// private copies and all mutation goes through Update, so concurrent turns
// for the same request id never share a record.
type ActiveRequest struct {
	RequestID string
	Origin    bus.ConversationRef
	Initiator bus.Identity
	CreatedAt time.Time
	ExpiresAt time.Time

	// Trigger is resolved at most once, on creation, and reused on every
	// later turn. Re-resolving after a conversation switch would snapshot
	// the private conversation instead of the original one. The snapshot is
	// read-only after resolution, so copies share it.
	Trigger *TriggerContext

	// Saga state carried between turns.
	Phase          string
	PendingHandler string
	PendingText    string
	PendingPayload map[string]string
	DedupKeys      []dedup.Key
}

// Expired reports whether the request's TTL has lapsed at time now.
func (r *ActiveRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func (r *ActiveRequest) clone() *ActiveRequest {
	cp := *r
	if r.PendingPayload != nil {
		cp.PendingPayload = make(map[string]string, len(r.PendingPayload))
		for k, v := range r.PendingPayload {
			cp.PendingPayload[k] = v
		}
	}
	cp.DedupKeys = append([]dedup.Key(nil), r.DedupKeys...)
	return &cp
}

// Store holds ActiveRequest records keyed by request id. Implementations
// must be safe for concurrent turns. Entries past their TTL are treated as
// absent on every read path.
//
// Get and Refresh return private copies; writing to a returned record has
// no effect on the stored one. Update is the only way to mutate a stored
// record in place.
type Store interface {
	Get(id string) (*ActiveRequest, bool)
	Put(req *ActiveRequest)
	Delete(id string)
	// Update applies fn to the live record under the store's lock and
	// reports whether the record existed. fn must not call back into the
	// store.
	Update(id string, fn func(*ActiveRequest)) bool
	// Refresh updates only the origin conversation ref of a live request
	// and returns the refreshed record; the conversation may have changed
	// shape between turns.
	Refresh(id string, origin bus.ConversationRef) (*ActiveRequest, bool)
	// Sweep drops expired entries and reports how many were removed.
	Sweep() int
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*ActiveRequest
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*ActiveRequest),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(id string) (*ActiveRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.live(id)
	if !ok {
		return nil, false
	}
	return req.clone(), true
}

func (s *MemoryStore) Put(req *ActiveRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req.clone()
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
}

func (s *MemoryStore) Update(id string, fn func(*ActiveRequest)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.live(id)
	if !ok {
		return false
	}
	fn(req)
	return true
}

func (s *MemoryStore) Refresh(id string, origin bus.ConversationRef) (*ActiveRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.live(id)
	if !ok {
		return nil, false
	}
	req.Origin = origin
	return req.clone(), true
}

// live returns the stored record for id, reclaiming it if expired.
// Callers must hold the lock.
func (s *MemoryStore) live(id string) (*ActiveRequest, bool) {
	req, ok := s.requests[id]
	if !ok {
		return nil, false
	}
	if req.Expired(s.now()) {
		delete(s.requests, id)
		return nil, false
	}
	return req, true
}

func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, req := range s.requests {
		if req.Expired(now) {
			delete(s.requests, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
