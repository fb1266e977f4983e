package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
)

// Store persists confirmation records. Transition is the only mutator
// after creation and must be atomic per request id: of two racing
// callers, exactly one wins and the other sees a conflict.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	// Get returns nil when the request id is unknown.
	Get(ctx context.Context, requestID string) (*Record, error)
	// Transition moves the record to the target state if its current
	// state is in from, recording feedback when non-empty. It returns
	// the updated record, a not-found error for unknown ids, and a
	// conflict error when the current state is not in from.
	Transition(ctx context.Context, requestID string, from []State, to State, feedback string) (*Record, error)
	// ListStalePending returns pending records created before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*Record, error)
}

// MemoryStore is an in-process Store for tests and for running
// without Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.RequestID]; ok {
		return apierror.Conflict("confirmation record %s already exists", rec.RequestID)
	}
	cp := *rec
	s.records[rec.RequestID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, requestID string, from []State, to State, feedback string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok {
		return nil, apierror.NotFound("no confirmation record for request %s", requestID)
	}
	if !stateIn(rec.State, from) {
		return nil, apierror.Conflict("request %s is already %s", requestID, rec.State)
	}
	rec.State = to
	if feedback != "" {
		rec.Feedback = feedback
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.State == StatePending && rec.CreatedAt.Before(cutoff) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func stateIn(s State, set []State) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
