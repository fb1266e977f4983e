package history

import (
	"context"
	"sync"
)

// CaseStore persists historical cases. Append-only: no update or delete.
type CaseStore interface {
	Append(ctx context.Context, c *Case) error
	GetByIDs(ctx context.Context, ids []string) ([]*Case, error)

	// ListByUser returns the user's cases most-recent-first. toolName filters
	// when non-empty; limit bounds the result.
	ListByUser(ctx context.Context, userID, toolName string, limit int) ([]*Case, error)
}

// MemoryCaseStore is the in-process CaseStore for tests and DSN-less runs.
type MemoryCaseStore struct {
	mu    sync.RWMutex
	cases []*Case
	byID  map[string]*Case
}

// NewMemoryCaseStore creates an empty store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{byID: make(map[string]*Case)}
}

func (s *MemoryCaseStore) Append(_ context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cases = append(s.cases, &cp)
	s.byID[c.ID] = &cp
	return nil
}

func (s *MemoryCaseStore) GetByIDs(_ context.Context, ids []string) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Case, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryCaseStore) ListByUser(_ context.Context, userID, toolName string, limit int) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Case
	for i := len(s.cases) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		c := s.cases[i]
		if c.UserID != userID {
			continue
		}
		if toolName != "" && c.ToolName != toolName {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}
