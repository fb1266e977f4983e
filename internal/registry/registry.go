package registry

import (
	"context"
	"sort"
	"sync"
)

// Store persists service registrations.
type Store interface {
	// Upsert replaces the registration for reg.Name, creating it if absent.
	Upsert(ctx context.Context, reg *ServiceRegistration) error

	// Get returns the registration for name, or nil if not registered.
	Get(ctx context.Context, name string) (*ServiceRegistration, error)

	// Delete removes the registration for name. Returns false if absent.
	Delete(ctx context.Context, name string) (bool, error)

	// ListActive returns all active registrations. layer filters when non-empty.
	ListActive(ctx context.Context, layer Layer) ([]*ServiceRegistration, error)

	// CountActive returns the number of active registrations.
	CountActive(ctx context.Context) (int, error)
}

// MemoryStore is an in-process Store used for tests and DSN-less development.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*ServiceRegistration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*ServiceRegistration)}
}

func (s *MemoryStore) Upsert(_ context.Context, reg *ServiceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *reg
	s.services[reg.Name] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (*ServiceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.services[name]
	if !ok {
		return nil, nil
	}
	cp := *reg
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[name]; !ok {
		return false, nil
	}
	delete(s.services, name)
	return true, nil
}

func (s *MemoryStore) ListActive(_ context.Context, layer Layer) ([]*ServiceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ServiceRegistration, 0, len(s.services))
	for _, reg := range s.services {
		if !reg.Active {
			continue
		}
		if layer != "" && reg.Layer != layer {
			continue
		}
		cp := *reg
		out = append(out, &cp)
	}
	sortByName(out)
	return out, nil
}

func (s *MemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, reg := range s.services {
		if reg.Active {
			n++
		}
	}
	return n, nil
}

// sortByName keeps listings deterministic: the router's candidate set must be
// stable for identical registry snapshots.
func sortByName(regs []*ServiceRegistration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
}
