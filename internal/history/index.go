package history

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Neighbor is one nearest-neighbor hit.
type Neighbor struct {
	CaseID     string
	Similarity float64 // [0,1], 1 = identical
}

// VectorIndex is the narrow interface over the vector store. Ranking is
// similarity-only; any user or recency weighting happens downstream.
type VectorIndex interface {
	Add(ctx context.Context, caseID string, vector []float32) error
	Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
}

// MemoryIndex is an in-process cosine-similarity index used for tests and
// DSN-less development. Appends only; entries are never mutated.
type MemoryIndex struct {
	mu      sync.RWMutex
	ids     []string
	vectors [][]float32
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Add(_ context.Context, caseID string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, caseID)
	m.vectors = append(m.vectors, vector)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(m.ids))
	for i, id := range m.ids {
		sim := cosine(vector, m.vectors[i])
		neighbors = append(neighbors, Neighbor{CaseID: id, Similarity: sim})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// cosine maps cosine similarity from [-1,1] into [0,1].
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return (dot/(math.Sqrt(normA)*math.Sqrt(normB)) + 1) / 2
}
