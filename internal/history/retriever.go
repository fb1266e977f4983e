package history

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
)

// RetrieverConfig holds retrieval parameters.
type RetrieverConfig struct {
	// TopK is the number of neighbors kept after filtering.
	TopK int

	// SimilarityThreshold discards neighbors below this similarity.
	SimilarityThreshold float64
}

// DefaultRetrieverConfig returns the default retrieval parameters.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{TopK: 5, SimilarityThreshold: 0.75}
}

// Retriever performs similarity retrieval over the case log and appends new
// terminal cases.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	store    CaseStore
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever wires the retrieval collaborators together.
func NewRetriever(embedder Embedder, index VectorIndex, store CaseStore, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{embedder: embedder, index: index, store: store, cfg: cfg, logger: logger}
}

// Retrieve returns cases similar to the question, ranked by similarity only
// and capped at TopK. Collaborator failures surface as DependencyUnavailable
// so the scorer can degrade the historical signal instead of failing.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]SimilarCase, error) {
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, apierror.Unavailable(err, "embedding service")
	}

	// Over-fetch so the similarity threshold still leaves TopK candidates.
	neighbors, err := r.index.Search(ctx, vector, r.cfg.TopK*2)
	if err != nil {
		return nil, apierror.Unavailable(err, "vector index")
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	similarity := make(map[string]float64, len(neighbors))
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Similarity < r.cfg.SimilarityThreshold {
			continue
		}
		similarity[n.CaseID] = n.Similarity
		ids = append(ids, n.CaseID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cases, err := r.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apierror.Unavailable(err, "case store")
	}

	results := make([]SimilarCase, 0, len(cases))
	for _, c := range cases {
		results = append(results, SimilarCase{Case: c, Similarity: similarity[c.ID]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}

	r.logger.Debug("retrieved similar cases",
		zap.Int("count", len(results)),
		zap.Float64("threshold", r.cfg.SimilarityThreshold),
	)
	return results, nil
}

// Append records a terminal case and indexes its question embedding. The
// durable append is authoritative; a failed index write is logged and the
// case simply stays unretrievable until a rebuild.
func (r *Retriever) Append(ctx context.Context, c *Case) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if err := r.store.Append(ctx, c); err != nil {
		return apierror.Unavailable(err, "case store")
	}

	vector, err := r.embedder.Embed(ctx, c.Question)
	if err != nil {
		r.logger.Warn("case appended without embedding",
			zap.String("case_id", c.ID),
			zap.Error(err),
		)
		return nil
	}
	if err := r.index.Add(ctx, c.ID, vector); err != nil {
		r.logger.Warn("case appended but index write failed",
			zap.String("case_id", c.ID),
			zap.Error(err),
		)
	}
	return nil
}

// Store exposes the underlying case store for read-only listings.
func (r *Retriever) Store() CaseStore { return r.store }
