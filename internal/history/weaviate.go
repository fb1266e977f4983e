package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateClassName is the class holding question embeddings.
const WeaviateClassName = "HistoricalCase"

// WeaviateIndex is the production VectorIndex backed by Weaviate. Objects
// carry only the case id; the full record lives in the case store.
type WeaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex creates an index over an initialized client.
func NewWeaviateIndex(client *weaviate.Client) *WeaviateIndex {
	return &WeaviateIndex{client: client}
}

// EnsureSchema creates the HistoricalCase class if it does not exist yet.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().
		WithClassName(WeaviateClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class existence: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      WeaviateClassName,
		Vectorizer: "none", // vectors are supplied by the embedder
		Properties: []*models.Property{
			{Name: "case_id", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", WeaviateClassName, err)
	}
	return nil
}

func (w *WeaviateIndex) Add(ctx context.Context, caseID string, vector []float32) error {
	_, err := w.client.Data().Creator().
		WithClassName(WeaviateClassName).
		WithProperties(map[string]any{"case_id": caseID}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("append case vector: %w", err)
	}
	return nil
}

// caseQueryResponse mirrors the GraphQL response shape for Search.
type caseQueryResponse struct {
	Get struct {
		HistoricalCase []struct {
			CaseID     string `json:"case_id"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"HistoricalCase"`
	} `json:"Get"`
}

func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "case_id"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(WeaviateClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near-vector search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("near-vector search: %s", result.Errors[0].Message)
	}

	parsed, err := parseGraphQLResponse[caseQueryResponse](result)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(parsed.Get.HistoricalCase))
	for _, hit := range parsed.Get.HistoricalCase {
		neighbors = append(neighbors, Neighbor{
			CaseID:     hit.CaseID,
			Similarity: hit.Additional.Certainty,
		})
	}
	return neighbors, nil
}

func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse GraphQL data: %w", err)
	}
	return &out, nil
}
