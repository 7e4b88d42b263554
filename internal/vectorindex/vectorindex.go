// Package vectorindex implements the Vector Index (C2): a per-namespace
// approximate-nearest-neighbor index keyed by node id, grounded on the
// teacher's persistence/databases vector store trio (memory/postgres/qdrant).
package vectorindex

import "context"

// Result is a single similarity match.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index is the C2 contract. Every method is namespace-scoped: two namespaces
// never see each other's vectors, even on a shared backend.
type Index interface {
	// Add (Upsert) stores or replaces the embedding for id in namespace.
	Add(ctx context.Context, namespace, id string, vector []float32, metadata map[string]string) error
	Remove(ctx context.Context, namespace, id string) error
	// Search returns up to k results with score >= minScore, cosine
	// similarity in [-1,1], ordered by descending score.
	Search(ctx context.Context, namespace string, vector []float32, k int, minScore float64, filter map[string]string) ([]Result, error)
	Dimensions() int
}

// Recall/dedup/merge gating thresholds per the kernel's retrieval contract.
const (
	MinScoreRecall = 0.1
	MinScoreDedup  = 0.3
	MinScoreMerge  = 0.92
)
