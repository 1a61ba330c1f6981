// Package vector provides vector index and similarity search.
package vector

import "context"

// VectorIndex stores one vector per document id and answers nearest-neighbour queries.
type VectorIndex interface {
	// Add inserts vectors; an id already present has its vector replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits ordered by ascending distance. A non-nil allow set
	// restricts candidates to the ids it contains.
	Search(ctx context.Context, query []float32, k int, allow map[string]struct{}) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Has(id string) bool
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string
	Distance float64 // 1 - cosine similarity, in [0, 2]
}
