// Package keyword provides full-text search over note documents.
package keyword

import (
	"context"

	"github.com/hyperjump/carelens/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// AllowIDs restricts hits to these document ids. Nil means no restriction; an empty
	// non-nil slice matches nothing.
	AllowIDs []string
	// PhraseBoost multiplies the score when the query appears as a phrase in the content.
	// Use 1.0 (or 0) for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for misspelled clinical terms.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
