package models

import "fmt"

// SearchQuery represents a search request with an optional metadata filter.
type SearchQuery struct {
	Query   string `json:"query"`
	Limit   int    `json:"n_results,omitempty"`
	Filter  Filter `json:"filter_metadata,omitempty"`
	Keyword bool   `json:"keyword,omitempty"` // full-text instead of vector search
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or a filter key is malformed; otherwise clamps limit to [1, maxLimit].
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	for k := range q.Filter {
		if !ValidMetaKey(k) {
			return fmt.Errorf("invalid filter key %q", k)
		}
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
