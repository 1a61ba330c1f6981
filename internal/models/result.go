package models

// SearchResult is a single search hit. Distance is 1 - cosine similarity, in [0, 2].
type SearchResult struct {
	Document *Document `json:"document"`
	Distance float64   `json:"distance"`
}

// Relevance returns 1 - distance.
func (r *SearchResult) Relevance() float64 {
	return 1 - r.Distance
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string      `json:"query"`
	Results   []SearchHit `json:"results"`
	Total     int         `json:"total_results"`
	QueryTime int64       `json:"query_time_ms"`
}

// SearchHit is the wire shape of a search result.
type SearchHit struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Distance  float64                `json:"distance"`
	Relevance float64                `json:"relevance_score"`
}

// IngestResult reports a best-effort batch ingestion.
type IngestResult struct {
	BatchID    string     `json:"batch_id"`
	RecordType RecordType `json:"record_type"`
	Source     string     `json:"source,omitempty"`
	Processed  int        `json:"processed_count"`
	Added      int        `json:"added_count"`
	Errors     []string   `json:"error_list"`
	DurationMs int64      `json:"duration_ms"`
}

// Analytics summarises the whole corpus.
type Analytics struct {
	TotalDocuments      int                            `json:"total_documents"`
	CountsByType        map[string]int                 `json:"counts_by_type"`
	UniquePatientCount  int                            `json:"unique_patient_count"`
	UniqueClientCount   int                            `json:"unique_client_count"`
	ProviderPerformance map[string]ProviderPerformance `json:"provider_performance,omitempty"`
}

// ProviderPerformance aggregates appointment summaries per provider.
type ProviderPerformance struct {
	Scheduled     int     `json:"total_appointments"`
	Completed     int     `json:"completed_appointments"`
	ClientsServed int     `json:"clients_served"`
	SuccessRate   float64 `json:"success_rate"`
}
