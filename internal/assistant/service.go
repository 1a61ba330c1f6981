// Package assistant is the outward surface of carelens: question answering, assessment
// trends, ingestion and corpus analytics over one document store.
package assistant

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/query"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/pkg/utils"
)

// Store is the document store surface the service needs.
type Store interface {
	query.Searcher
	ingest.DocumentStore
	Count(ctx context.Context) int
	DefaultLimit() int
}

// Service answers questions and ingests records for the HTTP server and the CLI.
type Service struct {
	store    Store
	pipeline *ingest.Pipeline
	router   *query.Router
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a service. pipeline and router are built by the caller so their options
// (mirror, chunking, search limits) stay with the wiring code.
func New(store Store, pipeline *ingest.Pipeline, router *query.Router, opts ...Option) *Service {
	s := &Service{store: store, pipeline: pipeline, router: router}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Answer answers a free-text question about one patient.
func (s *Service) Answer(ctx context.Context, patientID, text string) query.Answer {
	return s.router.Answer(ctx, patientID, text)
}

// ClientSummary reports the patient's treatment so far.
func (s *Service) ClientSummary(ctx context.Context, patientID string) query.Outcome {
	return s.router.ClientSummary(ctx, patientID)
}

// GetTrend computes the baseline-to-latest trend of one instrument for a patient.
func (s *Service) GetTrend(ctx context.Context, patientID string, inst trend.Instrument) trend.Result {
	patientID = strings.TrimSpace(patientID)
	measures := s.store.Scan(ctx, models.Filter{
		models.MetaPatientID: patientID,
		models.MetaType:      string(models.RecordMeasure),
	}, s.store.MaxLimit())
	return trend.Compute(patientID, inst, measures)
}

// Ingest transforms and stores a batch of rows.
func (s *Service) Ingest(ctx context.Context, rows []models.Row, rt models.RecordType) *models.IngestResult {
	return s.pipeline.Ingest(ctx, rows, rt)
}

// IngestFile ingests a CSV or XLSX export. An empty rt is inferred from the file name.
func (s *Service) IngestFile(ctx context.Context, path string, rt models.RecordType) (*models.IngestResult, error) {
	return s.pipeline.IngestFile(ctx, path, rt)
}

// IngestTable ingests an uploaded CSV or XLSX export.
func (s *Service) IngestTable(ctx context.Context, name string, content []byte, rt models.RecordType) (*models.IngestResult, error) {
	return s.pipeline.IngestTable(ctx, name, content, rt)
}

// IngestDocument extracts and stores an attachment file for a patient.
func (s *Service) IngestDocument(ctx context.Context, patientID, path string) (*models.IngestResult, error) {
	return s.pipeline.IngestDocument(ctx, patientID, path)
}

// IngestDocumentBytes extracts and stores an uploaded attachment for a patient.
func (s *Service) IngestDocumentBytes(ctx context.Context, patientID, name string, content []byte) (*models.IngestResult, error) {
	return s.pipeline.IngestDocumentBytes(ctx, patientID, name, content)
}

// Search runs a semantic (or, with Keyword set, full-text) search with relevance scores.
func (s *Service) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(s.store.DefaultLimit(), s.store.MaxLimit()); err != nil {
		return nil, err
	}
	var res []models.SearchResult
	if q.Keyword {
		res = s.store.TextSearch(ctx, q.Query, q.Limit, q.Filter)
	} else {
		res = s.store.Search(ctx, q.Query, q.Limit, q.Filter)
	}
	resp := &models.SearchResponse{
		Query:   q.Query,
		Results: make([]models.SearchHit, 0, len(res)),
	}
	for i := range res {
		sr := &res[i]
		if sr.Document == nil {
			continue
		}
		resp.Results = append(resp.Results, models.SearchHit{
			ID:        sr.Document.ID,
			Content:   sr.Document.Content,
			Metadata:  sr.Document.Metadata,
			Distance:  sr.Distance,
			Relevance: sr.Relevance(),
		})
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Get returns a stored document.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, bool) {
	return s.store.Get(ctx, id)
}

// Delete removes a stored document.
func (s *Service) Delete(ctx context.Context, id string) bool {
	return s.store.Delete(ctx, id)
}

// Count returns the number of stored documents.
func (s *Service) Count(ctx context.Context) int {
	return s.store.Count(ctx)
}

// Analytics summarises the corpus: documents per type, distinct patients and clients, and
// completion rates per provider from the appointment summaries.
func (s *Service) Analytics(ctx context.Context) (*models.Analytics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := s.store.Scan(ctx, nil, s.store.MaxLimit())
	total := s.store.Count(ctx)
	if len(docs) < total {
		s.logger.Warn("analytics computed over a partial scan",
			zap.Int("scanned", len(docs)), zap.Int("total", total))
	}

	a := &models.Analytics{
		TotalDocuments: total,
		CountsByType:   make(map[string]int),
	}
	patients := make(map[string]struct{})
	clients := make(map[string]struct{})
	type providerTally struct {
		scheduled, completed int
		clients              map[string]struct{}
	}
	providers := make(map[string]*providerTally)

	for _, d := range docs {
		a.CountsByType[string(d.Type())]++
		if p := d.MetaString(models.MetaPatientID); p != "" {
			patients[p] = struct{}{}
		}
		if c := d.MetaString(models.MetaClientID); c != "" {
			clients[c] = struct{}{}
		}
		if d.Type() != models.RecordAppointmentSummary {
			continue
		}
		id := d.MetaString(models.MetaProviderID)
		if id == "" {
			continue
		}
		t, ok := providers[id]
		if !ok {
			t = &providerTally{clients: make(map[string]struct{})}
			providers[id] = t
		}
		scheduled, _ := d.MetaInt(models.MetaScheduled)
		completed, _ := d.MetaInt(models.MetaCompleted)
		t.scheduled += scheduled
		t.completed += completed
		if c := d.MetaString(models.MetaClientID); c != "" {
			t.clients[c] = struct{}{}
		}
	}
	a.UniquePatientCount = len(patients)
	a.UniqueClientCount = len(clients)
	if len(providers) > 0 {
		a.ProviderPerformance = make(map[string]models.ProviderPerformance, len(providers))
		for id, t := range providers {
			a.ProviderPerformance[id] = models.ProviderPerformance{
				Scheduled:     t.scheduled,
				Completed:     t.completed,
				ClientsServed: len(t.clients),
				SuccessRate:   utils.Percent(t.completed, t.scheduled),
			}
		}
	}
	return a, nil
}

// Providers returns the provider ids of a in sorted order.
func Providers(a *models.Analytics) []string {
	ids := make([]string, 0, len(a.ProviderPerformance))
	for id := range a.ProviderPerformance {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
