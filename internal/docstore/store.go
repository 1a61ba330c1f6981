// Package docstore is the document store used by ingestion and the query layer: documents in
// SQLite, their embeddings in a vector index, and their text in a keyword index. Every
// operation degrades to false, zero or an empty slice on provider failure and logs the cause.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/carelens/internal/embedding"
	"github.com/hyperjump/carelens/internal/keyword"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/storage"
	"github.com/hyperjump/carelens/internal/vector"
	"github.com/hyperjump/carelens/pkg/utils"
)

const (
	DefaultLimit = 10
	MaxLimit     = 5000
	reindexPage  = 500
)

// Store implements add/update/delete/count/search over documents.
type Store struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectors      vector.VectorIndex
	keywords     keyword.KeywordIndex
	vectorPath   string
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
	mu           sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for provider failures and reindex progress.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = utils.OrNop(l) }
}

// WithKeywordIndex enables TextSearch.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(s *Store) { s.keywords = k }
}

// WithVectorPath sets the file the vector index is loaded from and flushed to.
func WithVectorPath(path string) Option {
	return func(s *Store) { s.vectorPath = path }
}

// WithLimits overrides the default and maximum search limits.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Store) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// New creates a store over the given persistence, embedder and vector index.
// Call Open to load persisted vectors before serving.
func New(st storage.Storage, embedder embedding.Embedder, vectors vector.VectorIndex, opts ...Option) *Store {
	s := &Store{
		storage:      st,
		embedder:     embedder,
		vectors:      vectors,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the vector file (when configured) and reindexes documents whose vectors or
// keyword entries are missing. It returns the number of documents re-embedded.
func (s *Store) Open(ctx context.Context) (int, error) {
	if s.vectorPath != "" {
		if err := s.vectors.Load(s.vectorPath); err != nil {
			s.logger.Warn("vector index load failed, rebuilding from storage",
				zap.String("path", s.vectorPath), zap.Error(err))
		}
	}
	return s.Reindex(ctx)
}

// Reindex embeds every stored document that has no vector and, when the keyword index has
// drifted from storage, re-indexes all text.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	total, err := s.storage.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	rebuildKeywords := false
	if s.keywords != nil {
		n, err := s.keywords.DocCount()
		rebuildKeywords = err != nil || int64(n) != total
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reembedded := 0
	for offset := 0; int64(offset) < total; offset += reindexPage {
		docs, err := s.storage.ListDocuments(ctx, offset, reindexPage)
		if err != nil {
			return reembedded, fmt.Errorf("list documents: %w", err)
		}
		var missing []*models.Document
		for _, d := range docs {
			if !s.vectors.Has(d.ID) {
				missing = append(missing, d)
			}
			if rebuildKeywords {
				if err := s.keywords.Index(ctx, d); err != nil {
					s.logger.Warn("keyword reindex failed", zap.String("id", d.ID), zap.Error(err))
				}
			}
		}
		if len(missing) == 0 {
			continue
		}
		texts := make([]string, len(missing))
		ids := make([]string, len(missing))
		for i, d := range missing {
			texts[i] = d.Content
			ids[i] = d.ID
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return reembedded, fmt.Errorf("embed documents: %w", err)
		}
		if err := s.vectors.Add(ctx, ids, vecs); err != nil {
			return reembedded, fmt.Errorf("add vectors: %w", err)
		}
		reembedded += len(ids)
	}
	if reembedded > 0 || rebuildKeywords {
		s.logger.Info("document store reindexed",
			zap.Int("reembedded", reembedded),
			zap.Bool("keywords_rebuilt", rebuildKeywords),
			zap.Int64("documents", total))
	}
	return reembedded, nil
}

// Add inserts or overwrites the document with id. It returns false when the id is empty or
// a provider fails.
func (s *Store) Add(ctx context.Context, id, content string, metadata map[string]interface{}) bool {
	if id == "" {
		s.logger.Error("document add rejected: empty id")
		return false
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Error("embedding failed", zap.String("id", id), zap.Error(err))
		return false
	}
	doc := &models.Document{ID: id, Content: content, Metadata: flatten(metadata), Embedding: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, doc)
}

// Update replaces content and metadata of an existing document. Missing ids return false.
func (s *Store) Update(ctx context.Context, id, content string, metadata map[string]interface{}) bool {
	if _, err := s.storage.GetDocument(ctx, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("document lookup failed", zap.String("id", id), zap.Error(err))
		}
		return false
	}
	return s.Add(ctx, id, content, metadata)
}

// write stores doc and its vector. A failed vector write restores the previous row, so
// storage never holds a document that Search cannot reach.
func (s *Store) write(ctx context.Context, doc *models.Document) bool {
	prev, err := s.storage.GetDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("document lookup failed", zap.String("id", doc.ID), zap.Error(err))
		return false
	}
	if err := s.storage.UpsertDocument(ctx, doc); err != nil {
		s.logger.Error("document write failed", zap.String("id", doc.ID), zap.Error(err))
		return false
	}
	if err := s.vectors.Add(ctx, []string{doc.ID}, [][]float32{doc.Embedding}); err != nil {
		s.logger.Error("vector write failed", zap.String("id", doc.ID), zap.Error(err))
		s.restore(ctx, doc.ID, prev)
		return false
	}
	if s.keywords != nil {
		if err := s.keywords.Index(ctx, doc); err != nil {
			s.logger.Warn("keyword index write failed", zap.String("id", doc.ID), zap.Error(err))
		}
	}
	return true
}

// restore puts back prev under id, or removes the row when id was new.
func (s *Store) restore(ctx context.Context, id string, prev *models.Document) {
	var err error
	if prev == nil {
		err = s.storage.DeleteDocument(ctx, id)
	} else {
		err = s.storage.UpsertDocument(ctx, prev)
	}
	if err != nil {
		s.logger.Error("document rollback failed", zap.String("id", id), zap.Error(err))
	}
}

// Delete removes a document. Missing ids return false.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.DeleteDocument(ctx, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("document delete failed", zap.String("id", id), zap.Error(err))
		}
		return false
	}
	if err := s.vectors.Remove(ctx, []string{id}); err != nil {
		s.logger.Warn("vector delete failed", zap.String("id", id), zap.Error(err))
	}
	if s.keywords != nil {
		if err := s.keywords.Delete(ctx, id); err != nil {
			s.logger.Warn("keyword delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return true
}

// Count returns the number of stored documents, or 0 on failure.
func (s *Store) Count(ctx context.Context) int {
	n, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("document count failed", zap.Error(err))
		return 0
	}
	return int(n)
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, bool) {
	doc, err := s.storage.GetDocument(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("document get failed", zap.String("id", id), zap.Error(err))
		}
		return nil, false
	}
	return doc, true
}

// Search returns up to limit documents nearest to queryText by cosine distance, restricted to
// documents whose metadata equals every entry of filter. Results are ordered by ascending
// distance.
func (s *Store) Search(ctx context.Context, queryText string, limit int, filter models.Filter) []models.SearchResult {
	start := time.Now()
	limit = s.clampLimit(limit)
	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		return nil
	}

	allow, ok := s.allowSet(ctx, filter)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.vectors.Search(ctx, vec, limit, allow)
	if err != nil {
		s.logger.Error("vector search failed", zap.Error(err))
		return nil
	}
	out := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, err := s.storage.GetDocument(ctx, h.ID)
		if err != nil {
			s.logger.Warn("search hit without document", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		out = append(out, models.SearchResult{Document: doc, Distance: h.Distance})
	}
	s.logger.Debug("vector search",
		zap.String("query", utils.Truncate(queryText, 80)),
		zap.Int("limit", limit),
		zap.Int("filter_keys", len(filter)),
		zap.Int("results", len(out)),
		zap.Duration("took", time.Since(start)))
	return out
}

// TextSearch runs a keyword query over document text with the same filter semantics as
// Search. Distance is 1 - score/top score, so the best hit has distance 0.
func (s *Store) TextSearch(ctx context.Context, queryText string, limit int, filter models.Filter) []models.SearchResult {
	if s.keywords == nil {
		return nil
	}
	limit = s.clampLimit(limit)
	opts := &keyword.SearchOptions{PhraseBoost: 2}
	if len(filter) > 0 {
		ids, err := s.storage.DocumentIDs(ctx, filter)
		if err != nil {
			s.logger.Error("filter lookup failed", zap.Error(err))
			return nil
		}
		if ids == nil {
			ids = []string{}
		}
		opts.AllowIDs = ids
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.keywords.Search(ctx, queryText, limit, opts)
	if err != nil {
		s.logger.Error("keyword search failed", zap.Error(err))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}
	top := hits[0].Score
	out := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, err := s.storage.GetDocument(ctx, h.ID)
		if err != nil {
			continue
		}
		dist := 1.0
		if top > 0 {
			dist = 1 - h.Score/top
		}
		out = append(out, models.SearchResult{Document: doc, Distance: dist})
	}
	return out
}

// Scan returns up to limit documents matching filter in id order, without ranking.
func (s *Store) Scan(ctx context.Context, filter models.Filter, limit int) []*models.Document {
	limit = s.clampLimit(limit)
	docs, err := s.storage.FindDocuments(ctx, filter, limit)
	if err != nil {
		s.logger.Error("document scan failed", zap.Error(err))
		return nil
	}
	return docs
}

// DefaultLimit returns the limit used when a caller passes zero.
func (s *Store) DefaultLimit() int {
	return s.defaultLimit
}

// MaxLimit returns the largest limit Search and Scan honour.
func (s *Store) MaxLimit() int {
	return s.maxLimit
}

// Flush writes the vector index to its file.
func (s *Store) Flush() error {
	if s.vectorPath == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors.Save(s.vectorPath)
}

// Close flushes vectors and closes the indices and storage. The embedder is left open.
func (s *Store) Close() error {
	var errs []error
	if err := s.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush vectors: %w", err))
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.keywords != nil {
		if err := s.keywords.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.storage.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Store) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// allowSet resolves filter to the set of matching ids. A nil set means unfiltered.
func (s *Store) allowSet(ctx context.Context, filter models.Filter) (map[string]struct{}, bool) {
	if len(filter) == 0 {
		return nil, true
	}
	ids, err := s.storage.DocumentIDs(ctx, filter)
	if err != nil {
		s.logger.Error("filter lookup failed", zap.Error(err))
		return nil, false
	}
	allow := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allow[id] = struct{}{}
	}
	return allow, true
}

// flatten keeps scalar metadata values and JSON-encodes anything nested.
func flatten(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case nil:
			continue
		case string, bool, int, int32, int64, float32, float64:
			out[k] = val
		case time.Time:
			out[k] = val.Format(time.RFC3339)
		default:
			rv := reflect.ValueOf(v)
			switch rv.Kind() {
			case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
				b, err := json.Marshal(v)
				if err != nil {
					out[k] = fmt.Sprint(v)
					continue
				}
				out[k] = string(b)
			default:
				out[k] = fmt.Sprint(v)
			}
		}
	}
	return out
}
