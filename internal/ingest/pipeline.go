package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/carelens/internal/extract"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/pkg/utils"
	"go.uber.org/zap"
)

// DocumentStore is the part of the document store ingestion writes through.
type DocumentStore interface {
	Add(ctx context.Context, id, content string, metadata map[string]interface{}) bool
	Get(ctx context.Context, id string) (*models.Document, bool)
	Delete(ctx context.Context, id string) bool
}

// Mirror receives the parsed rows for the relational tables.
type Mirror interface {
	SaveAppointment(ctx context.Context, a *models.Appointment) error
	SaveAppointmentSummary(ctx context.Context, s *models.AppointmentSummary) error
	SavePatientAggregate(ctx context.Context, p *models.PatientAggregate) error
	SaveAssessment(ctx context.Context, a *models.Assessment) error
}

// Pipeline ingests batches of rows and attachments. Rows are handled one at a time; a row
// that fails is recorded in the result and the batch continues.
type Pipeline struct {
	store     DocumentStore
	mirror    Mirror
	extractor *extract.Extractor
	chunker   *Chunker
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for batch and row events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMirror enables writes to the relational mirror.
func WithMirror(m Mirror) Option {
	return func(p *Pipeline) { p.mirror = m }
}

// WithChunking sets the attachment window size and overlap in words.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) { p.chunker = NewChunker(size, overlap) }
}

// WithClock overrides the clock used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline writing to store. extractor may be nil when attachments
// are not ingested.
func NewPipeline(store DocumentStore, extractor *extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		extractor: extractor,
		chunker:   NewChunker(200, 40),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

type batch struct {
	res *models.IngestResult
	log *zap.Logger
}

func (b *batch) fail(label string, err error) {
	b.res.Errors = append(b.res.Errors, fmt.Sprintf("%s: %v", label, err))
	b.log.Warn("row skipped", zap.String("row", label), zap.Error(err))
}

func (p *Pipeline) newBatch(rt models.RecordType, source string) *batch {
	res := &models.IngestResult{
		BatchID:    uuid.NewString(),
		RecordType: rt,
		Source:     source,
		Errors:     []string{},
	}
	log := p.logger.With(zap.String("batch_id", res.BatchID), zap.String("record_type", string(rt)))
	if source != "" {
		log = log.With(zap.String("source", source))
	}
	return &batch{res: res, log: log}
}

func (p *Pipeline) finish(b *batch, start time.Time) *models.IngestResult {
	b.res.DurationMs = time.Since(start).Milliseconds()
	b.log.Info("ingestion finished",
		zap.Int("processed", b.res.Processed),
		zap.Int("added", b.res.Added),
		zap.Int("errors", len(b.res.Errors)),
		zap.Int64("duration_ms", b.res.DurationMs),
	)
	return b.res
}

// Ingest transforms rows of one record type and writes them to the store and the mirror.
// Processed counts rows, except for measures where it counts assembled assessments.
func (p *Pipeline) Ingest(ctx context.Context, rows []models.Row, rt models.RecordType) *models.IngestResult {
	return p.ingest(ctx, rows, rt, "")
}

func (p *Pipeline) ingest(ctx context.Context, rows []models.Row, rt models.RecordType, source string) *models.IngestResult {
	start := time.Now()
	b := p.newBatch(rt, source)

	switch rt {
	case models.RecordDetailedAppointment:
		p.eachRow(ctx, b, rows, func(label string, row models.Row) error {
			a, err := ParseAppointment(row)
			if err != nil {
				return err
			}
			p.put(ctx, b, label, AppointmentDocument(a))
			if p.mirror != nil {
				return mirrorErr(p.mirror.SaveAppointment(ctx, a))
			}
			return nil
		})
	case models.RecordAppointmentSummary:
		p.eachRow(ctx, b, rows, func(label string, row models.Row) error {
			s, err := ParseAppointmentSummary(row)
			if err != nil {
				return err
			}
			p.put(ctx, b, label, SummaryDocument(s))
			if p.mirror != nil {
				return mirrorErr(p.mirror.SaveAppointmentSummary(ctx, s))
			}
			return nil
		})
	case models.RecordPatientAggregate:
		p.eachRow(ctx, b, rows, func(label string, row models.Row) error {
			agg, err := ParsePatientAggregate(row)
			if err != nil {
				return err
			}
			p.put(ctx, b, label, AggregateDocument(agg))
			if p.mirror != nil {
				return mirrorErr(p.mirror.SavePatientAggregate(ctx, agg))
			}
			return nil
		})
	case models.RecordMeasure:
		p.ingestAssessments(ctx, b, rows)
	default:
		b.fail("batch", fmt.Errorf("%w: %q", models.ErrUnknownRecordType, rt))
	}
	return p.finish(b, start)
}

func mirrorErr(err error) error {
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	return nil
}

func (p *Pipeline) eachRow(ctx context.Context, b *batch, rows []models.Row, fn func(label string, row models.Row) error) {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			b.fail("batch", err)
			return
		}
		b.res.Processed++
		label := fmt.Sprintf("row %d", i+1)
		if err := fn(label, row); err != nil {
			b.fail(label, err)
		}
	}
}

func (p *Pipeline) ingestAssessments(ctx context.Context, b *batch, rows []models.Row) {
	assessments, errs := GroupAssessments(rows)
	for _, err := range errs {
		b.fail("measure", err)
	}
	for _, a := range assessments {
		if err := ctx.Err(); err != nil {
			b.fail("batch", err)
			return
		}
		b.res.Processed++
		doc, err := AssessmentDocument(a)
		if err != nil {
			b.fail(a.ClientID, err)
			continue
		}
		p.put(ctx, b, doc.ID, doc)
		if p.mirror != nil {
			if err := p.mirror.SaveAssessment(ctx, a); err != nil {
				b.fail(doc.ID, fmt.Errorf("mirror: %w", err))
			}
		}
	}
}

// put writes one document. A document that already exists keeps its created_at so that
// re-ingesting the same row leaves it unchanged.
func (p *Pipeline) put(ctx context.Context, b *batch, label string, doc *models.DocumentInput) {
	stamp := createdAt(p.now())
	if prev, ok := p.store.Get(ctx, doc.ID); ok {
		if v := prev.MetaString(models.MetaCreatedAt); v != "" {
			stamp = v
		}
	}
	doc.Metadata[models.MetaCreatedAt] = stamp
	if !p.store.Add(ctx, doc.ID, doc.Content, doc.Metadata) {
		b.fail(label, fmt.Errorf("document store rejected %s", doc.ID))
		return
	}
	b.res.Added++
}

// IngestFile reads a CSV or XLSX export and ingests its rows. An empty rt is inferred from
// the file name.
func (p *Pipeline) IngestFile(ctx context.Context, path string, rt models.RecordType) (*models.IngestResult, error) {
	if rt == "" {
		var err error
		if rt, err = InferRecordType(path); err != nil {
			return nil, err
		}
	}
	rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, rows, rt, path), nil
}

// IngestTable parses an uploaded table and ingests its rows.
func (p *Pipeline) IngestTable(ctx context.Context, name string, content []byte, rt models.RecordType) (*models.IngestResult, error) {
	if rt == "" {
		var err error
		if rt, err = InferRecordType(name); err != nil {
			return nil, err
		}
	}
	rows, err := ReadTableBytes(content, filepath.Ext(name))
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, rows, rt, name), nil
}

// IngestDocument extracts an attachment on disk and stores it for patientID.
func (p *Pipeline) IngestDocument(ctx context.Context, patientID, path string) (*models.IngestResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return p.IngestDocumentBytes(ctx, patientID, filepath.Base(path), content)
}

// IngestDocumentBytes extracts an attachment and stores it as client_document chunks with
// ids client_document_{patient}_{slug}_{n}. Chunks left over from a longer previous
// version of the same file are deleted.
func (p *Pipeline) IngestDocumentBytes(ctx context.Context, patientID, name string, content []byte) (*models.IngestResult, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingField, models.MetaPatientID)
	}
	if p.extractor == nil {
		return nil, fmt.Errorf("%w: attachments disabled", models.ErrUnsupportedFormat)
	}
	text, err := p.extractor.ExtractBytes(content, filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}

	start := time.Now()
	b := p.newBatch(models.RecordClientDocument, name)
	slug := utils.Slug(strings.TrimSuffix(name, filepath.Ext(name)))
	if slug == "" {
		slug = "document"
	}
	prefix := fmt.Sprintf("client_document_%s_%s_", patientID, slug)

	chunks := p.chunker.Chunk(text)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			b.fail("batch", err)
			break
		}
		b.res.Processed++
		p.put(ctx, b, fmt.Sprintf("chunk %d", i), &models.DocumentInput{
			ID:      fmt.Sprintf("%s%d", prefix, i),
			Content: fmt.Sprintf("Client Document: %s (part %d of %d)\nPatient ID: %s\n\n%s", name, i+1, len(chunks), patientID, chunk),
			Metadata: map[string]interface{}{
				models.MetaType:       string(models.RecordClientDocument),
				models.MetaPatientID:  patientID,
				models.MetaTitle:      name,
				models.MetaSourcePath: name,
				models.MetaChunkIndex: i,
			},
		})
	}
	for n := len(chunks); ; n++ {
		id := fmt.Sprintf("%s%d", prefix, n)
		if _, ok := p.store.Get(ctx, id); !ok || !p.store.Delete(ctx, id) {
			break
		}
		b.log.Debug("removed stale chunk", zap.String("id", id))
	}
	return p.finish(b, start), nil
}
