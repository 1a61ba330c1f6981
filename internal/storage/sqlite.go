package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
)

// Mirror table names accepted by CountRows.
const (
	TableAppointments       = "appointments"
	TableAppointmentSummary = "appointment_summaries"
	TablePatientAggregates  = "patient_aggregates"
	TableMeasureResponses   = "measure_responses"
)

var mirrorTables = map[string]bool{
	TableAppointments:       true,
	TableAppointmentSummary: true,
	TablePatientAggregates:  true,
	TableMeasureResponses:   true,
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if err := dropStaleMeasureTable(db); err != nil {
		return err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(json_extract(metadata, '$.type'));
	CREATE INDEX IF NOT EXISTS idx_documents_patient ON documents(json_extract(metadata, '$.patient_id'));

	CREATE TABLE IF NOT EXISTS appointments (
		appointment_id TEXT PRIMARY KEY,
		appointment_number INTEGER,
		appointment_date TEXT,
		date_key TEXT,
		patient_id TEXT NOT NULL,
		client_id TEXT,
		provider_id TEXT,
		diagnosis TEXT,
		cpt_code TEXT,
		session_notes TEXT,
		is_completed BOOLEAN,
		is_cancelled BOOLEAN,
		is_no_show BOOLEAN,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments(patient_id, date_key);

	CREATE TABLE IF NOT EXISTS appointment_summaries (
		client_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		scheduled INTEGER,
		completed INTEGER,
		canceled INTEGER,
		no_show INTEGER,
		first_appointment_date TEXT,
		last_appointment_date TEXT,
		completed_ytd INTEGER,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, patient_id, provider_id)
	);

	CREATE TABLE IF NOT EXISTS patient_aggregates (
		patient_id TEXT PRIMARY KEY,
		client_id TEXT,
		provider_id TEXT,
		scheduled INTEGER,
		completed INTEGER,
		canceled INTEGER,
		no_show INTEGER,
		first_appointment_date TEXT,
		last_appointment_date TEXT,
		completed_ytd INTEGER,
		measurements_completed INTEGER,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS measure_responses (
		client_id TEXT NOT NULL,
		patient_id TEXT,
		measure_date TEXT NOT NULL,
		date_key TEXT NOT NULL,
		measure_type TEXT NOT NULL,
		question_number INTEGER NOT NULL,
		question_score INTEGER,
		total_score INTEGER,
		PRIMARY KEY (client_id, date_key, measure_type, question_number)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// dropStaleMeasureTable removes a measure_responses table created before rows were keyed by
// normalized date. The table is a mirror and is refilled on the next ingest.
func dropStaleMeasureTable(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('measure_responses')`).Scan(&n)
	if err != nil || n == 0 {
		return err
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('measure_responses') WHERE name = 'date_key'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`DROP TABLE measure_responses`)
	return err
}

// UpsertDocument inserts a document or overwrites content and metadata of an existing id.
// created_at of an existing row is preserved.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content = excluded.content,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		doc.ID, doc.Content, string(metadataJSON), doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument updates an existing document.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	doc.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Content, string(metadataJSON), doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document by ID.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListDocuments returns documents ordered by id with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at, updated_at
		 FROM documents ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FindDocuments returns up to limit documents whose metadata equals every filter entry.
func (s *SQLiteStorage) FindDocuments(ctx context.Context, filter models.Filter, limit int) ([]*models.Document, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return nil, err
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at, updated_at
		 FROM documents`+where+` ORDER BY id LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// DocumentIDs returns the ids of all documents matching filter.
func (s *SQLiteStorage) DocumentIDs(ctx context.Context, filter models.Filter) ([]string, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// filterClause renders an equality filter as a WHERE clause over json_extract. Keys are
// validated because they are spliced into the JSON path; values are bound.
func filterClause(filter models.Filter) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !models.ValidMetaKey(k) {
			return "", nil, fmt.Errorf("invalid filter key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("json_extract(metadata, '$.%s') = ?", k)
		args[i] = filter[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var metadataJSON sql.NullString
	if err := row.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SaveAppointment mirrors a detailed appointment row.
func (s *SQLiteStorage) SaveAppointment(ctx context.Context, a *models.Appointment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO appointments
		 (appointment_id, appointment_number, appointment_date, date_key, patient_id, client_id,
		  provider_id, diagnosis, cpt_code, session_notes, is_completed, is_cancelled, is_no_show, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AppointmentID, a.AppointmentNumber, a.AppointmentDate, dates.Normalize(a.AppointmentDate),
		a.PatientID, a.ClientID, a.ProviderID, a.Diagnosis, a.CPTCode, a.SessionNotes,
		a.IsCompleted, a.IsCancelled, a.IsNoShow, time.Now(),
	)
	return err
}

// SaveAppointmentSummary mirrors a client/patient/provider appointment summary row.
func (s *SQLiteStorage) SaveAppointmentSummary(ctx context.Context, sum *models.AppointmentSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO appointment_summaries
		 (client_id, patient_id, provider_id, scheduled, completed, canceled, no_show,
		  first_appointment_date, last_appointment_date, completed_ytd, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ClientID, sum.PatientID, sum.ProviderID, sum.Scheduled, sum.Completed, sum.Canceled,
		sum.NoShow, sum.FirstAppointmentDate, sum.LastAppointmentDate, sum.CompletedYTD, time.Now(),
	)
	return err
}

// SavePatientAggregate mirrors a patient aggregate row.
func (s *SQLiteStorage) SavePatientAggregate(ctx context.Context, p *models.PatientAggregate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO patient_aggregates
		 (patient_id, client_id, provider_id, scheduled, completed, canceled, no_show,
		  first_appointment_date, last_appointment_date, completed_ytd, measurements_completed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PatientID, p.ClientID, p.ProviderID, p.Scheduled, p.Completed, p.Canceled, p.NoShow,
		p.FirstAppointmentDate, p.LastAppointmentDate, p.CompletedYTD, p.MeasurementsCompleted, time.Now(),
	)
	return err
}

// SaveAssessment mirrors every question row of an assessment in one transaction. Rows are
// keyed by normalized date and instrument, so "1/2/25" and "2025-01-02" exports of the same
// assessment replace each other.
func (s *SQLiteStorage) SaveAssessment(ctx context.Context, a *models.Assessment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO measure_responses
		 (client_id, patient_id, measure_date, date_key, measure_type, question_number, question_score, total_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	key := dates.Normalize(a.MeasureDate)
	for _, r := range a.Responses {
		if _, err := stmt.ExecContext(ctx, a.ClientID, a.PatientID, a.MeasureDate, key, models.NormalizeInstrument(a.MeasureType),
			r.QuestionNumber, r.QuestionScore, a.TotalScore); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountRows returns the number of rows in one of the mirror tables.
func (s *SQLiteStorage) CountRows(ctx context.Context, table string) (int64, error) {
	if !mirrorTables[table] {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
