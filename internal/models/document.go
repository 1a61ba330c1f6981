// Package models defines core data structures for documents, queries, and search results.
package models

import "time"

// Metadata keys shared by ingestion, the document store and the query layer.
const (
	MetaType            = "type"
	MetaPatientID       = "patient_id"
	MetaClientID        = "client_id"
	MetaProviderID      = "provider_id"
	MetaAppointmentID   = "appointment_id"
	MetaAppointmentNum  = "appointment_number"
	MetaAppointmentDate = "appointment_date"
	MetaDateKey         = "date_key"
	MetaDiagnosis       = "diagnosis"
	MetaCPTCode         = "cpt_code"
	MetaStatus          = "status"
	MetaIsCompleted     = "is_completed"
	MetaIsCancelled     = "is_cancelled"
	MetaIsNoShow        = "is_no_show"
	MetaMeasureType     = "measure_type"
	MetaMeasureDate     = "measure_date"
	MetaTotalScore      = "total_score"
	MetaResponses       = "question_responses"
	MetaQuestionCount   = "question_count"
	MetaTitle           = "title"
	MetaSourcePath      = "source_path"
	MetaChunkIndex      = "chunk_index"
	MetaCreatedAt       = "created_at"

	MetaScheduled      = "appointments_scheduled"
	MetaCompleted      = "appointments_completed"
	MetaCanceled       = "appointments_canceled"
	MetaNoShow         = "appointments_no_show"
	MetaFirstDate      = "first_appointment_date"
	MetaLastDate       = "last_appointment_date"
	MetaCompletedYTD   = "appointment_completed_ytd"
	MetaMeasurements   = "measurements_completed"
	MetaCompletionRate = "completion_rate"
	MetaCancelRate     = "cancel_rate"
	MetaNoShowRate     = "no_show_rate"
	MetaPerformance    = "performance"
)

// Document is the unit stored in the vector index. Embedding is managed by the store.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	Embedding []float32              `json:"-" db:"-"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// Type returns the document's record type from metadata.
func (d *Document) Type() RecordType {
	return RecordType(d.MetaString(MetaType))
}

// MetaString returns metadata[key] rendered as a string; empty when absent.
func (d *Document) MetaString(key string) string {
	if d == nil || d.Metadata == nil {
		return ""
	}
	return MetaValueString(d.Metadata[key])
}

// MetaInt returns metadata[key] as an int. Numbers decoded from JSON arrive as float64;
// numeric strings are parsed. ok is false when the value is absent or not numeric.
func (d *Document) MetaInt(key string) (int, bool) {
	if d == nil || d.Metadata == nil {
		return 0, false
	}
	return MetaValueInt(d.Metadata[key])
}

// MetaBool returns metadata[key] as a bool, accepting bools and "true"/"1" style strings.
func (d *Document) MetaBool(key string) bool {
	if d == nil || d.Metadata == nil {
		return false
	}
	return MetaValueBool(d.Metadata[key])
}

// DocumentInput is the input for creating or updating a document.
type DocumentInput struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
