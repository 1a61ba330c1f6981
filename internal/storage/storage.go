// Package storage defines the persistence interface for documents and the relational row mirror.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/carelens/internal/models"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document persistence plus the relational mirror of ingested rows.
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	FindDocuments(ctx context.Context, filter models.Filter, limit int) ([]*models.Document, error)
	DocumentIDs(ctx context.Context, filter models.Filter) ([]string, error)

	// Relational mirror
	SaveAppointment(ctx context.Context, a *models.Appointment) error
	SaveAppointmentSummary(ctx context.Context, s *models.AppointmentSummary) error
	SavePatientAggregate(ctx context.Context, p *models.PatientAggregate) error
	SaveAssessment(ctx context.Context, a *models.Assessment) error
	CountRows(ctx context.Context, table string) (int64, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
