package models

import (
	"errors"
	"fmt"
	"strings"
)

// RecordType identifies the source record kind behind a document.
type RecordType string

const (
	RecordDetailedAppointment RecordType = "detailed_appointment"
	RecordAppointmentSummary  RecordType = "appointment_summary"
	RecordPatientAggregate    RecordType = "patient_aggregate"
	RecordMeasure             RecordType = "measure"
	RecordClientDocument      RecordType = "client_document"
)

// RecordTypes lists the tabular record types in ingestion order.
var RecordTypes = []RecordType{
	RecordDetailedAppointment,
	RecordAppointmentSummary,
	RecordPatientAggregate,
	RecordMeasure,
}

var (
	// ErrMissingField is returned when a row lacks a required column value.
	ErrMissingField = errors.New("missing required field")
	// ErrUnknownRecordType is returned for record types outside RecordTypes.
	ErrUnknownRecordType = errors.New("unknown record type")
	// ErrUnsupportedFormat is returned for input files the readers cannot parse.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ParseRecordType resolves a record type name, accepting a few aliases used by the CSV exports.
func ParseRecordType(s string) (RecordType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detailed_appointment", "detailed_appointments", "patient_appointment", "patient_appointments":
		return RecordDetailedAppointment, nil
	case "appointment_summary", "appointment", "appointments":
		return RecordAppointmentSummary, nil
	case "patient_aggregate", "patient_summary", "aggregate":
		return RecordPatientAggregate, nil
	case "measure", "measures", "client_measure", "client_measures", "assessment", "assessments":
		return RecordMeasure, nil
	case "client_document", "document", "documents":
		return RecordClientDocument, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRecordType, s)
}

// Row is one tabular input record keyed by column name.
type Row map[string]string

// Get returns the trimmed value of col, treating pandas-style "nan"/"None" as empty.
func (r Row) Get(col string) string {
	v := strings.TrimSpace(r[col])
	switch strings.ToLower(v) {
	case "nan", "none", "null":
		return ""
	}
	return v
}

// Require returns the value of col or an ErrMissingField error.
func (r Row) Require(col string) (string, error) {
	v := r.Get(col)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, col)
	}
	return v, nil
}
