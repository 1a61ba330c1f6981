package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/carelens/internal/models"
	"github.com/xuri/excelize/v2"
)

// TableExtensions lists the tabular formats ReadTable understands.
var TableExtensions = []string{".csv", ".xlsx"}

// IsTable reports whether ext (with leading dot, any case) is a tabular format.
func IsTable(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range TableExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ReadTable reads a CSV or XLSX file into rows keyed by the header row.
func ReadTable(path string) ([]models.Row, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ReadTableBytes(content, filepath.Ext(path))
}

// ReadTableBytes parses content according to ext (".csv" or ".xlsx").
func ReadTableBytes(content []byte, ext string) ([]models.Row, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return ReadCSV(bytes.NewReader(content))
	case ".xlsx":
		return ReadXLSX(bytes.NewReader(content))
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
}

// ReadCSV parses CSV with a header row. Short rows leave their trailing columns empty.
func ReadCSV(r io.Reader) ([]models.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := normalizeHeader(header)

	var rows []models.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", len(rows)+2, err)
		}
		if row := toRow(cols, rec); row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ReadXLSX parses the first sheet of a workbook, using its first row as the header.
func ReadXLSX(r io.Reader) ([]models.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	cols := normalizeHeader(records[0])
	rows := make([]models.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if row := toRow(cols, rec); row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// normalizeHeader trims header cells and strips a UTF-8 BOM from the first one.
func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[i] = strings.TrimSpace(h)
	}
	return cols
}

// toRow zips a record with the header; blank records yield nil.
func toRow(cols, rec []string) models.Row {
	row := make(models.Row, len(cols))
	blank := true
	for i, c := range cols {
		if c == "" {
			continue
		}
		var v string
		if i < len(rec) {
			v = strings.TrimSpace(rec[i])
		}
		if v != "" {
			blank = false
		}
		row[c] = v
	}
	if blank {
		return nil
	}
	return row
}

// InferRecordType guesses the record type from an export's file name.
func InferRecordType(path string) (models.RecordType, error) {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	switch {
	case strings.HasPrefix(name, "patient_appointment"), strings.HasPrefix(name, "detailed_appointment"):
		return models.RecordDetailedAppointment, nil
	case strings.HasPrefix(name, "appointment"):
		return models.RecordAppointmentSummary, nil
	case strings.HasPrefix(name, "patient_aggregate"), strings.HasPrefix(name, "patient_summary"):
		return models.RecordPatientAggregate, nil
	case strings.HasPrefix(name, "client_measure"), strings.HasPrefix(name, "measure"):
		return models.RecordMeasure, nil
	}
	return "", fmt.Errorf("%w: cannot infer from %q", models.ErrUnknownRecordType, filepath.Base(path))
}
