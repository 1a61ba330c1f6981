package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/carelens/internal/models"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffpatient_id, appointment_id ,session_notes\n" +
		"P001,A1,\"Discussed sleep, work stress\"\n" +
		",,\n" +
		"P002,A2\n"
	rows, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (blank row dropped)", len(rows))
	}
	if rows[0].Get("patient_id") != "P001" || rows[0].Get("appointment_id") != "A1" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[0].Get("session_notes") != "Discussed sleep, work stress" {
		t.Errorf("quoted field = %q", rows[0].Get("session_notes"))
	}
	if rows[1].Get("session_notes") != "" {
		t.Errorf("short row should leave trailing columns empty, got %q", rows[1].Get("session_notes"))
	}
}

func TestReadCSV_Empty(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(""))
	if err != nil || rows != nil {
		t.Errorf("ReadCSV(empty) = %v, %v", rows, err)
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]interface{}{
		{"client_id", "measure_date", "measure_type", "question_number", "question_score", "total_score"},
		{"P001", "1/2/25", "PHQ9", 3, 2, 12},
		{"P001", "10/21/25", "PHQ9", 3, 0, 4},
	}
	for r, row := range cells {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "client_measure.xlsx")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1].Get("question_score") != "0" || rows[1].Get("measure_date") != "10/21/25" {
		t.Errorf("row 1 = %v", rows[1])
	}
}

func TestReadTableBytes_Unsupported(t *testing.T) {
	_, err := ReadTableBytes([]byte("x"), ".json")
	if !errors.Is(err, models.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestInferRecordType(t *testing.T) {
	tests := []struct {
		path string
		want models.RecordType
	}{
		{"data/patient_appointment.csv", models.RecordDetailedAppointment},
		{"Patient_Appointments_2025.xlsx", models.RecordDetailedAppointment},
		{"appointments.csv", models.RecordAppointmentSummary},
		{"/tmp/patient_aggregate.csv", models.RecordPatientAggregate},
		{"client_measure.csv", models.RecordMeasure},
		{"measures_q3.xlsx", models.RecordMeasure},
	}
	for _, tt := range tests {
		got, err := InferRecordType(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("InferRecordType(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
	if _, err := InferRecordType("notes.csv"); !errors.Is(err, models.ErrUnknownRecordType) {
		t.Errorf("unknown name: err = %v", err)
	}
}

func TestChunker(t *testing.T) {
	c := NewChunker(4, 1)
	chunks := c.Chunk("a b c d e f g h i")
	want := []string{"a b c d", "d e f g", "g h i"}
	if len(chunks) != len(want) {
		t.Fatalf("got %v, want %v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
	if got := c.Chunk("   \n"); got != nil {
		t.Errorf("blank text: got %v", got)
	}
	if got := NewChunker(10, 20).Chunk("one two three"); len(got) != 1 {
		t.Errorf("overlap >= size should fall back to no overlap, got %v", got)
	}
}
