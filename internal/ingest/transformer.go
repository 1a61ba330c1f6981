// Package ingest turns exported appointment and assessment tables, plus free-text
// attachments, into documents for the document store and rows for the relational mirror.
package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/pkg/utils"
)

const unknown = "Unknown"

// Performance lines chosen by completion rate.
const (
	PerformanceExcellent    = "Excellent performance with high completion rate."
	PerformanceGood         = "Good performance with solid completion rate."
	PerformanceAverage      = "Average performance with room for improvement."
	PerformanceBelowAverage = "Below average performance requiring attention."
)

// Performance returns the band for a completion rate in [0, 1].
func Performance(rate float64) string {
	switch {
	case rate >= 0.9:
		return PerformanceExcellent
	case rate >= 0.8:
		return PerformanceGood
	case rate >= 0.7:
		return PerformanceAverage
	default:
		return PerformanceBelowAverage
	}
}

// ParseAppointment reads a detailed appointment row. appointment_id and patient_id are required.
func ParseAppointment(row models.Row) (*models.Appointment, error) {
	id, err := row.Require(models.MetaAppointmentID)
	if err != nil {
		return nil, err
	}
	patientID, err := row.Require(models.MetaPatientID)
	if err != nil {
		return nil, err
	}
	number, err := intField(row, models.MetaAppointmentNum)
	if err != nil {
		return nil, err
	}
	return &models.Appointment{
		AppointmentID:     id,
		AppointmentNumber: number,
		AppointmentDate:   row.Get(models.MetaAppointmentDate),
		PatientID:         patientID,
		ClientID:          row.Get(models.MetaClientID),
		ProviderID:        row.Get(models.MetaProviderID),
		Diagnosis:         row.Get(models.MetaDiagnosis),
		CPTCode:           row.Get(models.MetaCPTCode),
		SessionNotes:      row.Get("session_notes"),
		IsCompleted:       models.ParseBool(row.Get(models.MetaIsCompleted)),
		IsCancelled:       models.ParseBool(row.Get(models.MetaIsCancelled)),
		IsNoShow:          models.ParseBool(row.Get(models.MetaIsNoShow)),
	}, nil
}

// AppointmentDocument renders one detailed appointment.
func AppointmentDocument(a *models.Appointment) *models.DocumentInput {
	notes := a.SessionNotes
	if notes == "" {
		notes = "No notes available"
	}
	var b strings.Builder
	b.WriteString("Appointment Details:\n")
	fmt.Fprintf(&b, "- Appointment ID: %s\n", a.AppointmentID)
	fmt.Fprintf(&b, "- Appointment Number: %d\n", a.AppointmentNumber)
	fmt.Fprintf(&b, "- Date: %s\n", orUnknown(a.AppointmentDate))
	fmt.Fprintf(&b, "- Status: %s\n\n", a.Status())
	b.WriteString("Clinical Information:\n")
	fmt.Fprintf(&b, "- Diagnosis: %s\n", orUnknown(a.Diagnosis))
	fmt.Fprintf(&b, "- CPT Code: %s\n\n", orUnknown(a.CPTCode))
	b.WriteString("Session Notes:\n")
	b.WriteString(notes)
	b.WriteString("\n\nPatient Information:\n")
	fmt.Fprintf(&b, "- Patient ID: %s\n", a.PatientID)
	fmt.Fprintf(&b, "- Client ID: %s\n", orUnknown(a.ClientID))
	fmt.Fprintf(&b, "- Provider ID: %s", orUnknown(a.ProviderID))

	return &models.DocumentInput{
		ID:      "detailed_appointment_" + a.AppointmentID,
		Content: b.String(),
		Metadata: map[string]interface{}{
			models.MetaType:            string(models.RecordDetailedAppointment),
			models.MetaAppointmentID:   a.AppointmentID,
			models.MetaAppointmentNum:  a.AppointmentNumber,
			models.MetaAppointmentDate: a.AppointmentDate,
			models.MetaDateKey:         dates.Normalize(a.AppointmentDate),
			models.MetaPatientID:       a.PatientID,
			models.MetaClientID:        a.ClientID,
			models.MetaProviderID:      a.ProviderID,
			models.MetaDiagnosis:       a.Diagnosis,
			models.MetaCPTCode:         a.CPTCode,
			models.MetaStatus:          a.Status(),
			models.MetaIsCompleted:     a.IsCompleted,
			models.MetaIsCancelled:     a.IsCancelled,
			models.MetaIsNoShow:        a.IsNoShow,
		},
	}
}

// ParseAppointmentSummary reads an appointment summary row. The client, patient and provider
// ids are all required since together they form the document id.
func ParseAppointmentSummary(row models.Row) (*models.AppointmentSummary, error) {
	s := &models.AppointmentSummary{}
	var err error
	if s.ClientID, err = row.Require(models.MetaClientID); err != nil {
		return nil, err
	}
	if s.PatientID, err = row.Require(models.MetaPatientID); err != nil {
		return nil, err
	}
	if s.ProviderID, err = row.Require(models.MetaProviderID); err != nil {
		return nil, err
	}
	if s.AppointmentCounts, err = parseCounts(row); err != nil {
		return nil, err
	}
	return s, nil
}

// SummaryDocument renders a provider performance summary.
func SummaryDocument(s *models.AppointmentSummary) *models.DocumentInput {
	var b strings.Builder
	b.WriteString("Provider Performance Summary:\n")
	fmt.Fprintf(&b, "- Provider ID: %s\n", s.ProviderID)
	fmt.Fprintf(&b, "- Client ID: %s\n", s.ClientID)
	fmt.Fprintf(&b, "- Patient ID: %s\n\n", s.PatientID)
	b.WriteString("Appointment Statistics:\n")
	fmt.Fprintf(&b, "- Total Scheduled: %d\n", s.Scheduled)
	fmt.Fprintf(&b, "- Completed: %d\n", s.Completed)
	fmt.Fprintf(&b, "- Canceled: %d\n", s.Canceled)
	fmt.Fprintf(&b, "- No Shows: %d\n\n", s.NoShow)
	b.WriteString("Timeline:\n")
	fmt.Fprintf(&b, "- First Appointment: %s\n", orUnknown(s.FirstAppointmentDate))
	fmt.Fprintf(&b, "- Last Appointment: %s\n", orUnknown(s.LastAppointmentDate))
	fmt.Fprintf(&b, "- YTD Completed: %d\n\n", s.CompletedYTD)

	performance := Performance(s.CompletionRate())
	b.WriteString("Performance Assessment:\n")
	b.WriteString(performance)
	if s.NoShow > 0 {
		fmt.Fprintf(&b, " Has %d no-show(s) that could be addressed.", s.NoShow)
	}
	if s.Canceled > 0 {
		fmt.Fprintf(&b, " Has %d cancellation(s) to review.", s.Canceled)
	}

	meta := countsMetadata(models.RecordAppointmentSummary, &s.AppointmentCounts)
	meta[models.MetaClientID] = s.ClientID
	meta[models.MetaPatientID] = s.PatientID
	meta[models.MetaProviderID] = s.ProviderID
	meta[models.MetaPerformance] = performance
	return &models.DocumentInput{
		ID:       fmt.Sprintf("appointment_%s_%s_%s", s.ClientID, s.PatientID, s.ProviderID),
		Content:  b.String(),
		Metadata: meta,
	}
}

// ParsePatientAggregate reads a patient aggregate row. patient_id is required.
func ParsePatientAggregate(row models.Row) (*models.PatientAggregate, error) {
	patientID, err := row.Require(models.MetaPatientID)
	if err != nil {
		return nil, err
	}
	counts, err := parseCounts(row)
	if err != nil {
		return nil, err
	}
	col := "measurment_completed"
	if row.Get(col) == "" {
		col = models.MetaMeasurements
	}
	measurements, err := intField(row, col)
	if err != nil {
		return nil, err
	}
	return &models.PatientAggregate{
		PatientID:             patientID,
		ClientID:              row.Get(models.MetaClientID),
		ProviderID:            row.Get(models.MetaProviderID),
		MeasurementsCompleted: measurements,
		AppointmentCounts:     counts,
	}, nil
}

// AggregateDocument renders a patient attendance summary with percentages.
func AggregateDocument(p *models.PatientAggregate) *models.DocumentInput {
	completion := utils.Percent(p.Completed, p.Scheduled)
	cancel := utils.Percent(p.Canceled, p.Scheduled)
	noShow := utils.Percent(p.NoShow, p.Scheduled)

	var b strings.Builder
	fmt.Fprintf(&b, "Patient Summary - Patient %s\n", p.PatientID)
	fmt.Fprintf(&b, "Appointments Scheduled: %d\n", p.Scheduled)
	fmt.Fprintf(&b, "Appointments Completed: %d (%.1f%%)\n", p.Completed, completion)
	fmt.Fprintf(&b, "Appointments Canceled: %d (%.1f%%)\n", p.Canceled, cancel)
	fmt.Fprintf(&b, "No Shows: %d (%.1f%%)\n", p.NoShow, noShow)
	fmt.Fprintf(&b, "First Appointment: %s\n", orUnknown(p.FirstAppointmentDate))
	fmt.Fprintf(&b, "Last Appointment: %s\n", orUnknown(p.LastAppointmentDate))
	fmt.Fprintf(&b, "Completed YTD: %d\n", p.CompletedYTD)
	fmt.Fprintf(&b, "Measurements Completed: %d", p.MeasurementsCompleted)

	meta := countsMetadata(models.RecordPatientAggregate, &p.AppointmentCounts)
	meta[models.MetaPatientID] = p.PatientID
	meta[models.MetaClientID] = p.ClientID
	meta[models.MetaProviderID] = p.ProviderID
	meta[models.MetaMeasurements] = p.MeasurementsCompleted
	meta[models.MetaCompletionRate] = completion
	meta[models.MetaCancelRate] = cancel
	meta[models.MetaNoShowRate] = noShow
	return &models.DocumentInput{
		ID:       "patient_summary_" + p.PatientID,
		Content:  b.String(),
		Metadata: meta,
	}
}

// GroupAssessments folds measure rows into assessments keyed by client, date and
// instrument, in order of first appearance. Rows that cannot be read are reported by
// their 1-based position and left out.
func GroupAssessments(rows []models.Row) ([]*models.Assessment, []error) {
	var (
		out   []*models.Assessment
		errs  []error
		index = make(map[string]*models.Assessment)
		seen  = make(map[string]map[int]bool)
	)
	for i, row := range rows {
		a, resp, err := parseMeasureRow(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i+1, err))
			continue
		}
		key := MeasureID(a.ClientID, a.MeasureDate, a.MeasureType)
		cur, ok := index[key]
		if !ok {
			cur = a
			index[key] = cur
			seen[key] = make(map[int]bool)
			out = append(out, cur)
		}
		if cur.PatientID == "" {
			cur.PatientID = a.PatientID
		}
		if cur.TotalScore < 0 {
			cur.TotalScore = a.TotalScore
		}
		if seen[key][resp.QuestionNumber] {
			errs = append(errs, fmt.Errorf("row %d: duplicate question %d in %s", i+1, resp.QuestionNumber, key))
			continue
		}
		seen[key][resp.QuestionNumber] = true
		cur.Responses = append(cur.Responses, resp)
	}
	for _, a := range out {
		sort.Slice(a.Responses, func(i, j int) bool {
			return a.Responses[i].QuestionNumber < a.Responses[j].QuestionNumber
		})
		if a.TotalScore < 0 {
			a.TotalScore = 0
			for _, r := range a.Responses {
				a.TotalScore += r.QuestionScore
			}
		}
	}
	return out, errs
}

// parseMeasureRow reads one question row. A missing total_score is reported as -1 so the
// group can fall back to another row or to the sum of question scores.
func parseMeasureRow(row models.Row) (*models.Assessment, models.QuestionResponse, error) {
	var resp models.QuestionResponse
	clientID, err := row.Require(models.MetaClientID)
	if err != nil {
		return nil, resp, err
	}
	date, err := row.Require(models.MetaMeasureDate)
	if err != nil {
		return nil, resp, err
	}
	mtype, err := row.Require(models.MetaMeasureType)
	if err != nil {
		return nil, resp, err
	}
	if _, err := row.Require("question_number"); err != nil {
		return nil, resp, err
	}
	if resp.QuestionNumber, err = intField(row, "question_number"); err != nil {
		return nil, resp, err
	}
	if resp.QuestionScore, err = intField(row, "question_score"); err != nil {
		return nil, resp, err
	}
	total := -1
	if row.Get(models.MetaTotalScore) != "" {
		if total, err = intField(row, models.MetaTotalScore); err != nil {
			return nil, resp, err
		}
	}
	return &models.Assessment{
		ClientID:    clientID,
		PatientID:   row.Get(models.MetaPatientID),
		MeasureDate: date,
		MeasureType: models.NormalizeInstrument(mtype),
		TotalScore:  total,
	}, resp, nil
}

// MeasureID is the document id of one assessment. Parseable dates appear normalized so
// that "1/2/25" and "2025-01-02" address the same document.
func MeasureID(clientID, measureDate, measureType string) string {
	date := utils.Slug(measureDate)
	if dates.Valid(measureDate) {
		date = dates.Normalize(measureDate)
	}
	if date == "" {
		date = "undated"
	}
	return fmt.Sprintf("measure_%s_%s_%s", clientID, date, models.NormalizeInstrument(measureType))
}

// AssessmentDocument renders one assessment with its question scores in ascending order.
func AssessmentDocument(a *models.Assessment) (*models.DocumentInput, error) {
	responses, err := json.Marshal(a.Responses)
	if err != nil {
		return nil, fmt.Errorf("encode responses: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assessment Results - Client %s\n", a.ClientID)
	fmt.Fprintf(&b, "Assessment Date: %s\n", a.MeasureDate)
	fmt.Fprintf(&b, "Assessment Type: %s\n", a.MeasureType)
	fmt.Fprintf(&b, "Total Score: %d\n", a.TotalScore)
	b.WriteString("Question Responses:")
	for _, r := range a.Responses {
		fmt.Fprintf(&b, "\nQ%d: %d", r.QuestionNumber, r.QuestionScore)
	}

	patientID := a.PatientID
	if patientID == "" {
		patientID = a.ClientID
	}
	return &models.DocumentInput{
		ID:      MeasureID(a.ClientID, a.MeasureDate, a.MeasureType),
		Content: b.String(),
		Metadata: map[string]interface{}{
			models.MetaType:          string(models.RecordMeasure),
			models.MetaClientID:      a.ClientID,
			models.MetaPatientID:     patientID,
			models.MetaMeasureType:   a.MeasureType,
			models.MetaMeasureDate:   a.MeasureDate,
			models.MetaDateKey:       dates.Normalize(a.MeasureDate),
			models.MetaTotalScore:    a.TotalScore,
			models.MetaResponses:     string(responses),
			models.MetaQuestionCount: len(a.Responses),
		},
	}, nil
}

func parseCounts(row models.Row) (models.AppointmentCounts, error) {
	var (
		c   models.AppointmentCounts
		err error
	)
	fields := []struct {
		col string
		dst *int
	}{
		{models.MetaScheduled, &c.Scheduled},
		{models.MetaCompleted, &c.Completed},
		{models.MetaCanceled, &c.Canceled},
		{models.MetaNoShow, &c.NoShow},
	}
	for _, f := range fields {
		if *f.dst, err = intField(row, f.col); err != nil {
			return c, err
		}
	}
	ytdCol := "appointment_completed_YTD"
	if row.Get(ytdCol) == "" {
		ytdCol = models.MetaCompletedYTD
	}
	if c.CompletedYTD, err = intField(row, ytdCol); err != nil {
		return c, err
	}
	c.FirstAppointmentDate = row.Get(models.MetaFirstDate)
	c.LastAppointmentDate = row.Get(models.MetaLastDate)
	return c, nil
}

func countsMetadata(rt models.RecordType, c *models.AppointmentCounts) map[string]interface{} {
	return map[string]interface{}{
		models.MetaType:         string(rt),
		models.MetaScheduled:    c.Scheduled,
		models.MetaCompleted:    c.Completed,
		models.MetaCanceled:     c.Canceled,
		models.MetaNoShow:       c.NoShow,
		models.MetaFirstDate:    c.FirstAppointmentDate,
		models.MetaLastDate:     c.LastAppointmentDate,
		models.MetaDateKey:      dates.Normalize(c.LastAppointmentDate),
		models.MetaCompletedYTD: c.CompletedYTD,
	}
}

// intField parses an integer column; empty means 0. Spreadsheet exports write whole
// numbers as "3.0", which is accepted.
func intField(row models.Row, col string) (int, error) {
	v := row.Get(col)
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%s: invalid integer %q", col, v)
	}
	return int(f), nil
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// createdAt returns the timestamp stamped on newly ingested documents.
func createdAt(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}
