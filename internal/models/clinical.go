package models

import "strings"

// Appointment is one detailed appointment row.
type Appointment struct {
	AppointmentID     string `json:"appointment_id"`
	AppointmentNumber int    `json:"appointment_number"`
	AppointmentDate   string `json:"appointment_date"`
	PatientID         string `json:"patient_id"`
	ClientID          string `json:"client_id"`
	ProviderID        string `json:"provider_id"`
	Diagnosis         string `json:"diagnosis"`
	CPTCode           string `json:"cpt_code"`
	SessionNotes      string `json:"session_notes"`
	IsCompleted       bool   `json:"is_completed"`
	IsCancelled       bool   `json:"is_cancelled"`
	IsNoShow          bool   `json:"is_no_show"`
}

// Appointment statuses in precedence order.
const (
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
	StatusNoShow    = "No Show"
	StatusScheduled = "Scheduled"
)

// Status resolves the status flags: the first true flag in completed, cancelled, no-show
// order wins; no flag means scheduled.
func (a *Appointment) Status() string {
	switch {
	case a.IsCompleted:
		return StatusCompleted
	case a.IsCancelled:
		return StatusCancelled
	case a.IsNoShow:
		return StatusNoShow
	default:
		return StatusScheduled
	}
}

// AppointmentCounts are the attendance counters shared by summary and aggregate rows.
type AppointmentCounts struct {
	Scheduled            int    `json:"appointments_scheduled"`
	Completed            int    `json:"appointments_completed"`
	Canceled             int    `json:"appointments_canceled"`
	NoShow               int    `json:"appointments_no_show"`
	FirstAppointmentDate string `json:"first_appointment_date"`
	LastAppointmentDate  string `json:"last_appointment_date"`
	CompletedYTD         int    `json:"appointment_completed_YTD"`
}

// CompletionRate returns completed/scheduled in [0, 1], or 0 with nothing scheduled.
func (c *AppointmentCounts) CompletionRate() float64 {
	if c.Scheduled <= 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Scheduled)
}

// AppointmentSummary aggregates one client/patient/provider triple.
type AppointmentSummary struct {
	ClientID   string `json:"client_id"`
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	AppointmentCounts
}

// PatientAggregate aggregates one patient.
type PatientAggregate struct {
	PatientID             string `json:"patient_id"`
	ClientID              string `json:"client_id"`
	ProviderID            string `json:"provider_id"`
	MeasurementsCompleted int    `json:"measurment_completed"`
	AppointmentCounts
}

// QuestionResponse is one scored item of an assessment.
type QuestionResponse struct {
	QuestionNumber int `json:"question_number"`
	QuestionScore  int `json:"question_score"`
}

// Assessment is one completed instrument (all question rows of one client, date and type).
type Assessment struct {
	ClientID    string             `json:"client_id"`
	PatientID   string             `json:"patient_id"`
	MeasureDate string             `json:"measure_date"`
	MeasureType string             `json:"measure_type"`
	TotalScore  int                `json:"total_score"`
	Responses   []QuestionResponse `json:"question_responses"`
}

// NormalizeInstrument upper-cases an instrument name and drops separators, so "phq-9"
// and "PHQ 9" both become "PHQ9".
func NormalizeInstrument(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
