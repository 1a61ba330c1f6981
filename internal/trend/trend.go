// Package trend compares a patient's earliest and latest PHQ9 or GAD7 assessments
// question by question.
package trend

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
)

// Instrument is a scored screening questionnaire.
type Instrument string

const (
	PHQ9 Instrument = "PHQ9"
	GAD7 Instrument = "GAD7"
)

// Instruments lists the supported instruments.
var Instruments = []Instrument{PHQ9, GAD7}

// ErrUnknownInstrument is returned by ParseInstrument for names other than PHQ9 and GAD7.
var ErrUnknownInstrument = errors.New("unknown instrument")

// ParseInstrument accepts any spelling that normalizes to PHQ9 or GAD7 ("phq-9", "Gad 7").
func ParseInstrument(s string) (Instrument, error) {
	switch Instrument(models.NormalizeInstrument(s)) {
	case PHQ9:
		return PHQ9, nil
	case GAD7:
		return GAD7, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, s)
}

// Questions returns the canonical number of items.
func (i Instrument) Questions() int {
	if i == GAD7 {
		return 7
	}
	return 9
}

// Severity bands.
const (
	SeverityMinimal          = "minimal"
	SeverityMild             = "mild"
	SeverityModerate         = "moderate"
	SeverityModeratelySevere = "moderately severe"
	SeveritySevere           = "severe"
)

// Severity classifies a total score.
func (i Instrument) Severity(total int) string {
	switch {
	case total <= 4:
		return SeverityMinimal
	case total <= 9:
		return SeverityMild
	case total <= 14:
		return SeverityModerate
	case i == PHQ9 && total <= 19:
		return SeverityModeratelySevere
	default:
		return SeveritySevere
	}
}

// Assessment is one parsed measure document.
type Assessment struct {
	ID      string      `json:"id"`
	Date    string      `json:"date"`
	DateKey string      `json:"date_key"`
	Total   int         `json:"total_score"`
	Scores  map[int]int `json:"scores"`
}

// QuestionChange compares one question between baseline and latest. Lower scores are
// less symptomatic, so a negative change is an improvement.
type QuestionChange struct {
	Question    int  `json:"question"`
	Baseline    int  `json:"baseline"`
	Latest      int  `json:"latest"`
	Change      int  `json:"change"`
	Improvement bool `json:"improvement"`
}

// Snapshot is a computed trend.
type Snapshot struct {
	PatientID       string           `json:"patient_id"`
	Instrument      Instrument       `json:"instrument"`
	AssessmentCount int              `json:"assessment_count"`
	BaselineDate    string           `json:"baseline_date"`
	LatestDate      string           `json:"latest_date"`
	BaselineTotal   int              `json:"baseline_total"`
	LatestTotal     int              `json:"latest_total"`
	TotalChange     int              `json:"total_change"`
	Severity        string           `json:"severity"`
	Questions       []QuestionChange `json:"questions"`
	Improvements    []QuestionChange `json:"improvements"`
	Worsenings      []QuestionChange `json:"worsenings"`
	Stable          []QuestionChange `json:"stable"`
}

// Question returns the change for question q, if both assessments scored it.
func (s *Snapshot) Question(q int) (QuestionChange, bool) {
	for _, c := range s.Questions {
		if c.Question == q {
			return c, true
		}
	}
	return QuestionChange{}, false
}

// Insufficient reports that fewer than two assessments were found.
type Insufficient struct {
	PatientID  string     `json:"patient_id"`
	Instrument Instrument `json:"instrument"`
	Found      int        `json:"assessments_found"`
}

// Message explains the missing trend.
func (i *Insufficient) Message() string {
	return fmt.Sprintf("Not enough %s assessments to compute a trend for patient %s: at least 2 are needed, %d found.",
		i.Instrument, i.PatientID, i.Found)
}

// Result holds exactly one of Snapshot or Insufficient.
type Result struct {
	Snapshot     *Snapshot     `json:"snapshot,omitempty"`
	Insufficient *Insufficient `json:"insufficient_data,omitempty"`
}

// OK reports whether a trend was computed.
func (r Result) OK() bool {
	return r.Snapshot != nil
}

// Compute builds the baseline-versus-latest trend of instrument from docs. Documents that
// are not measures of that instrument, or whose scores cannot be read, are ignored.
func Compute(patientID string, instrument Instrument, docs []*models.Document) Result {
	assessments := Collect(instrument, docs)
	if len(assessments) < 2 {
		return Result{Insufficient: &Insufficient{PatientID: patientID, Instrument: instrument, Found: len(assessments)}}
	}
	baseline, latest := assessments[0], assessments[len(assessments)-1]

	s := &Snapshot{
		PatientID:       patientID,
		Instrument:      instrument,
		AssessmentCount: len(assessments),
		BaselineDate:    baseline.Date,
		LatestDate:      latest.Date,
		BaselineTotal:   baseline.Total,
		LatestTotal:     latest.Total,
		TotalChange:     latest.Total - baseline.Total,
		Severity:        instrument.Severity(latest.Total),
		Questions:       []QuestionChange{},
		Improvements:    []QuestionChange{},
		Worsenings:      []QuestionChange{},
		Stable:          []QuestionChange{},
	}
	for q := 1; q <= instrument.Questions(); q++ {
		b, okB := baseline.Scores[q]
		l, okL := latest.Scores[q]
		if !okB || !okL {
			continue
		}
		c := QuestionChange{Question: q, Baseline: b, Latest: l, Change: l - b, Improvement: l-b < 0}
		s.Questions = append(s.Questions, c)
		switch {
		case c.Change < 0:
			s.Improvements = append(s.Improvements, c)
		case c.Change > 0:
			s.Worsenings = append(s.Worsenings, c)
		default:
			s.Stable = append(s.Stable, c)
		}
	}
	sort.SliceStable(s.Improvements, func(i, j int) bool { return s.Improvements[i].Change < s.Improvements[j].Change })
	sort.SliceStable(s.Worsenings, func(i, j int) bool { return s.Worsenings[i].Change > s.Worsenings[j].Change })
	return Result{Snapshot: s}
}

// Collect parses the measure documents of instrument and orders them by normalized date.
func Collect(instrument Instrument, docs []*models.Document) []Assessment {
	var out []Assessment
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d == nil || d.Type() != models.RecordMeasure || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		if Instrument(models.NormalizeInstrument(measureType(d))) != instrument {
			continue
		}
		if a, ok := Parse(d); ok {
			out = append(out, a)
		}
	}
	dates.Sort(out, func(a Assessment) string { return a.Date })
	return out
}

var (
	questionLine = regexp.MustCompile(`(?m)^\s*Q(\d+):\s*(\d+)\s*$`)
	totalLine    = regexp.MustCompile(`(?m)^\s*Total Score:\s*(\d+)`)
	typeLine     = regexp.MustCompile(`(?m)^\s*Assessment Type:\s*(\S+)`)
)

func measureType(d *models.Document) string {
	if t := d.MetaString(models.MetaMeasureType); t != "" {
		return t
	}
	if m := typeLine.FindStringSubmatch(d.Content); m != nil {
		return m[1]
	}
	return ""
}

// Parse reads the question scores of a measure document from its question_responses
// metadata, falling back to the "Q{n}: {score}" lines of its content.
func Parse(d *models.Document) (Assessment, bool) {
	a := Assessment{
		ID:     d.ID,
		Date:   d.MetaString(models.MetaMeasureDate),
		Scores: make(map[int]int),
	}
	if a.Date == "" {
		a.Date = d.MetaString(models.MetaDateKey)
	}
	a.DateKey = dates.Normalize(a.Date)

	if raw := d.MetaString(models.MetaResponses); raw != "" {
		var responses []models.QuestionResponse
		if err := json.Unmarshal([]byte(raw), &responses); err == nil {
			for _, r := range responses {
				a.Scores[r.QuestionNumber] = r.QuestionScore
			}
		}
	}
	if len(a.Scores) == 0 {
		for _, m := range questionLine.FindAllStringSubmatch(d.Content, -1) {
			q, _ := strconv.Atoi(m[1])
			score, _ := strconv.Atoi(m[2])
			a.Scores[q] = score
		}
	}
	if len(a.Scores) == 0 {
		return a, false
	}

	if total, ok := d.MetaInt(models.MetaTotalScore); ok {
		a.Total = total
	} else if m := totalLine.FindStringSubmatch(d.Content); m != nil {
		a.Total, _ = strconv.Atoi(m[1])
	} else {
		for _, s := range a.Scores {
			a.Total += s
		}
	}
	return a, true
}

// Point is one dated score.
type Point struct {
	Date  string `json:"date"`
	Score int    `json:"score"`
}

// QuestionSeries returns the date-ordered scores of question q across the instrument's
// assessments. Assessments that did not score q are skipped.
func QuestionSeries(instrument Instrument, docs []*models.Document, q int) []Point {
	var out []Point
	for _, a := range Collect(instrument, docs) {
		if s, ok := a.Scores[q]; ok {
			out = append(out, Point{Date: a.Date, Score: s})
		}
	}
	return out
}

// TotalSeries returns the date-ordered total scores of the instrument's assessments.
func TotalSeries(instrument Instrument, docs []*models.Document) []Point {
	assessments := Collect(instrument, docs)
	out := make([]Point, len(assessments))
	for i, a := range assessments {
		out[i] = Point{Date: a.Date, Score: a.Total}
	}
	return out
}

// FormatSeries renders points as "date: score" joined by arrows.
func FormatSeries(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("%s: %d", p.Date, p.Score)
	}
	return strings.Join(parts, " → ")
}
