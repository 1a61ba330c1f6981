package trend

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/carelens/internal/models"
)

func measure(t *testing.T, instrument, date string, total int, scores map[int]int) *models.Document {
	t.Helper()
	var responses []models.QuestionResponse
	for q := 1; q <= 9; q++ {
		if s, ok := scores[q]; ok {
			responses = append(responses, models.QuestionResponse{QuestionNumber: q, QuestionScore: s})
		}
	}
	raw, err := json.Marshal(responses)
	if err != nil {
		t.Fatal(err)
	}
	return &models.Document{
		ID: fmt.Sprintf("measure_P001_%s_%s", date, instrument),
		Metadata: map[string]interface{}{
			models.MetaType:        string(models.RecordMeasure),
			models.MetaPatientID:   "P001",
			models.MetaMeasureType: instrument,
			models.MetaMeasureDate: date,
			models.MetaTotalScore:  float64(total),
			models.MetaResponses:   string(raw),
		},
	}
}

func TestCompute_P001(t *testing.T) {
	docs := []*models.Document{
		measure(t, "PHQ9", "10/21/25", 4, map[int]int{3: 0}),
		measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2}),
	}
	res := Compute("P001", PHQ9, docs)
	if !res.OK() {
		t.Fatalf("expected snapshot, got %+v", res.Insufficient)
	}
	s := res.Snapshot
	q3, ok := s.Question(3)
	if !ok {
		t.Fatal("question 3 missing")
	}
	want := QuestionChange{Question: 3, Baseline: 2, Latest: 0, Change: -2, Improvement: true}
	if q3 != want {
		t.Errorf("q3 = %+v, want %+v", q3, want)
	}
	if s.TotalChange != -8 {
		t.Errorf("TotalChange = %d, want -8", s.TotalChange)
	}
	if s.Severity != SeverityMinimal {
		t.Errorf("Severity = %q, want minimal", s.Severity)
	}
	if s.BaselineDate != "1/2/25" || s.LatestDate != "10/21/25" {
		t.Errorf("baseline/latest = %s/%s", s.BaselineDate, s.LatestDate)
	}
}

func TestCompute_SignConvention(t *testing.T) {
	docs := []*models.Document{
		measure(t, "PHQ9", "2/1/25", 10, map[int]int{1: 8, 2: 2, 4: 1, 5: 3}),
		measure(t, "PHQ9", "3/1/25", 13, map[int]int{1: 3, 2: 6, 4: 1, 6: 2}),
	}
	s := Compute("P001", PHQ9, docs).Snapshot
	if s == nil {
		t.Fatal("expected snapshot")
	}
	q1, _ := s.Question(1)
	if q1.Change != -5 || !q1.Improvement {
		t.Errorf("q1 = %+v", q1)
	}
	q2, _ := s.Question(2)
	if q2.Change != 4 || q2.Improvement {
		t.Errorf("q2 = %+v", q2)
	}
	if _, ok := s.Question(5); ok {
		t.Error("q5 only in baseline should be skipped")
	}
	if _, ok := s.Question(6); ok {
		t.Error("q6 only in latest should be skipped")
	}
	if len(s.Stable) != 1 || s.Stable[0].Question != 4 {
		t.Errorf("stable = %+v", s.Stable)
	}
}

func TestCompute_Ranking(t *testing.T) {
	docs := []*models.Document{
		measure(t, "GAD7", "2025-01-01", 14, map[int]int{1: 3, 2: 3, 3: 1, 4: 0, 5: 3, 6: 2, 7: 2}),
		measure(t, "GAD7", "2025-02-01", 12, map[int]int{1: 2, 2: 0, 3: 3, 4: 1, 5: 1, 6: 2, 7: 3}),
	}
	s := Compute("P001", GAD7, docs).Snapshot
	if s == nil {
		t.Fatal("expected snapshot")
	}
	var imp, wors []int
	for _, c := range s.Improvements {
		imp = append(imp, c.Question)
	}
	for _, c := range s.Worsenings {
		wors = append(wors, c.Question)
	}
	if fmt.Sprint(imp) != "[2 5 1]" {
		t.Errorf("improvements order = %v, want [2 5 1]", imp)
	}
	if fmt.Sprint(wors) != "[3 4 7]" {
		t.Errorf("worsenings order = %v, want [3 4 7]", wors)
	}
	if s.Severity != SeverityModerate {
		t.Errorf("Severity = %q", s.Severity)
	}
}

func TestCompute_Insufficient(t *testing.T) {
	tests := []struct {
		name string
		docs []*models.Document
		want int
	}{
		{"none", nil, 0},
		{"one", []*models.Document{measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2})}, 1},
		{"other instrument ignored", []*models.Document{
			measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2}),
			measure(t, "GAD7", "2/2/25", 8, map[int]int{3: 2}),
		}, 1},
		{"duplicate document counted once", []*models.Document{
			measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2}),
			measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2}),
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute("P001", PHQ9, tt.docs)
			if res.OK() || res.Insufficient == nil {
				t.Fatalf("expected insufficient, got %+v", res.Snapshot)
			}
			if res.Insufficient.Found != tt.want {
				t.Errorf("Found = %d, want %d", res.Insufficient.Found, tt.want)
			}
		})
	}
}

func TestParse_ContentFallback(t *testing.T) {
	doc := &models.Document{
		ID: "m",
		Content: "Assessment Results - Client P001\nAssessment Date: 1/2/25\nAssessment Type: PHQ9\n" +
			"Total Score: 12\nQuestion Responses:\nQ1: 2\nQ3: 1",
		Metadata: map[string]interface{}{
			models.MetaType:        "measure",
			models.MetaMeasureDate: "1/2/25",
		},
	}
	a, ok := Parse(doc)
	if !ok {
		t.Fatal("Parse failed")
	}
	if a.Total != 12 || a.Scores[1] != 2 || a.Scores[3] != 1 || a.DateKey != "2025-01-02" {
		t.Errorf("assessment = %+v", a)
	}
	if got := Collect(PHQ9, []*models.Document{doc}); len(got) != 1 {
		t.Errorf("measure type should be read from content, got %v", got)
	}

	if _, ok := Parse(&models.Document{ID: "x", Content: "no scores"}); ok {
		t.Error("expected Parse to fail without scores")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		inst  Instrument
		total int
		want  string
	}{
		{PHQ9, 0, SeverityMinimal},
		{PHQ9, 4, SeverityMinimal},
		{PHQ9, 5, SeverityMild},
		{PHQ9, 9, SeverityMild},
		{PHQ9, 10, SeverityModerate},
		{PHQ9, 14, SeverityModerate},
		{PHQ9, 15, SeverityModeratelySevere},
		{PHQ9, 19, SeverityModeratelySevere},
		{PHQ9, 20, SeveritySevere},
		{GAD7, 4, SeverityMinimal},
		{GAD7, 9, SeverityMild},
		{GAD7, 14, SeverityModerate},
		{GAD7, 15, SeveritySevere},
	}
	for _, tt := range tests {
		if got := tt.inst.Severity(tt.total); got != tt.want {
			t.Errorf("%s.Severity(%d) = %q, want %q", tt.inst, tt.total, got, tt.want)
		}
	}
}

func TestParseInstrument(t *testing.T) {
	for _, s := range []string{"PHQ9", "phq-9", "Phq 9"} {
		if got, err := ParseInstrument(s); err != nil || got != PHQ9 {
			t.Errorf("ParseInstrument(%q) = %q, %v", s, got, err)
		}
	}
	if got, err := ParseInstrument("gad_7"); err != nil || got != GAD7 {
		t.Errorf("ParseInstrument(gad_7) = %q, %v", got, err)
	}
	if _, err := ParseInstrument("PCL5"); !errors.Is(err, ErrUnknownInstrument) {
		t.Errorf("err = %v", err)
	}
}

func TestSeries(t *testing.T) {
	docs := []*models.Document{
		measure(t, "PHQ9", "10/21/25", 4, map[int]int{3: 0}),
		measure(t, "PHQ9", "bad date", 20, map[int]int{1: 3}),
		measure(t, "PHQ9", "1/2/25", 12, map[int]int{3: 2}),
	}
	q3 := QuestionSeries(PHQ9, docs, 3)
	if FormatSeries(q3) != "1/2/25: 2 → 10/21/25: 0" {
		t.Errorf("q3 series = %q", FormatSeries(q3))
	}
	totals := TotalSeries(PHQ9, docs)
	if len(totals) != 3 || totals[0].Date != "bad date" || totals[2].Score != 4 {
		t.Errorf("totals = %+v", totals)
	}
}
