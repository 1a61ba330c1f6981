package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/models"
)

// fakeStore returns documents matching the filter in insertion order. Search ignores the
// query text, TextSearch requires one of the query terms, and Scan is uncapped.
type fakeStore struct {
	docs []*models.Document
}

func (f *fakeStore) Search(_ context.Context, _ string, limit int, filter models.Filter) []models.SearchResult {
	var out []models.SearchResult
	for _, d := range f.docs {
		if filter.Matches(d.Metadata) {
			out = append(out, models.SearchResult{Document: d, Distance: 0.5})
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeStore) TextSearch(ctx context.Context, queryText string, limit int, filter models.Filter) []models.SearchResult {
	var out []models.SearchResult
	for _, sr := range f.Search(ctx, queryText, limit, filter) {
		if mentions(sr.Document.Content, strings.Fields(strings.ToLower(queryText))...) {
			out = append(out, sr)
		}
	}
	return out
}

func (f *fakeStore) Scan(_ context.Context, filter models.Filter, limit int) []*models.Document {
	var out []*models.Document
	for _, d := range f.docs {
		if filter.Matches(d.Metadata) {
			out = append(out, d)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeStore) MaxLimit() int { return 1000 }

type panicStore struct{}

func (panicStore) Search(context.Context, string, int, models.Filter) []models.SearchResult {
	panic("index corrupted")
}

func (panicStore) TextSearch(context.Context, string, int, models.Filter) []models.SearchResult {
	panic("index corrupted")
}

func (panicStore) Scan(context.Context, models.Filter, int) []*models.Document {
	panic("index corrupted")
}

func (panicStore) MaxLimit() int { return 1000 }

func toDocument(in *models.DocumentInput) *models.Document {
	return &models.Document{ID: in.ID, Content: in.Content, Metadata: in.Metadata}
}

func newFixture(t *testing.T) *fakeStore {
	t.Helper()
	appointments := []*models.Appointment{
		{
			AppointmentID: "A1", AppointmentNumber: 1, AppointmentDate: "1/2/25",
			PatientID: "P001", ClientID: "C001", ProviderID: "PR1",
			Diagnosis: "F41.1", CPTCode: "90791", IsCompleted: true,
			SessionNotes: "Intake. Client reports trouble sleeping and stress at the office. Introduced CBT thought records.",
		},
		{
			// Listed out of order on purpose; handlers sort by date.
			AppointmentID: "A3", AppointmentNumber: 3, AppointmentDate: "10/21/25",
			PatientID: "P001", ClientID: "C001", ProviderID: "PR1",
			Diagnosis: "F41.1", CPTCode: "90837", IsCompleted: true,
			SessionNotes: "Sleep improved. Reviewed homework worksheet. Progress noted on exposure hierarchy.",
		},
		{
			AppointmentID: "A2", AppointmentNumber: 2, AppointmentDate: "1/16/25",
			PatientID: "P001", ClientID: "C001", ProviderID: "PR1",
			IsCancelled: true,
		},
	}
	store := &fakeStore{}
	for _, a := range appointments {
		store.docs = append(store.docs, toDocument(ingest.AppointmentDocument(a)))
	}
	assessments := []*models.Assessment{
		{ClientID: "P001", MeasureDate: "10/21/25", MeasureType: "PHQ9", TotalScore: 4,
			Responses: []models.QuestionResponse{{QuestionNumber: 2, QuestionScore: 1}, {QuestionNumber: 3, QuestionScore: 0}}},
		{ClientID: "P001", MeasureDate: "1/2/25", MeasureType: "PHQ9", TotalScore: 12,
			Responses: []models.QuestionResponse{{QuestionNumber: 2, QuestionScore: 2}, {QuestionNumber: 3, QuestionScore: 2}}},
	}
	for _, a := range assessments {
		in, err := ingest.AssessmentDocument(a)
		if err != nil {
			t.Fatal(err)
		}
		store.docs = append(store.docs, toDocument(in))
	}
	return store
}

func TestAnswer_Sleep(t *testing.T) {
	r := NewRouter(newFixture(t))
	ans := r.Answer(context.Background(), "P001", "Is sleep improving?")
	if ans.Intent != IntentSleep {
		t.Fatalf("Intent = %s, want sleep", ans.Intent)
	}
	for _, want := range []string{
		"Baseline (1/2/25): 2",
		"Latest (10/21/25): 0",
		"Change: -2 (improved)",
		"Session 1 (1/2/25)",
	} {
		if !strings.Contains(ans.Answer, want) {
			t.Errorf("answer missing %q:\n%s", want, ans.Answer)
		}
	}
	if ans.FoundDocuments == 0 {
		t.Error("expected found documents")
	}
}

func TestAnswer_DiagnosisNoData(t *testing.T) {
	r := NewRouter(newFixture(t))
	ans := r.Answer(context.Background(), "P999", "What is the diagnosis?")
	if ans.Intent != IntentDiagnosis {
		t.Fatalf("Intent = %s", ans.Intent)
	}
	if ans.Answer != "I don't have diagnosis data for patient P999." {
		t.Errorf("Answer = %q", ans.Answer)
	}
	if ans.FoundDocuments != 0 {
		t.Errorf("FoundDocuments = %d, want 0", ans.FoundDocuments)
	}
}

func TestAnswer_Diagnosis(t *testing.T) {
	r := NewRouter(newFixture(t))
	ans := r.Answer(context.Background(), "P001", "What is the diagnosis?")
	if !strings.HasPrefix(ans.Answer, "Diagnosis for patient P001: F41.1") {
		t.Errorf("Answer = %q", ans.Answer)
	}
}

func TestAnswer_Branches(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		wants []string
	}{
		{"cbt timing", "When was CBT first introduced?", []string{"first appears in Session 1 (1/2/25)"}},
		{"ranking", "Which PHQ9 questions are driving the change?", []string{"Q3: 2 → 0 (-2)", "Q2: 2 → 1 (-1)", "Total change -8, latest severity minimal"}},
		{"totals", "Show PHQ9 scores", []string{"PHQ9 totals: 1/2/25: 12 → 10/21/25: 4", "Change 1/2/25 to 10/21/25: -8 (improved), latest severity minimal."}},
		{"progress", "Is the patient getting better?", []string{"PHQ9: 12 → 4 (-8, improved), now minimal"}},
		{"cancel rate", "What is the cancel rate?", []string{"Cancel rate: 33.3% (1/3)"}},
		{"attendance", "When were the first and last appointment, and the completion rate?", []string{"First appointment: 1/2/25", "Last appointment: 10/21/25", "Completion rate: 66.7% (2/3)"}},
		{"billing", "Which CPT codes were billed?", []string{"90791: 1 appointment", "90837: 1 appointment", "Completed sessions billable: 2 of 3."}},
		{"score trend", "Show the trajectory", []string{"- 1/2/25: 12 (moderate)", "- 10/21/25: 4 (minimal)", "Overall -8 (improved)"}},
		{"exposure", "How is the exposure hierarchy going?", []string{"Exposure therapy for patient P001 comes up in 1 of 3 sessions", "Session 3 (10/21/25)"}},
		{"modality", "What approaches have been used?", []string{"- CBT: 1 session, first in Session 1 (1/2/25)", "- Exposure: 1 session"}},
		{"intersession", "Anything new since last time?", []string{"Previous: Session 2 (1/16/25), Cancelled", "New assessments: PHQ9 4 on 10/21/25 (minimal)"}},
		{"mood", "How has mood been?", []string{"PHQ9 question 2 (feeling down, 0-3): 1/2/25: 2 → 10/21/25: 1"}},
		{"briefing", "Brief me before the next session", []string{"Last session: Session 3 (10/21/25), Completed", "Follow up on: Reviewed homework worksheet", "Latest scores: PHQ9 4 (10/21/25, minimal)"}},
		{"session notes", "Show recent session notes", []string{"Most recent 3 sessions for patient P001", "Latest scores at the time: PHQ9 12 (1/2/25, moderate)"}},
	}
	r := NewRouter(newFixture(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := r.Answer(context.Background(), "P001", tt.text)
			if ans.FoundDocuments == 0 {
				t.Errorf("no documents found for %q: %s", tt.text, ans.Answer)
			}
			for _, want := range tt.wants {
				if !strings.Contains(ans.Answer, want) {
					t.Errorf("answer missing %q:\n%s", want, ans.Answer)
				}
			}
		})
	}
}

func addSessions(store *fakeStore, patientID string, notes map[string]string) {
	n := 0
	for _, date := range sortedKeys(notes) {
		n++
		store.docs = append(store.docs, toDocument(ingest.AppointmentDocument(&models.Appointment{
			AppointmentID: fmt.Sprintf("%s-%d", patientID, n), AppointmentNumber: n, AppointmentDate: date,
			PatientID: patientID, IsCompleted: true, SessionNotes: notes[date],
		})))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return dates.Less(keys[i], keys[j]) })
	return keys
}

func TestAnswer_NoteKeywordsMatchWholeWords(t *testing.T) {
	store := newFixture(t)
	addSessions(store, "P002", map[string]string{
		"1/6/25":  "Slept poorly this week. Deadlines at work piling up. Feeling down and hopeless.",
		"1/13/25": "Reports little interest in hobbies. Completed the thought record worksheet.",
		"1/20/25": "Discussed what happened at the family dinner. Practiced grounding.",
	})
	r := NewRouter(store)

	tests := []struct {
		name   string
		text   string
		wants  []string
		absent []string
	}{
		{"sleep skips interest", "Is sleep improving?",
			[]string{"Session notes mentioning sleep (1 session)", "Slept poorly this week"},
			[]string{"interest"}},
		{"work skips worksheet", "How is work going?",
			[]string{"Work stress for patient P002 comes up in 1 of 3 sessions", "Deadlines at work piling up"},
			[]string{"worksheet"}},
		{"mood skips happened", "How has mood been?",
			[]string{"Session notes on mood (1 session)", "Feeling down and hopeless"},
			[]string{"happened"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := r.Answer(context.Background(), "P002", tt.text)
			for _, want := range tt.wants {
				if !strings.Contains(ans.Answer, want) {
					t.Errorf("answer missing %q:\n%s", want, ans.Answer)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(ans.Answer, bad) {
					t.Errorf("answer should not contain %q:\n%s", bad, ans.Answer)
				}
			}
		})
	}

	// The fixture's Session 3 "homework worksheet" is not a work-stress mention.
	ans := r.Answer(context.Background(), "P001", "How is work going?")
	if !strings.Contains(ans.Answer, "comes up in 1 of 3 sessions") || strings.Contains(ans.Answer, "Session 3") {
		t.Errorf("work stress for P001:\n%s", ans.Answer)
	}
}

func TestAnswer_ChronologyReadsFullHistory(t *testing.T) {
	store := newFixture(t)
	addSessions(store, "P003", map[string]string{
		"2/3/25": "Intake.",
		"2/4/25": "Reviewed goals.",
		"2/5/25": "Practiced breathing.",
		"2/6/25": "Reviewed homework.",
		"2/7/25": "Planned termination.",
	})
	// Ranked retrieval returns only the oldest documents; branches must not rely on it.
	r := NewRouter(store, WithSearchLimit(1), WithRecentSessions(1))

	tests := []struct {
		name      string
		patientID string
		text      string
		wants     []string
	}{
		{"latest session", "P003", "Show recent session notes", []string{"Most recent 1 session for patient P003", "Session 5 (2/7/25)", "Planned termination"}},
		{"briefing", "P003", "Brief me before the next session", []string{"Last session: Session 5 (2/7/25)"}},
		{"all measures", "P001", "Show PHQ9 scores", []string{"PHQ9 totals: 1/2/25: 12 → 10/21/25: 4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := r.Answer(context.Background(), tt.patientID, tt.text)
			for _, want := range tt.wants {
				if !strings.Contains(ans.Answer, want) {
					t.Errorf("answer missing %q:\n%s", want, ans.Answer)
				}
			}
		})
	}
}

func TestAnswer_Help(t *testing.T) {
	r := NewRouter(newFixture(t))
	ans := r.Answer(context.Background(), "P001", "hello")
	if ans.Intent != IntentDefault || !strings.Contains(ans.Answer, "I can answer questions about patient P001") {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestAnswer_MissingPatient(t *testing.T) {
	r := NewRouter(newFixture(t))
	ans := r.Answer(context.Background(), "  ", "Is sleep improving?")
	if ans.FoundDocuments != 0 || !strings.Contains(ans.Answer, "specify which patient") {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestAnswer_RecoversFromPanic(t *testing.T) {
	r := NewRouter(panicStore{})
	ans := r.Answer(context.Background(), "P001", "What is the diagnosis?")
	if ans.Answer != "I don't have diagnosis data for patient P001." || ans.FoundDocuments != 0 {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestClientSummary(t *testing.T) {
	r := NewRouter(newFixture(t))
	out := r.ClientSummary(context.Background(), "P001")
	for _, want := range []string{
		"Sessions completed: 2 of 3 scheduled (66.7%)",
		"Treatment period: 1/2/25 to 10/21/25",
		"Primary diagnosis: F41.1",
		"Cognitive Behavioral Therapy techniques (1 session)",
		"Notable progress in treatment goals",
		"Client engaged with homework assignments",
		"PHQ9: 12 (1/2/25) to 4 (10/21/25), -8, now minimal",
	} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("summary missing %q:\n%s", want, out.Text)
		}
	}

	empty := r.ClientSummary(context.Background(), "P999")
	if empty.Found != 0 || empty.Text != "I don't have session data for patient P999." {
		t.Errorf("unexpected empty summary %+v", empty)
	}
}
