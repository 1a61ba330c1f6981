package assistant

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/carelens/internal/docstore"
	"github.com/hyperjump/carelens/internal/embedding"
	"github.com/hyperjump/carelens/internal/extract"
	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/keyword"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/query"
	"github.com/hyperjump/carelens/internal/storage"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/internal/vector"
)

const dims = 128

const appointmentsCSV = `appointment_id,appointment_number,appointment_date,patient_id,client_id,provider_id,diagnosis,cpt_code,session_notes,is_completed,is_cancelled,is_no_show
A1,1,1/2/25,P001,C001,PR1,F41.1,90791,"Intake. Client reports trouble sleeping and worry about deadlines. Introduced CBT thought records.",true,false,false
A2,2,1/16/25,P001,C001,PR1,F41.1,90837,,false,true,false
A3,3,10/21/25,P001,C001,PR1,F41.1,90837,"Sleep improved to seven hours. Reviewed homework. Progress noted.",true,false,false
`

const measuresCSV = `client_id,patient_id,measure_date,measure_type,total_score,question_number,question_score
C001,P001,1/2/25,PHQ9,12,1,2
C001,P001,1/2/25,PHQ9,12,3,2
C001,P001,10/21/25,phq-9,4,1,1
C001,P001,10/21/25,phq-9,4,3,0
`

const summariesCSV = `client_id,patient_id,provider_id,appointments_scheduled,appointments_completed,appointments_canceled,appointments_no_show,first_appointment_date,last_appointment_date,appointment_completed_YTD
C001,P001,PR1,10,9,1,0,1/2/25,10/21/25,9
C002,P002,PR1,10,7,1,2,2/1/25,9/1/25,7
`

func newService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewSQLiteStorage(filepath.Join(dir, "carelens.db"))
	if err != nil {
		t.Fatal(err)
	}
	emb, err := embedding.NewHashingEmbedder(dims)
	if err != nil {
		t.Fatal(err)
	}
	vec, err := vector.NewMemoryIndex(dims)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	store := docstore.New(st, emb, vec, docstore.WithKeywordIndex(kw))
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	pipeline := ingest.NewPipeline(store, extract.NewExtractor(), ingest.WithMirror(st), ingest.WithChunking(50, 10))
	return New(store, pipeline, query.NewRouter(store))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func ingestFixtures(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	for name, content := range map[string]string{
		"patient_appointments.csv": appointmentsCSV,
		"client_measures.csv":      measuresCSV,
		"appointments.csv":         summariesCSV,
	} {
		res, err := s.IngestFile(ctx, writeFile(t, name, content), "")
		if err != nil {
			t.Fatalf("ingest %s: %v", name, err)
		}
		if len(res.Errors) > 0 {
			t.Fatalf("ingest %s: %v", name, res.Errors)
		}
	}
}

func TestService_PHQ9Trend(t *testing.T) {
	s := newService(t)
	ingestFixtures(t, s)

	res := s.GetTrend(context.Background(), "P001", trend.PHQ9)
	if !res.OK() {
		t.Fatalf("expected trend, got %+v", res.Insufficient)
	}
	q3, ok := res.Snapshot.Question(3)
	if !ok || q3.Baseline != 2 || q3.Latest != 0 || q3.Change != -2 || !q3.Improvement {
		t.Errorf("q3 = %+v", q3)
	}
	if res.Snapshot.TotalChange != -8 || res.Snapshot.Severity != trend.SeverityMinimal {
		t.Errorf("snapshot = %+v", res.Snapshot)
	}

	gad := s.GetTrend(context.Background(), "P001", trend.GAD7)
	if gad.OK() || gad.Insufficient.Found != 0 {
		t.Errorf("GAD7 should be insufficient with 0 found, got %+v", gad)
	}
}

func TestService_Answer(t *testing.T) {
	s := newService(t)
	ingestFixtures(t, s)
	ctx := context.Background()

	ans := s.Answer(ctx, "P001", "Is sleep improving?")
	if ans.Intent != query.IntentSleep {
		t.Fatalf("Intent = %s", ans.Intent)
	}
	if !strings.Contains(ans.Answer, "Change: -2 (improved)") {
		t.Errorf("sleep answer:\n%s", ans.Answer)
	}

	none := s.Answer(ctx, "P404", "What is the diagnosis?")
	if none.Answer != "I don't have diagnosis data for patient P404." || none.FoundDocuments != 0 {
		t.Errorf("no-data answer = %+v", none)
	}

	// No patient aggregate was ingested, so attendance comes from the sessions.
	att := s.Answer(ctx, "P001", "What is the no-show rate?")
	if !strings.Contains(att.Answer, "No-show rate: 0.0% (0/3)") {
		t.Errorf("attendance answer:\n%s", att.Answer)
	}
}

func TestService_IngestIdempotent(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	path := writeFile(t, "patient_appointments.csv", appointmentsCSV)
	for i := 0; i < 2; i++ {
		res, err := s.IngestFile(ctx, path, "")
		if err != nil {
			t.Fatal(err)
		}
		if res.Processed != 3 || res.Added != 3 {
			t.Errorf("run %d: processed %d added %d", i, res.Processed, res.Added)
		}
	}
	if n := s.Count(ctx); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestService_Analytics(t *testing.T) {
	s := newService(t)
	ingestFixtures(t, s)

	a, err := s.Analytics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a.TotalDocuments != 7 {
		t.Errorf("TotalDocuments = %d, want 7", a.TotalDocuments)
	}
	want := map[string]int{
		string(models.RecordDetailedAppointment): 3,
		string(models.RecordMeasure):             2,
		string(models.RecordAppointmentSummary):  2,
	}
	for k, v := range want {
		if a.CountsByType[k] != v {
			t.Errorf("CountsByType[%s] = %d, want %d", k, a.CountsByType[k], v)
		}
	}
	if a.UniquePatientCount != 2 || a.UniqueClientCount != 2 {
		t.Errorf("unique patients/clients = %d/%d", a.UniquePatientCount, a.UniqueClientCount)
	}
	pr := a.ProviderPerformance["PR1"]
	if pr.Scheduled != 20 || pr.Completed != 16 || pr.ClientsServed != 2 || pr.SuccessRate != 80 {
		t.Errorf("PR1 = %+v", pr)
	}
	if ids := Providers(a); len(ids) != 1 || ids[0] != "PR1" {
		t.Errorf("Providers = %v", ids)
	}
}

func TestService_Search(t *testing.T) {
	s := newService(t)
	ingestFixtures(t, s)
	ctx := context.Background()

	resp, err := s.Search(ctx, &models.SearchQuery{
		Query:  "trouble sleeping",
		Limit:  2,
		Filter: models.Filter{models.MetaType: string(models.RecordDetailedAppointment)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total == 0 || resp.Total > 2 {
		t.Fatalf("Total = %d", resp.Total)
	}
	for _, hit := range resp.Results {
		if hit.Metadata[models.MetaType] != string(models.RecordDetailedAppointment) {
			t.Errorf("filter not applied: %v", hit.Metadata)
		}
		if hit.Relevance != 1-hit.Distance {
			t.Errorf("relevance %f for distance %f", hit.Relevance, hit.Distance)
		}
	}

	kw, err := s.Search(ctx, &models.SearchQuery{Query: "homework", Keyword: true})
	if err != nil {
		t.Fatal(err)
	}
	if kw.Total != 1 || kw.Results[0].ID != "detailed_appointment_A3" {
		t.Errorf("keyword results = %+v", kw.Results)
	}

	if _, err := s.Search(ctx, &models.SearchQuery{}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestService_ClientSummaryAndDocuments(t *testing.T) {
	s := newService(t)
	ingestFixtures(t, s)
	ctx := context.Background()

	sum := s.ClientSummary(ctx, "P001")
	if !strings.Contains(sum.Text, "Sessions completed: 2 of 3 scheduled (66.7%)") {
		t.Errorf("summary:\n%s", sum.Text)
	}

	res, err := s.IngestDocumentBytes(ctx, "P001", "intake letter.txt", []byte("Referral for anxiety and poor sleep."))
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 {
		t.Errorf("Added = %d", res.Added)
	}
	doc, ok := s.Get(ctx, "client_document_P001_intake_letter_0")
	if !ok || doc.MetaString(models.MetaPatientID) != "P001" {
		t.Fatalf("attachment chunk missing: %+v", doc)
	}
	if !s.Delete(ctx, doc.ID) {
		t.Error("Delete returned false")
	}
}
