package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/pkg/utils"
	"go.uber.org/zap"
)

// Searcher is the document store surface the router reads from.
type Searcher interface {
	Search(ctx context.Context, queryText string, limit int, filter models.Filter) []models.SearchResult
	TextSearch(ctx context.Context, queryText string, limit int, filter models.Filter) []models.SearchResult
	Scan(ctx context.Context, filter models.Filter, limit int) []*models.Document
	MaxLimit() int
}

// Outcome is what a branch produced: the answer text and how many documents backed it.
// Found == 0 means the branch had no data and Text explains that.
type Outcome struct {
	Text  string
	Found int
}

// Answer is the reply to one question.
type Answer struct {
	PatientID      string `json:"patient_id"`
	Query          string `json:"query"`
	Intent         Intent `json:"intent"`
	Answer         string `json:"answer"`
	FoundDocuments int    `json:"found_documents"`
	DurationMs     int64  `json:"duration_ms"`
}

type handler func(ctx context.Context, r *request) Outcome

type request struct {
	patientID string
	q         *question
	topic     string
}

// Router classifies questions and runs the matching branch.
type Router struct {
	store          Searcher
	logger         *zap.Logger
	searchLimit    int
	recentSessions int
	handlers       map[Intent]handler
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger for routing decisions and branch failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithSearchLimit caps how many documents a ranked or keyword retrieval may return.
func WithSearchLimit(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.searchLimit = n
		}
	}
}

// WithRecentSessions sets how many sessions the session-notes branch reports.
func WithRecentSessions(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.recentSessions = n
		}
	}
}

// NewRouter creates a router reading from store.
func NewRouter(store Searcher, opts ...Option) *Router {
	r := &Router{
		store:          store,
		searchLimit:    200,
		recentSessions: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	r.handlers = map[Intent]handler{
		IntentSleep:             r.sleep,
		IntentCBT:               r.cbt,
		IntentAssessment:        r.assessment,
		IntentProgress:          r.progress,
		IntentDiagnosis:         r.diagnosis,
		IntentAttendance:        r.attendance,
		IntentWorkStress:        r.cluster(workStressCluster),
		IntentMedication:        r.cluster(medicationCluster),
		IntentDistressTolerance: r.cluster(distressCluster),
		IntentModality:          r.modality,
		IntentFluctuation:       r.fluctuation,
		IntentTriggers:          r.cluster(triggerCluster),
		IntentBilling:           r.billing,
		IntentHomework:          r.cluster(homeworkCluster),
		IntentExposure:          r.cluster(exposureCluster),
		IntentScoreTrend:        r.scoreTrend,
		IntentBriefing:          r.briefing,
		IntentIntersession:      r.intersession,
		IntentMood:              r.mood,
		IntentTreatmentSummary:  r.treatmentSummary,
		IntentSessionNotes:      r.sessionNotes,
	}
	return r
}

// Answer classifies text and answers it for patientID. It never fails: retrieval problems
// and branch errors come back as a no-data answer with FoundDocuments == 0.
func (r *Router) Answer(ctx context.Context, patientID, text string) Answer {
	start := time.Now()
	patientID = strings.TrimSpace(patientID)
	q := newQuestion(text)
	ans := Answer{PatientID: patientID, Query: text}

	rl, ok := classify(q)
	switch {
	case patientID == "":
		ans.Answer = "Please specify which patient the question is about."
	case !ok:
		ans.Intent = IntentDefault
		ans.Answer = helpMenu(patientID)
	default:
		ans.Intent = rl.intent
		out := r.dispatch(ctx, rl, &request{patientID: patientID, q: q, topic: rl.topic})
		ans.Answer, ans.FoundDocuments = out.Text, out.Found
	}
	ans.DurationMs = time.Since(start).Milliseconds()
	r.logger.Debug("query routed",
		zap.String("patient_id", patientID),
		zap.Stringer("intent", ans.Intent),
		zap.Int("found", ans.FoundDocuments),
		zap.Int64("duration_ms", ans.DurationMs),
	)
	return ans
}

func (r *Router) dispatch(ctx context.Context, rl rule, req *request) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("query branch failed",
				zap.Stringer("intent", rl.intent),
				zap.String("patient_id", req.patientID),
				zap.Any("panic", rec),
			)
			out = noData(req)
		}
	}()
	h, ok := r.handlers[rl.intent]
	if !ok {
		return Outcome{Text: helpMenu(req.patientID)}
	}
	out = h(ctx, req)
	if out.Found == 0 && out.Text == "" {
		out = noData(req)
	}
	return out
}

func noData(req *request) Outcome {
	return Outcome{Text: fmt.Sprintf("I don't have %s data for patient %s.", req.topic, req.patientID)}
}

func helpMenu(patientID string) string {
	lines := []string{
		"I can answer questions about patient " + patientID + " such as:",
		"- Sleep: \"Is sleep improving?\"",
		"- CBT and techniques: \"When was CBT first introduced?\"",
		"- Assessments: \"Which PHQ9 questions are driving the change?\" or \"Show GAD7 scores\"",
		"- Progress: \"Is the patient getting better?\"",
		"- Diagnosis: \"What is the diagnosis?\"",
		"- Attendance: \"What is the no-show rate?\" or \"When was the first appointment?\"",
		"- Themes: work stress, medication, distress tolerance, treatment approaches, symptom fluctuation, triggers, homework, exposure therapy, mood",
		"- Billing: \"Which CPT codes were billed?\"",
		"- Planning: \"Brief me before the next session\", \"Any updates since last session?\", \"What have we worked on?\"",
		"- Sessions: \"Show recent session notes\"",
	}
	return strings.Join(lines, "\n")
}

// sessions returns every detailed appointment of the patient, oldest first. Branches that
// report chronology read the full history rather than the top of a similarity ranking.
func (r *Router) sessions(ctx context.Context, patientID string) []*models.Document {
	docs := r.scan(ctx, models.Filter{
		models.MetaPatientID: patientID,
		models.MetaType:      string(models.RecordDetailedAppointment),
	})
	dates.SortDocuments(docs, models.MetaAppointmentDate)
	return docs
}

// measures returns every assessment document of the patient, oldest first.
func (r *Router) measures(ctx context.Context, patientID string) []*models.Document {
	docs := r.scan(ctx, models.Filter{
		models.MetaPatientID: patientID,
		models.MetaType:      string(models.RecordMeasure),
	})
	dates.SortDocuments(docs, models.MetaMeasureDate)
	return docs
}

// aggregate retrieves the patient's attendance summary, if one was ingested.
func (r *Router) aggregate(ctx context.Context, patientID string) *models.Document {
	res := r.store.Search(ctx, "patient summary appointments scheduled completed canceled no shows", 1, models.Filter{
		models.MetaPatientID: patientID,
		models.MetaType:      string(models.RecordPatientAggregate),
	})
	if len(res) == 0 {
		return nil
	}
	return res[0].Document
}

// noteMentions finds the patient's session notes mentioning term through the keyword
// index, oldest first.
func (r *Router) noteMentions(ctx context.Context, patientID, term string) []*models.Document {
	res := r.store.TextSearch(ctx, term, r.searchLimit, models.Filter{
		models.MetaPatientID: patientID,
		models.MetaType:      string(models.RecordDetailedAppointment),
	})
	docs := documents(res)
	dates.SortDocuments(docs, models.MetaAppointmentDate)
	return docs
}

func (r *Router) scan(ctx context.Context, filter models.Filter) []*models.Document {
	return r.store.Scan(ctx, filter, r.store.MaxLimit())
}

func documents(res []models.SearchResult) []*models.Document {
	docs := make([]*models.Document, 0, len(res))
	for _, sr := range res {
		if sr.Document != nil {
			docs = append(docs, sr.Document)
		}
	}
	return docs
}

// trends computes the trend of every instrument from the patient's measures.
func trends(patientID string, measures []*models.Document) map[trend.Instrument]trend.Result {
	out := make(map[trend.Instrument]trend.Result, len(trend.Instruments))
	for _, inst := range trend.Instruments {
		out[inst] = trend.Compute(patientID, inst, measures)
	}
	return out
}
