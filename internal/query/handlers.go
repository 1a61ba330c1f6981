package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/pkg/utils"
)

var (
	sleepWords     = []string{"sleep*", "slept", "insomnia", "nightmare*", "tired", "rest", "rested", "restful"}
	cbtIndicators  = []string{"cbt", "cognitive", "behavioral", "homework", "belief*", "thought*", "pattern*"}
	timingWords    = []string{"when", "first", "introduced", "started", "start", "began", "begin"}
	startWords     = timingWords[1:]
	whichQuestion  = []string{"which question", "what question", "which item", "driving", "biggest", "most improved", "worst", "contribut"}
	anxietyWords   = []string{"anxiety", "anxious", "gad", "worry", "worries", "nervous", "panic"}
	progressWindow = 3
)

func direction(change int) string {
	switch {
	case change < 0:
		return "improved"
	case change > 0:
		return "worsened"
	default:
		return "unchanged"
	}
}

func (r *Router) sleep(ctx context.Context, req *request) Outcome {
	series := trend.QuestionSeries(trend.PHQ9, r.measures(ctx, req.patientID), 3)
	notes := r.noteMentions(ctx, req.patientID, "sleep sleeping slept insomnia nightmares tired rest")

	var b strings.Builder
	fmt.Fprintf(&b, "Sleep for patient %s, PHQ9 question 3 (trouble sleeping, 0-3):\n", req.patientID)
	switch len(series) {
	case 0:
		b.WriteString("- No PHQ9 question 3 scores on record.\n")
	case 1:
		fmt.Fprintf(&b, "- One reading so far: %d on %s. A trend needs at least 2 assessments.\n", series[0].Score, series[0].Date)
	default:
		first, last := series[0], series[len(series)-1]
		change := last.Score - first.Score
		fmt.Fprintf(&b, "- Baseline (%s): %d\n", first.Date, first.Score)
		fmt.Fprintf(&b, "- Latest (%s): %d\n", last.Date, last.Score)
		fmt.Fprintf(&b, "- Change: %+d (%s)\n", change, direction(change))
		fmt.Fprintf(&b, "- Readings: %s\n", trend.FormatSeries(series))
	}

	var mentionLines []string
	for _, doc := range notes {
		if s := sentencesWith(sessionNotes(doc), sleepWords...); len(s) > 0 {
			mentionLines = append(mentionLines, fmt.Sprintf("- %s: %s", sessionLabel(doc), excerpt(s[0])))
		}
	}
	if len(series) == 0 && len(mentionLines) == 0 {
		return Outcome{}
	}
	if len(mentionLines) > 0 {
		fmt.Fprintf(&b, "\nSession notes mentioning sleep (%s):\n", plural(len(mentionLines), "session", "sessions"))
		b.WriteString(strings.Join(mentionLines, "\n"))
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(series) + len(mentionLines)}
}

func (r *Router) cbt(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	var matched []*models.Document
	for _, doc := range sessions {
		if mentions(sessionNotes(doc), cbtIndicators...) {
			matched = append(matched, doc)
		}
	}
	if len(matched) == 0 {
		return Outcome{}
	}

	if req.q.has(timingWords...) {
		first := matched[0]
		lines := sentencesWith(sessionNotes(first), cbtIndicators...)
		text := fmt.Sprintf("CBT work for patient %s first appears in %s.", req.patientID, sessionLabel(first))
		if len(lines) > 0 {
			text += "\nNote: " + excerpt(lines[0])
		}
		return Outcome{Text: text, Found: 1}
	}

	counts := make(map[string]int, len(cbtIndicators))
	for _, doc := range matched {
		notes := words(strings.ToLower(sessionNotes(doc)))
		for _, ind := range cbtIndicators {
			if hasAnyTerm(notes, ind) {
				counts[ind]++
			}
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CBT indicators for patient %s appear in %d of %s:\n",
		req.patientID, len(matched), plural(len(sessions), "session", "sessions"))
	for _, ind := range cbtIndicators {
		if counts[ind] > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", strings.TrimSuffix(ind, "*"), plural(counts[ind], "session", "sessions"))
		}
	}
	b.WriteString("\nMost recent CBT-related note:\n")
	last := matched[len(matched)-1]
	if lines := sentencesWith(sessionNotes(last), cbtIndicators...); len(lines) > 0 {
		fmt.Fprintf(&b, "- %s: %s", sessionLabel(last), excerpt(lines[0]))
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(matched)}
}

func (r *Router) assessment(ctx context.Context, req *request) Outcome {
	measures := r.measures(ctx, req.patientID)
	if len(measures) == 0 {
		return Outcome{}
	}

	if req.q.has(whichQuestion...) {
		inst := trend.PHQ9
		if req.q.has(anxietyWords...) {
			inst = trend.GAD7
		}
		res := trend.Compute(req.patientID, inst, measures)
		if !res.OK() {
			return Outcome{Text: res.Insufficient.Message(), Found: res.Insufficient.Found}
		}
		return Outcome{Text: formatRanking(res.Snapshot), Found: res.Snapshot.AssessmentCount}
	}

	insts := trend.Instruments
	switch {
	case req.q.has("phq") && !req.q.has("gad"):
		insts = []trend.Instrument{trend.PHQ9}
	case req.q.has("gad") && !req.q.has("phq"):
		insts = []trend.Instrument{trend.GAD7}
	}
	var b strings.Builder
	found := 0
	fmt.Fprintf(&b, "Assessment scores for patient %s:\n", req.patientID)
	for _, inst := range insts {
		series := trend.TotalSeries(inst, measures)
		if len(series) == 0 {
			fmt.Fprintf(&b, "\n%s: no assessments on record.\n", inst)
			continue
		}
		found += len(series)
		fmt.Fprintf(&b, "\n%s totals: %s\n", inst, trend.FormatSeries(series))
		res := trend.Compute(req.patientID, inst, measures)
		if res.OK() {
			s := res.Snapshot
			fmt.Fprintf(&b, "Change %s to %s: %+d (%s), latest severity %s.\n",
				s.BaselineDate, s.LatestDate, s.TotalChange, direction(s.TotalChange), s.Severity)
		} else {
			last := series[len(series)-1]
			fmt.Fprintf(&b, "Latest severity %s. A trend needs at least 2 assessments.\n", inst.Severity(last.Score))
		}
	}
	if found == 0 {
		return Outcome{}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func formatRanking(s *trend.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s question changes for patient %s, %s (total %d) to %s (total %d):\n",
		s.Instrument, s.PatientID, s.BaselineDate, s.BaselineTotal, s.LatestDate, s.LatestTotal)
	write := func(title string, changes []trend.QuestionChange) {
		if len(changes) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, c := range changes {
			fmt.Fprintf(&b, "- Q%d: %d → %d (%+d)\n", c.Question, c.Baseline, c.Latest, c.Change)
		}
	}
	write("Biggest improvements", s.Improvements)
	write("Worsening", s.Worsenings)
	if len(s.Stable) > 0 {
		qs := make([]string, len(s.Stable))
		for i, c := range s.Stable {
			qs[i] = fmt.Sprintf("Q%d", c.Question)
		}
		fmt.Fprintf(&b, "\nUnchanged: %s\n", strings.Join(qs, ", "))
	}
	fmt.Fprintf(&b, "\nTotal change %+d, latest severity %s.", s.TotalChange, s.Severity)
	return b.String()
}

func (r *Router) progress(ctx context.Context, req *request) Outcome {
	measures := r.measures(ctx, req.patientID)
	sessions := r.sessions(ctx, req.patientID)

	var b strings.Builder
	found := 0
	fmt.Fprintf(&b, "Progress for patient %s:\n", req.patientID)
	for _, inst := range trend.Instruments {
		res := trend.Compute(req.patientID, inst, measures)
		if res.OK() {
			s := res.Snapshot
			found += s.AssessmentCount
			fmt.Fprintf(&b, "- %s: %d → %d (%+d, %s), now %s.\n",
				inst, s.BaselineTotal, s.LatestTotal, s.TotalChange, direction(s.TotalChange), s.Severity)
		} else if res.Insufficient.Found > 0 {
			found += res.Insufficient.Found
			fmt.Fprintf(&b, "- %s: %d assessment on record, not enough for a trend.\n", inst, res.Insufficient.Found)
		}
	}

	recent := sessions
	if len(recent) > progressWindow {
		recent = recent[len(recent)-progressWindow:]
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent sessions:\n")
		for _, doc := range recent {
			notes := sentences(sessionNotes(doc))
			summary := "no notes recorded"
			if len(notes) > 0 {
				summary = excerpt(notes[0])
			}
			fmt.Fprintf(&b, "- %s: %s\n", sessionLabel(doc), summary)
		}
		found += len(recent)
	}
	if found == 0 {
		return Outcome{}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func (r *Router) diagnosis(ctx context.Context, req *request) Outcome {
	res := r.store.Search(ctx, "diagnosis ICD code clinical information", r.searchLimit,
		models.Filter{models.MetaPatientID: req.patientID})
	var primary *models.Document
	for _, sr := range res {
		if sr.Document != nil && diagnosis(sr.Document) != "" {
			primary = sr.Document
			break
		}
	}
	if primary == nil {
		return Outcome{}
	}

	text := fmt.Sprintf("Diagnosis for patient %s: %s", req.patientID, diagnosis(primary))
	if date := primary.MetaString(models.MetaAppointmentDate); date != "" {
		text += fmt.Sprintf(" (recorded %s)", date)
	}

	docs := documents(res)
	dates.SortDocuments(docs, models.MetaAppointmentDate)
	var history []string
	seen := make(map[string]bool)
	for _, doc := range docs {
		d := diagnosis(doc)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		history = append(history, fmt.Sprintf("- %s since %s", d, doc.MetaString(models.MetaAppointmentDate)))
	}
	if len(history) > 1 {
		text += "\n\nDiagnoses over time:\n" + strings.Join(history, "\n")
	}
	return Outcome{Text: text, Found: 1}
}

// attendanceStats are the counts behind the attendance facts.
type attendanceStats struct {
	source      string
	first, last string
	total       int
	completed   int
	canceled    int
	noShow      int
}

func (r *Router) attendance(ctx context.Context, req *request) Outcome {
	var (
		st    attendanceStats
		found int
	)
	if agg := r.aggregate(ctx, req.patientID); agg != nil {
		st.source = "patient summary"
		st.first = agg.MetaString(models.MetaFirstDate)
		st.last = agg.MetaString(models.MetaLastDate)
		st.total, _ = agg.MetaInt(models.MetaScheduled)
		st.completed, _ = agg.MetaInt(models.MetaCompleted)
		st.canceled, _ = agg.MetaInt(models.MetaCanceled)
		st.noShow, _ = agg.MetaInt(models.MetaNoShow)
		found = 1
	} else {
		sessions := r.sessions(ctx, req.patientID)
		if len(sessions) == 0 {
			return Outcome{}
		}
		st.source = plural(len(sessions), "appointment record", "appointment records")
		st.first = sessions[0].MetaString(models.MetaAppointmentDate)
		st.last = sessions[len(sessions)-1].MetaString(models.MetaAppointmentDate)
		st.total = len(sessions)
		for _, doc := range sessions {
			switch doc.MetaString(models.MetaStatus) {
			case models.StatusCompleted:
				st.completed++
			case models.StatusCancelled:
				st.canceled++
			case models.StatusNoShow:
				st.noShow++
			}
		}
		found = len(sessions)
	}

	facts := []fact{
		{req.q.has("first"), "First appointment: " + st.first},
		{req.q.has("last"), "Last appointment: " + st.last},
		{req.q.has("complet", "success", "attendance"), rateLine("Completion rate", st.completed, st.total)},
		{req.q.has("cancel"), rateLine("Cancel rate", st.canceled, st.total)},
		{req.q.has("no-show", "no show", "noshow", "missed"), rateLine("No-show rate", st.noShow, st.total)},
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Attendance for patient %s (from %s):\n", req.patientID, st.source)
	writeFacts(&b, facts)
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func rateLine(label string, part, whole int) string {
	return fmt.Sprintf("%s: %.1f%% (%d/%d)", label, utils.Percent(part, whole), part, whole)
}

type fact struct {
	want bool
	line string
}

// writeFacts writes the requested facts as a list, or all of them when none was asked for.
func writeFacts(b *strings.Builder, facts []fact) {
	asked := false
	for _, f := range facts {
		asked = asked || f.want
	}
	for _, f := range facts {
		if f.want || !asked {
			fmt.Fprintf(b, "- %s\n", f.line)
		}
	}
}

func (r *Router) sessionNotes(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	if len(sessions) == 0 {
		return Outcome{}
	}
	recent := sessions
	if len(recent) > r.recentSessions {
		recent = recent[len(recent)-r.recentSessions:]
	}
	measures := trendAssessments(r.measures(ctx, req.patientID))

	var b strings.Builder
	fmt.Fprintf(&b, "Most recent %s for patient %s:\n", plural(len(recent), "session", "sessions"), req.patientID)
	for i := len(recent) - 1; i >= 0; i-- {
		doc := recent[i]
		fmt.Fprintf(&b, "\n%s, %s", sessionLabel(doc), doc.MetaString(models.MetaStatus))
		if d := diagnosis(doc); d != "" {
			fmt.Fprintf(&b, ", diagnosis %s", d)
		}
		b.WriteString("\n")
		if notes := sessionNotes(doc); notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", excerpt(notes))
		}
		if scores := scoresAsOf(measures, dates.Normalize(doc.MetaString(models.MetaAppointmentDate))); scores != "" {
			fmt.Fprintf(&b, "Latest scores at the time: %s\n", scores)
		}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(recent)}
}

type datedAssessment struct {
	inst trend.Instrument
	trend.Assessment
}

func trendAssessments(measures []*models.Document) []datedAssessment {
	var out []datedAssessment
	for _, inst := range trend.Instruments {
		for _, a := range trend.Collect(inst, measures) {
			out = append(out, datedAssessment{inst: inst, Assessment: a})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateKey < out[j].DateKey })
	return out
}

// scoresAsOf renders the most recent total of each instrument dated on or before key.
func scoresAsOf(assessments []datedAssessment, key string) string {
	latest := make(map[trend.Instrument]datedAssessment)
	for _, a := range assessments {
		if a.DateKey <= key {
			latest[a.inst] = a
		}
	}
	var parts []string
	for _, inst := range trend.Instruments {
		if a, ok := latest[inst]; ok {
			parts = append(parts, fmt.Sprintf("%s %d (%s, %s)", inst, a.Total, a.Date, inst.Severity(a.Total)))
		}
	}
	return strings.Join(parts, ", ")
}
