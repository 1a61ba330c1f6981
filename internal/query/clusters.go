package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/carelens/internal/dates"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/trend"
)

// latestKey sorts after every normalized date.
const latestKey = "9999-12-31"

// clusterDef describes a theme answered by quoting the session notes that mention it.
type clusterDef struct {
	title    string
	keywords []string
}

var (
	workStressCluster = clusterDef{
		title:    "Work stress",
		keywords: []string{"work", "workload", "job", "jobs", "boss", "workplace", "coworker*", "career", "deadline*", "office", "manager"},
	}
	medicationCluster = clusterDef{
		title:    "Medication",
		keywords: []string{"medication*", "meds", "prescri*", "dose*", "dosage", "ssri*", "antidepressant*", "psychiatrist", "side effect*"},
	}
	distressCluster = clusterDef{
		title:    "Distress tolerance",
		keywords: []string{"distress", "tolerance", "self-soothe", "self soothe", "radical acceptance", "tipp", "crisis", "dbt"},
	}
	triggerCluster = clusterDef{
		title:    "Triggers",
		keywords: []string{"trigger*", "stressor*", "set off", "conflict*", "overwhelm*"},
	}
	homeworkCluster = clusterDef{
		title:    "Homework",
		keywords: []string{"homework", "assignment*", "worksheet*", "practice*", "thought record*", "journal*", "log", "logs", "logged"},
	}
	exposureCluster = clusterDef{
		title:    "Exposure therapy",
		keywords: []string{"exposure*", "hierarchy", "avoid*", "in vivo", "suds", "fear ladder"},
	}
)

// cluster answers def's theme by listing each session whose notes mention it.
func (r *Router) cluster(def clusterDef) handler {
	return func(ctx context.Context, req *request) Outcome {
		sessions := r.sessions(ctx, req.patientID)
		var lines []string
		for _, doc := range sessions {
			if s := sentencesWith(sessionNotes(doc), def.keywords...); len(s) > 0 {
				lines = append(lines, fmt.Sprintf("- %s: %s", sessionLabel(doc), excerpt(strings.Join(s, " "))))
			}
		}
		if len(lines) == 0 {
			return Outcome{}
		}
		text := fmt.Sprintf("%s for patient %s comes up in %d of %s:\n%s",
			def.title, req.patientID, len(lines), plural(len(sessions), "session", "sessions"), strings.Join(lines, "\n"))
		return Outcome{Text: text, Found: len(lines)}
	}
}

type modality struct {
	name     string
	keywords []string
}

var modalities = []modality{
	{"CBT", []string{"cbt", "cognitive", "thought record*", "core belief*", "refram*", "restructur*"}},
	{"DBT", []string{"dbt", "distress tolerance", "emotion regulation", "wise mind", "radical acceptance"}},
	{"Exposure", []string{"exposure*", "hierarchy", "in vivo", "suds"}},
	{"Interpersonal", []string{"interpersonal", "relationship*", "communicat*", "assertive*", "boundar*"}},
	{"Mindfulness", []string{"mindful*", "grounding", "breathing", "meditat*", "body scan"}},
	{"Psychoeducation", []string{"psychoeducation", "educated", "explained"}},
	{"ACT", []string{"acceptance and commitment", "values", "defusion"}},
	{"Motivational interviewing", []string{"motivational", "ambivalen*", "change talk"}},
}

func (r *Router) modality(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	type usage struct {
		name        string
		count       int
		first, last string
	}
	var used []usage
	for _, m := range modalities {
		u := usage{name: m.name}
		for _, doc := range sessions {
			if mentions(sessionNotes(doc), m.keywords...) {
				if u.count == 0 {
					u.first = sessionLabel(doc)
				}
				u.last = sessionLabel(doc)
				u.count++
			}
		}
		if u.count > 0 {
			used = append(used, u)
		}
	}
	if len(used) == 0 {
		return Outcome{}
	}
	sort.SliceStable(used, func(i, j int) bool { return used[i].count > used[j].count })

	var b strings.Builder
	fmt.Fprintf(&b, "Treatment approaches for patient %s across %s:\n",
		req.patientID, plural(len(sessions), "session", "sessions"))
	for _, u := range used {
		fmt.Fprintf(&b, "- %s: %s, first in %s", u.name, plural(u.count, "session", "sessions"), u.first)
		if u.count > 1 {
			fmt.Fprintf(&b, ", most recently %s", u.last)
		}
		b.WriteString("\n")
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(sessions)}
}

var fluctuationWords = []string{"fluctuat*", "worse", "setback*", "relapse*", "spike*", "better", "up and down", "variable"}

// swings summarises consecutive changes in a series.
type swings struct {
	low, high     trend.Point
	biggestRise   int
	biggestDrop   int
	reversals     int
	readingsCount int
}

func measureSwings(points []trend.Point) swings {
	s := swings{low: points[0], high: points[0], readingsCount: len(points)}
	prev := 0
	for i := 1; i < len(points); i++ {
		p := points[i]
		if p.Score < s.low.Score {
			s.low = p
		}
		if p.Score > s.high.Score {
			s.high = p
		}
		d := p.Score - points[i-1].Score
		if d > s.biggestRise {
			s.biggestRise = d
		}
		if -d > s.biggestDrop {
			s.biggestDrop = -d
		}
		if d != 0 {
			if prev != 0 && (d > 0) != (prev > 0) {
				s.reversals++
			}
			prev = d
		}
	}
	return s
}

func (r *Router) fluctuation(ctx context.Context, req *request) Outcome {
	measures := r.measures(ctx, req.patientID)
	var b strings.Builder
	found := 0
	fmt.Fprintf(&b, "Symptom fluctuation for patient %s:\n", req.patientID)
	for _, inst := range trend.Instruments {
		series := trend.TotalSeries(inst, measures)
		if len(series) < 2 {
			continue
		}
		found += len(series)
		s := measureSwings(series)
		fmt.Fprintf(&b, "\n%s over %d readings: range %d (%s) to %d (%s), biggest rise %+d, biggest drop -%d, %s.\n",
			inst, s.readingsCount, s.low.Score, s.low.Date, s.high.Score, s.high.Date,
			s.biggestRise, s.biggestDrop, plural(s.reversals, "change of direction", "changes of direction"))
		fmt.Fprintf(&b, "Readings: %s\n", trend.FormatSeries(series))
	}

	var lines []string
	for _, doc := range r.sessions(ctx, req.patientID) {
		if s := sentencesWith(sessionNotes(doc), fluctuationWords...); len(s) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", sessionLabel(doc), excerpt(s[0])))
		}
	}
	if len(lines) > 0 {
		b.WriteString("\nSession notes:\n" + strings.Join(lines, "\n"))
		found += len(lines)
	}
	if found == 0 {
		return Outcome{}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func (r *Router) billing(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	if len(sessions) == 0 {
		return Outcome{}
	}
	codes := make(map[string]int)
	var order []string
	statuses := make(map[string]int)
	for _, doc := range sessions {
		code := doc.MetaString(models.MetaCPTCode)
		if code == "" {
			code = "Unknown"
		}
		if codes[code] == 0 {
			order = append(order, code)
		}
		codes[code]++
		statuses[doc.MetaString(models.MetaStatus)]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Billing for patient %s (%s):\n", req.patientID, plural(len(sessions), "appointment", "appointments"))
	b.WriteString("\nCPT codes:\n")
	for _, code := range order {
		fmt.Fprintf(&b, "- %s: %s\n", code, plural(codes[code], "appointment", "appointments"))
	}
	b.WriteString("\nBillable status:\n")
	for _, st := range []string{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow, models.StatusScheduled} {
		if n := statuses[st]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", st, n)
		}
	}
	fmt.Fprintf(&b, "\nCompleted sessions billable: %d of %d.", statuses[models.StatusCompleted], len(sessions))
	return Outcome{Text: b.String(), Found: len(sessions)}
}

func (r *Router) scoreTrend(ctx context.Context, req *request) Outcome {
	measures := r.measures(ctx, req.patientID)
	var b strings.Builder
	found := 0
	fmt.Fprintf(&b, "Score trend for patient %s:\n", req.patientID)
	for _, inst := range trend.Instruments {
		series := trend.TotalSeries(inst, measures)
		if len(series) == 0 {
			continue
		}
		found += len(series)
		fmt.Fprintf(&b, "\n%s:\n", inst)
		for _, p := range series {
			fmt.Fprintf(&b, "- %s: %d (%s)\n", p.Date, p.Score, inst.Severity(p.Score))
		}
		if res := trend.Compute(req.patientID, inst, measures); res.OK() {
			s := res.Snapshot
			fmt.Fprintf(&b, "Overall %+d (%s) from %s to %s.\n", s.TotalChange, direction(s.TotalChange), s.BaselineDate, s.LatestDate)
		}
	}
	if found == 0 {
		return Outcome{}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func (r *Router) briefing(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	measures := r.measures(ctx, req.patientID)
	if len(sessions) == 0 && len(measures) == 0 {
		return Outcome{}
	}

	var b strings.Builder
	found := 0
	fmt.Fprintf(&b, "Pre-session briefing for patient %s:\n", req.patientID)
	if len(sessions) > 0 {
		last := sessions[len(sessions)-1]
		found += len(sessions)
		fmt.Fprintf(&b, "\nLast session: %s, %s\n", sessionLabel(last), last.MetaString(models.MetaStatus))
		if d := diagnosis(last); d != "" {
			fmt.Fprintf(&b, "Diagnosis: %s\n", d)
		}
		if notes := sessionNotes(last); notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", excerpt(notes))
		}
		if hw := sentencesWith(sessionNotes(last), homeworkCluster.keywords...); len(hw) > 0 {
			fmt.Fprintf(&b, "Follow up on: %s\n", excerpt(strings.Join(hw, " ")))
		}
	}

	assessments := trendAssessments(measures)
	if scores := scoresAsOf(assessments, latestKey); scores != "" {
		found += len(assessments)
		fmt.Fprintf(&b, "\nLatest scores: %s\n", scores)
		all := trends(req.patientID, measures)
		for _, inst := range trend.Instruments {
			if res := all[inst]; res.OK() {
				fmt.Fprintf(&b, "%s since baseline: %+d (%s)\n", inst, res.Snapshot.TotalChange, direction(res.Snapshot.TotalChange))
			}
		}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func (r *Router) intersession(ctx context.Context, req *request) Outcome {
	sessions := r.sessions(ctx, req.patientID)
	if len(sessions) == 0 {
		return Outcome{}
	}
	last := sessions[len(sessions)-1]
	var b strings.Builder
	found := 1
	fmt.Fprintf(&b, "Updates for patient %s since the previous session:\n", req.patientID)
	if len(sessions) == 1 {
		fmt.Fprintf(&b, "\nOnly one session on record: %s.\n", sessionLabel(last))
	} else {
		prev := sessions[len(sessions)-2]
		found++
		fmt.Fprintf(&b, "\nPrevious: %s, %s\n", sessionLabel(prev), prev.MetaString(models.MetaStatus))
		fmt.Fprintf(&b, "Latest: %s, %s\n", sessionLabel(last), last.MetaString(models.MetaStatus))
		if dp, dl := diagnosis(prev), diagnosis(last); dp != dl && dl != "" {
			fmt.Fprintf(&b, "Diagnosis changed: %s → %s\n", orNone(dp), dl)
		}

		since := dates.Normalize(prev.MetaString(models.MetaAppointmentDate))
		var fresh []string
		for _, a := range trendAssessments(r.measures(ctx, req.patientID)) {
			if a.DateKey > since {
				fresh = append(fresh, fmt.Sprintf("%s %d on %s (%s)", a.inst, a.Total, a.Date, a.inst.Severity(a.Total)))
			}
		}
		if len(fresh) > 0 {
			found += len(fresh)
			fmt.Fprintf(&b, "New assessments: %s\n", strings.Join(fresh, ", "))
		}
	}
	if notes := sessionNotes(last); notes != "" {
		fmt.Fprintf(&b, "Latest notes: %s\n", excerpt(notes))
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: found}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

var moodWords = []string{"mood*", "depress*", "sad", "sadness", "down", "hopeless*", "irritab*", "angry", "anger",
	"happy", "happier", "happiness", "content", "low", "tearful"}

func (r *Router) mood(ctx context.Context, req *request) Outcome {
	// PHQ9 question 2 asks about feeling down, depressed, or hopeless.
	series := trend.QuestionSeries(trend.PHQ9, r.measures(ctx, req.patientID), 2)
	var lines []string
	for _, doc := range r.sessions(ctx, req.patientID) {
		if s := sentencesWith(sessionNotes(doc), moodWords...); len(s) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", sessionLabel(doc), excerpt(s[0])))
		}
	}
	if len(series) == 0 && len(lines) == 0 {
		return Outcome{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mood for patient %s:\n", req.patientID)
	if len(series) > 0 {
		fmt.Fprintf(&b, "PHQ9 question 2 (feeling down, 0-3): %s\n", trend.FormatSeries(series))
		if len(series) > 1 {
			change := series[len(series)-1].Score - series[0].Score
			fmt.Fprintf(&b, "Change: %+d (%s)\n", change, direction(change))
		}
	}
	if len(lines) > 0 {
		fmt.Fprintf(&b, "\nSession notes on mood (%s):\n%s", plural(len(lines), "session", "sessions"), strings.Join(lines, "\n"))
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(series) + len(lines)}
}

func (r *Router) treatmentSummary(ctx context.Context, req *request) Outcome {
	return r.summarize(ctx, req.patientID)
}
