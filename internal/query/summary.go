package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/pkg/utils"
)

const (
	summaryFindings   = 5
	summaryHighlights = 3
)

// ClientSummary reports the patient's treatment so far: attendance, treatment period,
// primary diagnosis, recurring themes from the session notes and assessment outcomes.
func (r *Router) ClientSummary(ctx context.Context, patientID string) Outcome {
	patientID = strings.TrimSpace(patientID)
	out := r.summarize(ctx, patientID)
	if out.Found == 0 && out.Text == "" {
		out = noData(&request{patientID: patientID, topic: "session"})
	}
	return out
}

func (r *Router) summarize(ctx context.Context, patientID string) Outcome {
	sessions := r.sessions(ctx, patientID)
	if len(sessions) == 0 {
		return Outcome{}
	}

	var completed []*models.Document
	notes := make([]string, 0, len(sessions))
	primary := ""
	for _, doc := range sessions {
		if doc.MetaString(models.MetaStatus) == models.StatusCompleted {
			completed = append(completed, doc)
		}
		if n := sessionNotes(doc); n != "" {
			notes = append(notes, n)
		}
		if primary == "" {
			primary = diagnosis(doc)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Client treatment summary for patient %s\n", patientID)
	b.WriteString("\nTreatment overview:\n")
	fmt.Fprintf(&b, "- Sessions completed: %d of %d scheduled (%.1f%%)\n",
		len(completed), len(sessions), utils.Percent(len(completed), len(sessions)))
	fmt.Fprintf(&b, "- Treatment period: %s to %s\n",
		sessions[0].MetaString(models.MetaAppointmentDate), sessions[len(sessions)-1].MetaString(models.MetaAppointmentDate))
	fmt.Fprintf(&b, "- Primary diagnosis: %s\n", orUnknown(primary))

	analysis := AnalyzeNotes(notes...)
	writeFindings(&b, "Treatment themes", analysis.Themes)
	writeFindings(&b, "Progress indicators", analysis.Progress)
	writeFindings(&b, "Clinical observations", analysis.Insights)

	measures := r.measures(ctx, patientID)
	var outcomes []string
	for _, inst := range trend.Instruments {
		res := trend.Compute(patientID, inst, measures)
		if !res.OK() {
			continue
		}
		s := res.Snapshot
		outcomes = append(outcomes, fmt.Sprintf("- %s: %d (%s) to %d (%s), %+d, now %s",
			inst, s.BaselineTotal, s.BaselineDate, s.LatestTotal, s.LatestDate, s.TotalChange, s.Severity))
	}
	if len(outcomes) > 0 {
		b.WriteString("\nAssessment outcomes:\n" + strings.Join(outcomes, "\n") + "\n")
	}

	if len(completed) > 0 {
		b.WriteString("\nSession highlights:\n")
		for i, doc := range completed {
			if i == summaryHighlights {
				break
			}
			line := "completed"
			if s := sentences(sessionNotes(doc)); len(s) > 0 {
				line = excerpt(s[0])
			}
			fmt.Fprintf(&b, "- %s: %s\n", sessionLabel(doc), line)
		}
	}
	return Outcome{Text: strings.TrimSpace(b.String()), Found: len(sessions) + len(measures)}
}

func writeFindings(b *strings.Builder, title string, findings []Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for i, f := range findings {
		if i == summaryFindings {
			break
		}
		fmt.Fprintf(b, "- %s (%s)\n", f.Label, plural(f.Notes, "session", "sessions"))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
