// Package cli renders carelens results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/query"
	"github.com/hyperjump/carelens/internal/trend"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; anything else is an error.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("invalid output format %q: use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes the reply to a question.
func WriteAnswer(w io.Writer, ans query.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "%s\n\n", ans.Answer)
	fmt.Fprintf(w, "[%s, %d documents, %dms]\n", ans.Intent, ans.FoundDocuments, ans.DurationMs)
	return nil
}

// WriteTrend writes a computed trend or the reason none could be computed.
func WriteTrend(w io.Writer, res trend.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	if !res.OK() {
		fmt.Fprintln(w, res.Insufficient.Message())
		return nil
	}
	s := res.Snapshot
	fmt.Fprintf(w, "%s trend for patient %s (%d assessments)\n", s.Instrument, s.PatientID, s.AssessmentCount)
	fmt.Fprintf(w, "Total: %d (%s) -> %d (%s), change %+d, now %s\n",
		s.BaselineTotal, s.BaselineDate, s.LatestTotal, s.LatestDate, s.TotalChange, s.Severity)
	writeChanges(w, "Improved", s.Improvements)
	writeChanges(w, "Worsened", s.Worsenings)
	writeChanges(w, "Stable", s.Stable)
	return nil
}

func writeChanges(w io.Writer, title string, changes []trend.QuestionChange) {
	if len(changes) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, c := range changes {
		fmt.Fprintf(w, "  Q%d: %d -> %d (%+d)\n", c.Question, c.Baseline, c.Latest, c.Change)
	}
}

// WriteIngestResult writes a batch ingestion report.
func WriteIngestResult(w io.Writer, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	source := res.Source
	if source == "" {
		source = "rows"
	}
	fmt.Fprintf(w, "%s (%s): %d processed, %d added, %d errors in %dms\n",
		source, res.RecordType, res.Processed, res.Added, len(res.Errors), res.DurationMs)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
	return nil
}

// WriteAnalytics writes corpus analytics.
func WriteAnalytics(w io.Writer, a *models.Analytics, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, a)
	}
	fmt.Fprintf(w, "Documents: %d\n", a.TotalDocuments)
	types := make([]string, 0, len(a.CountsByType))
	for t := range a.CountsByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-22s %d\n", t, a.CountsByType[t])
	}
	fmt.Fprintf(w, "Unique patients: %d\n", a.UniquePatientCount)
	fmt.Fprintf(w, "Unique clients: %d\n", a.UniqueClientCount)
	if len(a.ProviderPerformance) == 0 {
		return nil
	}
	ids := make([]string, 0, len(a.ProviderPerformance))
	for id := range a.ProviderPerformance {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "Provider performance:")
	for _, id := range ids {
		p := a.ProviderPerformance[id]
		fmt.Fprintf(w, "  %s: %d/%d completed (%.1f%%), %d clients\n",
			id, p.Completed, p.Scheduled, p.SuccessRate, p.ClientsServed)
	}
	return nil
}

// WriteSearchResults writes search hits.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", resp.Total, resp.QueryTime)
	for i, hit := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Relevance: %.4f | ID: %s\n", i+1, hit.Relevance, hit.ID)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(hit.Content, 200))
	}
	return nil
}

// WriteSummary writes a client treatment summary.
func WriteSummary(w io.Writer, patientID string, out query.Outcome, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"patient_id":      patientID,
			"summary":         out.Text,
			"found_documents": out.Found,
		})
	}
	fmt.Fprintln(w, out.Text)
	return nil
}

// Truncate truncates s to maxLen bytes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
