package query

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/pkg/utils"
)

const (
	notesHeader   = "Session Notes:"
	patientHeader = "Patient Information:"
	excerptLen    = 240
)

var (
	diagnosisLine = regexp.MustCompile(`(?m)^\s*-?\s*Diagnosis:\s*(.+?)\s*$`)
	sentenceEnd   = regexp.MustCompile(`[.!?]+\s+|\n+`)
)

// sessionNotes returns the verbatim notes block of a detailed appointment document, or
// the whole content for documents without one (attachments).
func sessionNotes(doc *models.Document) string {
	content := doc.Content
	i := strings.Index(content, notesHeader)
	if i < 0 {
		return strings.TrimSpace(content)
	}
	notes := content[i+len(notesHeader):]
	if j := strings.Index(notes, patientHeader); j >= 0 {
		notes = notes[:j]
	}
	notes = strings.TrimSpace(notes)
	if notes == "No notes available" {
		return ""
	}
	return notes
}

// diagnosis returns the diagnosis of doc from metadata or its "Diagnosis:" content line.
func diagnosis(doc *models.Document) string {
	if d := doc.MetaString(models.MetaDiagnosis); d != "" && d != "Unknown" {
		return d
	}
	if m := diagnosisLine.FindStringSubmatch(doc.Content); m != nil && m[1] != "Unknown" {
		return m[1]
	}
	return ""
}

// sentences splits text on sentence punctuation and line breaks.
func sentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.TrimSpace(strings.TrimLeft(s, "-•* "))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sentencesWith returns the sentences of text mentioning any term (see hasAnyTerm).
func sentencesWith(text string, terms ...string) []string {
	var out []string
	for _, s := range sentences(text) {
		if hasAnyTerm(words(strings.ToLower(s)), terms...) {
			out = append(out, s)
		}
	}
	return out
}

// mentions reports whether text mentions any term (see hasAnyTerm).
func mentions(text string, terms ...string) bool {
	return hasAnyTerm(words(strings.ToLower(text)), terms...)
}

// words splits lower-cased text into tokens of letters, digits and inner hyphens.
func words(lower string) []string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, w := range fields {
		if w = strings.Trim(w, "-"); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// hasAnyTerm reports whether ws contains any term as whole words. A term of several
// words must appear as consecutive tokens, and a word ending in "*" matches any token
// it prefixes, so "sleep*" finds "sleeping" and "rest" does not find "interest".
func hasAnyTerm(ws []string, terms ...string) bool {
	for _, term := range terms {
		if hasTerm(ws, strings.Fields(term)) {
			return true
		}
	}
	return false
}

func hasTerm(ws, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	for i := 0; i+len(parts) <= len(ws); i++ {
		ok := true
		for j, p := range parts {
			if !wordMatches(ws[i+j], p) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func wordMatches(w, pattern string) bool {
	if stem, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(w, stem)
	}
	return w == pattern
}

// excerpt shortens text to one display line.
func excerpt(text string) string {
	return utils.Truncate(strings.Join(strings.Fields(text), " "), excerptLen)
}

// sessionLabel names a session by number and date, e.g. "Session 3 (1/16/25)".
func sessionLabel(doc *models.Document) string {
	date := doc.MetaString(models.MetaAppointmentDate)
	if date == "" {
		date = "undated"
	}
	if n, ok := doc.MetaInt(models.MetaAppointmentNum); ok && n > 0 {
		return "Session " + strconv.Itoa(n) + " (" + date + ")"
	}
	return "Session on " + date
}

func plural(n int, one, many string) string {
	if n == 1 {
		return strconv.Itoa(n) + " " + one
	}
	return strconv.Itoa(n) + " " + many
}
