// Package query routes a free-text question about one patient to an intent and answers it
// from documents retrieved from the document store.
package query

import (
	"fmt"
	"strings"

	"github.com/hyperjump/carelens/pkg/utils"
)

// Intent is the classified purpose of a question.
type Intent int

const (
	IntentDefault Intent = iota
	IntentSleep
	IntentCBT
	IntentAssessment
	IntentProgress
	IntentDiagnosis
	IntentAttendance
	IntentWorkStress
	IntentMedication
	IntentDistressTolerance
	IntentModality
	IntentFluctuation
	IntentTriggers
	IntentBilling
	IntentHomework
	IntentExposure
	IntentScoreTrend
	IntentBriefing
	IntentIntersession
	IntentMood
	IntentTreatmentSummary
	IntentSessionNotes
)

var intentNames = map[Intent]string{
	IntentDefault:           "help",
	IntentSleep:             "sleep",
	IntentCBT:               "cbt",
	IntentAssessment:        "assessment",
	IntentProgress:          "progress",
	IntentDiagnosis:         "diagnosis",
	IntentAttendance:        "attendance",
	IntentWorkStress:        "work_stress",
	IntentMedication:        "medication",
	IntentDistressTolerance: "distress_tolerance",
	IntentModality:          "treatment_modality",
	IntentFluctuation:       "symptom_fluctuation",
	IntentTriggers:          "triggers",
	IntentBilling:           "billing",
	IntentHomework:          "homework",
	IntentExposure:          "exposure_therapy",
	IntentScoreTrend:        "score_trend",
	IntentBriefing:          "session_briefing",
	IntentIntersession:      "intersession_updates",
	IntentMood:              "mood_patterns",
	IntentTreatmentSummary:  "treatment_summary",
	IntentSessionNotes:      "session_notes",
}

func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return "unknown"
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes an intent name.
func (i *Intent) UnmarshalText(b []byte) error {
	for k, name := range intentNames {
		if name == string(b) {
			*i = k
			return nil
		}
	}
	return fmt.Errorf("unknown intent %q", b)
}

// rule is one row of the routing table. topic names the data the branch reports on and
// is used in its no-data message.
type rule struct {
	intent Intent
	topic  string
	match  func(q *question) bool
}

// rules is evaluated top to bottom; the first match wins. Keyword sets overlap ("Is sleep
// improving?" is both a sleep and an assessment question), so the order is part of the
// behavior.
var rules = []rule{
	{IntentSleep, "sleep", func(q *question) bool {
		return q.has("sleep", "insomnia") || q.word("rest", "rested", "restful", "tired", "nightmare", "nightmares")
	}},
	{IntentCBT, "CBT or therapy technique", func(q *question) bool {
		return q.has("cbt", "cognitive", "behavioral", "behavioural", "intervention", "technique", "thought record") ||
			(q.word("therapy") && q.has(startWords...) && !q.has("exposure", "appointment", "session", "visit"))
	}},
	{IntentAssessment, "assessment", func(q *question) bool {
		return q.has("phq", "gad", "score", "assessment", "question", "driving", "improving")
	}},
	{IntentProgress, "progress", func(q *question) bool {
		return q.has("better", "progress", "improvement", "improved", "getting worse") || q.word("worse")
	}},
	{IntentDiagnosis, "diagnosis", func(q *question) bool {
		return q.has("diagnos", "icd") || q.word("condition", "conditions")
	}},
	{IntentAttendance, "attendance", func(q *question) bool {
		return q.has("first appointment", "last appointment", "cancel", "no-show", "no show", "noshow",
			"completion rate", "success rate", "attendance", "missed", "first seen", "last seen", "first visit", "last visit")
	}},
	{IntentWorkStress, "work stress", func(q *question) bool {
		return q.word("work", "job", "boss", "workplace", "coworker", "coworkers", "career", "office", "manager")
	}},
	{IntentMedication, "medication", func(q *question) bool {
		return q.has("medication", "medicine", "prescri", "antidepressant", "ssri", "dosage") || q.word("meds", "dose")
	}},
	{IntentDistressTolerance, "distress tolerance", func(q *question) bool {
		return q.has("distress", "tolerance", "self-soothe", "self soothe", "radical acceptance", "crisis survival", "tipp")
	}},
	{IntentModality, "treatment modality", func(q *question) bool {
		return q.has("modalit", "therapies", "type of therapy", "kind of therapy", "types of therapy") || q.word("approach", "approaches")
	}},
	{IntentFluctuation, "symptom fluctuation", func(q *question) bool {
		return q.has("fluctuat", "ups and downs", "up and down", "variab", "spike", "swing", "unstable")
	}},
	{IntentTriggers, "trigger", func(q *question) bool {
		return q.has("trigger", "stressor", "set off", "sets off", "what causes")
	}},
	{IntentBilling, "billing", func(q *question) bool {
		return q.has("insurance", "billing", "cpt", "copay", "co-pay", "claim", "payer", "authorization") || q.word("bill", "billed")
	}},
	{IntentHomework, "homework", func(q *question) bool {
		return q.has("homework", "assignment", "worksheet", "practice between")
	}},
	{IntentExposure, "exposure therapy", func(q *question) bool {
		return q.has("exposure", "hierarchy", "avoidance", "in vivo") || q.word("erp")
	}},
	{IntentScoreTrend, "score trend", func(q *question) bool {
		return q.has("trend", "trajectory", "over time", "chart", "graph")
	}},
	{IntentBriefing, "pre-session briefing", func(q *question) bool {
		return q.has("brief", "prepare", "before session", "before the session", "next session", "upcoming") || q.word("prep")
	}},
	{IntentIntersession, "intersession update", func(q *question) bool {
		return q.has("intersession", "between session", "since last", "since the last", "update")
	}},
	{IntentMood, "mood", func(q *question) bool {
		return q.has("mood", "emotion", "feeling", "affect")
	}},
	{IntentTreatmentSummary, "treatment summary", func(q *question) bool {
		return q.has("worked on", "summary", "summarize", "summarise", "overview", "so far", "goals")
	}},
	{IntentSessionNotes, "session", func(q *question) bool {
		return q.has("session", "therapy", "treatment", "notes", "appointment", "visit")
	}},
}

// question is a lower-cased query plus its word set.
type question struct {
	raw   string
	lower string
	words map[string]bool
}

func newQuestion(text string) *question {
	q := &question{raw: text, lower: strings.ToLower(strings.TrimSpace(text)), words: make(map[string]bool)}
	for _, w := range words(q.lower) {
		q.words[w] = true
	}
	return q
}

// has reports whether any substring occurs in the question.
func (q *question) has(subs ...string) bool {
	return utils.ContainsAny(q.lower, subs...)
}

// word reports whether any whole word occurs in the question.
func (q *question) word(words ...string) bool {
	for _, w := range words {
		if q.words[w] {
			return true
		}
	}
	return false
}

// Classify returns the intent of the first matching rule, or IntentDefault.
func Classify(text string) Intent {
	r, ok := classify(newQuestion(text))
	if !ok {
		return IntentDefault
	}
	return r.intent
}

func classify(q *question) (rule, bool) {
	for _, r := range rules {
		if r.match(q) {
			return r, true
		}
	}
	return rule{}, false
}
