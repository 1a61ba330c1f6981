package query

import (
	"sort"
	"strings"

	"github.com/hyperjump/carelens/pkg/utils"
)

// Finding is one theme, progress indicator or observation and the number of notes it
// was found in.
type Finding struct {
	Label string `json:"label"`
	Notes int    `json:"notes"`
}

// NoteAnalysis groups the findings of AnalyzeNotes, each list ordered by frequency.
type NoteAnalysis struct {
	Themes   []Finding `json:"themes"`
	Progress []Finding `json:"progress"`
	Insights []Finding `json:"insights"`
}

type findingKind int

const (
	kindTheme findingKind = iota
	kindProgress
	kindInsight
)

type noteRule struct {
	kind  findingKind
	label string
	match func(notes string) bool
}

func anyOf(words ...string) func(string) bool {
	return func(notes string) bool { return utils.ContainsAny(notes, words...) }
}

var noteRules = []noteRule{
	{kindProgress, "Anxiety levels decreased over time", func(n string) bool {
		return strings.Contains(n, "anxiety") && utils.ContainsAny(n, "/10", "rated") && utils.ContainsAny(n, "decreased", "reduced")
	}},
	{kindProgress, "Notable progress in treatment goals", anyOf("progress")},
	{kindProgress, "Breakthrough session occurred", anyOf("breakthrough")},
	{kindProgress, "Overall improvement in functioning", anyOf("improved")},

	{kindTheme, "Cognitive Behavioral Therapy techniques", anyOf("cbt")},
	{kindTheme, "Emotional vulnerability and expression", anyOf("vulnerability")},
	{kindTheme, "Relationship patterns and connections", anyOf("relationships", "connection")},
	{kindTheme, "Self-reliance vs. accepting support", anyOf("self-reliance", "independence")},
	{kindTheme, "Grief and depression processing", anyOf("grief", "depression")},

	{kindInsight, "Client engaged with homework assignments", anyOf("homework")},
	{kindInsight, "Client demonstrated good insight into patterns", anyOf("insight")},
	{kindInsight, "Coping strategies and self-regulation techniques used", anyOf("grounding", "breathing")},
	{kindInsight, "Client used metaphors to describe experiences", anyOf("metaphor")},
	{kindInsight, "Treatment completed successfully", anyOf("termination", "final session")},
}

// AnalyzeNotes finds recurring treatment themes, progress indicators and clinical
// observations across session notes by keyword.
func AnalyzeNotes(notes ...string) NoteAnalysis {
	counts := make([]int, len(noteRules))
	for _, n := range notes {
		lower := strings.ToLower(n)
		for i, rl := range noteRules {
			if rl.match(lower) {
				counts[i]++
			}
		}
	}

	var a NoteAnalysis
	for i, rl := range noteRules {
		if counts[i] == 0 {
			continue
		}
		f := Finding{Label: rl.label, Notes: counts[i]}
		switch rl.kind {
		case kindTheme:
			a.Themes = append(a.Themes, f)
		case kindProgress:
			a.Progress = append(a.Progress, f)
		case kindInsight:
			a.Insights = append(a.Insights, f)
		}
	}
	for _, fs := range [][]Finding{a.Themes, a.Progress, a.Insights} {
		sort.SliceStable(fs, func(i, j int) bool { return fs[i].Notes > fs[j].Notes })
	}
	return a
}
