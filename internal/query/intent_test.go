package query

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Is sleep improving?", IntentSleep},
		{"Any nightmares lately?", IntentSleep},
		{"When was CBT first introduced?", IntentCBT},
		{"When was therapy first introduced?", IntentCBT},
		{"When did therapy begin?", IntentCBT},
		{"When did exposure therapy start?", IntentExposure},
		{"Show therapy session notes", IntentSessionNotes},
		{"Which PHQ9 questions are driving the change?", IntentAssessment},
		{"Show GAD-7 scores", IntentAssessment},
		{"Show the PHQ9 trend over time", IntentAssessment},
		{"Is the patient getting better?", IntentProgress},
		{"What is the diagnosis?", IntentDiagnosis},
		{"What is the no-show rate?", IntentAttendance},
		{"When was the first appointment?", IntentAttendance},
		{"How is work going?", IntentWorkStress},
		{"Any medication changes?", IntentMedication},
		{"Which distress tolerance skills were practiced?", IntentDistressTolerance},
		{"What approaches have been used?", IntentModality},
		{"Do symptoms fluctuate?", IntentFluctuation},
		{"What triggers the panic attacks?", IntentTriggers},
		{"Which CPT codes were billed?", IntentBilling},
		{"Was homework completed?", IntentHomework},
		{"How is the exposure hierarchy going?", IntentExposure},
		{"Show the trajectory", IntentScoreTrend},
		{"Brief me before the next session", IntentBriefing},
		{"Anything new since last time?", IntentIntersession},
		{"How has mood been?", IntentMood},
		{"What have we worked on so far?", IntentTreatmentSummary},
		{"Show recent session notes", IntentSessionNotes},
		{"hello", IntentDefault},
		{"", IntentDefault},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassify_WholeWords(t *testing.T) {
	// "interest" contains "rest" but is not a sleep question.
	if got := Classify("Any loss of interest in hobbies?"); got == IntentSleep {
		t.Errorf("Classify matched sleep on a substring")
	}
}

func TestIntentMarshalText(t *testing.T) {
	b, err := IntentSleep.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "sleep" {
		t.Errorf("MarshalText = %q", b)
	}
	var back Intent
	if err := back.UnmarshalText([]byte("exposure_therapy")); err != nil || back != IntentExposure {
		t.Errorf("UnmarshalText = %s, %v", back, err)
	}
	if err := back.UnmarshalText([]byte("weather")); err == nil {
		t.Error("expected error for unknown intent name")
	}
	if Intent(99).String() != "unknown" {
		t.Errorf("String of out-of-range intent = %q", Intent(99).String())
	}
}
