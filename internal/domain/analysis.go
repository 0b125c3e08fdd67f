package domain

import (
	"fmt"
	"strings"
)

// Intake accumulates the answers to the two opening questions.
type Intake struct {
	Symptoms string `json:"symptoms"`
	History  string `json:"history"`
}

// AnalysisRequest is the outbound payload of one analysis call.
type AnalysisRequest struct {
	Symptoms       string `json:"symptoms"`
	History        string `json:"history"`
	MedicalRecords string `json:"medical_records,omitempty"`
}

// Trial is a clinical-trial description returned by the analysis call.
type Trial struct {
	Title        string `json:"title"`
	Condition    string `json:"condition"`
	Intervention string `json:"intervention"`
	Eligibility  string `json:"eligibility"`
}

// TrialEntry is the wire form of a Trial in an analysis response. All four fields must be present.
type TrialEntry struct {
	Title        *string `json:"title"`
	Condition    *string `json:"condition"`
	Intervention *string `json:"intervention"`
	Eligibility  *string `json:"eligibility"`
}

// Trial validates the entry. A missing field yields ErrInvalidResponse.
func (t TrialEntry) Trial() (Trial, error) {
	var missing []string
	if t.Title == nil {
		missing = append(missing, "title")
	}
	if t.Condition == nil {
		missing = append(missing, "condition")
	}
	if t.Intervention == nil {
		missing = append(missing, "intervention")
	}
	if t.Eligibility == nil {
		missing = append(missing, "eligibility")
	}
	if len(missing) > 0 {
		return Trial{}, fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), ErrInvalidResponse)
	}
	return Trial{
		Title:        *t.Title,
		Condition:    *t.Condition,
		Intervention: *t.Intervention,
		Eligibility:  *t.Eligibility,
	}, nil
}

// TrialsFromEntries validates entries in order and never returns a nil slice on success.
func TrialsFromEntries(entries []TrialEntry) ([]Trial, error) {
	trials := make([]Trial, 0, len(entries))
	for i, e := range entries {
		t, err := e.Trial()
		if err != nil {
			return nil, fmt.Errorf("clinical trial %d: %w", i, err)
		}
		trials = append(trials, t)
	}
	return trials, nil
}

// AnalysisResult is a well-formed analysis response.
type AnalysisResult struct {
	Answer string
	Trials []Trial
}

// Outcome is the result of one analysis round. Err is non-nil on failure.
type Outcome struct {
	Answer string
	Trials []Trial
	Err    error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}
