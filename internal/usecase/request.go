package usecase

import (
	"strings"

	"intake-agent/internal/domain"
)

const (
	riskMarker = "keep in mind these health parameter"
	riskSuffix = "\n\n" + riskMarker + " of the patient and suggest if the patient is at risk"
)

// BuildRequest assembles the payload for one analysis call. When the record has content it
// is attached, and the risk-assessment instruction is appended to symptoms unless the
// marker is already there, so rebuilding from a previous output is stable.
func BuildRequest(symptoms, history string, rec domain.Record) domain.AnalysisRequest {
	req := domain.AnalysisRequest{
		Symptoms: symptoms,
		History:  history,
	}
	if !rec.HasContent() {
		return req
	}
	req.MedicalRecords = rec.Content
	if !strings.Contains(symptoms, riskMarker) {
		req.Symptoms = symptoms + riskSuffix
	}
	return req
}
