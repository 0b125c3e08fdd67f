package domain

// Stage is the conversation's current phase.
type Stage string

const (
	StageInitial          Stage = "initial"
	StageAwaitingSymptoms Stage = "awaiting_symptoms"
	StageAwaitingHistory  Stage = "awaiting_history"
	StageAnalyzing        Stage = "analyzing"
	StageFollowUp         Stage = "follow_up"
)

func (s Stage) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageAwaitingSymptoms, StageAwaitingHistory, StageAnalyzing, StageFollowUp:
		return true
	default:
		return false
	}
}
