package usecase

import "intake-agent/internal/domain"

type event int

const (
	eventBegin event = iota
	// eventSubmit is free text from the user; its target depends on the stage.
	eventSubmit
	// eventFollowUp is a synthesized submission (topic or trial) that always analyzes.
	eventFollowUp
	eventOutcome
)

// transition is the engine's total transition function. ok is false when the event is
// not permitted in stage s; the stage is then unchanged.
func transition(s domain.Stage, ev event) (next domain.Stage, ok bool) {
	switch ev {
	case eventBegin:
		if s == domain.StageInitial {
			return domain.StageAwaitingSymptoms, true
		}
	case eventSubmit:
		switch s {
		case domain.StageAwaitingSymptoms:
			return domain.StageAwaitingHistory, true
		case domain.StageAwaitingHistory, domain.StageInitial, domain.StageFollowUp:
			return domain.StageAnalyzing, true
		}
	case eventFollowUp:
		if s != domain.StageAnalyzing {
			return domain.StageAnalyzing, true
		}
	case eventOutcome:
		if s == domain.StageAnalyzing {
			return domain.StageFollowUp, true
		}
	}
	return s, false
}
