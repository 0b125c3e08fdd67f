package usecase

import (
	"fmt"
	"strings"

	"intake-agent/internal/domain"
)

const (
	msgAskSymptoms      = "What are your symptoms?"
	msgAskHistory       = "What is your medical history?"
	msgRecordOnBegin    = "I see you've uploaded your medical records. These will be considered in my analysis and risk assessment."
	msgRecordUploaded   = "✅ Medical records uploaded successfully. These will be included in the analysis and risk assessment."
	msgRecordRemoved    = "Medical records have been removed from the analysis."
	msgAnalysisFailed   = "I'm sorry, there was an error processing your request. Please try again later."
	topicQueryTemplate  = "I'd like to know more about %s"
	trialSuccessFactors = "What are the key factors to make this a success?"
	trialRecordClause   = "Based on my health records below, what are my chances of success with this clinical trial?\n\n**My Health Records**:\n"
	trialTypicalClause  = "What are the typical chances of success for patients in this trial?"
)

// trigger names what caused an analysis round; it selects the "analyzing" text.
type trigger int

const (
	triggerHistory trigger = iota
	triggerFollowUp
	triggerTopic
	triggerTrial
)

func analyzingText(t trigger, withRecord bool) string {
	switch t {
	case triggerHistory:
		if withRecord {
			return "Analyzing your symptoms and medical history, along with your uploaded records..."
		}
		return "Analyzing your symptoms and medical history..."
	case triggerTopic:
		return "Analyzing your request" + recordClause(withRecord) + "..."
	case triggerTrial:
		return "Analyzing the clinical trial details" + recordClause(withRecord) + "..."
	default:
		return "Analyzing your new information" + recordClause(withRecord) + "..."
	}
}

func recordClause(withRecord bool) string {
	if withRecord {
		return " with your medical records"
	}
	return ""
}

func topicQueryText(topic string) string {
	return fmt.Sprintf(topicQueryTemplate, topic)
}

func trialInquiryText(trial domain.Trial, rec domain.Record) string {
	var b strings.Builder
	b.WriteString("I'm interested in this clinical trial:\n\n")
	fmt.Fprintf(&b, "**Title**: %s\n", trial.Title)
	fmt.Fprintf(&b, "**Condition**: %s\n", trial.Condition)
	fmt.Fprintf(&b, "**Intervention**: %s\n", trial.Intervention)
	fmt.Fprintf(&b, "**Eligibility**: %s\n\n", trial.Eligibility)
	b.WriteString(trialSuccessFactors)
	b.WriteString("\n\n")
	if rec.HasContent() {
		b.WriteString(trialRecordClause)
		b.WriteString(rec.Content)
	} else {
		b.WriteString(trialTypicalClause)
	}
	return strings.TrimSpace(b.String())
}
