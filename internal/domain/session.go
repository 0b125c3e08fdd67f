package domain

import "time"

// Session is the persisted snapshot of one conversation instance.
type Session struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	Intake    Intake    `json:"intake"`
	Record    Record    `json:"record"`
	Turns     []Turn    `json:"turns"`
	Trials    []Trial   `json:"trials"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordView is the part of a Record exposed to presentation layers.
type RecordView struct {
	Present  bool   `json:"present"`
	Filename string `json:"filename,omitempty"`
}

// View is everything a presentation layer needs to render a conversation.
type View struct {
	SessionID string     `json:"sessionId,omitempty"`
	Stage     Stage      `json:"stage"`
	Busy      bool       `json:"busy"`
	Turns     []Turn     `json:"turns"`
	Trials    []Trial    `json:"trials"`
	Record    RecordView `json:"record"`
}
