package domain

// Sender identifies who produced a Turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Turn is a single exchanged message. Turns are never modified once appended.
type Turn struct {
	Seq    int64  `json:"seq"`
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}
