package domain

import "fmt"

// Transcript is an append-only log of turns with strictly increasing sequence ids.
type Transcript struct {
	turns []Turn
}

// RestoreTranscript rebuilds a Transcript from previously appended turns.
func RestoreTranscript(turns []Turn) (Transcript, error) {
	var last int64
	for i, t := range turns {
		if t.Seq <= last {
			return Transcript{}, fmt.Errorf("domain: turn %d has sequence %d after %d", i, t.Seq, last)
		}
		if !t.Sender.Valid() {
			return Transcript{}, fmt.Errorf("domain: turn %d has unknown sender %q", i, t.Sender)
		}
		last = t.Seq
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return Transcript{turns: out}, nil
}

// Append adds a turn and returns it with its assigned sequence id.
func (t *Transcript) Append(sender Sender, text string) Turn {
	seq := int64(1)
	if n := len(t.turns); n > 0 {
		seq = t.turns[n-1].Seq + 1
	}
	turn := Turn{Seq: seq, Sender: sender, Text: text}
	t.turns = append(t.turns, turn)
	return turn
}

func (t *Transcript) Len() int {
	return len(t.turns)
}

// Turns returns a copy of the log in append order.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}
