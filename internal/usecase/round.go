package usecase

import (
	"context"

	"intake-agent/internal/domain"
)

// Round tracks one in-flight analysis. It completes after the outcome turn has been
// appended, so observers never see a half-finished transcript.
type Round struct {
	done    chan struct{}
	outcome domain.Outcome
}

func newRound() *Round {
	return &Round{done: make(chan struct{})}
}

func (r *Round) complete(out domain.Outcome) {
	r.outcome = out
	close(r.done)
}

// Done is closed once the round's outcome has been applied.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the round completes or ctx ends. Ending ctx does not cancel the call.
func (r *Round) Wait(ctx context.Context) (domain.Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}
