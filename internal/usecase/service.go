package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"intake-agent/internal/domain"
)

// SessionStore persists conversation snapshots. Save must reject a snapshot whose
// Version is not exactly one past the stored version with domain.ErrVersionConflict.
type SessionStore interface {
	Load(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
}

// IntakeService runs engine entry points against persisted sessions. Each call loads the
// snapshot, applies one entry point, waits for any analysis round, and saves the result.
// While a round is in flight the session is served from the live engine, so reads report
// it as busy and further submissions are rejected instead of queued.
type IntakeService struct {
	analyzer Analyzer
	store    SessionStore
	locks    *keyedMutex
	rounds   *roundRegistry
	now      func() time.Time
}

func NewIntakeService(a Analyzer, s SessionStore) (*IntakeService, error) {
	if a == nil {
		return nil, errors.New("usecase: analyzer must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &IntakeService{
		analyzer: a,
		store:    s,
		locks:    newKeyedMutex(),
		rounds:   newRoundRegistry(),
		now:      time.Now,
	}, nil
}

// Create starts a new session in the Initial stage.
func (s *IntakeService) Create(ctx context.Context) (domain.View, error) {
	e, err := NewEngine(s.analyzer)
	if err != nil {
		return domain.View{}, newError(ErrorInternal, "engine_init_error", err)
	}
	snap := e.Snapshot()
	snap.ID = newUUID()
	snap.Version = 1
	snap.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, snap); err != nil {
		return domain.View{}, saveError(err)
	}
	return viewOf(e, snap.ID), nil
}

func (s *IntakeService) Get(ctx context.Context, id string) (domain.View, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.View{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	release := s.locks.Lock(id)
	defer release()

	if live, ok := s.rounds.get(id); ok {
		return viewOf(live, id), nil
	}
	_, e, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	return viewOf(e, id), nil
}

func (s *IntakeService) Begin(ctx context.Context, id string) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		return nil, e.Begin()
	})
}

func (s *IntakeService) SubmitText(ctx context.Context, id, text string) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		return e.SubmitUserText(ctx, text)
	})
}

func (s *IntakeService) SubmitTopic(ctx context.Context, id, topic string) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		return e.SubmitTopicQuery(ctx, topic)
	})
}

func (s *IntakeService) SubmitTrial(ctx context.Context, id string, trial domain.Trial) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		return e.SubmitTrialInquiry(ctx, trial)
	})
}

func (s *IntakeService) UploadRecord(ctx context.Context, id, content, filename string) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		return nil, e.SetRecord(content, filename)
	})
}

func (s *IntakeService) RemoveRecord(ctx context.Context, id string) (domain.View, error) {
	return s.apply(ctx, id, func(e *Engine) (*Round, error) {
		e.ClearRecord()
		return nil, nil
	})
}

func (s *IntakeService) apply(ctx context.Context, id string, op func(*Engine) (*Round, error)) (domain.View, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.View{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}

	release := s.locks.Lock(id)
	if live, ok := s.rounds.get(id); ok {
		// The live engine rejects submissions while Analyzing. Record changes land on it
		// and are saved together with the round's outcome.
		defer release()
		if _, err := op(live); err != nil {
			return domain.View{}, err
		}
		return viewOf(live, id), nil
	}

	prev, e, err := s.load(ctx, id)
	if err != nil {
		release()
		return domain.View{}, err
	}
	round, err := op(e)
	if err != nil {
		release()
		return domain.View{}, err
	}

	// The round always runs to completion and its result is always persisted.
	ctx = context.WithoutCancel(ctx)
	if round != nil {
		s.rounds.add(id, e)
		release()
		<-round.Done()
		release = s.locks.Lock(id)
	}
	defer release()
	if round != nil {
		defer s.rounds.remove(id)
	}

	next := e.Snapshot()
	next.ID = id
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, next); err != nil {
		return domain.View{}, saveError(err)
	}
	return viewOf(e, id), nil
}

func viewOf(e *Engine, id string) domain.View {
	v := e.View()
	v.SessionID = id
	return v
}

func (s *IntakeService) load(ctx context.Context, id string) (domain.Session, *Engine, error) {
	snap, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, nil, newError(ErrorNotFound, "session_not_found", err)
		}
		return domain.Session{}, nil, newError(ErrorInternal, "store_load_error", err)
	}
	e, err := RestoreEngine(s.analyzer, snap)
	if err != nil {
		return domain.Session{}, nil, newError(ErrorInternal, "snapshot_invalid", err)
	}
	return snap, e, nil
}

func saveError(err error) *Error {
	if errors.Is(err, domain.ErrVersionConflict) {
		return newError(ErrorConflict, "session_version_conflict", err)
	}
	return newError(ErrorInternal, "store_save_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}
