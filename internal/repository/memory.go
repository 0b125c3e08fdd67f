package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"intake-agent/internal/domain"
)

// MemoryStore keeps snapshots in process memory. Save is optimistic on Version.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]domain.Session{}}
}

func (m *MemoryStore) Load(_ context.Context, id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, exists := m.sessions[s.ID]
	switch {
	case s.Version == 1 && exists:
		return domain.ErrVersionConflict
	case s.Version > 1 && (!exists || prev.Version != s.Version-1):
		return domain.ErrVersionConflict
	case s.Version < 1:
		return domain.ErrVersionConflict
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func cloneSession(s domain.Session) domain.Session {
	s.Turns = append([]domain.Turn(nil), s.Turns...)
	s.Trials = append([]domain.Trial(nil), s.Trials...)
	return s
}
