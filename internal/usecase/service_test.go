package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intake-agent/internal/domain"
)

type mockStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	loadErr  error
	saveErr  error
	saves    int
}

func newMockStore() *mockStore {
	return &mockStore{sessions: map[string]domain.Session{}}
}

func (m *mockStore) Load(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Session{}, m.loadErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, nil
}

func (m *mockStore) Save(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if prev, ok := m.sessions[s.ID]; ok && prev.Version != s.Version-1 {
		return domain.ErrVersionConflict
	}
	m.saves++
	m.sessions[s.ID] = s
	return nil
}

func (m *mockStore) get(t *testing.T, id string) domain.Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	require.True(t, ok)
	return s
}

func newTestService(t *testing.T, a Analyzer, s SessionStore) *IntakeService {
	t.Helper()
	svc, err := NewIntakeService(a, s)
	require.NoError(t, err)
	return svc
}

func withFixedUUID(t *testing.T, id string) {
	t.Helper()
	prev := newUUID
	newUUID = func() string { return id }
	t.Cleanup(func() { newUUID = prev })
}

func TestNewIntakeService_ValidatesDependencies(t *testing.T) {
	_, err := NewIntakeService(nil, newMockStore())
	require.Error(t, err)
	_, err = NewIntakeService(&fakeAnalyzer{}, nil)
	require.Error(t, err)
}

func TestIntakeService_FullConversation(t *testing.T) {
	withFixedUUID(t, "sess-1")
	store := newMockStore()
	a := &fakeAnalyzer{result: domain.AnalysisResult{
		Answer: "Take rest",
		Trials: []domain.Trial{{Title: "T1", Condition: "Asthma", Intervention: "Drug X", Eligibility: "Adults"}},
	}}
	svc := newTestService(t, a, store)
	ctx := context.Background()

	v, err := svc.Create(ctx)
	require.NoError(t, err)
	require.Equal(t, "sess-1", v.SessionID)
	require.Equal(t, domain.StageInitial, v.Stage)
	require.Equal(t, int64(1), store.get(t, "sess-1").Version)

	v, err = svc.Begin(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, domain.StageAwaitingSymptoms, v.Stage)

	v, err = svc.SubmitText(ctx, "sess-1", "fever")
	require.NoError(t, err)
	require.Equal(t, domain.StageAwaitingHistory, v.Stage)

	v, err = svc.SubmitText(ctx, "sess-1", "asthma")
	require.NoError(t, err)
	require.Equal(t, domain.StageFollowUp, v.Stage)
	require.False(t, v.Busy)
	require.Equal(t, "Take rest", v.Turns[len(v.Turns)-1].Text)
	require.Len(t, v.Trials, 1)

	saved := store.get(t, "sess-1")
	require.Equal(t, int64(4), saved.Version)
	require.Equal(t, domain.StageFollowUp, saved.Stage)
	require.Equal(t, domain.Intake{Symptoms: "fever", History: "asthma"}, saved.Intake)
	require.False(t, saved.UpdatedAt.IsZero())

	v, err = svc.UploadRecord(ctx, "sess-1", "HbA1c 7.2", "labs.txt")
	require.NoError(t, err)
	require.True(t, v.Record.Present)
	require.Equal(t, msgRecordUploaded, v.Turns[len(v.Turns)-1].Text)

	v, err = svc.SubmitTrial(ctx, "sess-1", v.Trials[0])
	require.NoError(t, err)
	require.Contains(t, v.Turns[len(v.Turns)-3].Text, "**My Health Records**:\nHbA1c 7.2")
	require.Equal(t, "HbA1c 7.2", a.lastRequest(t).MedicalRecords)

	v, err = svc.SubmitTopic(ctx, "sess-1", "Hypertension")
	require.NoError(t, err)
	require.Equal(t, "I'd like to know more about Hypertension", v.Turns[len(v.Turns)-3].Text)

	v, err = svc.RemoveRecord(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, v.Record.Present)
	require.Equal(t, msgRecordRemoved, v.Turns[len(v.Turns)-1].Text)

	got, err := svc.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestIntakeService_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty id", func(t *testing.T) {
		svc := newTestService(t, &fakeAnalyzer{}, newMockStore())
		_, err := svc.SubmitText(ctx, " ", "fever")
		expectUsecaseError(t, err, ErrorInvalidInput, "empty_session_id")
		_, err = svc.Get(ctx, "")
		expectUsecaseError(t, err, ErrorInvalidInput, "empty_session_id")
	})

	t.Run("not found", func(t *testing.T) {
		svc := newTestService(t, &fakeAnalyzer{}, newMockStore())
		_, err := svc.Begin(ctx, "missing")
		expectUsecaseError(t, err, ErrorNotFound, "session_not_found")
	})

	t.Run("load failure", func(t *testing.T) {
		store := newMockStore()
		store.loadErr = errors.New("throttled")
		svc := newTestService(t, &fakeAnalyzer{}, store)
		_, err := svc.Get(ctx, "s")
		expectUsecaseError(t, err, ErrorInternal, "store_load_error")
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		store := newMockStore()
		store.sessions["s"] = domain.Session{ID: "s", Stage: "bogus", Version: 1}
		svc := newTestService(t, &fakeAnalyzer{}, store)
		_, err := svc.Begin(ctx, "s")
		expectUsecaseError(t, err, ErrorInternal, "snapshot_invalid")
	})

	t.Run("save conflict", func(t *testing.T) {
		store := newMockStore()
		store.sessions["s"] = domain.Session{ID: "s", Stage: domain.StageInitial, Version: 1}
		store.saveErr = domain.ErrVersionConflict
		svc := newTestService(t, &fakeAnalyzer{}, store)
		_, err := svc.Begin(ctx, "s")
		expectUsecaseError(t, err, ErrorConflict, "session_version_conflict")
	})

	t.Run("save failure", func(t *testing.T) {
		store := newMockStore()
		store.saveErr = errors.New("disk full")
		svc := newTestService(t, &fakeAnalyzer{}, store)
		_, err := svc.Create(ctx)
		expectUsecaseError(t, err, ErrorInternal, "store_save_error")
	})

	t.Run("guard rejection is not persisted", func(t *testing.T) {
		store := newMockStore()
		store.sessions["s"] = domain.Session{ID: "s", Stage: domain.StageAwaitingSymptoms, Version: 2,
			Turns: []domain.Turn{{Seq: 1, Sender: domain.SenderBot, Text: msgAskSymptoms}}}
		svc := newTestService(t, &fakeAnalyzer{}, store)
		_, err := svc.Begin(ctx, "s")
		expectUsecaseError(t, err, ErrorGuardRejected, "begin_outside_initial")
		require.Zero(t, store.saves)
	})
}

func TestIntakeService_RejectsSubmissionsWhileAnalyzing(t *testing.T) {
	withFixedUUID(t, "sess-c")
	store := newMockStore()
	gate := make(chan struct{})
	a := &fakeAnalyzer{result: domain.AnalysisResult{Answer: "ok"}, gate: gate}
	svc := newTestService(t, a, store)
	ctx := context.Background()

	_, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.Begin(ctx, "sess-c")
	require.NoError(t, err)
	_, err = svc.SubmitText(ctx, "sess-c", "fever")
	require.NoError(t, err)

	roundDone := make(chan error, 1)
	go func() {
		_, err := svc.SubmitText(ctx, "sess-c", "asthma")
		roundDone <- err
	}()
	require.Eventually(t, func() bool { return a.calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	v, err := svc.Get(ctx, "sess-c")
	require.NoError(t, err)
	require.Equal(t, domain.StageAnalyzing, v.Stage)
	require.True(t, v.Busy)
	require.Len(t, v.Turns, 5)
	require.Equal(t, "asthma", v.Turns[3].Text)
	require.Equal(t, analyzingText(triggerHistory, false), v.Turns[4].Text)

	var wg sync.WaitGroup
	errs := make(chan error, 9)
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitText(ctx, "sess-c", "cough")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		expectUsecaseError(t, err, ErrorGuardRejected, "submit_while_analyzing")
	}
	_, err = svc.SubmitTopic(ctx, "sess-c", "Asthma")
	expectUsecaseError(t, err, ErrorGuardRejected, "topic_while_analyzing")

	v, err = svc.UploadRecord(ctx, "sess-c", "BP 150/95", "bp.txt")
	require.NoError(t, err)
	require.True(t, v.Busy)
	require.True(t, v.Record.Present)

	close(gate)
	select {
	case err := <-roundDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("analysis round did not finish")
	}

	require.Equal(t, 1, a.calls())
	saved := store.get(t, "sess-c")
	require.Equal(t, int64(4), saved.Version)
	require.Equal(t, domain.StageFollowUp, saved.Stage)
	require.True(t, saved.Record.Present)
	require.Len(t, saved.Turns, 7)
	require.Equal(t, msgRecordUploaded, saved.Turns[5].Text)
	require.Equal(t, "ok", saved.Turns[6].Text)

	v, err = svc.Get(ctx, "sess-c")
	require.NoError(t, err)
	require.False(t, v.Busy)
	require.Equal(t, domain.StageFollowUp, v.Stage)

	_, err = svc.SubmitText(ctx, "sess-c", "cough")
	require.NoError(t, err)
	require.Equal(t, 2, a.calls())
	require.Equal(t, "BP 150/95", a.lastRequest(t).MedicalRecords)
}
