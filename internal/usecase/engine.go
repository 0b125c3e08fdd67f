package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"intake-agent/internal/domain"
	logx "intake-agent/pkg/logger"
)

// Analyzer performs exactly one analysis call per invocation.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Engine is the conversation state machine for a single conversation instance.
// All state changes go through its entry points; it is safe for concurrent use but
// allows at most one outstanding analysis at a time.
type Engine struct {
	analyzer Analyzer

	mu         sync.Mutex
	stage      domain.Stage
	intake     domain.Intake
	records    domain.RecordStore
	transcript domain.Transcript
	trials     []domain.Trial
}

func NewEngine(a Analyzer) (*Engine, error) {
	if a == nil {
		return nil, errors.New("usecase: analyzer must not be nil")
	}
	return &Engine{
		analyzer: a,
		stage:    domain.StageInitial,
		trials:   []domain.Trial{},
	}, nil
}

// RestoreEngine rebuilds an engine from a snapshot. A snapshot taken mid-analysis can
// never complete, so it is closed out with the failure turn and moved to FollowUp.
func RestoreEngine(a Analyzer, s domain.Session) (*Engine, error) {
	e, err := NewEngine(a)
	if err != nil {
		return nil, err
	}
	if !s.Stage.Valid() {
		return nil, fmt.Errorf("usecase: snapshot has unknown stage %q", s.Stage)
	}
	tr, err := domain.RestoreTranscript(s.Turns)
	if err != nil {
		return nil, fmt.Errorf("usecase: restore transcript: %w", err)
	}
	e.stage = s.Stage
	e.intake = s.Intake
	e.records = domain.NewRecordStore(s.Record)
	e.transcript = tr
	if len(s.Trials) > 0 {
		e.trials = append([]domain.Trial(nil), s.Trials...)
	}

	if e.stage == domain.StageAnalyzing {
		logx.Warn().Str("session", s.ID).Msg("engine: restored an interrupted analysis")
		e.finish(domain.Outcome{Err: newError(ErrorNetworkFailure, "analysis_interrupted", nil)})
	}
	return e, nil
}

// Begin asks the first question. It is only valid from Initial.
func (e *Engine) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begin()
}

func (e *Engine) begin() error {
	next, ok := transition(e.stage, eventBegin)
	if !ok {
		return e.reject("begin_outside_initial")
	}
	e.transcript.Append(domain.SenderBot, msgAskSymptoms)
	if e.records.Get().Present {
		e.transcript.Append(domain.SenderBot, msgRecordOnBegin)
	}
	e.stage = next
	return nil
}

// SubmitUserText routes free text according to the current stage. Blank text is ignored.
// The returned round is nil unless an analysis was started.
func (e *Engine) SubmitUserText(ctx context.Context, text string) (*Round, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := transition(e.stage, eventSubmit)
	if !ok {
		return nil, e.reject("submit_while_analyzing")
	}
	e.transcript.Append(domain.SenderUser, text)

	switch e.stage {
	case domain.StageAwaitingSymptoms:
		e.intake.Symptoms = text
		e.transcript.Append(domain.SenderBot, msgAskHistory)
		e.stage = next
		return nil, nil
	case domain.StageAwaitingHistory:
		e.intake.History = text
		return e.startRound(ctx, e.intake.Symptoms, text, triggerHistory), nil
	default:
		return e.startRound(ctx, text, "", triggerFollowUp), nil
	}
}

// SubmitTopicQuery asks about a named topic. From Initial it only begins the conversation.
func (e *Engine) SubmitTopicQuery(ctx context.Context, topic string) (*Round, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, newError(ErrorInvalidInput, "empty_topic", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage == domain.StageInitial {
		return nil, e.begin()
	}
	if _, ok := transition(e.stage, eventFollowUp); !ok {
		return nil, e.reject("topic_while_analyzing")
	}
	text := topicQueryText(topic)
	e.transcript.Append(domain.SenderUser, text)
	return e.startRound(ctx, text, "", triggerTopic), nil
}

// SubmitTrialInquiry asks about a trial's success factors, with record context when present.
func (e *Engine) SubmitTrialInquiry(ctx context.Context, trial domain.Trial) (*Round, error) {
	if strings.TrimSpace(trial.Title+trial.Condition+trial.Intervention+trial.Eligibility) == "" {
		return nil, newError(ErrorInvalidInput, "empty_trial", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := transition(e.stage, eventFollowUp); !ok {
		return nil, e.reject("trial_while_analyzing")
	}
	text := trialInquiryText(trial, e.records.Get())
	e.transcript.Append(domain.SenderUser, text)
	return e.startRound(ctx, text, "", triggerTrial), nil
}

// SetRecord replaces the record. Once the conversation has started a notice turn is added.
func (e *Engine) SetRecord(content, filename string) error {
	if strings.TrimSpace(content) == "" {
		return newError(ErrorInvalidInput, "empty_record", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.records.Set(content, strings.TrimSpace(filename))
	if e.transcript.Len() > 0 {
		e.transcript.Append(domain.SenderBot, msgRecordUploaded)
	}
	return nil
}

// ClearRecord removes the record. Once the conversation has started a notice turn is added.
func (e *Engine) ClearRecord() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records.Clear()
	if e.transcript.Len() > 0 {
		e.transcript.Append(domain.SenderBot, msgRecordRemoved)
	}
}

func (e *Engine) Stage() domain.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// View returns the state a presentation layer renders.
func (e *Engine) View() domain.View {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.records.Get()
	return domain.View{
		Stage:  e.stage,
		Busy:   e.stage == domain.StageAnalyzing,
		Turns:  e.transcript.Turns(),
		Trials: append([]domain.Trial{}, e.trials...),
		Record: domain.RecordView{Present: rec.Present, Filename: rec.Filename},
	}
}

// Snapshot captures the engine state. ID and Version are left to the caller.
func (e *Engine) Snapshot() domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	return domain.Session{
		Stage:  e.stage,
		Intake: e.intake,
		Record: e.records.Get(),
		Turns:  e.transcript.Turns(),
		Trials: append([]domain.Trial{}, e.trials...),
	}
}

// startRound must be called with mu held.
func (e *Engine) startRound(ctx context.Context, symptoms, history string, t trigger) *Round {
	rec := e.records.Get()
	req := BuildRequest(symptoms, history, rec)

	e.stage = domain.StageAnalyzing
	e.transcript.Append(domain.SenderBot, analyzingText(t, rec.Present))

	r := newRound()
	go e.run(context.WithoutCancel(ctx), req, r)
	return r
}

func (e *Engine) run(ctx context.Context, req domain.AnalysisRequest, r *Round) {
	out := e.call(ctx, req)

	e.mu.Lock()
	e.finish(out)
	e.mu.Unlock()

	r.complete(out)
}

func (e *Engine) call(ctx context.Context, req domain.AnalysisRequest) (out domain.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = domain.Outcome{Err: newError(ErrorInternal, "analyzer_panic", fmt.Errorf("%v", p))}
		}
	}()

	res, err := e.analyzer.Analyze(ctx, req)
	if err != nil {
		return domain.Outcome{Err: classifyAnalysisError(err)}
	}
	trials := res.Trials
	if trials == nil {
		trials = []domain.Trial{}
	}
	return domain.Outcome{Answer: res.Answer, Trials: trials}
}

// finish applies an outcome. It must be called with mu held.
func (e *Engine) finish(out domain.Outcome) {
	if out.Failed() {
		ev := logx.Warn().Err(out.Err)
		var ue *Error
		if errors.As(out.Err, &ue) {
			ev = ev.Str("code", string(ue.Code))
		}
		if status, ok := upstreamStatusCode(out.Err); ok {
			ev = ev.Int("status", status)
		}
		ev.Msg("engine: analysis failed")
		e.transcript.Append(domain.SenderBot, msgAnalysisFailed)
	} else {
		logx.Debug().Int("trials", len(out.Trials)).Msg("engine: analysis complete")
		e.transcript.Append(domain.SenderBot, out.Answer)
		e.trials = out.Trials
	}
	e.stage, _ = transition(e.stage, eventOutcome)
}

func (e *Engine) reject(reason string) error {
	logx.Debug().Str("stage", e.stage.String()).Str("reason", reason).Msg("engine: guard rejected")
	return newError(ErrorGuardRejected, reason, nil)
}

func classifyAnalysisError(err error) *Error {
	if errors.Is(err, domain.ErrInvalidResponse) {
		return newError(ErrorInvalidResponse, "malformed_analysis_response", err)
	}
	return newError(ErrorNetworkFailure, "analysis_call_failed", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
