package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"

	"intake-agent/internal/domain"
)

const defaultModel = "gpt-4o-mini"

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// analysisPayload is the JSON object the model is instructed to return.
type analysisPayload struct {
	Answer         *string             `json:"answer"`
	ClinicalTrials []domain.TrialEntry `json:"clinical_trials"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError carries the HTTP status of a failed completion call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Analyzer answers analysis requests in-process with a chat completion.
type Analyzer struct {
	getter      Getter
	paramPrefix string
	model       string
	baseURL     string
	httpClient  *http.Client

	mu     sync.Mutex
	key    string
	client *goopenai.Client
}

type Option func(*Analyzer)

func WithBaseURL(baseURL string) Option {
	return func(a *Analyzer) {
		a.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Analyzer) {
		a.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(a *Analyzer) {
		if m := strings.TrimSpace(model); m != "" {
			a.model = m
		}
	}
}

// NewAnalyzer creates an Analyzer that reads its API token through ps on every call, so a
// caching getter bounds parameter store traffic and a rotated token is picked up.
func NewAnalyzer(ps Getter, paramPrefix string, opts ...Option) (*Analyzer, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	a := &Analyzer{
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       defaultModel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Analyzer) tokenParameterName() string {
	return a.paramPrefix + "/open-ai-token"
}

func (a *Analyzer) resolveClient(ctx context.Context) (*goopenai.Client, error) {
	key, err := fetchAPIKeyFromParamStore(ctx, a.getter, a.tokenParameterName())
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.key == key {
		return a.client, nil
	}
	cfg := goopenai.DefaultConfig(key)
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	if a.httpClient != nil {
		cfg.HTTPClient = a.httpClient
	}
	a.key = key
	a.client = goopenai.NewClientWithConfig(cfg)
	return a.client, nil
}

// Analyze performs one chat completion for req.
func (a *Analyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	client, err := a.resolveClient(ctx)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	resp, err := client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    buildMessages(req),
		Temperature: 0.2,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.AnalysisResult{}, wrapCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return domain.AnalysisResult{}, fmt.Errorf("openai: no choices in response: %w", domain.ErrInvalidResponse)
	}
	return parseAnalysis(resp.Choices[0].Message.Content)
}

func wrapCompletionError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

func buildMessages(req domain.AnalysisRequest) []goopenai.ChatCompletionMessage {
	return []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: buildSystemPrompt()},
		{Role: goopenai.ChatMessageRoleUser, Content: buildQuestionPrompt(req)},
	}
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a careful medical information assistant.",
		"",
		"Task:",
		"Answer the patient's question helpfully and informatively.",
		"When the patient asks about clinical trials, list relevant ones.",
		"",
		"Behavior Rules:",
		"1) Do not present a diagnosis as certain; recommend seeing a clinician for concerning symptoms.",
		"2) Use the patient's medical records when they are provided.",
		"3) Only list clinical trials you are confident exist.",
		"",
		"Output Contract:",
		"Return JSON only with keys answer (string) and clinical_trials " +
			"(array of objects with string keys title, condition, intervention, eligibility; empty when none apply).",
	}, "\n")
}

func buildQuestionPrompt(req domain.AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s %s\n", strings.TrimSpace(req.Symptoms), strings.TrimSpace(req.History))
	if records := strings.TrimSpace(req.MedicalRecords); records != "" {
		b.WriteString("\nPatient medical records:\n")
		b.WriteString(records)
		b.WriteString("\n")
	}
	return b.String()
}

func parseAnalysis(raw string) (domain.AnalysisResult, error) {
	var out analysisPayload
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("openai: decode analysis: %w: %w", domain.ErrInvalidResponse, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.AnalysisResult{}, fmt.Errorf("openai: decode analysis: trailing data: %w", domain.ErrInvalidResponse)
	}
	if out.Answer == nil {
		return domain.AnalysisResult{}, fmt.Errorf("openai: analysis missing answer: %w", domain.ErrInvalidResponse)
	}
	trials, err := domain.TrialsFromEntries(out.ClinicalTrials)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("openai: %w", err)
	}
	return domain.AnalysisResult{Answer: *out.Answer, Trials: trials}, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
