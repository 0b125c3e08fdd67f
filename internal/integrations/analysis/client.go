package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"intake-agent/internal/domain"
)

const defaultBaseURL = "http://localhost:8000"

// analyzeResponse mirrors the endpoint payload. Pointers distinguish absent fields from empty ones.
type analyzeResponse struct {
	Answer         *string             `json:"answer"`
	ClinicalTrials []domain.TrialEntry `json:"clinical_trials"`
}

// IndexStatus reports whether the upstream knowledge indices are ready.
type IndexStatus struct {
	MedicalIndexBuilt        bool `json:"medical_index_built"`
	ClinicalTrialsIndexBuilt bool `json:"clinical_trials_index_built"`
	ClinicalTrialsCount      int  `json:"clinical_trials_count"`
}

func (s IndexStatus) Ready() bool {
	return s.MedicalIndexBuilt && s.ClinicalTrialsIndexBuilt
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("analysis: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the analysis endpoint. Each Analyze is a single attempt.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// NewClient creates a Client for baseURL. The default HTTP client sets no timeout.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("analysis: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		headers:    http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

func (c *Client) analyzeURL() string {
	return c.baseURL + "/analyze"
}

func (c *Client) statusURL() string {
	return c.baseURL + "/indices/status"
}

// Analyze sends req and returns the decoded result. Malformed success payloads yield an
// error wrapping domain.ErrInvalidResponse; everything else is a transport-level failure.
func (c *Client) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: marshal request: %w", err)
	}

	url := c.analyzeURL()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.applyHeaders(httpReq)

	raw, err := c.doJSONRequest(httpReq, url)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: request failed: %w", err)
	}
	return decodeAnalyzeResponse(raw)
}

// IndexStatus queries the upstream readiness endpoint.
func (c *Client) IndexStatus(ctx context.Context) (IndexStatus, error) {
	url := c.statusURL()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return IndexStatus{}, fmt.Errorf("analysis: create status request: %w", err)
	}
	c.applyHeaders(httpReq)

	raw, err := c.doJSONRequest(httpReq, url)
	if err != nil {
		return IndexStatus{}, fmt.Errorf("analysis: status request failed: %w", err)
	}
	var out IndexStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return IndexStatus{}, fmt.Errorf("analysis: decode status response: %w", err)
	}
	return out, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func decodeAnalyzeResponse(raw []byte) (domain.AnalysisResult, error) {
	var payload analyzeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: decode response: %w: %w", domain.ErrInvalidResponse, err)
	}
	if payload.Answer == nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: response missing answer: %w", domain.ErrInvalidResponse)
	}

	trials, err := domain.TrialsFromEntries(payload.ClinicalTrials)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis: %w", err)
	}
	return domain.AnalysisResult{Answer: *payload.Answer, Trials: trials}, nil
}
