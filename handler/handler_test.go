package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"intake-agent/internal/domain"
	"intake-agent/internal/httpapi"
	"intake-agent/internal/usecase"
)

type seenRequest struct {
	method string
	path   string
	query  string
	body   string
	header http.Header
}

func echoRouter(seen *seenRequest) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*seen = seenRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(b), header: r.Header.Clone()}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_ForwardsRequest(t *testing.T) {
	var seen seenRequest
	h, err := NewHandler(echoRouter(&seen))
	require.NoError(t, err)

	event := makeEvent(http.MethodPost, "/sessions/abc/messages", `{"text":"fever"}`)
	event.QueryStringParameters = map[string]string{"lang": "en"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, resp.Body)
	require.False(t, resp.IsBase64Encoded)
	require.Equal(t, http.MethodPost, seen.method)
	require.Equal(t, "/sessions/abc/messages", seen.path)
	require.Equal(t, "lang=en", seen.query)
	require.Equal(t, `{"text":"fever"}`, seen.body)
	require.Equal(t, "application/json", seen.header.Get("Content-Type"))
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, resp.Headers["X-Correlation-Id"], seen.header.Get("X-Correlation-Id"))
}

func TestHandle_DecodesBase64Body(t *testing.T) {
	var seen seenRequest
	h, err := NewHandler(echoRouter(&seen))
	require.NoError(t, err)

	event := makeEvent(http.MethodPut, "/sessions/abc/record", base64.StdEncoding.EncodeToString([]byte(`{"content":"BP"}`)))
	event.IsBase64Encoded = true
	_, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, `{"content":"BP"}`, seen.body)
}

func TestHandle_MalformedBase64(t *testing.T) {
	var seen seenRequest
	h, err := NewHandler(echoRouter(&seen))
	require.NoError(t, err)

	event := makeEvent(http.MethodPut, "/sessions/abc/record", "%%%")
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInvalidInput), parseBody[map[string]string](t, resp.Body)["error"])
	require.Empty(t, seen.method)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	var seen seenRequest
	h, err := NewHandler(echoRouter(&seen))
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/topics", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", seen.header.Get("X-Correlation-Id"))
}

func TestHandle_BinaryResponsesAreBase64(t *testing.T) {
	router := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	h, err := NewHandler(router)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/abc/report.pdf", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, resp.IsBase64Encoded)
	raw, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(raw))
}

type stubService struct {
	httpapi.Service
	err error
}

func (s stubService) Get(_ context.Context, id string) (domain.View, error) {
	if s.err != nil {
		return domain.View{}, s.err
	}
	return domain.View{SessionID: id, Stage: domain.StageFollowUp, Turns: []domain.Turn{}, Trials: []domain.Trial{}}, nil
}

func TestHandle_ThroughHTTPAPIRouter(t *testing.T) {
	api, err := httpapi.NewHandler(stubService{})
	require.NoError(t, err)
	h, err := NewHandler(api.Router())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/abc", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[domain.View](t, resp.Body)
	require.Equal(t, "abc", out.SessionID)
	require.Equal(t, domain.StageFollowUp, out.Stage)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "session_not_found"}, status: http.StatusNotFound},
		{name: "invalid", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_session_id"}, status: http.StatusBadRequest},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_load_error"}, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, err := httpapi.NewHandler(stubService{err: tc.err})
			require.NoError(t, err)
			h, err := NewHandler(api.Router())
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/abc", ""))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
		})
	}
}
