package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"intake-agent/internal/httpapi"
	logx "intake-agent/pkg/logger"
)

// Handler adapts API Gateway proxy events onto the shared HTTP router.
type Handler struct {
	router http.Handler
}

func NewHandler(router http.Handler) (*Handler, error) {
	if router == nil {
		return nil, errors.New("handler: router must not be nil")
	}
	return &Handler{router: router}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, httpapi.CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	req, err := toHTTPRequest(ctx, event)
	if err != nil {
		logx.Warn().Err(err).Str("correlationId", correlationID).Msg("handler: malformed event")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers: map[string]string{
				"Content-Type":             "application/json",
				httpapi.CorrelationHeader: correlationID,
			},
			Body: `{"error":"INVALID_INPUT"}`,
		}, nil
	}
	req.Header.Set(httpapi.CorrelationHeader, correlationID)

	rw := newResponseWriter()
	h.router.ServeHTTP(rw, req)
	rw.Header().Set(httpapi.CorrelationHeader, correlationID)
	return rw.toEvent(), nil
}

func toHTTPRequest(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}

	method := event.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	path := event.Path
	if path == "" {
		path = "/"
	}
	u := &url.URL{Path: path, RawQuery: queryString(event)}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range event.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	req.RemoteAddr = event.RequestContext.Identity.SourceIP
	return req, nil
}

func queryString(event events.APIGatewayProxyRequest) string {
	q := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range event.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	return q.Encode()
}

// headerValue looks a header up case-insensitively; API Gateway preserves client casing.
func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
