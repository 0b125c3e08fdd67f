package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"intake-agent/internal/usecase"
	logx "intake-agent/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("httpapi: encode response")
	}
}

// writeError maps a usecase error onto a status and a stable error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := usecase.ErrorInternal
	reason := "unexpected_error"
	var ue *usecase.Error
	if errors.As(err, &ue) {
		code = ue.Code
		reason = ue.Reason
	}
	status := statusFor(code)

	ev := logx.Debug()
	if status >= http.StatusInternalServerError {
		ev = logx.Error()
	}
	ev.Err(err).
		Str("code", string(code)).
		Str("reason", reason).
		Str("path", r.URL.Path).
		Msg("httpapi: request failed")

	writeJSON(w, status, errorResponse{Error: string(code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorGuardRejected, usecase.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
