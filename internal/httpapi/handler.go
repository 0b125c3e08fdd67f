package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"intake-agent/internal/domain"
	"intake-agent/internal/integrations/analysis"
	"intake-agent/internal/usecase"
	logx "intake-agent/pkg/logger"
)

// Records can be pasted lab reports, so bodies are allowed to be fairly large.
const maxBodyBytes = 2 << 20

// Service is the session API exposed over HTTP. *usecase.IntakeService satisfies it.
type Service interface {
	Create(ctx context.Context) (domain.View, error)
	Get(ctx context.Context, id string) (domain.View, error)
	Begin(ctx context.Context, id string) (domain.View, error)
	SubmitText(ctx context.Context, id, text string) (domain.View, error)
	SubmitTopic(ctx context.Context, id, topic string) (domain.View, error)
	SubmitTrial(ctx context.Context, id string, trial domain.Trial) (domain.View, error)
	UploadRecord(ctx context.Context, id, content, filename string) (domain.View, error)
	RemoveRecord(ctx context.Context, id string) (domain.View, error)
}

type Reporter interface {
	Render(v domain.View) ([]byte, error)
}

type IndexChecker interface {
	IndexStatus(ctx context.Context) (analysis.IndexStatus, error)
}

type Handler struct {
	svc      Service
	reporter Reporter
	index    IndexChecker
}

type Option func(*Handler)

func WithReporter(r Reporter) Option {
	return func(h *Handler) { h.reporter = r }
}

// WithIndexChecker makes /healthz report upstream index readiness.
func WithIndexChecker(c IndexChecker) Option {
	return func(h *Handler) { h.index = c }
}

func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("httpapi: service must not be nil")
	}
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Router builds the full route tree with middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", h.Health)
	r.Get("/topics", h.Topics)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/begin", h.Begin)
			r.Post("/messages", h.SubmitMessage)
			r.Post("/topics", h.SubmitTopic)
			r.Post("/trials", h.SubmitTrial)
			r.Put("/record", h.UploadRecord)
			r.Delete("/record", h.RemoveRecord)
			if h.reporter != nil {
				r.Get("/report.pdf", h.Report)
			}
		})
	})
	return r
}

type messageRequest struct {
	Text string `json:"text"`
}

type topicRequest struct {
	Topic string `json:"topic"`
}

type trialRequest struct {
	Title        string `json:"title"`
	Condition    string `json:"condition"`
	Intervention string `json:"intervention"`
	Eligibility  string `json:"eligibility"`
}

type recordRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

type healthResponse struct {
	Status  string                `json:"status"`
	Indices *analysis.IndexStatus `json:"indices,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	st, err := h.index.IndexStatus(r.Context())
	if err != nil {
		logx.Warn().Err(err).Msg("httpapi: index status unavailable")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "index_status_failed"})
		return
	}
	if !st.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "indexing", Indices: &st})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Indices: &st})
}

func (h *Handler) Topics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, topicsResponse{Topics: append([]string(nil), domain.FeaturedTopics...)})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Create(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.Get(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.Begin(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, r)(h.svc.SubmitText(r.Context(), chi.URLParam(r, "id"), req.Text))
}

func (h *Handler) SubmitTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, r)(h.svc.SubmitTopic(r.Context(), chi.URLParam(r, "id"), req.Topic))
}

func (h *Handler) SubmitTrial(w http.ResponseWriter, r *http.Request) {
	var req trialRequest
	if !decode(w, r, &req) {
		return
	}
	trial := domain.Trial{
		Title:        req.Title,
		Condition:    req.Condition,
		Intervention: req.Intervention,
		Eligibility:  req.Eligibility,
	}
	h.respond(w, r)(h.svc.SubmitTrial(r.Context(), chi.URLParam(r, "id"), trial))
}

func (h *Handler) UploadRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, r)(h.svc.UploadRecord(r.Context(), chi.URLParam(r, "id"), req.Content, req.Filename))
}

func (h *Handler) RemoveRecord(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.RemoveRecord(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pdf, err := h.reporter.Render(v)
	if err != nil {
		writeError(w, r, &usecase.Error{Code: usecase.ErrorInternal, Reason: "report_render_error", Err: err})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript_"+id+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		logx.Warn().Err(err).Msg("httpapi: write report")
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(domain.View, error) {
	return func(v domain.View, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return false
	}
	return true
}
