// Package api exposes the walk-forward controller over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/observability"
	"walkforward-lab/internal/walkforward"
)

// RunService is the controller surface used by the handlers.
type RunService interface {
	Submit(ctx context.Context, cfg domain.RunConfig) (*domain.Run, error)
	Status(ctx context.Context, runID string) (*domain.RunStatusView, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
	Cancel(ctx context.Context, runID string) (*domain.Run, error)
	Resume(ctx context.Context, runID string) (*domain.Run, error)
	Predictions(ctx context.Context, runID string) ([]*domain.PredictionRecord, error)
	EquityCurve(ctx context.Context, runID string) ([]*domain.EquityCurvePoint, error)
	Subscribe(runID string) (<-chan domain.RunStatusView, func())
}

// Compile-time interface check.
var _ RunService = (*walkforward.Controller)(nil)

// Default stream settings.
const (
	DefaultPingPeriod = 30 * time.Second
	DefaultPongWait   = 60 * time.Second
	writeWait         = 10 * time.Second
)

// Options for creating a Handler.
type Options struct {
	Service        RunService
	MetricsHandler http.Handler // observability.Handler() when nil
	Logger         *log.Logger

	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
}

// Handler serves the runs API, health and metrics endpoints.
type Handler struct {
	service    RunService
	metrics    http.Handler
	logger     *log.Logger
	validate   *validator.Validate
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Service == nil {
		panic("api: service cannot be nil")
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = observability.Handler()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	if opts.PongWait <= opts.PingPeriod {
		opts.PongWait = opts.PingPeriod * 2
	}

	return &Handler{
		service:  opts.Service,
		metrics:  opts.MetricsHandler,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
		},
		pingPeriod: opts.PingPeriod,
		pongWait:   opts.PongWait,
	}
}

// Routes returns the root router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.metrics)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/{id}/stream", h.StreamRun)

		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Post("/", h.CreateRun)
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
			r.Post("/{id}/cancel", h.CancelRun)
			r.Post("/{id}/resume", h.ResumeRun)
			r.Get("/{id}/predictions", h.GetPredictions)
			r.Get("/{id}/equity", h.GetEquityCurve)
		})
	})
	return r
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// CreateRun handles POST /api/v1/runs.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := render.Bind(r, &req); err != nil {
		h.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	cfg, err := req.Config()
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	run, err := h.service.Submit(r.Context(), cfg)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	h.logger.Printf("submitted run %s (%d symbols)", run.RunID, len(cfg.Symbols))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, RunAccepted{RunID: run.RunID, Status: string(domain.RunStatusRunning)})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, newRunStatusResponse(*view))
}

// ListRuns handles GET /api/v1/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.renderError(w, r, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, NewRunSummary(run))
	}
	render.JSON(w, r, out)
}

// CancelRun handles POST /api/v1/runs/{id}/cancel.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, RunAccepted{RunID: run.RunID, Status: string(domain.RunStatusCancelled)})
}

// ResumeRun handles POST /api/v1/runs/{id}/resume.
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, RunAccepted{RunID: run.RunID, Status: string(domain.RunStatusRunning)})
}

// GetPredictions handles GET /api/v1/runs/{id}/predictions.
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Predictions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	out := make([]PredictionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newPredictionResponse(rec))
	}
	render.JSON(w, r, out)
}

// GetEquityCurve handles GET /api/v1/runs/{id}/equity.
func (h *Handler) GetEquityCurve(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.EquityCurve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	out := make([]EquityPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, newEquityPointResponse(p))
	}
	render.JSON(w, r, out)
}

func (h *Handler) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, walkforward.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, walkforward.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, walkforward.ErrRunTerminal),
		errors.Is(err, walkforward.ErrNotResumable),
		errors.Is(err, walkforward.ErrRunActive):
		status = http.StatusConflict
	case errors.Is(err, walkforward.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	h.renderError(w, r, status, err)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}
