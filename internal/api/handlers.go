package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fixer runs one repair invocation.
type Fixer interface {
	Fix(ctx context.Context, document string) schemas.OrchestratorResult
}

// RunStore persists and loads fix runs.
type RunStore interface {
	SaveRun(ctx context.Context, fixture string, res *schemas.OrchestratorResult) error
	GetRun(ctx context.Context, runID string) (*store.Run, error)
}

// FixRequest is the body of POST /v1/fix.
type FixRequest struct {
	HTML string `json:"html"`
	// Name labels the run when it is persisted.
	Name string `json:"name,omitempty"`
}

// ErrorResponse is returned for every non-2xx answer.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Handlers manages the HTTP request handling for the repair service.
type Handlers struct {
	log      *zap.Logger
	fixer    Fixer
	runs     RunStore
	gatherer prometheus.Gatherer
	maxBody  int64
}

// NewHandlers creates a Handlers instance. runs may be nil when no database
// is configured; gatherer defaults to the global Prometheus registry.
func NewHandlers(logger *zap.Logger, fixer Fixer, runs RunStore, gatherer prometheus.Gatherer, maxBody int64) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		log:      logger.Named("api_handlers"),
		fixer:    fixer,
		runs:     runs,
		gatherer: gatherer,
		maxBody:  maxBody,
	}
}

// RegisterRoutes sets up the routing for the service.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fix", h.HandleFix)
		r.Get("/runs/{runID}", h.HandleGetRun)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleFix repairs the posted document and answers with the full result.
// A failed repair is still a 200: the result describes what went wrong.
func (h *Handlers) HandleFix(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var req FixRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		h.respondWithError(w, http.StatusBadRequest, "Field 'html' must not be empty")
		return
	}

	res := h.fixer.Fix(r.Context(), req.HTML)
	h.log.Info("Fix request served",
		zap.String("run_id", res.RunID),
		zap.Bool("success", res.Success),
		zap.Float64("score", res.FinalScore),
	)

	if h.runs != nil {
		name := req.Name
		if name == "" {
			name = "api"
		}
		// The caller already has the result; a storage failure only costs history.
		if err := h.runs.SaveRun(r.Context(), name, &res); err != nil {
			h.log.Warn("Failed to persist run", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}

	h.respondWithJSON(w, http.StatusOK, res)
}

// HandleGetRun returns a persisted run.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Run history is unavailable (database not configured).")
		return
	}

	runID := chi.URLParam(r, "runID")
	run, err := h.runs.GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", runID))
	case err != nil:
		h.log.Error("Failed to load run", zap.String("run_id", runID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load run")
	default:
		h.respondWithJSON(w, http.StatusOK, run)
	}
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithJSON(w, statusCode, ErrorResponse{Status: "error", Error: message})
}

func (h *Handlers) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
