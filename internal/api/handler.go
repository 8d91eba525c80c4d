package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/partition"
	"github.com/kalambet/intelliinspect/internal/pipeline"
	"github.com/kalambet/intelliinspect/internal/simulate"
	"github.com/kalambet/intelliinspect/internal/storage"
)

// Service is the pipeline surface served over HTTP and MCP.
// *pipeline.Service implements it.
type Service interface {
	Train(ctx context.Context) (evaluate.Record, error)
	Status(ctx context.Context) (pipeline.StatusReport, error)
	Metrics() ([]byte, error)
	Simulate(ctx context.Context) <-chan simulate.Event
	Ranges(ctx context.Context) (partition.Distribution, error)
	Runs(limit int) ([]storage.Run, error)
}

// JobQueue is the part of storage.Store used by the job routes.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
	RunForJob(jobID string) (storage.Run, error)
}

type Deps struct {
	Service Service
	Jobs    JobQueue // optional; job routes answer 503 when nil
	Token   string
	// TrainGate serializes training. When nil, the handler creates its own.
	TrainGate *semaphore.Weighted
}

type handler struct {
	svc    Service
	jobs   JobQueue
	gate   *semaphore.Weighted
	logger zerolog.Logger
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	h := &handler{
		svc:    deps.Service,
		jobs:   deps.Jobs,
		gate:   deps.TrainGate,
		logger: log.With().Str("component", "api").Logger(),
	}
	if h.gate == nil {
		h.gate = semaphore.NewWeighted(1)
	}

	r := chi.NewRouter()
	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/train", h.handleTrain)
		r.Post("/train", h.handleTrain)
		r.Get("/status", h.handleStatus)
		r.Get("/metrics", h.handleMetrics)
		r.Get("/simulate", h.handleSimulate)
		r.Get("/ranges", h.handleRanges)
		r.Get("/runs", h.handleRuns)
		r.Post("/jobs/train", h.handleEnqueueTrain)
		r.Get("/jobs/{id}", h.handleGetJob)
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ML Training API is running", "status": "healthy"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.MissingArtifact:
		return http.StatusNotFound
	case apperr.MalformedConfig:
		return http.StatusBadRequest
	case apperr.Schema, apperr.EmptyPartition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// appError writes err using its kind for the status and type. msg replaces
// the error text when non-empty.
func appError(w http.ResponseWriter, err error, msg string) {
	kind := apperr.KindOf(err)
	if msg == "" {
		msg = err.Error()
		var ae *apperr.Error
		if errors.As(err, &ae) && kind == apperr.MissingArtifact && ae.Msg != "" {
			msg = ae.Msg
		}
	}
	httpError(w, statusFor(kind), kind.String(), "%s", msg)
}
