package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/jobs"
	"github.com/kalambet/intelliinspect/internal/storage"
)

const maxRunsLimit = 500

func (h *handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !h.gate.TryAcquire(1) {
		httpError(w, http.StatusConflict, "conflict", "a training run is already in progress")
		return
	}
	defer h.gate.Release(1)

	rec, err := h.svc.Train(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	kind := apperr.KindOf(err)
	if kind.FailFast() {
		appError(w, err, "")
		return
	}
	h.logger.Error().Err(err).Str("kind", kind.String()).Msg("training failed")
	writeJSON(w, statusFor(kind), map[string]any{
		"error": map[string]any{
			"message": rec.Message,
			"type":    kind.String(),
		},
		"detail": rec,
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Status(r.Context())
	if err != nil {
		appError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Metrics()
	if err != nil {
		appError(w, err, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sent := 0
	for ev := range h.svc.Simulate(r.Context()) {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal simulation event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; the request context cancels the simulator.
			h.logger.Debug().Err(err).Msg("simulation stream write failed")
			break
		}
		flusher.Flush()
		sent++
	}
	h.logger.Debug().Int("events", sent).Msg("simulation stream closed")
}

func (h *handler) handleRanges(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Ranges(r.Context())
	if err != nil {
		appError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be an integer between 1 and %d", maxRunsLimit)
			return
		}
		limit = n
	}
	runs, err := h.svc.Runs(limit)
	if err != nil {
		appError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) handleEnqueueTrain(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "job queue not configured")
		return
	}
	job, err := jobs.NewTrainJob("api")
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
		return
	}
	if err := h.jobs.EnqueueJob(job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
		return
	}
	h.logger.Info().Str("job_id", job.ID).Msg("training job queued")

	stored, err := h.jobs.GetJob(job.ID)
	if err != nil {
		stored = job
	}
	writeJSON(w, http.StatusAccepted, stored)
}

// jobResponse is a job plus the run it produced, once there is one.
type jobResponse struct {
	storage.Job
	Run *storage.Run `json:"run,omitempty"`
}

func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "job queue not configured")
		return
	}
	id := chi.URLParam(r, "id")

	job, err := h.jobs.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
		return
	}

	resp := jobResponse{Job: job}
	run, err := h.jobs.RunForJob(id)
	switch {
	case err == nil:
		resp.Run = &run
	case !errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
