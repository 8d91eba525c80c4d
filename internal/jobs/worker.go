// Package jobs runs queued training requests from the SQLite job queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/storage"
)

// TypeTrain is the job type for a training run.
const TypeTrain = "train"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	AbandonJob(id string, errMsg string) error
}

// Trainer runs one training attempt on behalf of a job.
type Trainer interface {
	TrainJob(ctx context.Context, jobID string) (evaluate.Record, error)
}

// TrainPayload is the JSON payload of a train job.
type TrainPayload struct {
	Source string `json:"source"`
}

// NewTrainJob builds a pending train job with a fresh id.
func NewTrainJob(source string) (storage.Job, error) {
	payload, err := json.Marshal(TrainPayload{Source: source})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        TypeTrain,
		PayloadJSON: string(payload),
	}, nil
}

// Worker processes train jobs one at a time.
type Worker struct {
	store   JobStore
	trainer Trainer
	poll    time.Duration
	logger  zerolog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, trainer Trainer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		trainer: trainer,
		poll:    pollInterval,
		logger:  log.With().Str("component", "jobs").Logger(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker iteration failed")
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single train job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{TypeTrain})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn().Str("job_id", job.ID).Err(err).Msg("job failed")
		// Fail-fast errors are not retried.
		fail := w.store.FailJob
		if apperr.KindOf(err).FailFast() {
			fail = w.store.AbandonJob
		}
		if failErr := fail(job.ID, err.Error()); failErr != nil {
			w.logger.Error().Str("job_id", job.ID).Err(failErr).Msg("failed to mark job as failed")
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload TrainPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	w.logger.Info().Str("job_id", job.ID).Str("source", payload.Source).Int("attempt", job.Attempts+1).Msg("training job started")
	rec, err := w.trainer.TrainJob(ctx, job.ID)
	if err != nil {
		return err
	}
	w.logger.Info().Str("job_id", job.ID).Str("status", rec.Status).Msg("training job finished")
	return nil
}
