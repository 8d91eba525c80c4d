// Package pipeline orchestrates training and simulation over one storage
// directory: load, partition, impute, train, evaluate, persist.
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/artifact"
	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/gbdt"
	"github.com/kalambet/intelliinspect/internal/partition"
	"github.com/kalambet/intelliinspect/internal/preprocess"
	"github.com/kalambet/intelliinspect/internal/simulate"
	"github.com/kalambet/intelliinspect/internal/storage"
	"github.com/kalambet/intelliinspect/internal/trainer"
)

// Config is everything a Service needs; there is no global storage path.
type Config struct {
	DataDir     string
	Dataset     dataset.Options
	IDColumn    string
	Params      gbdt.Params
	SimInterval time.Duration
}

// RunStore records training attempts. storage.Store implements it.
type RunStore interface {
	SaveRun(r storage.Run) error
	ListRuns(limit int) ([]storage.Run, error)
	LatestRun() (storage.Run, error)
}

// Service is the boundary used by the HTTP API, the MCP server, the job
// worker and the CLI's local mode.
type Service struct {
	cfg       Config
	artifacts *artifact.Store
	runs      RunStore
	logger    zerolog.Logger
}

// New creates a Service. runs may be nil, in which case run history is not
// recorded.
func New(cfg Config, runs RunStore) *Service {
	if cfg.IDColumn == "" {
		cfg.IDColumn = dataset.DefaultIDColumn
	}
	if cfg.Dataset.TargetColumn == "" {
		cfg.Dataset.TargetColumn = dataset.DefaultTargetColumn
	}
	if cfg.Dataset.TimestampColumn == "" {
		cfg.Dataset.TimestampColumn = dataset.DefaultTimestampColumn
	}
	if cfg.Params.NumRounds == 0 {
		cfg.Params = gbdt.DefaultParams()
	}
	return &Service{
		cfg:       cfg,
		artifacts: artifact.New(cfg.DataDir),
		runs:      runs,
		logger:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Artifacts exposes the storage directory.
func (s *Service) Artifacts() *artifact.Store { return s.artifacts }

// Train runs the training path and returns the results record. Fail-fast
// errors (schema, missing artifact, malformed config, empty partition) are
// returned without writing any artifact. Any other failure, including an
// unreadable input file, is persisted as an error record and returned
// alongside it.
func (s *Service) Train(ctx context.Context) (evaluate.Record, error) {
	return s.TrainJob(ctx, "")
}

// TrainJob is Train on behalf of a queued job; jobID is stored with the run.
func (s *Service) TrainJob(ctx context.Context, jobID string) (evaluate.Record, error) {
	run := storage.Run{ID: uuid.New().String(), JobID: jobID, StartedAt: time.Now().UTC()}
	logger := s.logger.With().Str("run_id", run.ID).Logger()

	rec, res, err := s.train(ctx, logger)
	run.FinishedAt = time.Now().UTC()
	if res != nil {
		run.TrainRows, run.TestRows, run.Epochs = res.TrainRows, res.TestRows, res.History.Rounds()
	}
	if err != nil {
		run.Status = storage.RunError
		run.ErrorKind = apperr.KindOf(err).String()
		run.Message = err.Error()
		logger.Error().Err(err).Str("kind", run.ErrorKind).Msg("training failed")
	} else {
		run.Status = storage.RunSuccess
		run.Message = rec.Message
		run.Accuracy = rec.ModelPerformance.Accuracy
		run.F1Score = rec.ModelPerformance.F1Score
		logger.Info().
			Float64("accuracy", run.Accuracy).
			Float64("f1_score", run.F1Score).
			Dur("took", run.FinishedAt.Sub(run.StartedAt)).
			Msg("training succeeded")
	}
	s.recordRun(logger, run)
	return rec, err
}

func (s *Service) train(ctx context.Context, logger zerolog.Logger) (evaluate.Record, *trainer.Result, error) {
	table, sel, err := s.loadInputs()
	if err != nil {
		if apperr.KindOf(err).FailFast() {
			return evaluate.Record{}, nil, err
		}
		return s.fail(logger, err), nil, err
	}
	logger.Info().Int("rows", table.Len()).Int("columns", len(table.Columns)).Msg("dataset loaded")

	train, test, err := partition.Split(table, sel)
	if err != nil {
		return evaluate.Record{}, nil, err
	}
	logger.Info().Int("train_rows", train.Len()).Int("test_rows", test.Len()).Msg("partitioned")

	train = preprocess.Impute(train)
	test = preprocess.Impute(test)

	features := preprocess.FeatureColumns(train.Columns,
		s.cfg.Dataset.TargetColumn, s.cfg.IDColumn, s.cfg.Dataset.TimestampColumn)
	if len(features) == 0 {
		return evaluate.Record{}, nil, apperr.New(apperr.Schema, "no feature columns besides %s, %s and %s",
			s.cfg.Dataset.TargetColumn, s.cfg.IDColumn, s.cfg.Dataset.TimestampColumn)
	}

	res, err := trainer.Train(ctx, train, test, features, s.cfg.Dataset.TargetColumn, s.cfg.Params)
	if err != nil {
		if apperr.KindOf(err).FailFast() {
			return evaluate.Record{}, nil, err
		}
		return s.fail(logger, err), nil, err
	}

	rec := evaluate.Build(res, table.Len(), sel.Raw)
	if err := s.artifacts.Save(res.Model, rec); err != nil {
		return s.fail(logger, err), res, err
	}
	logger.Info().
		Str("model", s.artifacts.ModelPath()).
		Str("metrics", s.artifacts.RecordPath()).
		Msg("artifacts saved")
	return rec, res, nil
}

func (s *Service) loadInputs() (*dataset.Table, partition.RangeSelection, error) {
	table, err := dataset.Load(s.artifacts.CSVPath(), s.cfg.Dataset)
	if err != nil {
		return nil, partition.RangeSelection{}, err
	}
	sel, err := partition.LoadSelection(s.artifacts.SelectionPath())
	if err != nil {
		return nil, partition.RangeSelection{}, err
	}
	return table, sel, nil
}

// fail persists the error record for err and returns it.
func (s *Service) fail(logger zerolog.Logger, err error) evaluate.Record {
	rec := evaluate.Failure(err)
	if werr := s.artifacts.SaveRecord(rec); werr != nil {
		logger.Error().Err(werr).Msg("writing error record")
	}
	return rec
}

func (s *Service) recordRun(logger zerolog.Logger, run storage.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveRun(run); err != nil {
		logger.Warn().Err(err).Msg("recording run history")
	}
}

// StatusReport describes the storage directory and the latest outcome.
type StatusReport struct {
	StoragePath       string                       `json:"storage_path"`
	Files             map[string]artifact.FileInfo `json:"files"`
	LatestTraining    string                       `json:"latest_training,omitempty"`
	LatestPerformance *evaluate.Performance        `json:"latest_performance,omitempty"`
	LastRun           *storage.Run                 `json:"last_run,omitempty"`
}

// Status reports artifact presence, the latest record's outcome and the
// most recent run.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	files, err := s.artifacts.Inventory()
	if err != nil {
		return StatusReport{}, err
	}
	rep := StatusReport{StoragePath: s.artifacts.Dir, Files: files}

	if files["metrics"].Exists {
		rec, err := s.artifacts.LoadRecord()
		switch {
		case err != nil:
			rep.LatestTraining = "error_reading_metrics"
		case rec.Status == "":
			rep.LatestTraining = "unknown"
		default:
			rep.LatestTraining = rec.Status
			rep.LatestPerformance = rec.ModelPerformance
		}
	}

	if s.runs != nil {
		run, err := s.runs.LatestRun()
		switch {
		case err == nil:
			rep.LastRun = &run
		case !errors.Is(err, storage.ErrNotFound):
			return StatusReport{}, apperr.Wrap(apperr.Storage, err, "loading latest run")
		}
	}
	return rep, nil
}

// Metrics returns metrics.json verbatim. A missing record is a
// MissingArtifactError.
func (s *Service) Metrics() ([]byte, error) {
	data, err := s.artifacts.ReadRecord()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(apperr.MissingArtifact, err, "No training metrics found. Train a model first.")
	}
	return data, err
}

// Simulate starts a simulation stream; see simulate.Simulator.Run.
func (s *Service) Simulate(ctx context.Context) <-chan simulate.Event {
	return simulate.New(simulate.Config{
		Store:    s.artifacts,
		Dataset:  s.cfg.Dataset,
		IDColumn: s.cfg.IDColumn,
		Interval: s.cfg.SimInterval,
	}).Run(ctx)
}

// Ranges summarizes how the configured windows cut the input table.
func (s *Service) Ranges(ctx context.Context) (partition.Distribution, error) {
	table, sel, err := s.loadInputs()
	if err != nil {
		return partition.Distribution{}, err
	}
	return partition.Summarize(table, sel), nil
}

// Runs lists recent training runs, newest first.
func (s *Service) Runs(limit int) ([]storage.Run, error) {
	if s.runs == nil {
		return []storage.Run{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "listing runs")
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	return runs, nil
}
