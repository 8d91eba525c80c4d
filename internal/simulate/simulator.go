// Package simulate replays the simulation window through a trained model as
// a paced stream of prediction events.
package simulate

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/artifact"
	"github.com/kalambet/intelliinspect/internal/classifier"
	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/partition"
	"github.com/kalambet/intelliinspect/internal/preprocess"
)

// DefaultInterval is the pause between consecutive row events.
const DefaultInterval = 500 * time.Millisecond

const previewFeatures = 3

const timestampLayout = "2006-01-02T15:04:05.999999"

// State is a step of a simulation run.
type State int

const (
	Idle State = iota
	Validating
	Loading
	Filtering
	Streaming
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Loading:
		return "loading"
	case Filtering:
		return "filtering"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the simulator's inputs.
type Config struct {
	Store    *artifact.Store
	Dataset  dataset.Options
	IDColumn string
	// Interval between row events. Zero disables pacing.
	Interval time.Duration
}

// Simulator streams predictions for the simulation window. Each Run loads
// its own model and table.
type Simulator struct {
	cfg Config
}

// New creates a Simulator.
func New(cfg Config) *Simulator {
	if cfg.IDColumn == "" {
		cfg.IDColumn = dataset.DefaultIDColumn
	}
	cfg.Dataset.TargetColumn = orDefault(cfg.Dataset.TargetColumn, dataset.DefaultTargetColumn)
	cfg.Dataset.TimestampColumn = orDefault(cfg.Dataset.TimestampColumn, dataset.DefaultTimestampColumn)
	return &Simulator{cfg: cfg}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Run starts a simulation and returns its event channel. The channel is
// closed after the completion event, after a setup error event, or as soon
// as ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) <-chan Event {
	out := make(chan Event)
	r := &run{
		cfg:    s.cfg,
		out:    out,
		logger: log.With().Str("component", "simulate").Logger(),
	}
	go func() {
		defer close(out)
		r.loop(ctx)
	}()
	return out
}

// run is the state of one simulation.
type run struct {
	cfg    Config
	out    chan<- Event
	logger zerolog.Logger

	state    State
	err      error
	model    *classifier.Model
	table    *dataset.Table
	window   partition.Window
	rows     *dataset.Table
	features []string
}

func (r *run) loop(ctx context.Context) {
	r.state = Validating
	for {
		r.logger.Debug().Stringer("state", r.state).Msg("simulation step")
		switch r.state {
		case Validating:
			r.next(r.validate())
		case Loading:
			r.next(r.load())
		case Filtering:
			r.next(r.filter())
		case Streaming:
			if !r.stream(ctx) {
				r.logger.Info().Msg("simulation cancelled")
				return
			}
			r.state = Completed
		case Completed:
			r.logger.Info().Int("rows", r.rows.Len()).Msg("simulation completed")
			r.emit(ctx, Event{Type: TypeComplete, Message: "Simulation completed successfully"})
			return
		case Failed:
			r.logger.Warn().Err(r.err).Msg("simulation failed")
			r.emit(ctx, Event{
				Type:      TypeError,
				Error:     r.err.Error(),
				ErrorType: apperr.KindOf(r.err).String(),
			})
			return
		default:
			return
		}
	}
}

// next advances to the following state, or to Failed when err is set.
func (r *run) next(err error) {
	if err != nil {
		r.err = err
		r.state = Failed
		return
	}
	r.state++
}

func (r *run) validate() error {
	st := r.cfg.Store
	switch {
	case !st.Exists(artifact.CSVName):
		return apperr.New(apperr.MissingArtifact, "CSV file not found")
	case !st.Exists(artifact.SelectionName):
		return apperr.New(apperr.MissingArtifact, "Range selection file not found")
	case !st.Exists(artifact.ModelName):
		return apperr.New(apperr.MissingArtifact, "Model file not found. Train model first.")
	}
	return nil
}

func (r *run) load() error {
	var (
		sel partition.RangeSelection
		g   errgroup.Group
	)
	g.Go(func() error {
		m, err := r.cfg.Store.LoadModel()
		if err != nil {
			return err
		}
		r.model = m
		return nil
	})
	g.Go(func() error {
		t, err := dataset.Load(r.cfg.Store.CSVPath(), r.cfg.Dataset)
		if err != nil {
			return err
		}
		r.table = t
		return nil
	})
	g.Go(func() error {
		var err error
		sel, err = partition.LoadSelection(r.cfg.Store.SelectionPath())
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	w, err := sel.RequireSim()
	if err != nil {
		return err
	}
	r.window = w

	r.features = preprocess.FeatureColumns(r.table.Columns,
		r.cfg.Dataset.TargetColumn, r.cfg.IDColumn, r.cfg.Dataset.TimestampColumn)
	if !r.model.SameFeatures(r.features) {
		missing, unexpected := featureDiff(r.model.Features, r.features)
		return apperr.New(apperr.Schema, "simulation data does not match the model's features: missing %v, unexpected %v",
			missing, unexpected)
	}
	r.logger.Info().
		Int("rows", r.table.Len()).
		Time("start", w.Start).
		Time("end", w.End).
		Msg("simulation inputs loaded")
	return nil
}

func (r *run) filter() error {
	r.rows = partition.Filter(r.table, r.window)
	if r.rows.Len() == 0 {
		return apperr.New(apperr.EmptyPartition, "No data found in simulation range")
	}
	return nil
}

// stream emits one event per row. It reports false when ctx was cancelled.
func (r *run) stream(ctx context.Context) bool {
	n := r.rows.Len()
	if !r.emit(ctx, Event{Type: TypeInfo, Message: fmt.Sprintf("Starting simulation with %d samples", n)}) {
		return false
	}

	limit := rate.Inf
	if r.cfg.Interval > 0 {
		limit = rate.Every(r.cfg.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range n {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if !r.emit(ctx, r.predict(i)) {
			return false
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return false
	}
	return true
}

func (r *run) predict(i int) Event {
	t := r.rows
	ev := Event{
		ID:        r.rowID(i),
		Timestamp: t.Times[i].Format(timestampLayout),
	}

	x, err := r.model.Vector(t, i)
	if err != nil {
		if !apperr.Is(err, apperr.Prediction) {
			err = apperr.Wrap(apperr.Prediction, err, "row %d", i)
		}
		r.logger.Warn().Err(err).Interface("id", ev.ID).Msg("prediction error")
		ev.Type = TypeError
		ev.Prediction = LabelError
		ev.Confidence = ptr(0)
		ev.Error = err.Error()
		ev.ErrorType = apperr.Prediction.String()
		return ev
	}

	p := r.model.PredictProba(x)
	ev.Type = TypePrediction
	ev.Prediction = LabelFail
	if r.model.Predict(x) == 1 {
		ev.Prediction = LabelPass
	}
	ev.Confidence = ptr(evaluate.Round2(math.Max(p, 1-p) * 100))
	ev.Actual = r.actual(i)
	ev.Features = r.preview(i)
	return ev
}

func (r *run) rowID(i int) any {
	v, ok := r.rows.Value(i, r.cfg.IDColumn)
	if !ok || v.Null {
		return fmt.Sprintf("SAMPLE_%03d", i)
	}
	if f, ok := v.Float(); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v.Raw
}

func (r *run) actual(i int) string {
	v, ok := r.rows.Value(i, r.cfg.Dataset.TargetColumn)
	if !ok {
		return LabelUnknown
	}
	switch f, ok := v.Float(); {
	case ok && f == 1:
		return LabelPass
	case ok && f == 0:
		return LabelFail
	}
	return LabelUnknown
}

func (r *run) preview(i int) map[string]float64 {
	names := r.model.Features[:min(previewFeatures, len(r.model.Features))]
	out := make(map[string]float64, len(names))
	for _, name := range names {
		v, _ := r.rows.Value(i, name)
		f, ok := v.Float()
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		out[name] = evaluate.Round2(f)
	}
	return out
}

// emit sends ev unless ctx is done first.
func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into a slice. It is meant for callers that want
// the whole run, such as the CLI's non-streaming mode and tests.
func Collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// featureDiff lists features present on only one side.
func featureDiff(model, table []string) (missing, unexpected []string) {
	for _, f := range model {
		if !slices.Contains(table, f) {
			missing = append(missing, f)
		}
	}
	for _, f := range table {
		if !slices.Contains(model, f) {
			unexpected = append(unexpected, f)
		}
	}
	return missing, unexpected
}
