package gbdt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Dataset is a dense row-major feature matrix with binary labels.
type Dataset struct {
	X [][]float64
	Y []float64
}

// Len reports the number of rows.
func (d Dataset) Len() int { return len(d.Y) }

func (d Dataset) validate(name string, width int) error {
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("%s: %d feature rows but %d labels", name, len(d.X), len(d.Y))
	}
	for i, row := range d.X {
		if len(row) != width {
			return fmt.Errorf("%s: row %d has %d features, want %d", name, i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s: row %d feature %d is not finite", name, i, j)
			}
		}
		if y := d.Y[i]; y != 0 && y != 1 {
			return fmt.Errorf("%s: row %d label %v is not 0 or 1", name, i, y)
		}
	}
	return nil
}

// Evaluation holds the metrics recorded after one boosting round.
type Evaluation struct {
	Round         int
	TrainAccuracy float64
	TrainLogLoss  float64
	ValidAccuracy float64
	ValidLogLoss  float64
}

// Callback observes each round's evaluation as training proceeds.
type Callback func(Evaluation)

// Booster is a trained additive tree ensemble. Its exported fields are the
// persisted form of the model.
type Booster struct {
	InitScore     float64
	Trees         []Tree
	NumFeatures   int
	BestIteration int
	Params        Params
}

// Result is what Train produces: the booster and the full per-round history,
// including rounds past the best iteration.
type Result struct {
	Booster *Booster
	History []Evaluation
}

// ErrEmptyDataset is returned when the training set has no rows.
var ErrEmptyDataset = errors.New("training set is empty")

// Train fits a booster on train, evaluating on valid after every round. When
// EarlyStoppingRounds is positive and valid is non-empty, training stops once
// a validation metric has not improved for that many rounds and the ensemble
// is truncated to that metric's best round.
func Train(ctx context.Context, params Params, train, valid Dataset, cb Callback) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if train.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	width := len(train.X[0])
	if width == 0 {
		return nil, errors.New("training set has no features")
	}
	if err := train.validate("train", width); err != nil {
		return nil, err
	}
	if err := valid.validate("valid", width); err != nil {
		return nil, err
	}

	n := train.Len()
	mappers := make([]binMapper, width)
	binned := make([][]uint8, width)
	column := make([]float64, n)
	for f := 0; f < width; f++ {
		for i := range n {
			column[i] = train.X[i][f]
		}
		mappers[f] = newBinMapper(column, params.MaxBins)
		binned[f] = make([]uint8, n)
		for i := range n {
			binned[f][i] = mappers[f].bin(column[i])
		}
	}

	weights := make([]float64, n)
	var sumW, sumWY float64
	for i, y := range train.Y {
		w := 1.0
		if y == 1 {
			w = params.ScalePosWeight
		}
		weights[i] = w
		sumW += w
		sumWY += w * y
	}
	init := logit(clip(sumWY / sumW))

	b := &Booster{InitScore: init, NumFeatures: width, Params: params}
	trainScores := filled(n, init)
	validScores := filled(valid.Len(), init)

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15))
	g := &grower{
		params:  params,
		mappers: mappers,
		binned:  binned,
		grad:    make([]float64, n),
		hess:    make([]float64, n),
	}
	stopper := newEarlyStopper(params.EarlyStoppingRounds)
	history := make([]Evaluation, 0, params.NumRounds)

	for round := 0; round < params.NumRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range n {
			p := sigmoid(trainScores[i])
			g.grad[i] = (p - train.Y[i]) * weights[i]
			g.hess[i] = math.Max(p*(1-p), 1e-16) * weights[i]
		}
		g.features = sample(rng, width, params.ColSample)

		tree, err := g.grow(ctx, sample(rng, n, params.Subsample))
		if err != nil {
			return nil, err
		}
		b.Trees = append(b.Trees, tree)

		for i, x := range train.X {
			trainScores[i] += tree.Predict(x)
		}
		for i, x := range valid.X {
			validScores[i] += tree.Predict(x)
		}

		ev := Evaluation{
			Round:         round + 1,
			TrainAccuracy: accuracy(trainScores, train.Y),
			TrainLogLoss:  logLoss(trainScores, train.Y),
		}
		if valid.Len() > 0 {
			ev.ValidAccuracy = accuracy(validScores, valid.Y)
			ev.ValidLogLoss = logLoss(validScores, valid.Y)
		}
		history = append(history, ev)
		if cb != nil {
			cb(ev)
		}

		if valid.Len() > 0 && stopper.enabled() {
			if best, stop := stopper.update(round, ev.ValidLogLoss, ev.ValidAccuracy); stop {
				b.Trees = b.Trees[:best+1]
				b.BestIteration = best + 1
				return &Result{Booster: b, History: history}, nil
			}
		}
	}

	b.BestIteration = len(b.Trees)
	if valid.Len() > 0 && stopper.enabled() {
		best := stopper.bestRound[0]
		b.Trees = b.Trees[:best+1]
		b.BestIteration = best + 1
	}
	return &Result{Booster: b, History: history}, nil
}

// PredictRaw returns the ensemble's log-odds for x.
func (b *Booster) PredictRaw(x []float64) float64 {
	s := b.InitScore
	for _, t := range b.Trees {
		s += t.Predict(x)
	}
	return s
}

// PredictProba returns P(y=1 | x).
func (b *Booster) PredictProba(x []float64) float64 {
	return sigmoid(b.PredictRaw(x))
}

// earlyStopper tracks validation log-loss (lower is better) and accuracy
// (higher is better). The first metric to go `rounds` rounds without strict
// improvement stops training at its own best round.
type earlyStopper struct {
	rounds    int
	bestRound [2]int
	bestScore [2]float64
	started   bool
}

func newEarlyStopper(rounds int) *earlyStopper {
	return &earlyStopper{rounds: rounds}
}

func (e *earlyStopper) enabled() bool { return e.rounds > 0 }

func (e *earlyStopper) update(round int, logLoss, acc float64) (int, bool) {
	if !e.started {
		e.started = true
		e.bestScore = [2]float64{logLoss, acc}
		e.bestRound = [2]int{round, round}
		return 0, false
	}
	if logLoss < e.bestScore[0] {
		e.bestScore[0], e.bestRound[0] = logLoss, round
	}
	if acc > e.bestScore[1] {
		e.bestScore[1], e.bestRound[1] = acc, round
	}
	for m := range e.bestRound {
		if round-e.bestRound[m] >= e.rounds {
			return e.bestRound[m], true
		}
	}
	return 0, false
}

// sample returns a sorted random subset of [0, n) of size round(frac*n),
// at least one. frac >= 1 returns every index.
func sample(rng *rand.Rand, n int, frac float64) []int {
	if frac >= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := max(1, int(math.Round(frac*float64(n))))
	out := rng.Perm(n)[:k]
	slices.Sort(out)
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

const eps = 1e-15

func clip(p float64) float64 { return math.Min(math.Max(p, eps), 1-eps) }

func accuracy(scores, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	hit := 0
	for i, s := range scores {
		pred := 0.0
		if sigmoid(s) > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y))
}

func logLoss(scores, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i, s := range scores {
		p := clip(sigmoid(s))
		sum -= y[i]*math.Log(p) + (1-y[i])*math.Log(1-p)
	}
	return sum / float64(len(y))
}
