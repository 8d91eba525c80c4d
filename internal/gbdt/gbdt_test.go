package gbdt

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

// thresholdData returns rows where y = 1 iff x0 > 0.5; x1 is noise.
func thresholdData(seed uint64, n int) Dataset {
	rng := rand.New(rand.NewPCG(seed, seed))
	d := Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := range n {
		x0, x1 := rng.Float64(), rng.Float64()
		d.X[i] = []float64{x0, x1}
		if x0 > 0.5 {
			d.Y[i] = 1
		}
	}
	return d
}

func noiseData(seed uint64, n int) Dataset {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	d := Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := range n {
		d.X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		d.Y[i] = float64(rng.IntN(2))
	}
	return d
}

func TestTrain_LearnsThreshold(t *testing.T) {
	train := thresholdData(1, 600)
	valid := thresholdData(2, 200)

	res, err := Train(context.Background(), DefaultParams(), train, valid, nil)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	last := res.History[len(res.History)-1]
	if last.TrainAccuracy < 0.95 {
		t.Errorf("train accuracy = %v, want >= 0.95", last.TrainAccuracy)
	}
	if last.ValidAccuracy < 0.9 {
		t.Errorf("valid accuracy = %v, want >= 0.9", last.ValidAccuracy)
	}
	if p := res.Booster.PredictProba([]float64{0.9, 0.5}); p <= 0.5 {
		t.Errorf("P(y=1 | x0=0.9) = %v, want > 0.5", p)
	}
	if p := res.Booster.PredictProba([]float64{0.1, 0.5}); p >= 0.5 {
		t.Errorf("P(y=1 | x0=0.1) = %v, want < 0.5", p)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	train := thresholdData(3, 300)
	valid := thresholdData(4, 100)

	a, err := Train(context.Background(), DefaultParams(), train, valid, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Train(context.Background(), DefaultParams(), train, valid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Booster, b.Booster) {
		t.Error("same seed produced different boosters")
	}
	if !reflect.DeepEqual(a.History, b.History) {
		t.Error("same seed produced different histories")
	}
}

func TestTrain_TruncatesToBestIteration(t *testing.T) {
	p := DefaultParams()
	p.NumRounds = 200
	p.MinDataInLeaf = 5

	res, err := Train(context.Background(), p, noiseData(5, 300), noiseData(6, 150), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := res.Booster
	if len(b.Trees) != b.BestIteration {
		t.Errorf("trees = %d, best iteration = %d", len(b.Trees), b.BestIteration)
	}
	if b.BestIteration > len(res.History) {
		t.Errorf("best iteration %d beyond history %d", b.BestIteration, len(res.History))
	}
	for i, ev := range res.History {
		if ev.Round != i+1 {
			t.Fatalf("history[%d].Round = %d", i, ev.Round)
		}
	}
}

func TestTrain_CallbackSeesEveryRound(t *testing.T) {
	p := DefaultParams()
	p.EarlyStoppingRounds = 0
	p.NumRounds = 7

	var rounds []int
	res, err := Train(context.Background(), p, thresholdData(7, 100), thresholdData(8, 50), func(ev Evaluation) {
		rounds = append(rounds, ev.Round)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rounds, []int{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("callback rounds = %v", rounds)
	}
	if len(res.Booster.Trees) != 7 || res.Booster.BestIteration != 7 {
		t.Errorf("trees = %d best = %d, want 7", len(res.Booster.Trees), res.Booster.BestIteration)
	}
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Train(ctx, DefaultParams(), Dataset{}, Dataset{}, nil); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty train err = %v", err)
	}

	bad := Dataset{X: [][]float64{{1}, {2}}, Y: []float64{0, 2}}
	if _, err := Train(ctx, DefaultParams(), bad, Dataset{}, nil); err == nil {
		t.Error("expected error for non-binary label")
	}

	nan := Dataset{X: [][]float64{{math.NaN()}, {2}}, Y: []float64{0, 1}}
	if _, err := Train(ctx, DefaultParams(), nan, Dataset{}, nil); err == nil {
		t.Error("expected error for NaN feature")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Train(cctx, DefaultParams(), thresholdData(9, 50), Dataset{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	cases := map[string]func(*Params){
		"rounds":    func(p *Params) { p.NumRounds = 0 },
		"leaves":    func(p *Params) { p.NumLeaves = 1 },
		"lr":        func(p *Params) { p.LearningRate = 0 },
		"subsample": func(p *Params) { p.Subsample = 1.5 },
		"colsample": func(p *Params) { p.ColSample = 0 },
		"bins":      func(p *Params) { p.MaxBins = 1000 },
		"spw":       func(p *Params) { p.ScalePosWeight = 0 },
	}
	for name, mutate := range cases {
		p := DefaultParams()
		mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestEarlyStopper(t *testing.T) {
	e := newEarlyStopper(3)
	// log-loss improves through round 2 then stalls; accuracy never improves.
	losses := []float64{0.7, 0.6, 0.5, 0.55, 0.56, 0.57}
	var (
		best    int
		stopped bool
		at      int
	)
	for r, l := range losses {
		if best, stopped = e.update(r, l, 0.5); stopped {
			at = r
			break
		}
	}
	if !stopped {
		t.Fatal("expected early stop")
	}
	// accuracy stalls from round 0 and hits the limit at round 3 first.
	if at != 3 || best != 0 {
		t.Errorf("stopped at %d with best %d, want 3 and 0", at, best)
	}
}

func TestBinMapper(t *testing.T) {
	m := newBinMapper([]float64{3, 1, 2, 2, 1}, 255)
	want := []float64{1.5, 2.5, math.Inf(1)}
	if !reflect.DeepEqual(m.bounds, want) {
		t.Fatalf("bounds = %v, want %v", m.bounds, want)
	}
	for v, b := range map[float64]uint8{1: 0, 1.5: 0, 2: 1, 3: 2, 100: 2} {
		if got := m.bin(v); got != b {
			t.Errorf("bin(%v) = %d, want %d", v, got, b)
		}
	}

	if c := newBinMapper([]float64{4, 4, 4}, 255); c.numBins() != 1 {
		t.Errorf("constant feature bins = %d, want 1", c.numBins())
	}

	vals := make([]float64, 1000)
	for i := range vals {
		vals[i] = float64(i)
	}
	if got := newBinMapper(vals, 16).numBins(); got > 16 {
		t.Errorf("bins = %d, want <= 16", got)
	}
}

func TestSample(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	got := sample(rng, 10, 0.8)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("sample not sorted/unique: %v", got)
		}
	}
	if all := sample(rng, 4, 1); !reflect.DeepEqual(all, []int{0, 1, 2, 3}) {
		t.Errorf("full sample = %v", all)
	}
	if one := sample(rng, 3, 0.01); len(one) != 1 {
		t.Errorf("tiny fraction len = %d, want 1", len(one))
	}
}
