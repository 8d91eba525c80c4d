// Package trainer fits the pass/fail classifier on the imputed training
// subset and validates it on the test subset.
package trainer

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/classifier"
	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/gbdt"
)

// History holds the per-round metrics of every round that ran.
type History struct {
	TrainAccuracy []float64
	ValidAccuracy []float64
	TrainLogLoss  []float64
	ValidLogLoss  []float64
}

// Rounds reports the number of recorded rounds.
func (h History) Rounds() int { return len(h.TrainAccuracy) }

// Result is a fitted model with the figures needed for its results record.
type Result struct {
	Model          *classifier.Model
	History        History
	TrainRows      int
	TestRows       int
	Positives      int
	Negatives      int
	ScalePosWeight float64
	TestLabels     []float64
	TestPredicted  []int
}

// Labels extracts the binary target column. A null or non-binary value is a
// SchemaError.
func Labels(t *dataset.Table, target string) ([]float64, error) {
	j, ok := t.Index(target)
	if !ok {
		return nil, apperr.New(apperr.Schema, "target column %q not found", target)
	}
	y := make([]float64, t.Len())
	for i, r := range t.Rows {
		f, ok := r[j].Float()
		if !ok || (f != 0 && f != 1) {
			return nil, apperr.New(apperr.Schema, "target column %q has non-binary value %q at row %d", target, r[j].Raw, i)
		}
		y[i] = f
	}
	return y, nil
}

// ScalePosWeight returns neg/pos for the labels, or 1 when there are no
// positives, along with the class counts.
func ScalePosWeight(y []float64) (w float64, pos, neg int) {
	for _, v := range y {
		if v == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		return 1, pos, neg
	}
	return float64(neg) / float64(pos), pos, neg
}

// Train fits a classifier on train using features, validating on test.
// params.ScalePosWeight is overridden by the class balance of train.
func Train(ctx context.Context, train, test *dataset.Table, features []string, target string, params gbdt.Params) (*Result, error) {
	logger := log.With().Str("component", "trainer").Logger()

	yTrain, err := Labels(train, target)
	if err != nil {
		return nil, err
	}
	yTest, err := Labels(test, target)
	if err != nil {
		return nil, err
	}

	spw, pos, neg := ScalePosWeight(yTrain)
	logger.Info().Int("positive", pos).Int("negative", neg).Float64("scale_pos_weight", spw).Msg("class balance")

	encs, err := classifier.NewEncodings(train, features)
	if err != nil {
		return nil, err
	}
	xTrain, err := classifier.Encode(encs, train)
	if err != nil {
		return nil, apperr.Wrap(apperr.Training, err, "encoding training features")
	}
	xTest, err := classifier.Encode(encs, test)
	if err != nil {
		return nil, apperr.Wrap(apperr.Training, err, "encoding test features")
	}

	params.ScalePosWeight = spw
	logger.Info().Int("rounds", params.NumRounds).Int("features", len(features)).Msg("starting model training")
	res, err := gbdt.Train(ctx, params,
		gbdt.Dataset{X: xTrain, Y: yTrain},
		gbdt.Dataset{X: xTest, Y: yTest},
		func(ev gbdt.Evaluation) {
			logger.Debug().
				Int("round", ev.Round).
				Float64("train_accuracy", ev.TrainAccuracy).
				Float64("valid_accuracy", ev.ValidAccuracy).
				Float64("valid_logloss", ev.ValidLogLoss).
				Msg("round complete")
		})
	if err != nil {
		return nil, apperr.Wrap(apperr.Training, err, "fitting classifier")
	}

	var h History
	for _, ev := range res.History {
		h.TrainAccuracy = append(h.TrainAccuracy, ev.TrainAccuracy)
		h.ValidAccuracy = append(h.ValidAccuracy, ev.ValidAccuracy)
		h.TrainLogLoss = append(h.TrainLogLoss, ev.TrainLogLoss)
		h.ValidLogLoss = append(h.ValidLogLoss, ev.ValidLogLoss)
	}
	logger.Info().Int("rounds_run", h.Rounds()).Int("best_iteration", res.Booster.BestIteration).Msg("training completed")

	model := &classifier.Model{
		Features:  append([]string(nil), features...),
		Encodings: encs,
		Target:    target,
		Booster:   res.Booster,
	}
	pred := make([]int, len(xTest))
	for i, x := range xTest {
		pred[i] = model.Predict(x)
	}

	return &Result{
		Model:          model,
		History:        h,
		TrainRows:      train.Len(),
		TestRows:       test.Len(),
		Positives:      pos,
		Negatives:      neg,
		ScalePosWeight: spw,
		TestLabels:     yTest,
		TestPredicted:  pred,
	}, nil
}
