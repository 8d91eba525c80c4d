// Package evaluate scores test-set predictions and assembles the results
// record written after every training attempt.
package evaluate

import (
	"errors"
	"math"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/trainer"
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Performance holds test-set metrics as percentages rounded to 2 dp.
type Performance struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
}

// Confusion is the binary confusion matrix with class 1 as positive.
type Confusion struct {
	TruePositive  int `json:"true_positive"`
	TrueNegative  int `json:"true_negative"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
}

// Total is the number of scored samples.
func (c Confusion) Total() int {
	return c.TruePositive + c.TrueNegative + c.FalsePositive + c.FalseNegative
}

// TrainingInfo describes the data the model was fitted on.
type TrainingInfo struct {
	TotalRowsUsed   int     `json:"total_rows_used"`
	TrainRows       int     `json:"train_rows"`
	TestRows        int     `json:"test_rows"`
	PositiveSamples int     `json:"positive_samples"`
	NegativeSamples int     `json:"negative_samples"`
	ScalePosWeight  float64 `json:"scale_pos_weight"`
	FeaturesUsed    int     `json:"features_used"`
}

// TrainingMetrics are the per-round histories.
type TrainingMetrics struct {
	TrainAccuracyHistory []float64 `json:"train_accuracy_history"`
	ValidAccuracyHistory []float64 `json:"valid_accuracy_history"`
	TrainLogLossHistory  []float64 `json:"train_logloss_history"`
	ValidLogLossHistory  []float64 `json:"valid_logloss_history"`
	EpochsTrained        int       `json:"epochs_trained"`
}

// Record is the content of metrics.json: either a full results record or an
// error record.
type Record struct {
	TrainingInfo     *TrainingInfo    `json:"training_info,omitempty"`
	ModelPerformance *Performance     `json:"model_performance,omitempty"`
	ConfusionMatrix  *Confusion       `json:"confusion_matrix,omitempty"`
	TrainingMetrics  *TrainingMetrics `json:"training_metrics,omitempty"`
	DateRanges       map[string]any   `json:"date_ranges,omitempty"`
	Status           string           `json:"status"`
	Message          string           `json:"message"`
	ErrorType        string           `json:"error_type,omitempty"`
	ErrorDetails     string           `json:"error_details,omitempty"`
}

// Score compares true labels with predicted labels. Undefined ratios are 0.
func Score(yTrue []float64, yPred []int) (Performance, Confusion) {
	var c Confusion
	for i, y := range yTrue {
		switch p := yPred[i]; {
		case y == 1 && p == 1:
			c.TruePositive++
		case y == 0 && p == 0:
			c.TrueNegative++
		case y == 0 && p == 1:
			c.FalsePositive++
		default:
			c.FalseNegative++
		}
	}

	accuracy := ratio(c.TruePositive+c.TrueNegative, c.Total())
	precision := ratio(c.TruePositive, c.TruePositive+c.FalsePositive)
	recall := ratio(c.TruePositive, c.TruePositive+c.FalseNegative)
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return Performance{
		Accuracy:  percent(accuracy),
		Precision: percent(precision),
		Recall:    percent(recall),
		F1Score:   percent(f1),
	}, c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func percent(v float64) float64 { return Round2(v * 100) }

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Build assembles the success record for a training result. totalRows is
// the size of the full input table; dateRanges is the raw range selection.
func Build(res *trainer.Result, totalRows int, dateRanges map[string]any) Record {
	perf, conf := Score(res.TestLabels, res.TestPredicted)
	h := res.History
	return Record{
		TrainingInfo: &TrainingInfo{
			TotalRowsUsed:   totalRows,
			TrainRows:       res.TrainRows,
			TestRows:        res.TestRows,
			PositiveSamples: res.Positives,
			NegativeSamples: res.Negatives,
			ScalePosWeight:  Round2(res.ScalePosWeight),
			FeaturesUsed:    len(res.Model.Features),
		},
		ModelPerformance: &perf,
		ConfusionMatrix:  &conf,
		TrainingMetrics: &TrainingMetrics{
			TrainAccuracyHistory: nonNil(h.TrainAccuracy),
			ValidAccuracyHistory: nonNil(h.ValidAccuracy),
			TrainLogLossHistory:  nonNil(h.TrainLogLoss),
			ValidLogLossHistory:  nonNil(h.ValidLogLoss),
			EpochsTrained:        h.Rounds(),
		},
		DateRanges: dateRanges,
		Status:     StatusSuccess,
		Message:    "Model trained successfully",
	}
}

// Failure builds the error record for err.
func Failure(err error) Record {
	return Record{
		Status:       StatusError,
		Message:      "Training failed: " + rootMessage(err),
		ErrorType:    apperr.KindOf(err).String(),
		ErrorDetails: err.Error(),
	}
}

// rootMessage prefers the message of the classified error so the record
// does not repeat wrapping prefixes.
func rootMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
