// Package classifier binds a boosted ensemble to the feature columns and
// encodings it was trained with.
package classifier

import (
	"math"
	"slices"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/gbdt"
)

// UnseenCategory is the code for a categorical value absent from training.
const UnseenCategory = -1

// Encoding turns one column's cells into model inputs. Numeric columns pass
// through; categorical columns map each distinct training value to its rank.
type Encoding struct {
	Column      string
	Categorical bool
	Codes       map[string]float64
}

// Model is the persisted classifier. Its exported fields round-trip through
// encoding/gob.
type Model struct {
	Features  []string
	Encodings []Encoding
	Target    string
	Booster   *gbdt.Booster
}

// NewEncodings derives encodings for features from t, which is normally the
// imputed training subset.
func NewEncodings(t *dataset.Table, features []string) ([]Encoding, error) {
	encs := make([]Encoding, len(features))
	for k, name := range features {
		j, ok := t.Index(name)
		if !ok {
			return nil, apperr.New(apperr.Schema, "feature column %q not found", name)
		}
		if t.Kinds[j] == dataset.Numeric {
			encs[k] = Encoding{Column: name}
			continue
		}
		seen := make(map[string]struct{})
		for _, r := range t.Rows {
			seen[r[j].Raw] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		slices.Sort(values)
		codes := make(map[string]float64, len(values))
		for i, v := range values {
			codes[v] = float64(i)
		}
		encs[k] = Encoding{Column: name, Categorical: true, Codes: codes}
	}
	return encs, nil
}

func (e Encoding) encode(v dataset.Value) (float64, error) {
	if v.Null {
		return 0, apperr.New(apperr.Prediction, "feature %q is missing", e.Column)
	}
	if e.Categorical {
		if c, ok := e.Codes[v.Raw]; ok {
			return c, nil
		}
		return UnseenCategory, nil
	}
	f, ok := v.Float()
	if !ok {
		return 0, apperr.New(apperr.Prediction, "feature %q value %q is not numeric", e.Column, v.Raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperr.New(apperr.Prediction, "feature %q value %q is not finite", e.Column, v.Raw)
	}
	return f, nil
}

// Encode builds the feature matrix for every row of t. A column missing from
// t is a SchemaError; a cell that cannot be encoded is a PredictionError.
func Encode(encs []Encoding, t *dataset.Table) ([][]float64, error) {
	cols, err := columnIndexes(encs, t)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, t.Len())
	for i, r := range t.Rows {
		x, err := encodeRow(encs, cols, r)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func columnIndexes(encs []Encoding, t *dataset.Table) ([]int, error) {
	cols := make([]int, len(encs))
	for k, e := range encs {
		j, ok := t.Index(e.Column)
		if !ok {
			return nil, apperr.New(apperr.Schema, "feature column %q not found", e.Column)
		}
		cols[k] = j
	}
	return cols, nil
}

func encodeRow(encs []Encoding, cols []int, r dataset.Row) ([]float64, error) {
	x := make([]float64, len(encs))
	for k, e := range encs {
		f, err := e.encode(r[cols[k]])
		if err != nil {
			return nil, err
		}
		x[k] = f
	}
	return x, nil
}

// Vector encodes row i of t.
func (m *Model) Vector(t *dataset.Table, i int) ([]float64, error) {
	cols, err := columnIndexes(m.Encodings, t)
	if err != nil {
		return nil, err
	}
	return encodeRow(m.Encodings, cols, t.Rows[i])
}

// PredictProba returns the probability of class 1.
func (m *Model) PredictProba(x []float64) float64 {
	return m.Booster.PredictProba(x)
}

// Predict returns the class label at the 0.5 threshold.
func (m *Model) Predict(x []float64) int {
	if m.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

// SameFeatures reports whether features equals the model's feature set,
// ignoring order.
func (m *Model) SameFeatures(features []string) bool {
	a := slices.Clone(m.Features)
	b := slices.Clone(features)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
