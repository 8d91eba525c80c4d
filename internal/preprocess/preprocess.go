// Package preprocess fills missing values and derives the feature set.
package preprocess

import (
	"sort"
	"time"

	"github.com/kalambet/intelliinspect/internal/dataset"
)

// MissingSentinel replaces null cells in non-numeric columns.
const MissingSentinel = "-1"

// Impute returns a copy of t with every null cell filled. Numeric columns use
// the median of t's own non-null values; other columns use MissingSentinel.
// The input table is left untouched.
func Impute(t *dataset.Table) *dataset.Table {
	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append(dataset.Row(nil), r...)
	}

	for j := range t.Columns {
		if !hasNull(t.Rows, j) {
			continue
		}
		var fill dataset.Value
		if t.Kinds[j] == dataset.Numeric {
			fill = dataset.NumValue(ColumnMedian(t, j))
		} else {
			fill = dataset.TextValue(MissingSentinel)
		}
		for i := range rows {
			if rows[i][j].Null {
				rows[i][j] = fill
			}
		}
	}

	return t.WithRows(rows, append([]time.Time(nil), t.Times...))
}

// ColumnMedian returns the median of the non-null numeric cells of column j,
// averaging the two middle values for an even count. It returns 0 for a
// column without numeric values.
func ColumnMedian(t *dataset.Table, j int) float64 {
	vals := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		if f, ok := r[j].Float(); ok {
			vals = append(vals, f)
		}
	}
	return median(vals)
}

func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sort.Float64s(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

func hasNull(rows []dataset.Row, j int) bool {
	for _, r := range rows {
		if r[j].Null {
			return true
		}
	}
	return false
}

// FeatureColumns returns columns minus the excluded names, in order.
func FeatureColumns(columns []string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		skip[c] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := skip[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
