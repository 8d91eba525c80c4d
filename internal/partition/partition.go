package partition

import (
	"time"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/dataset"
)

// Filter returns the rows of t whose timestamp lies in w, in source order.
// Rows are shared with t, not copied.
func Filter(t *dataset.Table, w Window) *dataset.Table {
	var (
		rows  []dataset.Row
		times []time.Time
	)
	for i, ts := range t.Times {
		if w.Contains(ts) {
			rows = append(rows, t.Rows[i])
			times = append(times, ts)
		}
	}
	return t.WithRows(rows, times)
}

// Split returns the training and test subsets. Overlapping windows are not
// deduplicated.
func Split(t *dataset.Table, sel RangeSelection) (train, test *dataset.Table, err error) {
	train = Filter(t, sel.Train)
	test = Filter(t, sel.Test)
	if train.Len() == 0 {
		return nil, nil, apperr.New(apperr.EmptyPartition, "no training data found for the specified date range")
	}
	if test.Len() == 0 {
		return nil, nil, apperr.New(apperr.EmptyPartition, "no test data found for the specified date range")
	}
	return train, test, nil
}

// WindowSummary counts the rows of one window, overall and per calendar
// month (YYYY-MM).
type WindowSummary struct {
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Rows    int            `json:"rows"`
	Monthly map[string]int `json:"monthly"`
}

// Distribution summarizes how the dataset falls into each window.
type Distribution struct {
	TotalRows int            `json:"total_rows"`
	Train     WindowSummary  `json:"train"`
	Test      WindowSummary  `json:"test"`
	Sim       *WindowSummary `json:"simulation,omitempty"`
}

// Summarize counts rows per window. A row inside several windows is counted
// in each of them.
func Summarize(t *dataset.Table, sel RangeSelection) Distribution {
	d := Distribution{
		TotalRows: t.Len(),
		Train:     summarize(t, sel.Train),
		Test:      summarize(t, sel.Test),
	}
	if sel.Sim != nil {
		s := summarize(t, *sel.Sim)
		d.Sim = &s
	}
	return d
}

func summarize(t *dataset.Table, w Window) WindowSummary {
	s := WindowSummary{Start: w.Start, End: w.End, Monthly: make(map[string]int)}
	for _, ts := range t.Times {
		if w.Contains(ts) {
			s.Rows++
			s.Monthly[ts.Format("2006-01")]++
		}
	}
	return s
}
