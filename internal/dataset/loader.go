// Package dataset loads the tabular input produced by the upstream parser.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/intelliinspect/internal/apperr"
)

// DefaultBatchSize bounds how many rows are decoded before being appended to
// the table.
const DefaultBatchSize = 50_000

// Options configures Load. Zero values fall back to defaults.
type Options struct {
	BatchSize       int
	TargetColumn    string
	TimestampColumn string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.TargetColumn == "" {
		o.TargetColumn = DefaultTargetColumn
	}
	if o.TimestampColumn == "" {
		o.TimestampColumn = DefaultTimestampColumn
	}
	return o
}

// Load reads the CSV file at path.
func Load(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Wrap(apperr.MissingArtifact, err, "CSV file not found at %s", path)
		}
		return nil, apperr.Wrap(apperr.Storage, err, "opening %s", path)
	}
	defer f.Close()
	return Read(f, opts)
}

// Read decodes a CSV stream batch by batch and concatenates the batches.
func Read(r io.Reader, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	logger := log.With().Str("component", "dataset").Logger()

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperr.New(apperr.Schema, "no rows loaded from the CSV")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Schema, err, "reading CSV header")
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	hasTarget := false
	tsIdx := -1
	for i, c := range columns {
		switch c {
		case opts.TargetColumn:
			hasTarget = true
		case opts.TimestampColumn:
			tsIdx = i
		}
	}
	if !hasTarget {
		return nil, apperr.New(apperr.Schema, "missing %q column in CSV", opts.TargetColumn)
	}
	if tsIdx < 0 {
		return nil, apperr.New(apperr.Schema, "missing %q column in CSV", opts.TimestampColumn)
	}

	var (
		rows    []Row
		times   []time.Time
		batches int
	)
	for {
		batch, batchTimes, err := readBatch(cr, len(columns), tsIdx, len(rows), opts.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)
		times = append(times, batchTimes...)
		batches++
		logger.Debug().Int("batch", batches).Int("rows", len(batch)).Msg("batch decoded")
		if len(batch) < opts.BatchSize {
			break
		}
	}

	if len(rows) == 0 {
		return nil, apperr.New(apperr.Schema, "no rows loaded from the CSV")
	}

	logger.Info().Int("rows", len(rows)).Int("columns", len(columns)).Int("batches", batches).Msg("dataset loaded")
	return NewTable(columns, rows, times), nil
}

func readBatch(cr *csv.Reader, width, tsIdx, offset, size int) ([]Row, []time.Time, error) {
	rows := make([]Row, 0, min(size, 1024))
	times := make([]time.Time, 0, cap(rows))
	for len(rows) < size {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.Schema, err, "reading CSV row %d", offset+len(rows)+1)
		}
		if len(rec) != width {
			return nil, nil, apperr.New(apperr.Schema, "row %d has %d fields, header has %d", offset+len(rows)+1, len(rec), width)
		}

		ts, err := ParseTime(rec[tsIdx])
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.Schema, err, "row %d: invalid timestamp", offset+len(rows)+1)
		}

		row := make(Row, width)
		for j, raw := range rec {
			row[j] = ParseValue(strings.Clone(raw))
		}
		rows = append(rows, row)
		times = append(times, ts)
	}
	return rows, times, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses a timestamp in one of the layouts emitted by the upstream
// parser. Values without a zone are taken as UTC.
func ParseTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
