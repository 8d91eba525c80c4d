// Package partition selects train, test and simulation subsets by
// timestamp window.
package partition

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/dataset"
)

// Range selection keys.
const (
	KeyTrainStart = "TrainStart"
	KeyTrainEnd   = "TrainEnd"
	KeyTestStart  = "TestStart"
	KeyTestEnd    = "TestEnd"
	KeySimStart   = "SimStart"
	KeySimEnd     = "SimEnd"
)

var requiredKeys = []string{KeyTrainStart, KeyTrainEnd, KeyTestStart, KeyTestEnd}

// Window is a closed timestamp interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether Start <= ts <= End.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// RangeSelection holds the externally supplied windows. Raw is the decoded
// JSON object, kept verbatim for reporting.
type RangeSelection struct {
	Train Window
	Test  Window
	Sim   *Window
	Raw   map[string]any
}

// LoadSelection reads range_selection.json.
func LoadSelection(path string) (RangeSelection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RangeSelection{}, apperr.Wrap(apperr.MissingArtifact, err, "range selection file not found at %s", path)
		}
		return RangeSelection{}, apperr.Wrap(apperr.Storage, err, "reading range selection")
	}
	return ParseSelection(data)
}

// ParseSelection decodes and validates a range selection document. The four
// train/test keys are required; SimStart/SimEnd are optional but must come
// as a pair.
func ParseSelection(data []byte) (RangeSelection, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return RangeSelection{}, apperr.Wrap(apperr.MalformedConfig, err, "error reading range selection file")
	}

	var missing []string
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return RangeSelection{}, apperr.New(apperr.MalformedConfig, "missing keys in range selection: %v", missing)
	}

	sel := RangeSelection{Raw: raw}
	var err error
	if sel.Train, err = window(raw, KeyTrainStart, KeyTrainEnd); err != nil {
		return RangeSelection{}, err
	}
	if sel.Test, err = window(raw, KeyTestStart, KeyTestEnd); err != nil {
		return RangeSelection{}, err
	}

	_, hasStart := raw[KeySimStart]
	_, hasEnd := raw[KeySimEnd]
	if hasStart && hasEnd {
		sim, err := window(raw, KeySimStart, KeySimEnd)
		if err != nil {
			return RangeSelection{}, err
		}
		sel.Sim = &sim
	}
	return sel, nil
}

// RequireSim returns the simulation window or a MalformedConfig error.
func (s RangeSelection) RequireSim() (Window, error) {
	if s.Sim == nil {
		return Window{}, apperr.New(apperr.MalformedConfig, "SimStart or SimEnd not found in range selection")
	}
	return *s.Sim, nil
}

// Keys returns the raw keys in sorted order.
func (s RangeSelection) Keys() []string {
	keys := make([]string, 0, len(s.Raw))
	for k := range s.Raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func window(raw map[string]any, startKey, endKey string) (Window, error) {
	start, err := timeField(raw, startKey)
	if err != nil {
		return Window{}, err
	}
	end, err := timeField(raw, endKey)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

func timeField(raw map[string]any, key string) (time.Time, error) {
	s, ok := raw[key].(string)
	if !ok {
		return time.Time{}, apperr.New(apperr.MalformedConfig, "range selection key %s must be a timestamp string", key)
	}
	t, err := dataset.ParseTime(s)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.MalformedConfig, err, "range selection key %s", key)
	}
	return t, nil
}
