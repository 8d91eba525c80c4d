package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/dataset"
)

// dailyTable builds one row per day starting at 2021-01-01.
func dailyTable(t *testing.T, days int) *dataset.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString("Id,F1,Response,SyntheticTimestamp\n")
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		ts := start.AddDate(0, 0, i)
		fmt.Fprintf(&b, "%d,%d,%d,%s\n", i, i, i%2, ts.Format("2006-01-02 15:04:05"))
	}
	tbl, err := dataset.Read(strings.NewReader(b.String()), dataset.Options{})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	return tbl
}

func mustSelection(t *testing.T, doc string) RangeSelection {
	t.Helper()
	sel, err := ParseSelection([]byte(doc))
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}
	return sel
}

func TestSplit_InclusiveBounds(t *testing.T) {
	tbl := dailyTable(t, 90)
	sel := mustSelection(t, `{
		"TrainStart": "2021-01-01T00:00:00", "TrainEnd": "2021-01-20T00:00:00",
		"TestStart": "2021-01-21T00:00:00", "TestEnd": "2021-01-31T00:00:00"
	}`)

	train, test, err := Split(tbl, sel)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if train.Len() != 20 {
		t.Errorf("train rows = %d, want 20", train.Len())
	}
	if test.Len() != 11 {
		t.Errorf("test rows = %d, want 11", test.Len())
	}
	for i, ts := range train.Times {
		if !sel.Train.Contains(ts) {
			t.Errorf("train row %d at %v outside window", i, ts)
		}
	}
	for i, ts := range test.Times {
		if !sel.Test.Contains(ts) {
			t.Errorf("test row %d at %v outside window", i, ts)
		}
	}
}

func TestFilter_NoRowDroppedAndOrderKept(t *testing.T) {
	tbl := dailyTable(t, 30)
	w := Window{
		Start: time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	want := 0
	for _, ts := range tbl.Times {
		if w.Contains(ts) {
			want++
		}
	}

	got := Filter(tbl, w)
	if got.Len() != want {
		t.Fatalf("Filter rows = %d, want %d", got.Len(), want)
	}
	for i := 1; i < got.Len(); i++ {
		if got.Times[i].Before(got.Times[i-1]) {
			t.Fatalf("source order not preserved at %d", i)
		}
	}
}

func TestSplit_OverlapAllowed(t *testing.T) {
	tbl := dailyTable(t, 30)
	sel := mustSelection(t, `{
		"TrainStart": "2021-01-01", "TrainEnd": "2021-01-20",
		"TestStart": "2021-01-10", "TestEnd": "2021-01-25"
	}`)
	train, test, err := Split(tbl, sel)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if train.Len()+test.Len() <= tbl.Len()-5 {
		t.Errorf("overlapping rows should appear in both subsets: train=%d test=%d", train.Len(), test.Len())
	}
}

func TestSplit_EmptyWindow(t *testing.T) {
	tbl := dailyTable(t, 10)
	sel := mustSelection(t, `{
		"TrainStart": "2021-01-01", "TrainEnd": "2021-01-05",
		"TestStart": "2022-01-01", "TestEnd": "2022-01-31"
	}`)
	_, _, err := Split(tbl, sel)
	if !apperr.Is(err, apperr.EmptyPartition) {
		t.Fatalf("err = %v, want EmptyPartitionError", err)
	}
}

func TestParseSelection_MissingKeys(t *testing.T) {
	_, err := ParseSelection([]byte(`{"TrainStart": "2021-01-01", "TrainEnd": "2021-01-05"}`))
	if !apperr.Is(err, apperr.MalformedConfig) {
		t.Fatalf("err = %v, want MalformedConfigError", err)
	}
	if !strings.Contains(err.Error(), "TestStart") {
		t.Errorf("err = %q, want missing key listed", err)
	}
}

func TestParseSelection_BadJSONAndTimestamps(t *testing.T) {
	for _, doc := range []string{
		`{not json`,
		`{"TrainStart": "x", "TrainEnd": "2021-01-05", "TestStart": "2021-01-06", "TestEnd": "2021-01-07"}`,
		`{"TrainStart": 5, "TrainEnd": "2021-01-05", "TestStart": "2021-01-06", "TestEnd": "2021-01-07"}`,
	} {
		if _, err := ParseSelection([]byte(doc)); !apperr.Is(err, apperr.MalformedConfig) {
			t.Errorf("ParseSelection(%q) err = %v, want MalformedConfigError", doc, err)
		}
	}
}

func TestRequireSim(t *testing.T) {
	sel := mustSelection(t, `{
		"TrainStart": "2021-01-01", "TrainEnd": "2021-01-05",
		"TestStart": "2021-01-06", "TestEnd": "2021-01-07"
	}`)
	if _, err := sel.RequireSim(); !apperr.Is(err, apperr.MalformedConfig) {
		t.Fatalf("err = %v, want MalformedConfigError", err)
	}

	sel = mustSelection(t, `{
		"TrainStart": "2021-01-01", "TrainEnd": "2021-01-05",
		"TestStart": "2021-01-06", "TestEnd": "2021-01-07",
		"SimStart": "2021-01-08", "SimEnd": "2021-01-09"
	}`)
	w, err := sel.RequireSim()
	if err != nil {
		t.Fatalf("RequireSim: %v", err)
	}
	if w.Start.Day() != 8 || w.End.Day() != 9 {
		t.Errorf("sim window = %+v", w)
	}
}

func TestLoadSelection_MissingFile(t *testing.T) {
	_, err := LoadSelection(filepath.Join(t.TempDir(), "range_selection.json"))
	if !apperr.Is(err, apperr.MissingArtifact) {
		t.Fatalf("err = %v, want MissingArtifactError", err)
	}
}

func TestLoadSelection_KeepsRawValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "range_selection.json")
	doc := `{"TrainStart":"2021-01-01","TrainEnd":"2021-01-05","TestStart":"2021-01-06","TestEnd":"2021-01-07"}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	sel, err := LoadSelection(path)
	if err != nil {
		t.Fatalf("LoadSelection: %v", err)
	}
	if sel.Raw["TrainEnd"] != "2021-01-05" {
		t.Errorf("Raw[TrainEnd] = %v", sel.Raw["TrainEnd"])
	}
	if got := sel.Keys(); len(got) != 4 || got[0] != "TestEnd" {
		t.Errorf("Keys() = %v", got)
	}
}

func TestSummarize_MonthlyCounts(t *testing.T) {
	tbl := dailyTable(t, 60) // Jan 1 .. Mar 1
	sel := mustSelection(t, `{
		"TrainStart": "2021-01-01", "TrainEnd": "2021-01-31",
		"TestStart": "2021-01-25", "TestEnd": "2021-02-10",
		"SimStart": "2021-02-11", "SimEnd": "2021-03-31"
	}`)

	d := Summarize(tbl, sel)
	if d.TotalRows != 60 {
		t.Errorf("TotalRows = %d", d.TotalRows)
	}
	if d.Train.Rows != 31 || d.Train.Monthly["2021-01"] != 31 {
		t.Errorf("train summary = %+v", d.Train)
	}
	if d.Test.Monthly["2021-01"] != 7 || d.Test.Monthly["2021-02"] != 10 {
		t.Errorf("test monthly = %v", d.Test.Monthly)
	}
	if d.Sim == nil || d.Sim.Rows != 19 {
		t.Errorf("sim summary = %+v", d.Sim)
	}
}
