package preprocess

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/intelliinspect/internal/dataset"
)

func readTable(t *testing.T, csv string) *dataset.Table {
	t.Helper()
	tbl, err := dataset.Read(strings.NewReader(csv), dataset.Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return tbl
}

const gappy = `Id,F1,F2,Station,Response,SyntheticTimestamp
1,1,,A,0,2021-01-01
2,,10,,1,2021-01-02
3,3,20,B,0,2021-01-03
4,10,,,1,2021-01-04
`

func TestImpute_NoNullsRemain(t *testing.T) {
	got := Impute(readTable(t, gappy))
	for i, r := range got.Rows {
		for j, v := range r {
			if v.Null {
				t.Errorf("row %d column %s still null", i, got.Columns[j])
			}
		}
	}
}

func TestImpute_SubsetMedian(t *testing.T) {
	tbl := readTable(t, gappy)
	got := Impute(tbl)

	// F1 non-null: 1, 3, 10 -> median 3.
	v, _ := got.Value(1, "F1")
	if f, ok := v.Float(); !ok || f != 3 {
		t.Errorf("F1 fill = %+v, want 3", v)
	}
	// F2 non-null: 10, 20 -> median 15.
	v, _ = got.Value(0, "F2")
	if f, ok := v.Float(); !ok || f != 15 {
		t.Errorf("F2 fill = %+v, want 15", v)
	}
	// Text column gets the sentinel.
	v, _ = got.Value(3, "Station")
	if v.Raw != MissingSentinel {
		t.Errorf("Station fill = %q, want %q", v.Raw, MissingSentinel)
	}
}

func TestImpute_EachSubsetUsesItsOwnMedian(t *testing.T) {
	tbl := readTable(t, gappy)
	first := tbl.WithRows(tbl.Rows[:2], tbl.Times[:2])  // F1: 1, null
	second := tbl.WithRows(tbl.Rows[2:], tbl.Times[2:]) // F2: 20, null

	a := Impute(first)
	b := Impute(second)

	v, _ := a.Value(1, "F1")
	if f, _ := v.Float(); f != 1 {
		t.Errorf("first subset F1 fill = %v, want 1", f)
	}
	v, _ = b.Value(1, "F2")
	if f, _ := v.Float(); f != 20 {
		t.Errorf("second subset F2 fill = %v, want 20", f)
	}
}

func TestImpute_DoesNotAliasInput(t *testing.T) {
	tbl := readTable(t, gappy)
	_ = Impute(tbl)
	v, _ := tbl.Value(1, "F1")
	if !v.Null {
		t.Error("input table was modified")
	}
}

func TestColumnMedian_AllNull(t *testing.T) {
	tbl := readTable(t, "F1,Response,SyntheticTimestamp\n,0,2021-01-01\n,1,2021-01-02\n")
	if got := ColumnMedian(tbl, 0); got != 0 {
		t.Errorf("median of empty column = %v, want 0", got)
	}
}

func TestFeatureColumns(t *testing.T) {
	cols := []string{"Id", "F1", "Response", "F2", "SyntheticTimestamp", "Station"}
	got := FeatureColumns(cols, "Response", "Id", "SyntheticTimestamp")
	want := []string{"F1", "F2", "Station"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FeatureColumns = %v, want %v", got, want)
	}
}
