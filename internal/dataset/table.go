package dataset

import (
	"strconv"
	"strings"
	"time"
)

// Default column names produced by the upstream parser.
const (
	DefaultTargetColumn    = "Response"
	DefaultIDColumn        = "Id"
	DefaultTimestampColumn = "SyntheticTimestamp"
)

// Kind is the inferred type of a column.
type Kind int

const (
	Numeric Kind = iota
	Text
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "text"
}

// Value is a single cell. Raw always holds the source text; Num is only
// meaningful when IsNum is set.
type Value struct {
	Raw   string
	Num   float64
	IsNum bool
	Null  bool
}

// Float returns the numeric value of the cell and whether it has one.
func (v Value) Float() (float64, bool) {
	if v.Null || !v.IsNum {
		return 0, false
	}
	return v.Num, true
}

var nullTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "#N/A": {},
}

// ParseValue classifies raw CSV text into a cell.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if _, ok := nullTokens[s]; ok {
		return Value{Raw: raw, Null: true}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{Raw: raw}
	}
	return Value{Raw: raw, Num: f, IsNum: true}
}

// NumValue returns a numeric cell.
func NumValue(f float64) Value {
	return Value{Raw: strconv.FormatFloat(f, 'g', -1, 64), Num: f, IsNum: true}
}

// TextValue returns a non-numeric cell.
func TextValue(s string) Value {
	return Value{Raw: s}
}

// Row is one record, aligned with Table.Columns.
type Row []Value

// Table is an in-memory dataset. Times[i] is the parsed timestamp of Rows[i].
type Table struct {
	Columns []string
	Kinds   []Kind
	Rows    []Row
	Times   []time.Time

	index map[string]int
}

// NewTable builds a table and infers column kinds: a column is numeric when
// every non-null cell parses as a float.
func NewTable(columns []string, rows []Row, times []time.Time) *Table {
	t := &Table{Columns: columns, Rows: rows, Times: times}
	t.Kinds = inferKinds(columns, rows)
	t.buildIndex()
	return t
}

// WithRows returns a table with the receiver's columns and a different set
// of rows. Kinds are inferred again from rows alone, so a malformed cell
// outside the subset does not change how the subset is typed.
func (t *Table) WithRows(rows []Row, times []time.Time) *Table {
	return NewTable(t.Columns, rows, times)
}

func (t *Table) buildIndex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of a column.
func (t *Table) Index(col string) (int, bool) {
	i, ok := t.index[col]
	return i, ok
}

// Has reports whether the table has the column.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Value returns the cell at row i for the named column.
func (t *Table) Value(i int, col string) (Value, bool) {
	j, ok := t.index[col]
	if !ok {
		return Value{}, false
	}
	return t.Rows[i][j], true
}

// Kind returns the inferred kind of the named column.
func (t *Table) Kind(col string) Kind {
	if j, ok := t.index[col]; ok {
		return t.Kinds[j]
	}
	return Text
}

func inferKinds(columns []string, rows []Row) []Kind {
	kinds := make([]Kind, len(columns))
	for j := range columns {
		for _, r := range rows {
			v := r[j]
			if !v.Null && !v.IsNum {
				kinds[j] = Text
				break
			}
		}
	}
	return kinds
}
