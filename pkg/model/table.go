package model

import "sort"

// Non-feature columns carried alongside every row. They never enter Matrix.
const (
	ColumnInterface = "Interface"
	ColumnTimestamp = "Timestamp"
	ColumnData      = "Data"
	ColumnLabel     = "Label"
	ColumnClass     = "Class"
)

// Row is one extracted feature vector plus its carried-through columns.
type Row struct {
	Seq           int
	Interface     string
	Timestamp     float64
	ArbitrationID uint32
	DLC           int
	Data          string
	Label         int
	Class         int
	Features      []float64
}

// Table is an ordered feature table. Columns names the entries of each
// Row.Features slice.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Matrix returns the numeric feature matrix. Rows share backing arrays with
// the table and must not be modified.
func (t *Table) Matrix() [][]float64 {
	x := make([][]float64, len(t.Rows))
	for i := range t.Rows {
		x[i] = t.Rows[i].Features
	}
	return x
}

// Labels returns the subclass label vector.
func (t *Table) Labels() []int {
	y := make([]int, len(t.Rows))
	for i := range t.Rows {
		y[i] = t.Rows[i].Label
	}
	return y
}

// Classes returns the binary class vector.
func (t *Table) Classes() []int {
	y := make([]int, len(t.Rows))
	for i := range t.Rows {
		y[i] = t.Rows[i].Class
	}
	return y
}

// Interfaces returns the per-row interface tags.
func (t *Table) Interfaces() []string {
	tags := make([]string, len(t.Rows))
	for i := range t.Rows {
		tags[i] = t.Rows[i].Interface
	}
	return tags
}

// Where returns a new table holding the rows for which keep returns true.
func (t *Table) Where(keep func(*Row) bool) *Table {
	out := &Table{Columns: t.Columns, Rows: make([]Row, 0, len(t.Rows))}
	for i := range t.Rows {
		if keep(&t.Rows[i]) {
			out.Rows = append(out.Rows, t.Rows[i])
		}
	}
	return out
}

// SortBySeq restores input order after partitioned extraction.
func (t *Table) SortBySeq() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Seq < t.Rows[j].Seq
	})
}

// ColumnIndex returns the position of a feature column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
