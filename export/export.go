// Package export writes feature tables and cascade predictions.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/pkg/model"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatCSV  OutputFormat = "csv"
	FormatJSON OutputFormat = "json"
)

// Prediction columns appended to labeled output.
const (
	ColumnPredictClass = "Predict_Class"
	ColumnPredictLabel = "Predict_Label"
)

// ParseFormat accepts csv or json.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatCSV, FormatJSON:
		return OutputFormat(s), nil
	case "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown output format %q (use: csv, json)", s)
}

// Exporter streams table rows, optionally with cascade decisions.
type Exporter struct {
	format   OutputFormat
	writer   io.Writer
	csv      *csv.Writer
	columns  []string // feature columns
	labeled  bool     // append Predict_Class / Predict_Label
	count    int      // rows exported
	maxCount int      // 0 = unlimited
	firstRow bool     // track first row for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	e := &Exporter{format: format, writer: w, firstRow: true}
	if format != FormatJSON {
		e.csv = csv.NewWriter(w)
	}
	return e
}

// SetMaxCount sets the maximum row count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// ShouldStop returns true if we've reached the row limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// Count returns the number of rows exported.
func (e *Exporter) Count() int { return e.count }

// Start writes the header for the format. labeled adds the prediction columns.
func (e *Exporter) Start(columns []string, labeled bool) error {
	e.columns = columns
	e.labeled = labeled
	if e.format == FormatJSON {
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	}
	header := append([]string{
		model.ColumnInterface, model.ColumnTimestamp, model.ColumnData, model.ColumnLabel, model.ColumnClass,
	}, columns...)
	if labeled {
		header = append(header, ColumnPredictClass, ColumnPredictLabel)
	}
	return e.csv.Write(header)
}

// ExportRow exports a single row. d must be non-nil for labeled output.
func (e *Exporter) ExportRow(row *model.Row, d *model.Decision) error {
	if e.ShouldStop() {
		return nil
	}
	if len(row.Features) != len(e.columns) {
		return fmt.Errorf("export row %d: %d features for %d columns", row.Seq, len(row.Features), len(e.columns))
	}
	if e.labeled && d == nil {
		return fmt.Errorf("export row %d: missing prediction", row.Seq)
	}

	var err error
	switch e.format {
	case FormatJSON:
		err = e.exportJSON(row, d)
	default:
		err = e.exportCSV(row, d)
	}
	if err == nil {
		e.count++
	}
	return err
}

// Finish writes any footer needed for the format and flushes.
func (e *Exporter) Finish() error {
	if e.format == FormatJSON {
		if !e.firstRow {
			fmt.Fprintln(e.writer)
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	}
	e.csv.Flush()
	return e.csv.Error()
}

func (e *Exporter) exportCSV(row *model.Row, d *model.Decision) error {
	rec := make([]string, 0, 5+len(row.Features)+2)
	rec = append(rec,
		row.Interface,
		FormatFloat(row.Timestamp),
		row.Data,
		strconv.Itoa(row.Label),
		strconv.Itoa(row.Class),
	)
	for _, v := range row.Features {
		rec = append(rec, FormatFloat(v))
	}
	if e.labeled {
		rec = append(rec, strconv.Itoa(d.PredictedClass), strconv.Itoa(d.PredictedSubclass))
	}
	return e.csv.Write(rec)
}

// RowJSON represents a row in JSON format
type RowJSON struct {
	Seq           int                `json:"seq"`
	Interface     string             `json:"interface"`
	Timestamp     float64            `json:"timestamp"`
	ArbitrationID string             `json:"arbitration_id"`
	DLC           int                `json:"dlc"`
	Data          string             `json:"data"`
	Label         int                `json:"label"`
	Class         int                `json:"class"`
	Features      map[string]float64 `json:"features"`
	PredictClass  *int               `json:"predict_class,omitempty"`
	PredictLabel  *int               `json:"predict_label,omitempty"`
}

func (e *Exporter) exportJSON(row *model.Row, d *model.Decision) error {
	rj := RowJSON{
		Seq:           row.Seq,
		Interface:     row.Interface,
		Timestamp:     row.Timestamp,
		ArbitrationID: capture.FormatID(row.ArbitrationID),
		DLC:           row.DLC,
		Data:          row.Data,
		Label:         row.Label,
		Class:         row.Class,
		Features:      make(map[string]float64, len(e.columns)),
	}
	for i, c := range e.columns {
		rj.Features[c] = row.Features[i]
	}
	if e.labeled {
		rj.PredictClass = &d.PredictedClass
		rj.PredictLabel = &d.PredictedSubclass
	}

	data, err := json.Marshal(rj)
	if err != nil {
		return err
	}
	if e.firstRow {
		e.firstRow = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}
	return err
}

// FormatFloat renders v with the shortest representation that parses back
// to the same float64.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ────────────────────────────────────────────────────────────────────────────────
// Whole tables
// ────────────────────────────────────────────────────────────────────────────────

// WriteTable writes every row of t.
func WriteTable(w io.Writer, t *model.Table, format OutputFormat) error {
	e := NewExporter(w, format)
	if err := e.Start(t.Columns, false); err != nil {
		return err
	}
	for i := range t.Rows {
		if err := e.ExportRow(&t.Rows[i], nil); err != nil {
			return err
		}
	}
	return e.Finish()
}

// WriteLabeled writes t with the decisions appended. The table itself is not
// modified.
func WriteLabeled(w io.Writer, t *model.Table, ds []model.Decision, format OutputFormat) error {
	if len(ds) != t.Len() {
		return fmt.Errorf("write labeled: %d decisions for %d rows", len(ds), t.Len())
	}
	e := NewExporter(w, format)
	if err := e.Start(t.Columns, true); err != nil {
		return err
	}
	for i := range t.Rows {
		if err := e.ExportRow(&t.Rows[i], &ds[i]); err != nil {
			return err
		}
	}
	return e.Finish()
}
