package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/pkg/model"
)

// CSV column names of a raw dataset file.
const (
	colInterface     = "Interface"
	colTimestamp     = "Timestamp"
	colArbitrationID = "Arbitration_ID"
	colDLC           = "DLC"
	colData          = "Data"
)

// CSVReader reads a header-driven CSV frame log. Column names match ignoring
// case; Interface, Data and the label column are optional.
type CSVReader struct {
	closer io.Closer
	r      *csv.Reader
	opts   Options
	index  map[string]int
	line   int
}

// OpenCSV opens a CSV frame log.
func OpenCSV(path string, opts Options) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewCSVReader(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewCSVReader reads the header from r.
func NewCSVReader(r io.Reader, opts Options) (*CSVReader, error) {
	if opts.LabelColumn == "" {
		opts.LabelColumn = DefaultLabelColumn
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colTimestamp, colArbitrationID, colDLC} {
		if _, ok := index[strings.ToLower(required)]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	return &CSVReader{r: cr, opts: opts, index: index, line: 1}, nil
}

// Next returns the next record.
func (c *CSVReader) Next() (decode.Record, error) {
	fields, err := c.r.Read()
	c.line++
	if errors.Is(err, io.EOF) {
		return decode.Record{}, io.EOF
	}
	if err != nil {
		return decode.Record{}, fmt.Errorf("line %d: %w", c.line, err)
	}

	get := func(name string) string {
		i, ok := c.index[strings.ToLower(name)]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	rec := decode.Record{
		Line:          c.line,
		Interface:     get(colInterface),
		Timestamp:     get(colTimestamp),
		ArbitrationID: get(colArbitrationID),
		DLC:           get(colDLC),
		Data:          get(colData),
		Label:         get(c.opts.LabelColumn),
	}
	if rec.Interface == "" {
		rec.Interface = c.opts.Interface
	}
	return rec, nil
}

// Close closes the underlying file, if any.
func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// CSVWriter writes frames in the raw dataset layout.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter writes the header and returns a writer.
func NewCSVWriter(w io.Writer, labelColumn string) (*CSVWriter, error) {
	if labelColumn == "" {
		labelColumn = DefaultLabelColumn
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{colInterface, colTimestamp, colArbitrationID, colDLC, colData, labelColumn}); err != nil {
		return nil, err
	}
	return &CSVWriter{w: cw}, nil
}

// WriteFrame writes one frame with a hex arbitration ID.
func (c *CSVWriter) WriteFrame(f *model.Frame) error {
	return c.w.Write([]string{
		f.Interface,
		strconv.FormatFloat(f.Timestamp, 'f', -1, 64),
		FormatID(f.ArbitrationID),
		strconv.Itoa(f.DLC),
		f.Payload.Hex(f.PayloadLen),
		f.Label,
	})
}

// FormatID renders an arbitration ID the way dataset logs do: three hex
// digits for standard IDs, eight for extended ones.
func FormatID(id uint32) string {
	if id > 0x7FF {
		return fmt.Sprintf("%08X", id)
	}
	return fmt.Sprintf("%03X", id)
}

// Flush flushes buffered rows and reports any write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
