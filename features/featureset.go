package features

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Zerofisher/canids/pkg/model"
)

// Feature set names.
const (
	SetCompact  = "compact"
	SetStandard = "standard"
	SetExtended = "extended"
)

// FeatureSetVersion changes whenever any set's columns or their semantics
// change. It is part of the cache signature.
const FeatureSetVersion = 1

// Record is everything known about one frame once it has been observed.
type Record struct {
	Frame     *model.Frame
	Intervals Intervals
	Counts    Counts
	Payload   Moments // Over all eight padded bytes
	Window    WindowStats
}

// Column is one named feature.
type Column struct {
	Name  string
	Value func(*Record) float64
}

// FeatureSet is a closed, ordered list of columns.
type FeatureSet struct {
	Name    string
	Columns []Column
	// window is set when a column reads count-window statistics.
	window bool
}

// Names returns the column names in order.
func (s *FeatureSet) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Tag identifies the set and its version in cache keys.
func (s *FeatureSet) Tag() string {
	return fmt.Sprintf("%s/v%d", s.Name, FeatureSetVersion)
}

// ────────────────────────────────────────────────────────────────────────────────
// Column groups
// ────────────────────────────────────────────────────────────────────────────────

func col(name string, fn func(*Record) float64) Column {
	return Column{Name: name, Value: fn}
}

var (
	colID  = col("Arbitration_ID", func(r *Record) float64 { return float64(r.Frame.ArbitrationID) })
	colDLC = col("DLC", func(r *Record) float64 { return float64(r.Frame.DLC) })
)

func byteColumns() []Column {
	cols := make([]Column, model.PayloadSize)
	for i := range cols {
		cols[i] = col(fmt.Sprintf("Byte_%d", i), func(r *Record) float64 {
			return float64(r.Frame.Payload[i])
		})
	}
	return cols
}

// Column names follow the original dataset, misspelling included.
var timingColumns = []Column{
	col("Prev_Interver", func(r *Record) float64 { return r.Intervals.Global }),
	col("ID_Prev_Interver", func(r *Record) float64 { return r.Intervals.ID }),
	col("Data_Prev_Interver", func(r *Record) float64 { return r.Intervals.Pair }),
	col("ID_Frequency", func(r *Record) float64 { return float64(r.Counts.ID) }),
	col("Data_Frequency", func(r *Record) float64 { return float64(r.Counts.Pair) }),
	col("Frequency_diff", func(r *Record) float64 { return float64(r.Counts.Diff) }),
}

var statisticalColumns = []Column{
	col("Payload_Mean", func(r *Record) float64 { return r.Payload.Mean }),
	col("Payload_Std", func(r *Record) float64 { return r.Payload.Std }),
	col("Payload_Min", func(r *Record) float64 { return r.Payload.Min }),
	col("Payload_Max", func(r *Record) float64 { return r.Payload.Max }),
	col("Payload_Median", func(r *Record) float64 { return r.Payload.Median }),
	col("Payload_Range", func(r *Record) float64 { return r.Payload.Range }),
	col("Payload_Skewness", func(r *Record) float64 { return r.Payload.Skewness }),
	col("Payload_Kurtosis", func(r *Record) float64 { return r.Payload.Kurtosis }),
	col("Window_Byte_Mean", func(r *Record) float64 { return r.Window.Bytes.Mean }),
	col("Window_Byte_Std", func(r *Record) float64 { return r.Window.Bytes.Std }),
	col("Window_Byte_Skewness", func(r *Record) float64 { return r.Window.Bytes.Skewness }),
	col("Window_Byte_Kurtosis", func(r *Record) float64 { return r.Window.Bytes.Kurtosis }),
	col("Window_ID_Mean", func(r *Record) float64 { return r.Window.IDs.Mean }),
	col("Window_ID_Std", func(r *Record) float64 { return r.Window.IDs.Std }),
	col("Window_ID_Min", func(r *Record) float64 { return r.Window.IDs.Min }),
	col("Window_ID_Max", func(r *Record) float64 { return r.Window.IDs.Max }),
	col("Window_ID_Skewness", func(r *Record) float64 { return r.Window.IDs.Skewness }),
	col("Window_DLC_Mean", func(r *Record) float64 { return r.Window.DLC.Mean }),
	col("Window_DLC_Std", func(r *Record) float64 { return r.Window.DLC.Std }),
	col("Window_Unique_IDs", func(r *Record) float64 { return float64(r.Window.UniqueIDs) }),
}

var windowTimingColumns = []Column{
	col("Window_Interval_Mean", func(r *Record) float64 { return r.Window.Intervals.Mean }),
	col("Window_Interval_Std", func(r *Record) float64 { return r.Window.Intervals.Std }),
	col("Window_Interval_Min", func(r *Record) float64 { return r.Window.Intervals.Min }),
	col("Window_Interval_Max", func(r *Record) float64 { return r.Window.Intervals.Max }),
}

var entropyColumns = []Column{
	col("Payload_Entropy", func(r *Record) float64 { return Entropy(r.Frame.PresentBytes()) }),
	col("Window_Byte_Entropy", func(r *Record) float64 { return r.Window.ByteEntropy }),
	col("ID_Entropy", func(r *Record) float64 { return r.Window.IDEntropy }),
	col("Sequence_Entropy", func(r *Record) float64 { return r.Window.SeqEntropy }),
	col("DLC_Entropy", func(r *Record) float64 { return r.Window.DLCEntropy }),
}

func concat(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ────────────────────────────────────────────────────────────────────────────────
// Registry
// ────────────────────────────────────────────────────────────────────────────────

var sets = map[string]*FeatureSet{
	SetCompact: {
		Name:    SetCompact,
		Columns: concat([]Column{colID, colDLC}, timingColumns),
	},
	SetStandard: {
		Name:    SetStandard,
		Columns: concat([]Column{colID, colDLC}, byteColumns(), timingColumns),
	},
	SetExtended: {
		Name: SetExtended,
		Columns: concat(
			[]Column{colID, colDLC}, byteColumns(),
			statisticalColumns,
			timingColumns, windowTimingColumns,
			entropyColumns,
		),
		window: true,
	},
}

// LookupSet returns a registered feature set by name, ignoring case.
func LookupSet(name string) (*FeatureSet, error) {
	s, ok := sets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown feature set %q (use: %s)", name, strings.Join(SetNames(), ", "))
	}
	return s, nil
}

// SetNames lists the registered feature sets.
func SetNames() []string {
	names := make([]string, 0, len(sets))
	for n := range sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
