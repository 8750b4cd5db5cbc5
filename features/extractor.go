package features

import (
	"fmt"

	"github.com/Zerofisher/canids/pkg/model"
)

// Extractor turns ordered frames into feature rows for one configuration.
// It holds no per-stream state and is safe for concurrent use; each call to
// NewPass or Extract starts from empty state.
type Extractor struct {
	cfg Config
	set *FeatureSet
}

// NewExtractor validates cfg and resolves its feature set.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	set, _ := LookupSet(cfg.Set)
	return &Extractor{cfg: cfg, set: set}, nil
}

// Config returns the extraction configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Set returns the resolved feature set.
func (e *Extractor) Set() *FeatureSet { return e.set }

// Columns returns the feature column names in order.
func (e *Extractor) Columns() []string { return e.set.Names() }

// NewPass starts a stream with fresh state.
func (e *Extractor) NewPass() *Pass {
	p := &Pass{
		set:     e.set,
		state:   NewStreamState(e.cfg.TimeSize),
		rolling: NewRollingCounter(e.cfg.RollingWindow),
	}
	if e.set.window {
		p.window = NewWindow(e.cfg.WindowSize)
	}
	return p
}

// Extract runs one pass over frames, which must be in non-decreasing
// timestamp order.
func (e *Extractor) Extract(frames []model.Frame) (*model.Table, error) {
	p := e.NewPass()
	t := &model.Table{Columns: e.Columns(), Rows: make([]model.Row, 0, len(frames))}
	for i := range frames {
		row, err := p.Next(&frames[i])
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Pass is the state of one ordered stream. Not safe for concurrent use.
type Pass struct {
	set     *FeatureSet
	state   *StreamState
	rolling *RollingCounter
	window  *Window
	frames  int
	last    float64
}

// Next observes f and returns its feature row.
func (p *Pass) Next(f *model.Frame) (model.Row, error) {
	if p.frames > 0 && f.Timestamp < p.last {
		return model.Row{}, fmt.Errorf("%w: line %d at %v after %v", ErrOutOfOrder, f.Line, f.Timestamp, p.last)
	}
	p.frames++
	p.last = f.Timestamp

	rec := Record{
		Frame:     f,
		Intervals: p.state.Observe(f),
		Counts:    p.rolling.Observe(f),
	}
	if p.window != nil {
		p.window.Push(f)
		rec.Window = p.window.Summarize()
		bytes := make([]float64, model.PayloadSize)
		for i, b := range f.Payload {
			bytes[i] = float64(b)
		}
		rec.Payload = Describe(bytes)
	}

	vec := make([]float64, len(p.set.Columns))
	for i, c := range p.set.Columns {
		vec[i] = c.Value(&rec)
	}

	return model.Row{
		Seq:           f.Seq,
		Interface:     f.Interface,
		Timestamp:     f.Timestamp,
		ArbitrationID: f.ArbitrationID,
		DLC:           f.DLC,
		Data:          f.Data,
		Label:         f.LabelCode,
		Class:         f.Class,
		Features:      vec,
	}, nil
}
