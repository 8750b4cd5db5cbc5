package features

import "github.com/Zerofisher/canids/pkg/model"

// Intervals are the elapsed times, in seconds, since the previous frame
// overall, with the same ID, and with the same (ID, payload) pair.
type Intervals struct {
	Global float64
	ID     float64
	Pair   float64
}

// StreamState is the last-seen bookkeeping of one extraction pass. Keys that
// have not been seen yet report the fill value, treating them as long idle.
type StreamState struct {
	fill   float64
	seen   bool
	last   float64
	byID   map[uint32]float64
	byPair map[model.PairKey]float64
}

// NewStreamState creates empty state filling first occurrences with fill.
func NewStreamState(fill float64) *StreamState {
	return &StreamState{
		fill:   fill,
		byID:   make(map[uint32]float64),
		byPair: make(map[model.PairKey]float64),
	}
}

// Observe returns the frame's intervals and records it as last seen.
func (s *StreamState) Observe(f *model.Frame) Intervals {
	iv := Intervals{Global: s.fill, ID: s.fill, Pair: s.fill}

	if s.seen {
		iv.Global = f.Timestamp - s.last
	}
	if t, ok := s.byID[f.ArbitrationID]; ok {
		iv.ID = f.Timestamp - t
	}
	key := f.Pair()
	if t, ok := s.byPair[key]; ok {
		iv.Pair = f.Timestamp - t
	}

	s.seen = true
	s.last = f.Timestamp
	s.byID[f.ArbitrationID] = f.Timestamp
	s.byPair[key] = f.Timestamp
	return iv
}
