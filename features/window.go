package features

import "github.com/Zerofisher/canids/pkg/model"

// slot is the part of a frame the count window needs.
type slot struct {
	id        uint32
	dlc       int
	timestamp float64
	payload   model.Payload
	present   int
}

// Window is a ring holding the last size frames, current frame included.
type Window struct {
	buf   []slot
	start int
	n     int
}

// NewWindow creates an empty count window.
func NewWindow(size int) *Window {
	return &Window{buf: make([]slot, size)}
}

// Push appends a frame, evicting the oldest when full.
func (w *Window) Push(f *model.Frame) {
	s := slot{
		id:        f.ArbitrationID,
		dlc:       f.DLC,
		timestamp: f.Timestamp,
		payload:   f.Payload,
		present:   min(f.PayloadLen, model.PayloadSize),
	}
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of frames held.
func (w *Window) Len() int { return w.n }

// at returns the i-th frame, oldest first.
func (w *Window) at(i int) *slot {
	return &w.buf[(w.start+i)%len(w.buf)]
}

// WindowStats summarises the count window ending at the current frame.
type WindowStats struct {
	Bytes       Moments // Present payload bytes of every frame, pooled
	IDs         Moments
	DLC         Moments
	Intervals   Moments // Consecutive timestamp deltas
	UniqueIDs   int
	ByteEntropy float64
	IDEntropy   float64
	SeqEntropy  float64 // Entropy of (previous ID, ID) transitions
	DLCEntropy  float64
}

type transition struct{ from, to uint32 }

// Summarize computes the window statistics.
func (w *Window) Summarize() WindowStats {
	var st WindowStats
	if w.n == 0 {
		return st
	}

	ids := make([]float64, w.n)
	idKeys := make([]uint32, w.n)
	dlcs := make([]float64, w.n)
	dlcKeys := make([]int, w.n)
	bytes := make([]float64, 0, w.n*model.PayloadSize)
	byteKeys := make([]byte, 0, w.n*model.PayloadSize)
	var deltas []float64
	var trans []transition

	for i := 0; i < w.n; i++ {
		s := w.at(i)
		ids[i] = float64(s.id)
		idKeys[i] = s.id
		dlcs[i] = float64(s.dlc)
		dlcKeys[i] = s.dlc
		for _, b := range s.payload[:s.present] {
			bytes = append(bytes, float64(b))
			byteKeys = append(byteKeys, b)
		}
		if i > 0 {
			prev := w.at(i - 1)
			deltas = append(deltas, s.timestamp-prev.timestamp)
			trans = append(trans, transition{from: prev.id, to: s.id})
		}
	}

	st.Bytes = Describe(bytes)
	st.IDs = Describe(ids)
	st.DLC = Describe(dlcs)
	st.Intervals = Describe(deltas)
	st.UniqueIDs = distinct(idKeys)
	st.ByteEntropy = Entropy(byteKeys)
	st.IDEntropy = Entropy(idKeys)
	st.SeqEntropy = Entropy(trans)
	st.DLCEntropy = Entropy(dlcKeys)
	return st
}

func distinct[T comparable](values []T) int {
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
