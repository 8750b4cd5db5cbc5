package features

import "github.com/Zerofisher/canids/pkg/model"

// Counts are trailing-window frequencies for one frame.
type Counts struct {
	ID   int // Frames with the same ID in (t-W, t]
	Pair int // Frames with the same (ID, payload) in (t-W, t]
	Diff int // ID - Pair, never negative
}

// timeQueue holds the timestamps of one key still inside the window.
type timeQueue struct {
	ts   []float64
	head int
}

func (q *timeQueue) push(t float64) {
	q.ts = append(q.ts, t)
}

// evict drops timestamps at or before cutoff.
func (q *timeQueue) evict(cutoff float64) {
	for q.head < len(q.ts) && q.ts[q.head] <= cutoff {
		q.head++
	}
	if q.head > 32 && q.head*2 >= len(q.ts) {
		n := copy(q.ts, q.ts[q.head:])
		q.ts = q.ts[:n]
		q.head = 0
	}
}

func (q *timeQueue) len() int {
	return len(q.ts) - q.head
}

// RollingCounter counts same-ID and same-pair frames in a trailing time
// window. Each timestamp is pushed and evicted once per key.
type RollingCounter struct {
	width  float64
	byID   map[uint32]*timeQueue
	byPair map[model.PairKey]*timeQueue
}

// NewRollingCounter creates a counter over a window of width seconds.
func NewRollingCounter(width float64) *RollingCounter {
	return &RollingCounter{
		width:  width,
		byID:   make(map[uint32]*timeQueue),
		byPair: make(map[model.PairKey]*timeQueue),
	}
}

// Observe adds the frame and returns the counts including it.
func (r *RollingCounter) Observe(f *model.Frame) Counts {
	cutoff := f.Timestamp - r.width

	idq, ok := r.byID[f.ArbitrationID]
	if !ok {
		idq = &timeQueue{}
		r.byID[f.ArbitrationID] = idq
	}
	idq.push(f.Timestamp)
	idq.evict(cutoff)

	key := f.Pair()
	pq, ok := r.byPair[key]
	if !ok {
		pq = &timeQueue{}
		r.byPair[key] = pq
	}
	pq.push(f.Timestamp)
	pq.evict(cutoff)

	c := Counts{ID: idq.len(), Pair: pq.len()}
	c.Diff = c.ID - c.Pair
	return c
}
