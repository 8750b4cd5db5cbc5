package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/pkg/model"
)

func frame(seq int, id uint32, ts float64, data ...byte) model.Frame {
	var p model.Payload
	copy(p[:], data)
	return model.Frame{
		Seq:           seq,
		Interface:     "C-CAN",
		Timestamp:     ts,
		ArbitrationID: id,
		DLC:           len(data),
		Payload:       p,
		PayloadLen:    len(data),
	}
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy([]byte{0, 0, 0, 0}))
	assert.Equal(t, 2.0, Entropy([]byte{0, 1, 2, 3}))
	assert.Equal(t, 1.0, Entropy([]uint32{0x100, 0x200}))
	assert.Equal(t, 0.0, Entropy([]int{}))
	assert.False(t, math.Signbit(Entropy([]int{7})))
}

func TestEntropyPermutationInvariant(t *testing.T) {
	a := []uint32{1, 1, 2, 3, 3, 3, 4, 9, 9, 5}
	b := []uint32{9, 3, 1, 5, 3, 2, 9, 1, 4, 3}
	assert.Equal(t, Entropy(a), Entropy(b))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		c := append([]uint32(nil), a...)
		rng.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
		assert.Equal(t, Entropy(a), Entropy(c))
	}
}

func TestDescribe(t *testing.T) {
	m := Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, m.Mean)
	assert.Equal(t, 2.0, m.Std)
	assert.Equal(t, 2.0, m.Min)
	assert.Equal(t, 9.0, m.Max)
	assert.Equal(t, 4.5, m.Median)
	assert.Equal(t, 7.0, m.Range)

	sym := Describe([]float64{1, 2, 3})
	assert.Equal(t, 0.0, sym.Skewness)
	assert.InDelta(t, -1.5, sym.Kurtosis, 1e-12)
	assert.Equal(t, 2.0, sym.Median)

	flat := Describe([]float64{0.1, 0.1, 0.1})
	assert.Equal(t, Moments{Mean: flat.Mean, Min: 0.1, Max: 0.1, Median: 0.1}, flat)

	assert.Equal(t, Moments{}, Describe(nil))
}

func TestStreamStateFirstOccurrence(t *testing.T) {
	s := NewStreamState(DefaultTimeSize)

	f0 := frame(0, 0x100, 1.0, 0x01)
	assert.Equal(t, Intervals{Global: 10.0, ID: 10.0, Pair: 10.0}, s.Observe(&f0))

	f1 := frame(1, 0x100, 1.5, 0x02)
	assert.Equal(t, Intervals{Global: 0.5, ID: 0.5, Pair: 10.0}, s.Observe(&f1))

	f2 := frame(2, 0x200, 2.0, 0x01)
	assert.Equal(t, Intervals{Global: 0.5, ID: 10.0, Pair: 10.0}, s.Observe(&f2))

	f3 := frame(3, 0x100, 3.5, 0x01)
	assert.Equal(t, Intervals{Global: 1.5, ID: 2.0, Pair: 2.5}, s.Observe(&f3))
}

func TestPairKeyDistinguishesPadding(t *testing.T) {
	s := NewStreamState(DefaultTimeSize)
	a := frame(0, 0x100, 0, 0x40)
	b := frame(1, 0x100, 1, 0x00, 0x40)
	s.Observe(&a)
	assert.Equal(t, 10.0, s.Observe(&b).Pair)
}

func TestRollingCounter(t *testing.T) {
	r := NewRollingCounter(10)
	stream := []model.Frame{
		frame(0, 0x100, 0, 0xAA),
		frame(1, 0x100, 5, 0xBB),
		frame(2, 0x100, 9.5, 0xAA),
		frame(3, 0x100, 10, 0xAA), // t=0 falls out of (0, 10]
		frame(4, 0x200, 10, 0xAA),
		frame(5, 0x100, 25, 0xAA),
	}
	want := []Counts{
		{ID: 1, Pair: 1, Diff: 0},
		{ID: 2, Pair: 1, Diff: 1},
		{ID: 3, Pair: 2, Diff: 1},
		{ID: 3, Pair: 2, Diff: 1},
		{ID: 1, Pair: 1, Diff: 0},
		{ID: 1, Pair: 1, Diff: 0},
	}
	for i := range stream {
		assert.Equal(t, want[i], r.Observe(&stream[i]), "frame %d", i)
	}
}

func TestFrequencyDiffNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := NewRollingCounter(2)
	ts := 0.0
	for i := 0; i < 5000; i++ {
		ts += rng.Float64() * 0.05
		f := frame(i, uint32(rng.Intn(6)), ts, byte(rng.Intn(3)))
		c := r.Observe(&f)
		require.GreaterOrEqual(t, c.Diff, 0)
		require.GreaterOrEqual(t, c.Pair, 1)
		require.Equal(t, c.ID-c.Pair, c.Diff)
	}
}

func TestWindowSummarize(t *testing.T) {
	w := NewWindow(3)
	stream := []model.Frame{
		frame(0, 0x10, 0.0, 0xFF),
		frame(1, 0x20, 1.0, 0x00, 0x01),
		frame(2, 0x20, 1.5, 0x02, 0x03),
		frame(3, 0x30, 2.5),
	}
	for i := range stream {
		w.Push(&stream[i])
	}
	require.Equal(t, 3, w.Len())

	st := w.Summarize()
	assert.Equal(t, 2, st.UniqueIDs)
	assert.Equal(t, float64(0x20), st.IDs.Min)
	assert.Equal(t, float64(0x30), st.IDs.Max)
	assert.Equal(t, 2.0, st.ByteEntropy)
	assert.Equal(t, 0.5, st.Intervals.Min)
	assert.Equal(t, 1.0, st.Intervals.Max)
	// Transitions 0x20->0x20 and 0x20->0x30.
	assert.Equal(t, 1.0, st.SeqEntropy)
}

func TestExtractColumns(t *testing.T) {
	tests := []struct {
		set  string
		want int
	}{
		{SetCompact, 8},
		{SetStandard, 16},
		{SetExtended, 45},
	}
	for _, tt := range tests {
		t.Run(tt.set, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Set = tt.set
			e, err := NewExtractor(cfg)
			require.NoError(t, err)

			names := e.Columns()
			assert.Len(t, names, tt.want)
			seen := map[string]bool{}
			for _, n := range names {
				assert.False(t, seen[n], "duplicate column %s", n)
				seen[n] = true
			}
			assert.Equal(t, "Arbitration_ID", names[0])
		})
	}

	_, err := LookupSet("huge")
	assert.Error(t, err)
}

func TestExtractCompact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Set = SetCompact
	e, err := NewExtractor(cfg)
	require.NoError(t, err)

	tbl, err := e.Extract([]model.Frame{
		frame(0, 0x100, 0, 0x01),
		frame(1, 0x100, 2, 0x01),
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	assert.Equal(t, []float64{256, 1, 10, 10, 10, 1, 1, 0}, tbl.Rows[0].Features)
	assert.Equal(t, []float64{256, 1, 2, 2, 2, 2, 2, 0}, tbl.Rows[1].Features)
}

func TestExtractPayloadEntropy(t *testing.T) {
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	idx := indexOf(e.Columns(), "Payload_Entropy")
	require.GreaterOrEqual(t, idx, 0)

	tbl, err := e.Extract([]model.Frame{
		frame(0, 0x100, 0, 0x00, 0x00, 0x00, 0x00),
		frame(1, 0x100, 1, 0x00, 0x01, 0x02, 0x03),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, tbl.Rows[0].Features[idx])
	assert.Equal(t, 2.0, tbl.Rows[1].Features[idx])
}

func TestExtractFiniteOutput(t *testing.T) {
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	frames := make([]model.Frame, 500)
	ts := 0.0
	for i := range frames {
		ts += rng.Float64() * 0.01
		data := make([]byte, rng.Intn(9))
		rng.Read(data)
		frames[i] = frame(i, uint32(rng.Intn(0x800)), ts, data...)
	}

	tbl, err := e.Extract(frames)
	require.NoError(t, err)
	for _, row := range tbl.Rows {
		for j, v := range row.Features {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "row %d column %s", row.Seq, tbl.Columns[j])
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	frames := []model.Frame{
		frame(0, 0x100, 0, 1, 2),
		frame(1, 0x200, 0.1, 3),
		frame(2, 0x100, 0.1, 1, 2),
	}
	a, err := e.Extract(frames)
	require.NoError(t, err)
	b, err := e.Extract(frames)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractOutOfOrder(t *testing.T) {
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	_, err = e.Extract([]model.Frame{
		frame(0, 0x100, 5),
		frame(1, 0x100, 4),
	})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.WindowSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RollingWindow = -1
	_, err := NewExtractor(cfg)
	assert.Error(t, err)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
