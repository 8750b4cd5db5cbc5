package metrics

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/filter"
	"github.com/Zerofisher/canids/pkg/model"
)

var labels = []string{"Normal", "DoS", "Spoofing", "Replay", "Fuzzing"}

func TestCompute(t *testing.T) {
	yTrue := []int{0, 0, 0, 1, 1, 2}
	yPred := []int{0, 0, 1, 1, 0, 2}

	r, err := Compute(yTrue, yPred, labels)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.Codes)
	assert.Equal(t, [][]int{
		{2, 1, 0, 0, 0},
		{1, 1, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0},
	}, r.Confusion)
	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-12)
	assert.Equal(t, 6, r.Total)

	normal, ok := r.Class("Normal")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, normal.Precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, normal.Recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, normal.F1, 1e-12)
	assert.Equal(t, 3, normal.Support)

	dos, _ := r.Class("DoS")
	assert.InDelta(t, 0.5, dos.Precision, 1e-12)
	assert.InDelta(t, 0.5, dos.Recall, 1e-12)

	// Absent classes score 0 and still count towards the macro average.
	assert.InDelta(t, (2.0/3.0+0.5+1)/5, r.MacroAvg.F1, 1e-12)
	assert.InDelta(t, (2.0/3.0*3+0.5*2+1)/6, r.WeightedAvg.Recall, 1e-12)

	replay, ok := r.Class("Replay")
	require.True(t, ok)
	assert.Equal(t, ClassScore{Label: "Replay"}, replay)
	_, ok = r.Class("UDS_Spoofing")
	assert.False(t, ok)
}

func TestComputeKeepsExcludedClassRow(t *testing.T) {
	v := model.DefaultVariant()
	uds := v.UDSCode()
	fuzz := v.FuzzingCode()
	tbl := &model.Table{Rows: []model.Row{
		{Seq: 0, ArbitrationID: 0x100, Label: 0},
		{Seq: 1, ArbitrationID: 0x1A0, Label: 1},
		{Seq: 2, ArbitrationID: 0x7DF, Label: uds},
		{Seq: 3, ArbitrationID: 0x2B0, Label: fuzz},
		{Seq: 4, ArbitrationID: 0x710, Label: 0},
	}}
	test := filter.New(v).Apply(filter.PolicyTest, tbl)
	require.Equal(t, []int{0, 1, fuzz, 0}, test.Labels())

	yPred := []int{0, 1, fuzz, 1}
	r, err := Compute(test.Labels(), yPred, v.Labels.Names())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, r.Codes)
	require.Len(t, r.Confusion, 6)
	assert.Equal(t, []int{1, 1, 0, 0, 0, 0}, r.Confusion[0])
	assert.Equal(t, []int{0, 0, 0, 0, 1, 0}, r.Confusion[fuzz])
	assert.Equal(t, make([]int, 6), r.Confusion[uds])
	for _, row := range r.Confusion {
		assert.Zero(t, row[uds])
	}

	s, ok := r.Class("UDS_Spoofing")
	require.True(t, ok)
	assert.Zero(t, s.Support)
	assert.Zero(t, s.F1)
	assert.Equal(t, "UDS_Spoofing", r.Classes[uds].Label)
}

func TestComputeZeroDivision(t *testing.T) {
	// Fuzzing is predicted but never true; Replay is true but never predicted.
	r, err := Compute([]int{3, 0}, []int{4, 0}, labels)
	require.NoError(t, err)

	fuzz, _ := r.Class("Fuzzing")
	assert.Zero(t, fuzz.Precision)
	assert.Zero(t, fuzz.Recall)
	assert.Zero(t, fuzz.F1)
	assert.Zero(t, fuzz.Support)

	replay, _ := r.Class("Replay")
	assert.Zero(t, replay.Precision)
	assert.Zero(t, replay.Recall)
	assert.Equal(t, 1, replay.Support)
}

func TestComputeErrors(t *testing.T) {
	_, err := Compute([]int{0}, []int{0, 1}, labels)
	assert.Error(t, err)
	_, err = Compute([]int{0}, []int{7}, labels)
	assert.Error(t, err)
	_, err = Compute([]int{-1}, []int{0}, labels)
	assert.Error(t, err)
}

func TestComputeEmpty(t *testing.T) {
	r, err := Compute(nil, nil, labels)
	require.NoError(t, err)
	assert.Zero(t, r.Total)
	assert.Zero(t, r.Accuracy)
	require.Len(t, r.Classes, len(labels))
	for _, c := range r.Classes {
		assert.Zero(t, c.Support)
	}
}

func TestMaskSelect(t *testing.T) {
	tags := []string{"B-CAN", "C-CAN", "B-CAN"}
	mask := Mask(tags, "B-CAN")
	assert.Equal(t, []bool{true, false, true}, mask)
	assert.Equal(t, []int{7, 9}, Select([]int{7, 8, 9}, mask))
	assert.Equal(t, []string{"B-CAN", "C-CAN"}, Tags(tags))
}

func TestSegmentCommutesWithFiltering(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ifaces := []string{"B-CAN", "C-CAN", "P-CAN"}
	n := 500
	yTrue, yPred, tags := make([]int, n), make([]int, n), make([]string, n)
	for i := 0; i < n; i++ {
		yTrue[i] = rng.Intn(len(labels))
		yPred[i] = rng.Intn(len(labels))
		tags[i] = ifaces[rng.Intn(len(ifaces))]
	}

	segments, err := Segment(yTrue, yPred, tags, labels)
	require.NoError(t, err)
	require.Len(t, segments, len(ifaces))

	for _, iface := range ifaces {
		var st, sp []int
		for i := range tags {
			if tags[i] == iface {
				st = append(st, yTrue[i])
				sp = append(sp, yPred[i])
			}
		}
		direct, err := Compute(st, sp, labels)
		require.NoError(t, err)
		assert.Equal(t, direct, segments[iface], iface)
	}
}

func TestSegmentLengthMismatch(t *testing.T) {
	_, err := Segment([]int{0, 1}, []int{0, 1}, []string{"B-CAN"}, labels)
	assert.Error(t, err)
}
