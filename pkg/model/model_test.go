package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLabelMap(t *testing.T) {
	m, err := NewLabelMap("normal", " DoS ", "Replay")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"normal", "DoS", "Replay"}, m.Names())

	code, ok := m.Lookup("REPLAY")
	assert.True(t, ok)
	assert.Equal(t, 2, code)
	_, ok = m.Lookup("Fuzzing")
	assert.False(t, ok)

	name, ok := m.Name(1)
	assert.True(t, ok)
	assert.Equal(t, "DoS", name)
	_, ok = m.Name(3)
	assert.False(t, ok)
	_, ok = m.Name(-1)
	assert.False(t, ok)

	tests := []struct {
		name   string
		labels []string
	}{
		{"empty", nil},
		{"normal not first", []string{"DoS", "Normal"}},
		{"duplicate", []string{"Normal", "DoS", "dos"}},
		{"blank", []string{"Normal", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLabelMap(tt.labels...)
			assert.Error(t, err)
		})
	}
}

func TestLabelMapNamesIsCopy(t *testing.T) {
	m := MustLabelMap("Normal", "DoS")
	names := m.Names()
	names[1] = "Changed"
	assert.Equal(t, []string{"Normal", "DoS"}, m.Names())
}

func TestMustLabelMapPanics(t *testing.T) {
	assert.Panics(t, func() { MustLabelMap("DoS") })
}

func TestDefaultVariant(t *testing.T) {
	v := DefaultVariant()
	require.NoError(t, v.Validate())
	assert.Equal(t, 6, v.Labels.Len())
	assert.Equal(t, 5, v.UDSCode())
	assert.Equal(t, 4, v.FuzzingCode())
	assert.Equal(t, UDSThreshold, v.Threshold)
	assert.Equal(t, []string{"Normal", "DoS", "Spoofing", "Replay", "Fuzzing"}, v.ActiveLabels())
}

func TestVariantValidate(t *testing.T) {
	v := DefaultVariant()
	v.UDSLabel = ""
	require.NoError(t, v.Validate())
	assert.Equal(t, -1, v.UDSCode())
	assert.Len(t, v.ActiveLabels(), 6)

	v = DefaultVariant()
	v.FuzzingLabel = "Fuzz"
	assert.Error(t, v.Validate())

	v = DefaultVariant()
	v.Aliases = map[string]string{"flooding": "Flood"}
	assert.Error(t, v.Validate())

	v.Aliases = map[string]string{"flooding": "DoS"}
	require.NoError(t, v.Validate())
	target, ok := v.Alias(" Flooding ")
	assert.True(t, ok)
	assert.Equal(t, "DoS", target)
}

func TestPayloadHex(t *testing.T) {
	p := Payload{0x00, 0x4A, 0xFF}
	assert.Equal(t, "00 4A FF", p.Hex(3))
	assert.Equal(t, "00 4A FF 00 00 00 00 00", p.String())
	assert.Equal(t, "", p.Hex(0))
	assert.Equal(t, p.String(), p.Hex(12))
}

func TestFramePresentBytes(t *testing.T) {
	f := Frame{Payload: Payload{1, 2, 3, 4}, PayloadLen: 2}
	assert.Equal(t, []byte{1, 2}, f.PresentBytes())

	f.PayloadLen = 0
	assert.Empty(t, f.PresentBytes())

	f.PayloadLen = 64
	assert.Len(t, f.PresentBytes(), PayloadSize)

	assert.Equal(t, PairKey{ID: 0x100, Payload: Payload{1, 2, 3, 4}},
		(&Frame{ArbitrationID: 0x100, Payload: Payload{1, 2, 3, 4}}).Pair())
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassNormal, ClassOf(0))
	assert.Equal(t, ClassAttack, ClassOf(1))
	assert.Equal(t, ClassAttack, ClassOf(5))
	assert.Equal(t, "Attack", ClassNames[ClassAttack])
}

func sampleTable() *Table {
	return &Table{
		Columns: []string{"ID", "DLC"},
		Rows: []Row{
			{Seq: 2, Interface: "B-CAN", Label: 1, Class: 1, Features: []float64{0x1A0, 4}},
			{Seq: 0, Interface: "C-CAN", Label: 0, Class: 0, Features: []float64{0x100, 2}},
			{Seq: 1, Interface: "C-CAN", Label: 3, Class: 1, Features: []float64{0x100, 2}},
		},
	}
}

func TestTableVectors(t *testing.T) {
	tbl := sampleTable()
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []int{1, 0, 3}, tbl.Labels())
	assert.Equal(t, []int{1, 0, 1}, tbl.Classes())
	assert.Equal(t, []string{"B-CAN", "C-CAN", "C-CAN"}, tbl.Interfaces())
	assert.Equal(t, [][]float64{{0x1A0, 4}, {0x100, 2}, {0x100, 2}}, tbl.Matrix())
	assert.Equal(t, 1, tbl.ColumnIndex("DLC"))
	assert.Equal(t, -1, tbl.ColumnIndex("Entropy"))

	var nilTable *Table
	assert.Equal(t, 0, nilTable.Len())
}

func TestTableWhereAndSort(t *testing.T) {
	tbl := sampleTable()
	attacks := tbl.Where(func(r *Row) bool { return r.Class == ClassAttack })
	assert.Equal(t, 2, attacks.Len())
	assert.Equal(t, tbl.Columns, attacks.Columns)
	assert.Equal(t, 3, tbl.Len())

	tbl.SortBySeq()
	for i, r := range tbl.Rows {
		assert.Equal(t, i, r.Seq)
	}
}
