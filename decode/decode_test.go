package decode

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/pkg/model"
)

func TestParseArbitrationID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    uint32
		wantErr bool
	}{
		{"hex string", "7FF", 2047, false},
		{"prefixed hex", "0x700", 1792, false},
		{"lower case", "1a0", 0x1A0, false},
		{"padded", " 0100 ", 0x100, false},
		{"integer passthrough", 1792, 1792, false},
		{"uint32 passthrough", uint32(0x18DA10F1), 0x18DA10F1, false},
		{"int64 passthrough", int64(5), 5, false},
		{"integral float", float64(256), 256, false},
		{"empty", "", 0, true},
		{"not hex", "XYZ", 0, true},
		{"negative", -1, 0, true},
		{"too large", "20000000", 0, true},
		{"fractional float", 1.5, 0, true},
		{"unsupported", []byte("7FF"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArbitrationID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArbitrationIDIdempotent(t *testing.T) {
	first, err := ParseArbitrationID("5A5")
	require.NoError(t, err)
	second, err := ParseArbitrationID("5A5")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	again, err := ParseArbitrationID(first)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestParsePayload(t *testing.T) {
	p, n, err := ParsePayload("40 B2 81")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, model.Payload{0x40, 0xB2, 0x81}, p)

	p, n, err = ParsePayload("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.Payload{}, p)

	p, n, err = ParsePayload("01 02 03 04 05 06 07 08 09 0A")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, model.Payload{1, 2, 3, 4, 5, 6, 7, 8}, p)

	_, _, err = ParsePayload("01 ZZ")
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = ParsePayload("0102")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseDLC(t *testing.T) {
	d, err := ParseDLC("8")
	require.NoError(t, err)
	assert.Equal(t, 8, d)

	_, err = ParseDLC("9")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseDLC("x")
	assert.ErrorIs(t, err, ErrMalformed)
}

func newTestNormalizer(opts Options) *Normalizer {
	return NewNormalizer(model.DefaultVariant(), opts, zerolog.Nop())
}

func TestCanonicalLabel(t *testing.T) {
	n := newTestNormalizer(Options{})

	tests := []struct {
		raw  string
		want string
		code int
	}{
		{"Normal", "Normal", 0},
		{"normal", "Normal", 0},
		{"DoS", "DoS", 1},
		{"Fuzzing", "Fuzzing", 4},
		{"UDS_Spoofing", "UDS_Spoofing", 5},
		{"Spoofing_UDS_DID", "UDS_Spoofing", 5},
		{"UDS_Spoofing_ECU_Reset", "UDS_Spoofing", 5},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, code, err := n.CanonicalLabel(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
			assert.Equal(t, tt.code, code)
		})
	}

	_, _, err := n.CanonicalLabel("Bogus")
	assert.ErrorIs(t, err, ErrUnknownLabel)

	_, _, err = n.CanonicalLabel("")
	assert.ErrorIs(t, err, ErrMissingLabel)
}

func TestCanonicalLabelAliasAndDefault(t *testing.T) {
	v := model.DefaultVariant()
	v.Aliases = map[string]string{"flooding": "DoS"}
	n := NewNormalizer(v, Options{DefaultLabel: "Normal"}, zerolog.Nop())

	name, code, err := n.CanonicalLabel("Flooding")
	require.NoError(t, err)
	assert.Equal(t, "DoS", name)
	assert.Equal(t, 1, code)

	name, _, err = n.CanonicalLabel("  ")
	require.NoError(t, err)
	assert.Equal(t, "Normal", name)
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer(Options{})

	f, ok, err := n.Normalize(Record{
		Line: 2, Interface: "B-CAN", Timestamp: "1.5", ArbitrationID: "1A0",
		DLC: "3", Data: "40 B2 81", Label: "Replay",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1A0), f.ArbitrationID)
	assert.Equal(t, 1.5, f.Timestamp)
	assert.Equal(t, 3, f.DLC)
	assert.Equal(t, 3, f.PayloadLen)
	assert.Equal(t, 3, f.LabelCode)
	assert.Equal(t, model.ClassAttack, f.Class)
	assert.Equal(t, 0, f.Seq)

	f, ok, err = n.Normalize(Record{Timestamp: "2", ArbitrationID: "1A0", DLC: "0", Label: "Normal"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, f.Seq)
	assert.Equal(t, model.ClassNormal, f.Class)
	assert.Equal(t, model.Payload{}, f.Payload)
}

func TestNormalizeMalformedPolicies(t *testing.T) {
	badPayload := Record{Timestamp: "1", ArbitrationID: "100", DLC: "2", Data: "GG 01", Label: "Normal"}
	badID := Record{Timestamp: "1", ArbitrationID: "QQ", DLC: "2", Data: "00 01", Label: "Normal"}

	t.Run("default", func(t *testing.T) {
		n := newTestNormalizer(Options{OnMalformed: PolicyDefault})
		f, ok, err := n.Normalize(badPayload)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.Payload{}, f.Payload)

		_, ok, err = n.Normalize(badID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Stats{Frames: 1, Dropped: 1, Defaulted: 1}, n.Stats())
	})

	t.Run("drop", func(t *testing.T) {
		n := newTestNormalizer(Options{OnMalformed: PolicyDrop})
		_, ok, err := n.Normalize(badPayload)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fail", func(t *testing.T) {
		n := newTestNormalizer(Options{OnMalformed: PolicyFail})
		_, _, err := n.Normalize(badID)
		var ferr *FieldError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, "Arbitration_ID", ferr.Field)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown label ignores policy", func(t *testing.T) {
		n := newTestNormalizer(Options{OnMalformed: PolicyDrop})
		_, _, err := n.Normalize(Record{Timestamp: "1", ArbitrationID: "1", DLC: "0", Label: "Gremlins"})
		assert.True(t, IsLabelError(err))
	})
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDefault, p)

	p, err = ParsePolicy("DROP")
	require.NoError(t, err)
	assert.Equal(t, PolicyDrop, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}
