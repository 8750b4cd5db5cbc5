package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "cache.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(sig string) *model.CacheEntry {
	cols := []string{"Arbitration_ID", "Prev_Interver"}
	return &model.CacheEntry{
		Signature:   sig,
		Sources:     []string{"/data/train/a_labels.csv", "/data/test/b_labels.csv"},
		FeatureSet:  "compact/v1",
		LabelColumn: "Label",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Train: &model.Table{Columns: cols, Rows: []model.Row{
			{Seq: 0, Interface: "B-CAN", Timestamp: 0.1, ArbitrationID: 0x100, DLC: 8, Data: "00 11 22 33 44 55 66 77", Label: 0, Class: 0, Features: []float64{256, 10}},
			{Seq: 1, Interface: "C-CAN", Timestamp: 0.1 + 0.2, ArbitrationID: 0x1FFFFFFF, DLC: 2, Data: "FF 01", Label: 4, Class: 1, Features: []float64{float64(0x1FFFFFFF), 0.1 + 0.2}},
		}},
		Test: &model.Table{Columns: cols, Rows: []model.Row{
			{Seq: 0, Interface: "B-CAN", Timestamp: 3, ArbitrationID: 0x7DF, DLC: 0, Label: 0, Class: 0, Features: []float64{2015, math.SmallestNonzeroFloat64}},
		}},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := testEntry("abc")

	require.NoError(t, s.Put(ctx, want))

	got, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	for i, r := range want.Train.Rows {
		for j, v := range r.Features {
			assert.Equal(t, math.Float64bits(v), math.Float64bits(got.Train.Rows[i].Features[j]))
		}
	}
}

func TestGetMiss(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnusableEntriesAreMisses(t *testing.T) {
	tests := []struct {
		name   string
		breakQ string
	}{
		{"incomplete", `UPDATE entries SET complete = 0`},
		{"schema mismatch", `UPDATE entries SET schema_ver = 99`},
		{"truncated blob", `UPDATE feature_rows SET features = x'00' WHERE pos = 0 AND split = 0`},
		{"missing rows", `DELETE FROM feature_rows WHERE split = 1`},
		{"bad columns", `UPDATE entries SET columns = 'not json'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, testEntry("sig")))

			_, err := s.db.Exec(tt.breakQ)
			require.NoError(t, err)

			got, ok, err := s.Get(ctx, "sig")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, testEntry("sig")))

	second := testEntry("sig")
	second.Train.Rows = second.Train.Rows[:1]
	require.NoError(t, s.Put(ctx, second))

	got, ok, err := s.Get(ctx, "sig")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Train.Len())
}

func TestPutRejectsMismatchedColumns(t *testing.T) {
	s := newTestStore(t)
	e := testEntry("sig")
	e.Test.Columns = []string{"Other"}
	assert.Error(t, s.Put(context.Background(), e))

	_, ok, err := s.Get(context.Background(), "sig")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDeletePurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testEntry("a")
	b := testEntry("b")
	b.CreatedAt = a.CreatedAt.Add(time.Hour)
	require.NoError(t, s.Put(ctx, b))
	require.NoError(t, s.Put(ctx, a))

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Signature)
	assert.Equal(t, 2, infos[0].TrainRows)
	assert.Equal(t, 1, infos[0].TestRows)
	assert.Equal(t, a.Sources, infos[0].Sources)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	infos, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSchemaChangeDiscardsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := New(Config{DBPath: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("sig")))
	_, err = s.db.Exec(`UPDATE meta SET value = '0' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(Config{DBPath: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, "sig")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeatureEncoding(t *testing.T) {
	in := []float64{0, -0.0, 1.5, math.MaxFloat64, math.Inf(-1)}
	out, err := decodeFeatures(encodeFeatures(in), len(in))
	require.NoError(t, err)
	for i := range in {
		assert.Equal(t, math.Float64bits(in[i]), math.Float64bits(out[i]))
	}

	_, err = decodeFeatures([]byte{1, 2, 3}, 1)
	assert.Error(t, err)
}
