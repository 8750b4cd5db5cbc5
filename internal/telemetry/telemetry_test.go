package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/classifier"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveExtraction("C-CAN", 10, time.Millisecond)
	m.ObserveExtraction("C-CAN", 5, time.Millisecond)
	m.AddNormalized(2, 1)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Filtered("train", 7, 3)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.frames.WithLabelValues("C-CAN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.defaulted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues("miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.filtered.WithLabelValues("train", "dropped")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveExtraction("x", 1, time.Second)
	m.CacheLookup(true)
	assert.NoError(t, m.WriteTextfile("/nonexistent/never-written"))
	assert.Nil(t, m.Registry())

	model := classifier.ModelFunc(func(context.Context, [][]float64) ([]int, error) { return []int{1}, nil })
	wrapped := m.InstrumentModel("binary", model)
	pred, err := wrapped.Predict(context.Background(), [][]float64{{0}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pred)
}

func TestInstrumentLearner(t *testing.T) {
	m := New()
	ctx := context.Background()
	boom := errors.New("predict failed")

	learner := classifier.LearnerFunc(func(context.Context, [][]float64, []int) (classifier.Model, error) {
		return classifier.ModelFunc(func(context.Context, [][]float64) ([]int, error) { return nil, boom }), nil
	})
	model, err := m.InstrumentLearner("multi", learner).Fit(ctx, [][]float64{{1}}, []int{0})
	require.NoError(t, err)

	_, err = model.Predict(ctx, [][]float64{{1}})
	assert.Same(t, boom, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelCalls.WithLabelValues("multi", "fit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelCalls.WithLabelValues("multi", "predict", "error")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	path := filepath.Join(t.TempDir(), "canids.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `canids_cache_lookups_total{result="hit"} 1`)
}
