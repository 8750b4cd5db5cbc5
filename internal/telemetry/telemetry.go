// Package telemetry records pipeline counters and timings with Prometheus
// collectors. A batch run has no scrape endpoint, so metrics are written in
// the node-exporter textfile format at the end of a run.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canids"

// Metrics groups the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	dropped      prometheus.Counter
	defaulted    prometheus.Counter
	cache        *prometheus.CounterVec
	extract      *prometheus.HistogramVec
	filtered     *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_extracted_total",
			Help:      "Frames turned into feature rows, by interface.",
		}, []string{"interface"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the malformed-input policy.",
		}),
		defaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_defaulted_total",
			Help:      "Frames whose malformed payload was replaced by zero bytes.",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Feature cache lookups, by result.",
		}, []string{"result"}),
		extract: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_duration_seconds",
			Help:      "Time to extract one interface partition.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"interface"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_rows_total",
			Help:      "Rows seen by the train/test filter, by policy and outcome.",
		}, []string{"policy", "outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model backend calls, by stage, operation and status.",
		}, []string{"stage", "op", "status"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model backend call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage", "op"}),
	}
	m.registry.MustRegister(m.frames, m.dropped, m.defaulted, m.cache, m.extract,
		m.filtered, m.modelCalls, m.modelLatency)
	return m
}

// Registry exposes the registry for custom gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveExtraction records one extracted partition.
func (m *Metrics) ObserveExtraction(iface string, frames int, d time.Duration) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(iface).Add(float64(frames))
	m.extract.WithLabelValues(iface).Observe(d.Seconds())
}

// AddNormalized records normaliser outcomes.
func (m *Metrics) AddNormalized(dropped, defaulted int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(dropped))
	m.defaulted.Add(float64(defaulted))
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// Filtered records the outcome of applying a filter policy.
func (m *Metrics) Filtered(policy string, kept, dropped int) {
	if m == nil {
		return
	}
	m.filtered.WithLabelValues(policy, "kept").Add(float64(kept))
	m.filtered.WithLabelValues(policy, "dropped").Add(float64(dropped))
}

// ModelCall records one backend call.
func (m *Metrics) ModelCall(stage, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelCalls.WithLabelValues(stage, op, status).Inc()
	m.modelLatency.WithLabelValues(stage, op).Observe(d.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
