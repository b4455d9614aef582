// Package metrics records build pass metrics in a Prometheus registry owned
// by one build context.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/conneroisu/splitpack/internal/cache"
	"github.com/conneroisu/splitpack/internal/emit"
	"github.com/conneroisu/splitpack/internal/graph"
	"github.com/conneroisu/splitpack/internal/module"
)

// Metrics holds the collectors for one build context.
type Metrics struct {
	registry *prometheus.Registry

	modulesProcessed  *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	cacheCorruptions  prometheus.Counter
	transformDuration *prometheus.HistogramVec

	chunksEmitted *prometheus.CounterVec
	emittedBytes  prometheus.Counter
	warnings      prometheus.Counter

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

// New creates a registry and registers every collector on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		modulesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitpack_modules_processed_total",
				Help: "Modules processed by the graph builder",
			},
			[]string{"kind"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitpack_transform_cache_lookups_total",
				Help: "Transform cache lookups by the tier that answered",
			},
			[]string{"tier"},
		),
		cacheCorruptions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "splitpack_transform_cache_corruptions_total",
				Help: "Cache entries discarded because their hash did not verify",
			},
		),
		transformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splitpack_module_duration_seconds",
				Help:    "Time to read, transform and scan one module",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		chunksEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitpack_chunks_emitted_total",
				Help: "Chunks written by the emitter",
			},
			[]string{"kind"},
		),
		emittedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "splitpack_emitted_bytes_total",
				Help: "Bytes of script and stylesheet artifacts written",
			},
		),
		warnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "splitpack_warnings_total",
				Help: "Warnings reported by build passes",
			},
		),
		builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitpack_builds_total",
				Help: "Build passes by result",
			},
			[]string{"result"},
		),
		buildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "splitpack_build_duration_seconds",
				Help:    "Wall time of a build pass",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ModuleProcessed implements graph.Observer.
func (m *Metrics) ModuleProcessed(mod *module.Module, res graph.Processed) {
	kind := mod.Kind.String()
	m.modulesProcessed.WithLabelValues(kind).Inc()
	m.transformDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	if res.CacheKey != "" {
		tier := res.Tier
		if tier == "" {
			tier = cache.TierMiss
		}
		m.cacheLookups.WithLabelValues(string(tier)).Inc()
	}
}

// CacheCorruptions adds n discarded cache entries.
func (m *Metrics) CacheCorruptions(n int64) {
	if n > 0 {
		m.cacheCorruptions.Add(float64(n))
	}
}

// Emitted records the chunks and bytes of a manifest.
func (m *Metrics) Emitted(man *emit.Manifest) {
	for _, c := range man.Chunks {
		m.chunksEmitted.WithLabelValues(c.Kind).Inc()
	}
	m.emittedBytes.Add(float64(man.TotalBytes()))
}

// Warnings adds n reported warnings.
func (m *Metrics) Warnings(n int) {
	if n > 0 {
		m.warnings.Add(float64(n))
	}
}

// BuildFinished records one build pass.
func (m *Metrics) BuildFinished(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.builds.WithLabelValues(result).Inc()
	m.buildDuration.Observe(d.Seconds())
}

// WriteToTextfile writes the registry in the text exposition format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

var _ graph.Observer = (*Metrics)(nil)
