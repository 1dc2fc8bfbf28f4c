package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters/histograms the five core subsystems
// increment, adapted from the teacher's prometheus_metrics.go shape
// (promauto-registered vectors keyed by component/operation) but scoped to
// this service's own metric names.
type Metrics struct {
	registry *prometheus.Registry

	MemoryOps       *prometheus.CounterVec
	SyncState       *prometheus.GaugeVec
	QueryDuration   *prometheus.HistogramVec
	EmbeddingCache  *prometheus.CounterVec
	NormalizerPhase *prometheus.CounterVec
}

// NewMetrics builds an isolated registry (not the global default) so tests
// can construct multiple instances without collector-already-registered
// panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MemoryOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectmemory",
			Subsystem: "memory",
			Name:      "operations_total",
			Help:      "Memory Manager operations by op and outcome.",
		}, []string{"op", "outcome"}),
		SyncState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "projectmemory",
			Subsystem: "sync",
			Name:      "records",
			Help:      "Records currently in each sync_status.",
		}, []string{"status"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "projectmemory",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		EmbeddingCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectmemory",
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups by outcome (hit, miss, fallback).",
		}, []string{"outcome"}),
		NormalizerPhase: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectmemory",
			Subsystem: "normalizer",
			Name:      "phase_runs_total",
			Help:      "Normalizer phase executions by phase and outcome.",
		}, []string{"phase", "outcome"}),
	}
}

// EmbeddingCacheHit implements embedding.MetricsSink so the Embedding
// Service can report hit/miss/fallback outcomes without importing
// observability types directly into pkg/embedding.
func (m *Metrics) EmbeddingCacheHit(outcome string) {
	m.EmbeddingCache.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry over HTTP for scraping. Wiring this handler
// into a listener is a CLI/server concern (out of scope per spec section 1);
// this just returns the http.Handler the caller mounts.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
