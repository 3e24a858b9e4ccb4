package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the pipeline emits, registered on
// a private registry so tests can run side by side without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	// Cache coherency
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	EagerRefreshes *prometheus.CounterVec
	StaleServes    *prometheus.CounterVec

	// Upstream adapters
	AdapterCalls  *prometheus.CounterVec
	AdapterErrors *prometheus.CounterVec

	// Scanner
	ScanDuration  *prometheus.HistogramVec
	TierSurvivors *prometheus.GaugeVec
	ScanTimeouts  prometheus.Counter

	// Provenance
	ProvenanceDrops prometheus.Counter
}

// New creates a metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_cache_hits_total",
			Help: "Coherency cache hits by group",
		}, []string{"group"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_cache_misses_total",
			Help: "Coherency cache misses by group",
		}, []string{"group"}),
		EagerRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_cache_eager_refreshes_total",
			Help: "Whole-group eager refreshes triggered by half-stale siblings",
		}, []string{"group"}),
		StaleServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_cache_stale_serves_total",
			Help: "Entries served past TTL because the refresh failed",
		}, []string{"group"}),

		AdapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_adapter_calls_total",
			Help: "Upstream adapter calls by provider and field",
		}, []string{"provider", "field"}),
		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accumscan_adapter_errors_total",
			Help: "Upstream adapter failures by provider and error kind",
		}, []string{"provider", "kind"}),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accumscan_scan_tier_duration_seconds",
			Help:    "Duration of each scan tier",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tier"}),
		TierSurvivors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "accumscan_scan_tier_survivors",
			Help: "Survivor count after each scan tier",
		}, []string{"tier"}),
		ScanTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accumscan_scan_timeouts_total",
			Help: "Scans that hit the job deadline and returned partial results",
		}),

		ProvenanceDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accumscan_provenance_drops_total",
			Help: "Provenance records dropped because the sink queue was full",
		}),
	}

	m.Registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.EagerRefreshes, m.StaleServes,
		m.AdapterCalls, m.AdapterErrors,
		m.ScanDuration, m.TierSurvivors, m.ScanTimeouts,
		m.ProvenanceDrops,
	)
	return m
}
