package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ESIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_esi_requests_total",
			Help: "Upstream ESI responses by method, status and resource",
		},
		[]string{"method", "status", "resource"},
	)

	ESIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanintel_esi_request_duration_seconds",
			Help:    "Upstream ESI round trip duration per attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "resource"},
	)

	ESIRequestAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanintel_esi_request_attempts",
			Help:    "Attempts needed per logical ESI call",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"method", "resource"},
	)

	ESIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_esi_retries_total",
			Help: "Retried ESI attempts",
		},
		[]string{"method", "resource"},
	)

	ESIFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_esi_failures_total",
			Help: "ESI calls that failed after exhausting retries",
		},
		[]string{"method", "resource"},
	)

	ESIDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanintel_esi_deleted_resources_total",
			Help: "Pilot lookups answered with a deleted-resource 404",
		},
	)

	ESIBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanintel_esi_circuit_breaker_state",
			Help: "ESI circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	SyncBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_sync_batches_total",
			Help: "Synchronizer batches by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	SyncEntitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_sync_entities_total",
			Help: "Entities written or dropped by the synchronizer",
		},
		[]string{"kind", "outcome"},
	)

	SyncDueEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanintel_sync_due_entities",
			Help: "Entities selected for refresh in the latest run",
		},
		[]string{"kind"},
	)

	SyncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanintel_sync_run_duration_seconds",
			Help:    "Duration of a full sync run per kind",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"kind"},
	)

	ResolverPilotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_resolver_pilots_total",
			Help: "Pilot names by staleness partition at resolve time",
		},
		[]string{"partition"},
	)

	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_scans_total",
			Help: "Scans processed by kind",
		},
		[]string{"kind"},
	)

	ScanMalformedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanintel_scan_malformed_lines_total",
			Help: "Scan lines dropped by the parser",
		},
	)

	ScanUnknownTypes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanintel_scan_unknown_types_total",
			Help: "Scan entries whose type id had no hierarchy match",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanintel_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(ESIRequestsTotal)
	prometheus.MustRegister(ESIRequestDuration)
	prometheus.MustRegister(ESIRequestAttempts)
	prometheus.MustRegister(ESIRetriesTotal)
	prometheus.MustRegister(ESIFailuresTotal)
	prometheus.MustRegister(ESIDeletedTotal)
	prometheus.MustRegister(ESIBreakerState)
	prometheus.MustRegister(SyncBatchesTotal)
	prometheus.MustRegister(SyncEntitiesTotal)
	prometheus.MustRegister(SyncDueEntities)
	prometheus.MustRegister(SyncRunDuration)
	prometheus.MustRegister(ResolverPilotsTotal)
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(ScanMalformedLines)
	prometheus.MustRegister(ScanUnknownTypes)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

// RateLimitSource is read on every scrape.
type RateLimitSource interface {
	ErrorLimitRemain() float64
	ErrorLimitReset() float64
}

// RegisterRateLimitGauges exposes an upstream client's rate-limit state.
func RegisterRateLimitGauges(reg prometheus.Registerer, src RateLimitSource) error {
	remain := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scanintel_esi_error_limit_remain",
			Help: "Remaining ESI error budget from the last response",
		},
		src.ErrorLimitRemain,
	)
	reset := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scanintel_esi_error_limit_reset_seconds",
			Help: "Seconds until the ESI error budget resets, from the last response",
		},
		src.ErrorLimitReset,
	)

	if err := reg.Register(remain); err != nil {
		return err
	}
	return reg.Register(reset)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
