package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesync",
		Name:      "registrations_total",
		Help:      "Registration outcomes (ok, index_degraded, invalid, critical)",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesync",
		Name:      "verifications_total",
		Help:      "Verification outcomes (matched, no_match, rejected, error)",
	}, []string{"outcome"})

	MatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesync",
		Name:      "match_duration_seconds",
		Help:      "Duration of a nearest-neighbour search, by matcher",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"matcher"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesync",
		Name:      "store_operation_duration_seconds",
		Help:      "Duration of embedding store and profile index operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store", "op"})

	AuditOrphans = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "facesync",
		Name:      "audit_orphans",
		Help:      "Orphans found by the last audit, by side",
	}, []string{"side"})

	AuditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facesync",
		Name:      "audit_runs_total",
		Help:      "Audit runs by result (consistent, inconsistent, error)",
	}, []string{"result"})

	RateLimitBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facesync",
		Name:      "ratelimit_blocks_total",
		Help:      "Origins that crossed the failure threshold",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facesync",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facesync",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
