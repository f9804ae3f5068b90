package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// --- Engine operations ---
	OpsTotal    *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	OpsRejected *prometheus.CounterVec

	// --- Liquidations ---
	LiquidationsExecuted prometheus.Counter
	LiquidationsRejected *prometheus.CounterVec

	// --- Oracle ---
	StalePriceRejections prometheus.Counter

	// --- Audit pipeline ---
	AuditEmitted    prometheus.Counter
	AuditDropped    prometheus.Counter
	AuditPersisted  prometheus.Counter
	AuditPublished  prometheus.Counter
	PersistErrors   *prometheus.CounterVec
	PersistBatchDur prometheus.Histogram
	AuditSequence   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.005, 0.01,
	}

	return &Metrics{
		OpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_total",
			Help: "Mutating operations by name and outcome",
		}, []string{"op", "outcome"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_engine_op_duration_seconds",
			Help:    "Time to execute one mutating operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_rejected_total",
			Help: "Operations aborted, by rejection reason",
		}, []string{"op", "reason"}),

		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_engine_liquidations_executed_total",
			Help: "Liquidations that completed and improved the target",
		}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_liquidations_rejected_total",
			Help: "Liquidation attempts aborted, by reason",
		}, []string{"reason"}),

		StalePriceRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_oracle_stale_price_rejections_total",
			Help: "Price readings rejected by the staleness policy",
		}),

		AuditEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_audit_events_emitted_total",
			Help: "Audit records emitted by committed operations",
		}),

		AuditDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_audit_events_dropped_total",
			Help: "Audit records dropped on full downstream channel",
		}),

		AuditPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_audit_events_persisted_total",
			Help: "Audit records written to Postgres",
		}),

		AuditPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_audit_events_published_total",
			Help: "Audit records published to NATS",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_audit_persist_errors_total",
			Help: "Audit writer failures by stage",
		}, []string{"stage"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_audit_persist_batch_duration_seconds",
			Help:    "Time to flush one audit batch to Postgres",
			Buckets: prometheus.DefBuckets,
		}),

		AuditSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_audit_sequence",
			Help: "Last audit sequence assigned by the engine",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Read-only API requests by route and status",
		}, []string{"route", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Read-only API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
