// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Feed metrics
	TicksReceived  *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	FeedConnected  prometheus.Gauge

	// Aggregation metrics
	BarsFinalized      *prometheus.CounterVec
	TickBufferOccupied *prometheus.GaugeVec
	HighVolumeWarnings *prometheus.CounterVec

	// Pipeline metrics
	SignalsEmitted   *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	ScreeningFailed  *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	InsufficientData *prometheus.CounterVec

	// Order metrics
	OrdersSubmitted *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	ExitLatency     prometheus.Histogram
	OpenPositions   prometheus.Gauge
	EODCloseouts    prometheus.Counter

	// Engine metrics
	EngineState     prometheus.Gauge
	ReadinessChecks *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pattern_trader"
	}

	return &Metrics{
		TicksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_received_total",
			Help:      "Total number of ticks received per symbol",
		}, []string{"symbol"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		FeedConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 when the tick feed is connected",
		}),
		BarsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "bars_finalized_total",
			Help:      "Total number of completed bars per symbol",
		}, []string{"symbol"}),
		TickBufferOccupied: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "tick_buffer_occupied",
			Help:      "Current tick buffer occupancy per symbol",
		}, []string{"symbol"}),
		HighVolumeWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "high_volume_warnings_total",
			Help:      "Times the tick buffer crossed its high-water mark",
		}, []string{"symbol"}),
		SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_emitted_total",
			Help:      "Signals that survived screening, by direction",
		}, []string{"direction"}),
		SignalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected, by reason",
		}, []string{"reason"}),
		ScreeningFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "screening_failures_total",
			Help:      "Screening level failures, by level",
		}, []string{"level"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "scan_duration_seconds",
			Help:      "Duration of one full-universe strategy scan",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		InsufficientData: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "insufficient_data_total",
			Help:      "Scans skipped for lack of bar history, per symbol",
		}, []string{"symbol"}),
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Orders submitted, by kind",
		}, []string{"kind"}),
		OrdersFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "filled_total",
			Help:      "Orders confirmed filled, by kind",
		}, []string{"kind"}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Orders rejected by the broker, by kind",
		}, []string{"kind"}),
		ExitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "exit_latency_seconds",
			Help:      "Latency from breach-observing tick to exit submission",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "open_positions",
			Help:      "Number of currently open positions",
		}),
		EODCloseouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "eod_closeouts_total",
			Help:      "Positions force-closed at end of day",
		}),
		EngineState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Engine lifecycle state as an ordinal",
		}),
		ReadinessChecks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "readiness_check",
			Help:      "1 when the named readiness check passes",
		}, []string{"check"}),
	}
}
