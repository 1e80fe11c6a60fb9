package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the robot.
type Metrics struct {
	BarsIngested prometheus.Counter
	BarsRejected *prometheus.CounterVec // labels: reason

	// Indicator engine
	RefreshDur       prometheus.Histogram
	ColumnsComputed  prometheus.Counter
	IndicatorsActive prometheus.Gauge

	// Signal evaluation
	SignalsTotal *prometheus.CounterVec // labels: kind, indicator
	RulesActive  prometheus.Gauge

	// Sinks
	SQLiteCommitDur prometheus.Histogram
	PublishErrors   *prometheus.CounterVec // labels: sink
	NotifyErrors    prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// WebSocket hub
	WSClients prometheus.Gauge
	WSDrops   prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers and returns all metrics on reg. A nil reg uses the
// process-wide default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Metrics{
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robot_bars_ingested_total",
			Help: "Bars inserted or upserted into the store",
		}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robot_bars_rejected_total",
			Help: "Input records rejected (by reason)",
		}, []string{"reason"}),

		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "robot_refresh_duration_seconds",
			Help:    "Full indicator recompute latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ColumnsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robot_columns_computed_total",
			Help: "Indicator columns recomputed across all refreshes",
		}),
		IndicatorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robot_indicators_active",
			Help: "Registered indicator definitions",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robot_signals_total",
			Help: "Signal events emitted (by kind and indicator)",
		}, []string{"kind", "indicator"}),
		RulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robot_rules_active",
			Help: "Registered signal rules",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "robot_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robot_publish_errors_total",
			Help: "Failed publishes to event sinks (by sink)",
		}, []string{"sink"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robot_notify_errors_total",
			Help: "Failed signal notifications",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robot_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robot_ws_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),

		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.BarsIngested,
		m.BarsRejected,
		m.RefreshDur,
		m.ColumnsComputed,
		m.IndicatorsActive,
		m.SignalsTotal,
		m.RulesActive,
		m.SQLiteCommitDur,
		m.PublishErrors,
		m.NotifyErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
		m.WSDrops,
	)

	return m
}

// Handler exposes the registry m was created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
