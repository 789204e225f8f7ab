// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Risk metrics
	TransactionsAnalyzed prometheus.Counter
	RiskScores           prometheus.Histogram
	PenaltiesCharged     prometheus.Counter
	CircuitBreakerTrips  prometheus.Counter

	// Manipulation metrics
	ManipulationDetected *prometheus.CounterVec

	// Demurrage metrics
	DemurrageApplications prometheus.Counter
	DemurrageCollected    prometheus.Counter

	// Gold-peg metrics
	FeedUpdatesAccepted prometheus.Counter
	FeedUpdatesRejected *prometheus.CounterVec
	PegDeviationSigma   prometheus.Gauge
	MarketPressure      prometheus.Gauge

	// Config metrics
	ConfigUpdates prometheus.Counter
	ConfigVersion prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer for production use.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "caesar_engine"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Risk metrics
		TransactionsAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "transactions_analyzed_total",
			Help:      "Total number of transactions analyzed",
		}),
		RiskScores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of composite risk scores",
			Buckets:   []float64{100, 300, 500, 700, 900, 1000},
		}),
		PenaltiesCharged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "penalties_charged_total",
			Help:      "Total number of non-zero penalties charged",
		}),
		CircuitBreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of per-account circuit breaker activations",
		}),

		// Manipulation metrics
		ManipulationDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manipulation",
			Name:      "detections_total",
			Help:      "Total number of positive manipulation detections by kind",
		}, []string{"kind"}),

		// Demurrage metrics
		DemurrageApplications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "demurrage",
			Name:      "applications_total",
			Help:      "Total number of non-zero demurrage applications",
		}),
		DemurrageCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "demurrage",
			Name:      "collected_units_total",
			Help:      "Total demurrage collected, in whole token units",
		}),

		// Gold-peg metrics
		FeedUpdatesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "goldpeg",
			Name:      "feed_updates_accepted_total",
			Help:      "Total number of accepted price feed updates",
		}),
		FeedUpdatesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "goldpeg",
			Name:      "feed_updates_rejected_total",
			Help:      "Total number of rejected price feed updates by reason",
		}, []string{"reason"}),
		PegDeviationSigma: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "goldpeg",
			Name:      "deviation_sigma",
			Help:      "Current peg deviation in standard-deviation units",
		}),
		MarketPressure: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "goldpeg",
			Name:      "market_pressure",
			Help:      "Current normalized market pressure",
		}),

		// Config metrics
		ConfigUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "updates_total",
			Help:      "Total number of accepted configuration updates",
		}),
		ConfigVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "version",
			Help:      "Current configuration version",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
