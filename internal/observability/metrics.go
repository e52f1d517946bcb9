// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// RPC metrics
	RPCCalls         *prometheus.CounterVec
	RPCCallLatency   *prometheus.HistogramVec
	RotatorExhausted prometheus.Counter
	RotatorEnabled   prometheus.Gauge

	// Listener metrics
	NotificationsReceived prometheus.Counter
	SubscriptionStates    *prometheus.CounterVec
	AccountsUnmonitored   prometheus.Counter
	ActiveSubscriptions   prometheus.Gauge

	// Resolver metrics
	DedupHits        prometheus.Counter
	EventsResolved   prometheus.Counter
	ResolutionEmpty  prometheus.Counter
	ResolutionErrors *prometheus.CounterVec

	// Classifier metrics
	ClassificationQueueDepth prometheus.Gauge
	Classifications          *prometheus.CounterVec
	ClassificationLatency    prometheus.Histogram
	ClassifierPanics         prometheus.Counter

	// Format metrics
	FormatDetections   *prometheus.CounterVec
	UnknownFormats     prometheus.Counter
	CacheInvalidations prometheus.Counter
	WatchedWallets     prometheus.Gauge

	// Sink metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_monitor"
	}

	return &Metrics{
		RPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC attempts by endpoint and outcome",
		}, []string{"endpoint", "status"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Latency of logical RPC calls including retries",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"method"}),
		RotatorExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "retry_exhausted_total",
			Help:      "Logical calls that exhausted the retry ceiling",
		}),
		RotatorEnabled: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "rotator_enabled",
			Help:      "1 when endpoint rotation is enabled",
		}),

		NotificationsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "notifications_received_total",
			Help:      "Account change notifications received",
		}),
		SubscriptionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "state_transitions_total",
			Help:      "Subscription state transitions by target state",
		}, []string{"state"}),
		AccountsUnmonitored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "accounts_unmonitored_total",
			Help:      "Accounts dropped after repeated subscription failures",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "active_subscriptions",
			Help:      "Subscriptions currently in the Active state",
		}),

		DedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "dedup_hits_total",
			Help:      "Signatures skipped because they were already claimed",
		}),
		EventsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "events_resolved_total",
			Help:      "Transfer events resolved with a recipient",
		}),
		ResolutionEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolution_empty_total",
			Help:      "Transactions without a positive-delta recipient",
		}),
		ResolutionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "errors_total",
			Help:      "Resolution failures by error kind",
		}, []string{"kind"}),

		ClassificationQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "queue_depth",
			Help:      "Classification jobs waiting in the queue",
		}),
		Classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Completed classifications by outcome",
		}, []string{"outcome"}),
		ClassificationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "job_duration_seconds",
			Help:      "Duration of a single classification job",
			Buckets:   prometheus.DefBuckets,
		}),
		ClassifierPanics: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "panics_total",
			Help:      "Classification jobs that panicked and were recovered",
		}),

		FormatDetections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "format",
			Name:      "detections_total",
			Help:      "Fresh layout detections by variant",
		}, []string{"variant"}),
		UnknownFormats: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "format",
			Name:      "unknown_total",
			Help:      "Instruction shapes matching no known layout",
		}),
		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "format",
			Name:      "cache_invalidations_total",
			Help:      "Format cache entries invalidated",
		}),
		WatchedWallets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "wallets",
			Help:      "Fresh wallets currently polled for program activity",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Events published by sink and event type",
		}, []string{"sink", "event"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "publish_errors_total",
			Help:      "Failed publishes by sink",
		}, []string{"sink"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCAttempt records a single endpoint attempt.
func RecordRPCAttempt(endpoint, status string) {
	DefaultMetrics.RPCCalls.WithLabelValues(endpoint, status).Inc()
}

// RecordRPCLatency records the latency of a logical RPC call.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRotatorExhausted records a call that ran out of attempts.
func RecordRotatorExhausted() {
	DefaultMetrics.RotatorExhausted.Inc()
}

// SetRotatorEnabled mirrors the rotator toggle.
func SetRotatorEnabled(enabled bool) {
	if enabled {
		DefaultMetrics.RotatorEnabled.Set(1)
		return
	}
	DefaultMetrics.RotatorEnabled.Set(0)
}

// RecordNotification records a received account notification.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
}

// RecordSubscriptionState records a transition into state.
func RecordSubscriptionState(state string) {
	DefaultMetrics.SubscriptionStates.WithLabelValues(state).Inc()
}

// RecordUnmonitored records an account given up on after repeated failures.
func RecordUnmonitored() {
	DefaultMetrics.AccountsUnmonitored.Inc()
}

// SetActiveSubscriptions updates the active subscription gauge.
func SetActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordDedupHit records a signature skipped by the dedup guard.
func RecordDedupHit() {
	DefaultMetrics.DedupHits.Inc()
}

// RecordResolved records a resolved transfer event.
func RecordResolved() {
	DefaultMetrics.EventsResolved.Inc()
}

// RecordResolutionEmpty records a transaction without a recipient.
func RecordResolutionEmpty() {
	DefaultMetrics.ResolutionEmpty.Inc()
}

// RecordResolutionError records a resolver failure of the given kind.
func RecordResolutionError(kind string) {
	DefaultMetrics.ResolutionErrors.WithLabelValues(kind).Inc()
}

// SetQueueDepth updates the classification queue gauge.
func SetQueueDepth(n int) {
	DefaultMetrics.ClassificationQueueDepth.Set(float64(n))
}

// RecordClassification records a completed classification.
func RecordClassification(outcome string, seconds float64) {
	DefaultMetrics.Classifications.WithLabelValues(outcome).Inc()
	DefaultMetrics.ClassificationLatency.Observe(seconds)
}

// RecordClassifierPanic records a recovered job panic.
func RecordClassifierPanic() {
	DefaultMetrics.ClassifierPanics.Inc()
}

// RecordFormatDetection records a fresh layout detection.
func RecordFormatDetection(variant string) {
	DefaultMetrics.FormatDetections.WithLabelValues(variant).Inc()
}

// RecordUnknownFormat records an unrecognized instruction shape.
func RecordUnknownFormat() {
	DefaultMetrics.UnknownFormats.Inc()
}

// RecordCacheInvalidation records a removed format cache entry.
func RecordCacheInvalidation() {
	DefaultMetrics.CacheInvalidations.Inc()
}

// SetWatchedWallets updates the watched wallet gauge.
func SetWatchedWallets(n int) {
	DefaultMetrics.WatchedWallets.Set(float64(n))
}

// RecordPublish records a publish attempt on sink.
func RecordPublish(sink, event string, err error) {
	if err != nil {
		DefaultMetrics.PublishErrors.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.EventsPublished.WithLabelValues(sink, event).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
