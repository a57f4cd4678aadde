package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Delivery pipeline metrics
	DeliveriesSent      prometheus.Counter
	DeliveriesAborted   *prometheus.CounterVec
	DeliveriesFailed    prometheus.Counter
	DeliveryLatency     prometheus.Histogram
	StageRetries        *prometheus.CounterVec
	SubscriptionsActive prometheus.Gauge

	// Lifecycle metrics
	SubscriptionsCreated   prometheus.Counter
	SubscriptionsCompleted prometheus.Counter
	FastForwards           prometheus.Counter
	BehindDetected         prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Dispatch metrics
	JobsEnqueued *prometheus.CounterVec
	JobsConsumed *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		DeliveriesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_sent_total",
			Help:      "Total number of messages dispatched to the delivery transport",
		}),
		DeliveriesAborted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_aborted_total",
			Help:      "Total number of benign pipeline aborts",
		}, []string{"reason"}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_failed_total",
			Help:      "Total number of deliveries that exhausted retries",
		}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent running the delivery pipeline",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_retry_attempts_total",
			Help:      "Total number of retry attempts per pipeline stage",
		}, []string{"stage"}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_active",
			Help:      "Current number of active subscriptions",
		}),

		SubscriptionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_created_total",
			Help:      "Total number of subscriptions created",
		}),
		SubscriptionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_completed_total",
			Help:      "Total number of subscriptions that finished their message set",
		}),
		FastForwards: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fast_forwards_total",
			Help:      "Total number of fast-forward catch-ups applied",
		}),
		BehindDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "behind_subscriptions_detected_total",
			Help:      "Total number of behind subscriptions recorded by reconciliation",
		}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs published to the dispatcher",
		}, []string{"job"}),
		JobsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_consumed_total",
			Help:      "Total number of jobs consumed by workers",
		}, []string{"job", "status"}),
	}
}
