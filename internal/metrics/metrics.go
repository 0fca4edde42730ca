package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the supports daemon
type Metrics struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Center metrics
	ObserversActive        prometheus.Gauge
	ObserverRegistrations  *prometheus.CounterVec
	ObserverRemovals       prometheus.Counter
	NotificationsPosted    prometheus.Counter
	NotificationDeliveries *prometheus.CounterVec
	HandlerPanicsTotal     prometheus.Counter
	PostDuration           prometheus.Histogram

	// Queue metrics
	QueueDepth         prometheus.Gauge
	QueueRejectedTotal prometheus.Counter

	// Stream metrics
	StreamClientsActive prometheus.Gauge
	StreamEventsSent    prometheus.Counter
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supports_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supports_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supports_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"method", "path", "error_type"},
	)

	// Center metrics
	m.ObserversActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supports_center_observers_active",
			Help: "Number of observers currently registered on the notification center",
		},
	)

	m.ObserverRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supports_center_observer_registrations_total",
			Help: "Total number of observer registrations by result",
		},
		[]string{"result"}, // ok, unavailable
	)

	m.ObserverRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supports_center_observer_removals_total",
			Help: "Total number of observers removed from the notification center",
		},
	)

	m.NotificationsPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supports_center_notifications_posted_total",
			Help: "Total number of notifications posted",
		},
	)

	m.NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supports_center_deliveries_total",
			Help: "Total number of notification deliveries to observers",
		},
		[]string{"mode"}, // direct, queued, dropped
	)

	m.HandlerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supports_handler_panics_total",
			Help: "Total number of observer handlers that panicked",
		},
	)

	m.PostDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supports_center_post_duration_seconds",
			Help:    "Time taken to deliver a posted notification in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // from 10us to ~160ms
		},
	)

	// Queue metrics
	m.QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supports_queue_depth",
			Help: "Number of closures waiting on dispatch queues",
		},
	)

	m.QueueRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supports_queue_rejected_total",
			Help: "Total number of closures rejected by a full or closed dispatch queue",
		},
	)

	// Stream metrics
	m.StreamClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supports_stream_clients_active",
			Help: "Number of connected stream clients",
		},
	)

	m.StreamEventsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supports_stream_events_sent_total",
			Help: "Total number of notifications written to stream clients",
		},
	)

	return m
}
