package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Count of webhook notifications acknowledged by the receiver",
		},
	)
	notificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Count of webhook notifications that exhausted their attempt budget",
		},
	)
	notificationAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_attempts_total",
			Help: "Count of individual webhook delivery attempts",
		},
	)
	notificationRetriesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retries_recovered_total",
			Help: "Count of notifications recovered by the background retry loop",
		},
	)
	notificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_request_latency_milliseconds",
			Help:    "Captures webhook POST latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)
)
