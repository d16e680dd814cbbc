package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling",
		Name:      "bookings_total",
		Help:      "Booking attempts by outcome.",
	}, []string{"outcome"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling",
		Name:      "transitions_total",
		Help:      "Appointment status transitions by action and outcome.",
	}, []string{"action", "outcome"})

	AvailabilityChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling",
		Name:      "availability_changes_total",
		Help:      "Availability window edits by operation and outcome.",
	}, []string{"op", "outcome"})

	SlotsGenerated = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduling",
		Name:      "slots_generated",
		Help:      "Number of bookable slots returned per query.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling",
		Name:      "outbox_published_total",
		Help:      "Outbox events relayed, by kind and status.",
	}, []string{"kind", "status"})

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduling",
		Name:      "outbox_backlog",
		Help:      "Pending outbox events seen by the last relay pass.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduling",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)
