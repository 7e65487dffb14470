package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"endpoint", "status"},
	)

	IngestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postpipe_connector_ingest_bytes_total",
			Help: "Total bytes of ingestion request bodies received",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postpipe_connector_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Delivery fan-out
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_deliveries_total",
			Help: "Total number of delivery tasks by sink kind, role and outcome",
		},
		[]string{"kind", "role", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postpipe_connector_delivery_duration_seconds",
			Help:    "Duration of a single delivery (connect plus insert) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TasksPerSubmission = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postpipe_connector_tasks_per_submission",
			Help:    "Number of delivery tasks produced by one ingestion",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)

	// Security
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_auth_failures_total",
			Help: "Total number of rejected requests by reason",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postpipe_connector_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Sinks
	PoolsEstablished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_pools_established_total",
			Help: "Total number of backend pools or clients established",
		},
		[]string{"kind"},
	)

	PoolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_pool_errors_total",
			Help: "Total number of failed pool or client establishments",
		},
		[]string{"kind"},
	)

	SchemaProvisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_schema_provisions_total",
			Help: "Total number of schema provisioning passes",
		},
		[]string{"kind", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postpipe_connector_query_duration_seconds",
			Help:    "Duration of read queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Delivery events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postpipe_connector_events_published_total",
			Help: "Total number of delivery events published",
		},
		[]string{"status"},
	)
)
