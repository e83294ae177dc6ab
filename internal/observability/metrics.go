package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	MessagesQueuedTotal  prometheus.Counter
	MessagesSettledTotal *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
	ClaimBatchSize       prometheus.Histogram
	DispatchDuration     prometheus.Histogram
	QueueDepth           prometheus.Gauge
	RateLimitDenials     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		MessagesQueuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "messages_queued_total",
				Help: "Total number of messages admitted to the queue",
			},
		),
		MessagesSettledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_settled_total",
				Help: "Total number of messages reaching a terminal status",
			},
			[]string{"status"},
		),
		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_attempts_total",
				Help: "Total number of retries scheduled",
			},
			[]string{"strategy"},
		),
		ClaimBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scheduler_claim_batch_size",
				Help:    "Rows claimed per scheduler tick",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
		DispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_duration_seconds",
				Help:    "Time from task pickup to outcome commit",
				Buckets: prometheus.DefBuckets,
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Messages waiting for dispatch",
			},
		),
		RateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_denials_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"scope"},
		),
	}
}
