package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chainsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minichain_chains",
		Help: "Number of chains known to this process.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minichain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minichain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	blocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minichain_blocks_appended_total",
		Help: "Total blocks appended across all chains.",
	})

	transactionBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "minichain_transaction_bytes",
		Help:    "Size of appended transaction payloads.",
		Buckets: prometheus.ExponentialBuckets(16, 4, 8),
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minichain_verifications_total",
		Help: "Total chain verifications by result.",
	}, []string{"result"})

	forksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minichain_forks_total",
		Help: "Total chains created by forking.",
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minichain_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBlockBytes records the payload size of an appended block.
func RecordBlockBytes(n int) {
	transactionBytes.Observe(float64(n))
}

// RecordWebhookDelivery counts one webhook delivery attempt. It matches
// webhooks.MetricsRecorder.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// PrometheusMetrics reports service events to Prometheus.
// It satisfies service.Metrics.
type PrometheusMetrics struct{}

func (PrometheusMetrics) ChainsLoaded(n int) { chainsTotal.Set(float64(n)) }
func (PrometheusMetrics) ChainCreated()      { chainsTotal.Inc() }
func (PrometheusMetrics) ChainDeleted()      { chainsTotal.Dec() }
func (PrometheusMetrics) BlockAppended()     { blocksAppendedTotal.Inc() }
func (PrometheusMetrics) ChainForked()       { forksTotal.Inc() }

func (PrometheusMetrics) ChainVerified(valid bool) {
	if valid {
		verificationsTotal.WithLabelValues("valid").Inc()
	} else {
		verificationsTotal.WithLabelValues("invalid").Inc()
	}
}
