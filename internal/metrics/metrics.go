package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wb-go/wbf/ginext"
)

var (
	namespace = "rembg_api"

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pipelineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Number of background removal requests by outcome",
		},
		[]string{"outcome", "stage"},
	)

	segmentationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segmentation_duration_seconds",
			Help:      "Time spent inside the segmentation backend",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"backend", "status"},
	)

	workerQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_queue_wait_seconds",
			Help:      "Time a request waited for a free segmentation slot",
			Buckets:   prometheus.DefBuckets,
		},
	)

	workerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_in_flight",
			Help:      "Segmentation jobs currently holding a slot",
		},
	)
)

func HttpRequestsTotal(method, path, code string) {
	httpRequestsTotal.With(prometheus.Labels{
		"method": method,
		"path":   path,
		"code":   code,
	}).Inc()
}

func HttpRequestDuration(method, path string, duration time.Duration) {
	httpRequestDuration.With(prometheus.Labels{
		"method": method,
		"path":   path,
	}).Observe(duration.Seconds())
}

// PipelineTotal counts a finished request. outcome is "ok" or an error code,
// stage is the stage the request ended in.
func PipelineTotal(outcome, stage string) {
	pipelineTotal.With(prometheus.Labels{
		"outcome": outcome,
		"stage":   stage,
	}).Inc()
}

func SegmentationDuration(backend, status string, duration time.Duration) {
	segmentationDuration.With(prometheus.Labels{
		"backend": backend,
		"status":  status,
	}).Observe(duration.Seconds())
}

func WorkerQueueWait(duration time.Duration) {
	workerQueueWait.Observe(duration.Seconds())
}

func WorkerStarted() {
	workerInFlight.Inc()
}

func WorkerFinished() {
	workerInFlight.Dec()
}

// Middleware records request counts and latency. Unmatched routes are
// grouped under one label to keep cardinality bounded.
func Middleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HttpRequestsTotal(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		HttpRequestDuration(c.Request.Method, path, time.Since(start))
	}
}
