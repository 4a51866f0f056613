package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gohts",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gohts",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gohts",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Reconciliation runs by reconciler and outcome.",
		},
		[]string{"reconciler", "outcome"},
	)
	runScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gohts",
			Subsystem: "engine",
			Name:      "last_run_score",
			Help:      "Decision-function score of the last scored run per reconciler.",
		},
		[]string{"reconciler"},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, runsTotal, runScore)
	})
}

// RecordHTTPRequest counts one request against its route template.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRun counts a finished run. A NaN score is not recorded.
func RecordRun(reconciler string, err error, score float64, scored bool) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if reconciler == "" {
			reconciler = "unknown"
		}
	}
	runsTotal.WithLabelValues(reconciler, outcome).Inc()
	if err == nil && scored && !math.IsNaN(score) {
		runScore.WithLabelValues(reconciler).Set(score)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
