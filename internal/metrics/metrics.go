// Package metrics exposes Prometheus collectors for the HTTP layer and the
// storage engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bucketsvc"

var (
	// RequestCounter counts HTTP requests by method, route and status.
	RequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	// RequestDuration observes HTTP latency by method and route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// StorageOps counts storage engine operations by outcome.
	StorageOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_operations_total",
		Help:      "Storage engine operations by operation and result",
	}, []string{"operation", "result"})

	// UploadedBytes counts bytes accepted by successful uploads.
	UploadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes stored by successful uploads",
	})

	// QuotaRejections counts uploads refused by quota admission.
	QuotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rejections_total",
		Help:      "Uploads rejected because the owner quota would be exceeded",
	})

	// Inconsistencies counts detected divergence between blobs, records and aggregates.
	// kind is one of missing_blob, orphan_blob, aggregate_drift.
	Inconsistencies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inconsistencies_total",
		Help:      "Detected storage inconsistencies by kind",
	}, []string{"kind"})

	// ReconcileRuns counts reconciliation sweeps by result.
	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation sweeps by result",
	}, []string{"result"})

	initOnce sync.Once
)

// Inconsistency kinds.
const (
	KindMissingBlob    = "missing_blob"
	KindOrphanBlob     = "orphan_blob"
	KindAggregateDrift = "aggregate_drift"
)

// InitMetrics registers every collector with the default registry. Safe to call repeatedly.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			StorageOps,
			UploadedBytes,
			QuotaRejections,
			Inconsistencies,
			ReconcileRuns,
		)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		RequestCounter.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveOp records the outcome of a storage engine operation.
func ObserveOp(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StorageOps.WithLabelValues(operation, result).Inc()
}
