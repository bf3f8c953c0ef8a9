// Package metrics exposes the process's Prometheus counters and
// histograms: HTTP request metrics plus the domain events the core's own
// components care to surface (cache hit/miss, worker task duration,
// rate-limit decisions).
//
// Grounded on chat-service/cmd/server/main.go's prometheusMiddleware and
// package-level httpDuration/httpRequests vectors, generalized into a
// constructed registry instead of package-level globals so tests can build
// an isolated one.
package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the core emits.
type Metrics struct {
	HTTPDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	WorkerTaskDuration *prometheus.HistogramVec
	WorkerTasksActive  prometheus.Gauge

	RateLimitDecisions *prometheus.CounterVec

	PushChannelConnections prometheus.Gauge
}

// New constructs and registers every metric against registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatdf_http_request_duration_seconds",
			Help: "HTTP request latencies in seconds",
		}, []string{"method", "path", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdf_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdf_cache_hits_total",
			Help: "Query result cache hits by layer",
		}, []string{"layer"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdf_cache_misses_total",
			Help: "Query result cache misses by layer",
		}, []string{"layer"}),
		WorkerTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatdf_worker_task_duration_seconds",
			Help: "Worker pool task durations by capability",
		}, []string{"capability"}),
		WorkerTasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdf_worker_tasks_active",
			Help: "Worker pool tasks currently executing",
		}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdf_rate_limit_decisions_total",
			Help: "Rate limiter check outcomes",
		}, []string{"outcome"}),
		PushChannelConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdf_push_channel_connections",
			Help: "Currently attached push channel peers",
		}),
	}

	registry.MustRegister(
		m.HTTPDuration, m.HTTPRequests, m.CacheHits, m.CacheMisses,
		m.WorkerTaskDuration, m.WorkerTasksActive, m.RateLimitDecisions,
		m.PushChannelConnections,
	)
	return m
}

// GinMiddleware records HTTP latency and request counts per (method, path,
// status), matching the teacher's prometheusMiddleware.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.HTTPDuration.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", status)).Observe(duration.Seconds())
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", status)).Inc()
	}
}
