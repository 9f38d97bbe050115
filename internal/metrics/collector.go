package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)

// Collector 所有方法并发安全.
type Collector struct {
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec

	pages       *prometheus.CounterVec
	pageLatency *prometheus.HistogramVec
	imageBytes  *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	events      *prometheus.CounterVec
	activeRuns  prometheus.Gauge

	lookups *prometheus.CounterVec

	dbOpen    *prometheus.GaugeVec
	dbIdle    *prometheus.GaugeVec
	dbLatency *prometheus.HistogramVec
}

// NewCollector 注册到 prometheus.DefaultRegisterer, 同一 namespace 只能调用一次.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 注册到指定 Registerer.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		httpRequests:     counter("http_requests_total", "HTTP requests by route pattern and status class.", "method", "path", "status"),
		httpLatency:      histogram("http_request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path"),
		httpRequestSize:  histogram("http_request_size_bytes", "HTTP request body size.", sizeBuckets, "method", "path"),
		httpResponseSize: histogram("http_response_size_bytes", "HTTP response body size.", sizeBuckets, "method", "path"),

		pages: counter("page_generations_total", "Page image generations by provider and outcome.", "provider", "status", "code"),
		pageLatency: histogram("page_generation_duration_seconds", "Time spent generating one page image.",
			[]float64{1, 5, 10, 20, 30, 60, 120, 300}, "provider"),
		imageBytes: histogram("generated_image_bytes", "Size of stored page images.",
			prometheus.ExponentialBuckets(64*1024, 2, 10), "provider"),
		// kind: generate, retry, retry_failed, regenerate
		runs:   counter("generation_runs_total", "Generation runs by kind and result.", "kind", "result"),
		events: counter("generation_events_total", "Progress events sent to clients.", "event"),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_active_runs",
			Help:      "Generation runs in progress.",
		}),

		lookups: counter("cache_lookups_total", "In-process cache lookups by cache and result.", "cache_type", "result"),

		dbOpen:    gauge("db_connections_open", "Open database connections.", "database"),
		dbIdle:    gauge("db_connections_idle", "Idle database connections.", "database"),
		dbLatency: histogram("db_query_duration_seconds", "History store query latency.", prometheus.DefBuckets, "database", "operation"),
	}

	logger.Debug("prometheus collectors registered", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest path 应为路由模板而不是原始 URL, 控制 label 基数.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordPageGeneration code 为空表示成功; size 为 0 时不记录图片大小.
func (c *Collector) RecordPageGeneration(provider, code string, duration time.Duration, size int) {
	status := "success"
	if code != "" {
		status = "failed"
	}
	c.pages.WithLabelValues(provider, status, code).Inc()
	c.pageLatency.WithLabelValues(provider).Observe(duration.Seconds())
	if size > 0 {
		c.imageBytes.WithLabelValues(provider).Observe(float64(size))
	}
}

func (c *Collector) RecordGenerationRun(kind, result string) {
	c.runs.WithLabelValues(kind, result).Inc()
}

func (c *Collector) RecordGenerationEvent(event string) {
	c.events.WithLabelValues(event).Inc()
}

func (c *Collector) RunStarted()  { c.activeRuns.Inc() }
func (c *Collector) RunFinished() { c.activeRuns.Dec() }

func (c *Collector) RecordCacheHit(cacheType string) {
	c.lookups.WithLabelValues(cacheType, "hit").Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.lookups.WithLabelValues(cacheType, "miss").Inc()
}

// RecordDBConnections 由连接池统计定时上报.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbOpen.WithLabelValues(database).Set(float64(open))
	c.dbIdle.WithLabelValues(database).Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbLatency.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusClass 200 -> "2xx"; 小于 100 的值归为 "unknown".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
