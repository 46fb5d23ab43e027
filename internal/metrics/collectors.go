package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xtm_mcp"

// Collectors holds the Prometheus metrics exported on /metrics.
type Collectors struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec   // By tool and status (ok/error)
	toolDuration *prometheus.HistogramVec // By tool

	schemaLookups       *prometheus.CounterVec   // By mode and result (hit/miss)
	schemaFetches       *prometheus.CounterVec   // By mode, origin (remote/store) and status
	schemaFetchDuration *prometheus.HistogramVec // By mode and origin

	httpRequests *prometheus.CounterVec   // By method, route and status code
	httpDuration *prometheus.HistogramVec // By method and route
	rateLimited  prometheus.Counter
}

// NewCollectors creates the collectors on a private registry. Go runtime and
// process collectors are registered alongside.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total number of tool invocations",
		}, []string{"tool", "status"}),

		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),

		schemaLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "cache_lookups_total",
			Help:      "Schema snapshot cache lookups",
		}, []string{"mode", "result"}),

		schemaFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "fetches_total",
			Help:      "Schema fetches by origin and outcome",
		}, []string{"mode", "origin", "status"}),

		schemaFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "fetch_duration_seconds",
			Help:      "Schema fetch and parse duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode", "origin"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}

	c.registry.MustRegister(
		c.toolCalls, c.toolDuration,
		c.schemaLookups, c.schemaFetches, c.schemaFetchDuration,
		c.httpRequests, c.httpDuration, c.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveToolCall records one tool invocation.
func (c *Collectors) ObserveToolCall(tool string, failed bool, d time.Duration) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status(failed)).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveSchemaCache implements schema.Observer.
func (c *Collectors) ObserveSchemaCache(mode string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.schemaLookups.WithLabelValues(mode, result).Inc()
}

// ObserveSchemaFetch implements schema.Observer.
func (c *Collectors) ObserveSchemaFetch(mode, origin string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.schemaFetches.WithLabelValues(mode, origin, status(err != nil)).Inc()
	c.schemaFetchDuration.WithLabelValues(mode, origin).Observe(d.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRateLimited counts a rejected request.
func (c *Collectors) ObserveRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
