// Package metrics holds the Prometheus collectors of the research service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_jobs_started_total",
		Help: "Research jobs picked up by a worker.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_jobs_finished_total",
		Help: "Research jobs that reached a terminal status, by status.",
	}, []string{"status"})

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dr_jobs_running",
		Help: "Research jobs currently holding a worker slot.",
	})

	JobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dr_jobs_queued",
		Help: "Research jobs waiting for a worker slot.",
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_llm_calls_total",
		Help: "Language-model completions, by backend and outcome.",
	}, []string{"backend", "outcome"})

	LLMRateLimitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_llm_rate_limit_retries_total",
		Help: "Backoff sleeps caused by rate limiting, by backend.",
	}, []string{"backend"})

	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_search_requests_total",
		Help: "Web searches, by provider and outcome.",
	}, []string{"provider", "outcome"})

	SearchInstanceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_searxng_instance_fallbacks_total",
		Help: "SearXNG instances skipped because they returned nothing usable.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_http_requests_total",
		Help: "HTTP requests served, by method, route and status.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dr_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_store_cache_hits_total",
		Help: "Record reads served from the terminal-record cache.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_store_cache_misses_total",
		Help: "Record reads that went to the backing store.",
	})
)

// Outcome labels.
const (
	OK       = "ok"
	Failed   = "error"
	Degraded = "degraded"
)
