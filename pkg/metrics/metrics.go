// Package metrics exposes the Prometheus registry used by the marketplace
// client. Metrics are defined in their own packages (client, cache,
// ratelimit, fetch) and registered there via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its metrics with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Fetch Metrics (pkg/fetch):
//   - marketplace_dispatches_total{label, outcome} (Counter): list fetches by outcome (ok, canceled, stale, failed)
//   - marketplace_dispatch_duration_seconds{label} (Histogram): list fetch duration
//
// Rate Limit Metrics (pkg/ratelimit):
//   - marketplace_rate_limit_remaining (Gauge): requests left in the current window
//   - marketplace_rate_limit_blocks_total (Counter): requests blocked at the critical threshold
//   - marketplace_rate_limit_throttles_total (Counter): requests delayed at the warning threshold
//
// Cache Metrics (pkg/cache):
//   - marketplace_cache_hits_total{layer} (Counter): hits by layer (memory, redis)
//   - marketplace_cache_misses_total (Counter): misses in every layer
//   - marketplace_cache_memory_entries (Gauge): entries held in the memory layer
//   - marketplace_conditional_requests_total (Counter): requests sent with If-None-Match / If-Modified-Since
//   - marketplace_304_responses_total (Counter): 304 Not Modified responses
//   - marketplace_cache_errors_total{layer, operation} (Counter): cache operation errors
//
// Request Metrics (pkg/client):
//   - marketplace_requests_total{endpoint, status} (Counter): requests by endpoint and HTTP status
//   - marketplace_request_duration_seconds{endpoint} (Histogram): request duration
//   - marketplace_errors_total{class} (Counter): errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - marketplace_retries_total{error_class} (Counter): retry attempts
//   - marketplace_retry_backoff_seconds{error_class} (Histogram): backoff durations
//   - marketplace_retry_exhausted_total{error_class} (Counter): requests that ran out of attempts
//
// Example Prometheus Queries:
//
//   # Share of list fetches superseded by a newer filter
//   sum(rate(marketplace_dispatches_total{outcome=~"canceled|stale"}[5m])) /
//   sum(rate(marketplace_dispatches_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(marketplace_cache_hits_total[5m])) /
//   (sum(rate(marketplace_cache_hits_total[5m])) + sum(rate(marketplace_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(marketplace_request_duration_seconds_bucket[5m]))
