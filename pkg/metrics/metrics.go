// Package metrics provides the centralized Prometheus metrics registry for
// cachekit. All metrics are defined in their respective packages (cache,
// warming, queue, client) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by cachekit.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - shopcache_hits_total{layer} (Counter): Cache hits by layer (persistent, memory)
//   - shopcache_misses_total (Counter): Cache misses
//   - shopcache_entries (Gauge): Current number of indexed entries
//   - shopcache_size_bytes (Gauge): Current total payload size in bytes
//   - shopcache_evictions_total (Counter): Entries removed by eviction sweeps
//   - shopcache_invalidations_total{kind} (Counter): Invalidated entries by trigger
//   - shopcache_revalidations_total (Counter): Background stale-while-revalidate refreshes
//   - shopcache_errors_total{operation} (Counter): Absorbed cache operation errors
//
// Warming Metrics (pkg/warming):
//   - shopcache_warming_runs_total (Counter): Warming runs
//   - shopcache_warming_items_total{status} (Counter): Item outcomes (warmed, skipped, failed)
//   - shopcache_warming_duration_seconds (Histogram): Complete run duration
//
// Queue Metrics (pkg/queue):
//   - shopcache_queue_depth (Gauge): Queued offline operations
//   - shopcache_queue_ops_total{type, result} (Counter): Operation outcomes
//   - shopcache_queue_drains_total{outcome} (Counter): Drain passes (clean, partial, noop)
//
// Request Metrics (pkg/client):
//   - shopcache_api_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - shopcache_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - shopcache_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - shopcache_api_retries_total{error_class} (Counter): Retry attempts by error class
//   - shopcache_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - shopcache_api_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(shopcache_hits_total[5m])) /
//   (sum(rate(shopcache_hits_total[5m])) + sum(rate(shopcache_misses_total[5m])))
//
//   # Offline Sync Failure Rate
//   rate(shopcache_queue_ops_total{result="failed"}[15m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(shopcache_api_request_duration_seconds_bucket[5m]))
//
//   # Eviction Pressure
//   rate(shopcache_evictions_total[5m])
