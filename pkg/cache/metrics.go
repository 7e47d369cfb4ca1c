package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (persistent, memory).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEntries tracks the current number of indexed entries.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopcache_entries",
			Help: "Current number of cache entries in the index",
		},
	)

	// CacheSizeBytes tracks the total indexed payload size.
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopcache_size_bytes",
			Help: "Current total size of cached payloads in bytes",
		},
	)

	// CacheEvictions tracks entries removed by the eviction sweep.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
	)

	// CacheInvalidations tracks invalidated entries by trigger kind.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcache_invalidations_total",
			Help: "Total number of cache entries invalidated by kind",
		},
		[]string{"kind"}, // "pattern", "event", "tag", "before", "dependency"
	)

	// CacheRevalidations tracks background stale-while-revalidate refreshes.
	CacheRevalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcache_revalidations_total",
			Help: "Total number of background cache revalidations",
		},
	)

	// CacheErrors tracks cache operation errors by operation.
	// Errors are logged and absorbed, never surfaced to callers.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "remove", "index", "migrate"
	)
)
