package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks hits by layer ("memory", "redis").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups that found nothing in any layer.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheEntries tracks the number of entries in the memory layer.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_cache_memory_entries",
			Help: "Current number of entries in the in-process cache",
		},
	)

	// ConditionalRequestsSent tracks requests revalidated with If-None-Match or
	// If-Modified-Since.
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_conditional_requests_total",
			Help: "Total number of conditional requests sent",
		},
	)

	// NotModifiedResponses tracks 304 responses served from cache.
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// CacheErrors tracks failed cache operations.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"layer", "operation"},
	)
)
