package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks batch outcome cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapping_cache_hits_total",
			Help: "Total number of batch outcome cache hits",
		},
	)

	// CacheMisses tracks batch outcome cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapping_cache_misses_total",
			Help: "Total number of batch outcome cache misses",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapping_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
