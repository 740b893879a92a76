// Package metrics provides the centralized Prometheus metrics registry for
// the mapping pipeline. All metrics are defined in their respective packages
// (mapper, dispatch, ratelimit, cache) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the mapping pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Mapper Metrics (pkg/mapper):
//   - mapping_mapper_requests_total{status} (Counter): Completion requests by outcome status
//   - mapping_mapper_request_duration_seconds (Histogram): Completion request duration
//   - mapping_mapper_tokens_total{direction} (Counter): Tokens consumed by direction (input, output)
//
// Dispatch Metrics (pkg/dispatch):
//   - mapping_batches_total{status} (Counter): Batches by terminal status (success, failed, cancelled)
//   - mapping_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - mapping_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - mapping_retry_exhausted_total{error_kind} (Counter): Batches that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - mapping_rate_limit_waits_total{policy} (Counter): Pacer waits by policy
//   - mapping_rate_limit_wait_seconds{policy} (Histogram): Pacer wait duration by policy
//
// Cache Metrics (pkg/cache):
//   - mapping_cache_hits_total (Counter): Batch results served from cache
//   - mapping_cache_misses_total (Counter): Cache misses
//   - mapping_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(mapping_cache_hits_total[5m])) /
//   (sum(rate(mapping_cache_hits_total[5m])) + sum(rate(mapping_cache_misses_total[5m])))
//
//   # Batch Failure Rate
//   rate(mapping_batches_total{status="failed"}[5m]) / rate(mapping_batches_total[5m])
//
//   # P95 Completion Latency
//   histogram_quantile(0.95, rate(mapping_mapper_request_duration_seconds_bucket[5m]))
//
//   # Token Burn Rate
//   sum(rate(mapping_mapper_tokens_total[5m])) by (direction)
