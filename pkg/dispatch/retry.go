package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/semalign/semalign/pkg/mapper"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapping_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapping_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapping_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// RetryConfig holds the configuration for classified retry.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Multiplier is the exponential base.
	Multiplier float64

	// Jitter randomizes each backoff by ±20% to avoid thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// backoffFor returns the delay before retry number attempt (0-based),
// min(BaseDelay * Multiplier^attempt, MaxDelay).
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
	}
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// retryWithBackoff executes fn until it succeeds, fails permanently, or
// exhausts MaxRetries additional attempts on transient failures. Backoff
// sleeps honor ctx cancellation. It returns the result, the number of
// attempts made, and the last error.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func() (*mapper.Result, error)) (*mapper.Result, int, error) {
	var lastErr error

	attempts := 0
	for retry := 0; ; retry++ {
		result, err := fn()
		attempts++
		if err == nil {
			if retry > 0 {
				logger.Info().
					Int("attempt", attempts).
					Msg("Call succeeded after retry")
			}
			return result, attempts, nil
		}

		lastErr = err
		kind := mapper.Classify(err)

		if errors.Is(err, context.Canceled) {
			return nil, attempts, lastErr
		}

		if !kind.Transient() {
			logger.Warn().
				Str("error_kind", string(kind)).
				Err(err).
				Msg("Permanent failure, not retrying")
			return nil, attempts, lastErr
		}

		if retry >= cfg.MaxRetries {
			break
		}

		backoff := cfg.backoffFor(retry)
		if cfg.Jitter {
			backoff = time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		}

		retriesTotal.WithLabelValues(string(kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(kind)).Observe(backoff.Seconds())

		logger.Debug().
			Str("error_kind", string(kind)).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Msg("Retrying call after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_kind", string(kind)).
				Int("attempt", attempts).
				Msg("Cancelled during retry backoff")
			return nil, attempts, lastErr
		case <-timer.C:
		}
	}

	kind := mapper.Classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn().
		Str("error_kind", string(kind)).
		Int("attempts", attempts).
		Msg("Retry attempts exhausted")

	return nil, attempts, lastErr
}
