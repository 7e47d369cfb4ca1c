package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	apiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopcache_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic. fn
// reports the error class of each failure; non-retriable classes return
// immediately. Backoff gets ±20% jitter to avoid thundering herds, and the
// wait respects context cancellation.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() (ErrorClass, error)) error {
	var lastErr error
	var lastClass ErrorClass
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		errClass, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		lastClass = errClass

		if !shouldRetry(errClass) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		apiRetriesTotal.WithLabelValues(string(errClass)).Inc()

		// ±20% jitter.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		apiRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(errClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	apiRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	log.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
