package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff strategy names, shared by node-level and job-level retry.
const (
	StrategyFixed       = "fixed"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts  int
	Strategy     string
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64 // 0.0 to 1.0
	ShouldRetry  func(error) bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		Strategy:     StrategyExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       0.1,
	}
}

// Retry executes fn up to MaxAttempts times, sleeping per the backoff
// strategy between attempts. Context cancellation aborts the wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(cfg, attempt)):
			}
		}
	}

	return lastErr
}

// Backoff returns the delay before the retry following the given
// zero-based attempt.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	var delay float64

	switch cfg.Strategy {
	case StrategyFixed:
		delay = float64(cfg.InitialDelay)
	case StrategyLinear:
		delay = float64(cfg.InitialDelay) * float64(attempt+1)
	default:
		delay = float64(cfg.InitialDelay) * math.Pow(2, float64(attempt))
	}

	if cfg.Jitter > 0 {
		jitterRange := delay * cfg.Jitter
		delay = delay - jitterRange + rand.Float64()*2*jitterRange
	}

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < 0 {
		delay = float64(cfg.InitialDelay)
	}

	return time.Duration(delay)
}

// IsRetryableHTTPStatus reports whether an HTTP status code is worth retrying.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
