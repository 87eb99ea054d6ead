package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/zx8086/capellaql-sub003/internal/metrics"
)

// RetryFunc is retried up to maxAttempts times by WithRetry.
type RetryFunc func(attempt int) error

// WithRetry runs op, retrying on failure per the classifier's verdict for
// each error. Unlike a fixed RetryPolicy, the strategy (max attempts, base
// delay) is re-derived from the classification of each failure: a
// CasMismatch and a ServiceNotAvailable carry different budgets even within
// the same call, so the loop honors whichever strategy the latest failure
// carries, bounded by defaultMaxAttempts as a ceiling.
//
// Context cancellation is respected: if ctx is cancelled during a backoff
// sleep, WithRetry returns ctx.Err() immediately.
//
// jitter applies +-25% randomisation to the backoff delay. Only the initial
// connection's backoff wants that spread (so a fleet of clients reconnecting
// at once doesn't thunder-herd); the data-path retry loop (the manager's
// ExecuteWithRetry, used by query and KV) needs the pure baseDelay*2^(attempt-1) series so their total
// sleep stays bounded by the sum the caller computed it against.
func WithRetry(ctx context.Context, operation string, defaultMaxAttempts int, logger *slog.Logger, mx *metrics.RetryMetrics, jitter bool, op RetryFunc) error {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}

	var lastErr error

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		err := op(attempt)

		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "operation", operation, "attempt", attempt)
			}
			if mx != nil {
				mx.RecordAttempt(operation, "success", "none")
				mx.RecordFinalAttempt(operation, "success", attempt)
			}
			return nil
		}

		lastErr = err
		kind, _, strategy, _ := Classify(err, operation, "")

		if mx != nil {
			mx.RecordAttempt(operation, "failure", string(kind))
		}

		if !strategy.ShouldRetry || attempt >= strategy.MaxAttempts || attempt >= defaultMaxAttempts {
			logger.Debug("error is non-retryable or budget exhausted, stopping",
				"operation", operation, "error_kind", kind, "attempt", attempt)
			if mx != nil {
				mx.RecordFinalAttempt(operation, "failure", attempt)
			}
			return lastErr
		}

		delay := time.Duration(strategy.BaseDelayMs) * time.Millisecond * time.Duration(1<<(attempt-1))
		if jitter {
			delay = applyJitter(delay)
		}

		logger.Warn("operation failed, retrying", "operation", operation, "attempt", attempt, "delay", delay, "error", err)
		if mx != nil {
			mx.RecordBackoff(operation, delay.Seconds())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.Debug("context cancelled during retry delay", "operation", operation, "attempt", attempt)
			if mx != nil {
				mx.RecordFinalAttempt(operation, "cancelled", attempt)
			}
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, defaultMaxAttempts, lastErr)
}

// applyJitter adds up to +-25% random jitter to d. The connection manager's
// connect loop is the caller that enables it; there the delay being
// jittered is the classifier's base delay * 2^(attempt-1), with no cap.
func applyJitter(d time.Duration) time.Duration {
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	result := d + jitter
	if result < 0 {
		return 0
	}
	return result
}
