package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWithRetry_AmbiguousTimeoutNeverRetried is literal scenario 4: the
// stub raises AmbiguousTimeout on the first attempt; exactly one attempt is
// made and the error propagates.
func TestWithRetry_AmbiguousTimeoutNeverRetried(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 5, nil, nil, false, func(attempt int) error {
		attempts++
		return gocb.ErrAmbiguousTimeout
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 3, nil, nil, false, func(attempt int) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

// TestWithRetry_BoundedByMaxAttempts is the retry-bound property: total
// attempts never exceed the configured ceiling even when every attempt is
// individually retryable.
func TestWithRetry_BoundedByMaxAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 3, nil, nil, false, func(attempt int) error {
		attempts++
		return gocb.ErrTemporaryFailure
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 5, nil, nil, false, func(attempt int) error {
		attempts++
		return gocb.ErrDocumentNotFound
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ContextCancelledDuringBackoffReturnsCtxErr(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := WithRetry(ctx, "op", 5, nil, nil, false, func(attempt int) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return gocb.ErrTemporaryFailure
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 3, nil, nil, false, func(attempt int) error {
		attempts++
		if attempts < 2 {
			return gocb.ErrTemporaryFailure
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetry_UnknownErrorNeverRetried(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), "op", 5, nil, nil, false, func(attempt int) error {
		attempts++
		return errors.New("never seen before")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
