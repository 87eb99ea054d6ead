package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DocumentNotFound_NotRetryableAndDoesNotCountAgainstBreaker(t *testing.T) {
	kind, classification, strategy, ctx := Classify(gocb.ErrDocumentNotFound, "get", "doc-1")

	assert.Equal(t, KindDocumentNotFound, kind)
	assert.False(t, strategy.ShouldRetry)
	assert.Equal(t, 0, strategy.MaxAttempts)
	assert.False(t, CountsAgainstBreaker(classification))
	assert.Equal(t, "doc-1", ctx.DocumentKey)
	assert.False(t, ctx.IsRetryable)
}

func TestClassify_AmbiguousTimeout_NeverRetried(t *testing.T) {
	_, classification, strategy, ctx := Classify(gocb.ErrAmbiguousTimeout, "upsert", "")

	assert.False(t, strategy.ShouldRetry)
	assert.Equal(t, 0, strategy.MaxAttempts)
	assert.Equal(t, SeverityCritical, classification.Severity)
	assert.True(t, ctx.IsCritical)
}

func TestClassify_CasMismatch_RetryableWithFiveAttempts(t *testing.T) {
	_, classification, strategy, _ := Classify(gocb.ErrCasMismatch, "replace", "doc-2")

	assert.True(t, strategy.ShouldRetry)
	assert.Equal(t, 5, strategy.MaxAttempts)
	assert.Equal(t, 100, strategy.BaseDelayMs)
	assert.False(t, CountsAgainstBreaker(classification), "cas mismatch is application-level and must never move the breaker")
}

func TestClassify_ServiceNotAvailable_CountsAgainstBreaker(t *testing.T) {
	_, classification, strategy, _ := Classify(gocb.ErrServiceNotAvailable, "query", "")

	assert.True(t, strategy.ShouldRetry)
	assert.Equal(t, 5, strategy.MaxAttempts)
	assert.True(t, CountsAgainstBreaker(classification))
}

func TestClassify_UnknownError_DefaultsToCriticalApplication(t *testing.T) {
	kind, classification, strategy, _ := Classify(errors.New("something never seen before"), "op", "")

	assert.Equal(t, KindUnknown, kind)
	assert.False(t, strategy.ShouldRetry)
	assert.Equal(t, SeverityCritical, classification.Severity)
	assert.Equal(t, CategoryApplication, classification.Category)
}

func TestClassify_NetworkMessageFallback(t *testing.T) {
	kind, classification, strategy, _ := Classify(errors.New("dial tcp: connection refused"), "connect", "")

	assert.Equal(t, KindNetwork, kind)
	assert.True(t, strategy.ShouldRetry)
	assert.True(t, CountsAgainstBreaker(classification))
}

func TestClassify_ContextCanceled_IsRequestCanceled(t *testing.T) {
	kind, _, strategy, _ := Classify(context.Canceled, "query", "")

	assert.Equal(t, KindRequestCanceled, kind)
	assert.True(t, strategy.ShouldRetry)
}

// TestClassify_IsPureAndDeterministic classifies the same error many times
// and expects an identical result every time, with no observable side
// effects on shared state.
func TestClassify_IsPureAndDeterministic(t *testing.T) {
	err := gocb.ErrTemporaryFailure

	first, firstClass, firstStrategy, _ := Classify(err, "op", "key")
	for i := 0; i < 100; i++ {
		kind, classification, strategy, _ := Classify(err, "op", "key")
		require.Equal(t, first, kind)
		require.Equal(t, firstClass, classification)
		require.Equal(t, firstStrategy, strategy)
	}
}

func TestClassify_DurabilityAmbiguous_NeverCountsTowardApplicationErrors(t *testing.T) {
	_, classification, strategy, _ := Classify(gocb.ErrDurabilityAmbiguous, "upsert", "")

	assert.False(t, strategy.ShouldRetry)
	assert.Equal(t, SeverityCritical, classification.Severity)
	assert.True(t, CountsAgainstBreaker(classification), "durability ambiguity is a server-side signal, not an application outcome")
}
