package couchbase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zx8086/capellaql-sub003/internal/resilience"
)

var transactionTracer = otel.Tracer("couchbase.transaction")

// txnKind is the transaction-local extension of the error classifier's
// ErrorKind taxonomy.
type txnKind string

const (
	txnFailed            txnKind = "transaction_failed"
	txnExpired           txnKind = "transaction_expired"
	txnCommitAmbiguous   txnKind = "transaction_commit_ambiguous"
)

type txnClassification struct {
	Retryable   bool
	Severity    resilience.Severity
	Category    string // "transient", "ambiguous", "permanent"
	Investigate bool
}

var transactionTable = map[txnKind]txnClassification{
	txnFailed:          {Retryable: true, Severity: resilience.SeverityWarning, Category: "transient", Investigate: false},
	txnExpired:         {Retryable: true, Severity: resilience.SeverityWarning, Category: "transient", Investigate: false},
	txnCommitAmbiguous: {Retryable: false, Severity: resilience.SeverityCritical, Category: "ambiguous", Investigate: true},
}

// classifyTransactionError extends C1 with transaction-local kinds, falling
// back to the base classifier's table for document-level errors.
func classifyTransactionError(err error) (txnKind, txnClassification, bool) {
	switch {
	case isTransactionCommitAmbiguous(err):
		return txnCommitAmbiguous, transactionTable[txnCommitAmbiguous], true
	case isTransactionExpired(err):
		return txnExpired, transactionTable[txnExpired], true
	case isTransactionFailed(err):
		return txnFailed, transactionTable[txnFailed], true
	}

	kind, classification, _, _ := resilience.Classify(err, "transaction", "")
	switch kind {
	case resilience.KindCasMismatch:
		return "", txnClassification{Retryable: true, Severity: resilience.SeverityInfo, Category: "transient"}, true
	case resilience.KindDocumentExists, resilience.KindDocumentNotFound:
		return "", txnClassification{Retryable: false, Severity: resilience.SeverityInfo, Category: "permanent"}, true
	default:
		return "", txnClassification{Retryable: classification.Retryable, Severity: classification.Severity, Category: "permanent"}, false
	}
}

// TransactionCoordinator is C7: runs a user closure inside the driver's
// transaction runner, retrying whole-transaction failures and logging
// ambiguous commits for investigation.
type TransactionCoordinator struct {
	manager *Manager
}

// NewTransactionCoordinator builds a TransactionCoordinator bound to manager.
func NewTransactionCoordinator(manager *Manager) *TransactionCoordinator {
	return &TransactionCoordinator{manager: manager}
}

// ExecuteTransaction runs body inside the driver's transaction runner,
// retrying the whole transaction up to 3 times when the error is
// classified as retryable.
func (t *TransactionCoordinator) ExecuteTransaction(ctx context.Context, body func(TransactionAttemptHandle, *TransactionContext) error, txnCfg TransactionConfig) error {
	if txnCfg == (TransactionConfig{}) {
		txnCfg = DefaultTransactionConfig()
	}

	txnCtx := &TransactionContext{
		TransactionID: generateTransactionID(),
	}

	ctx, span := transactionTracer.Start(ctx, "couchbase.transaction", trace.WithAttributes(
		attribute.String("couchbase.transaction_id", txnCtx.TransactionID),
	))
	defer span.End()

	start := time.Now()
	var lastErr error
	const maxAttempts = 3
	baseDelayMs := 200

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		txnCtx.Attempt = attempt

		t.manager.logger.Info("couchbase.transaction attempt",
			"transactionId", txnCtx.TransactionID, "attempt", attempt)

		cluster, err := t.manager.GetConnection()
		if err != nil {
			return err
		}

		_, err = cluster.Transactions().Run(ctx, txnCfg, func(attemptCtx TransactionAttemptHandle) error {
			return body(attemptCtx, txnCtx)
		})

		if err == nil {
			if t.manager.metrics != nil {
				t.manager.metrics.Transaction.AttemptsTotal.WithLabelValues("success").Inc()
				t.manager.metrics.Transaction.DurationSeconds.Observe(time.Since(start).Seconds())
			}
			return nil
		}

		lastErr = err
		kind, classification, _ := classifyTransactionError(err)

		if kind == txnCommitAmbiguous {
			t.logAmbiguousCommit(txnCtx, err)
			if t.manager.metrics != nil {
				t.manager.metrics.Transaction.AmbiguousCommitTotal.Inc()
				t.manager.metrics.Transaction.AttemptsTotal.WithLabelValues("ambiguous").Inc()
			}
			return err
		}

		if !classification.Retryable || attempt == maxAttempts {
			if t.manager.metrics != nil {
				t.manager.metrics.Transaction.AttemptsTotal.WithLabelValues("failure").Inc()
			}
			return lastErr
		}

		delay := time.Duration(baseDelayMs) * time.Millisecond * time.Duration(1<<(attempt-1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("transaction %s failed after %d attempts: %w", txnCtx.TransactionID, maxAttempts, lastErr)
}

// logAmbiguousCommit emits a structured critical log containing the
// transaction id, context, timestamp, and investigation notes. It returns
// nothing; ExecuteTransaction re-raises the original error after calling it.
// Failure to persist the record is itself logged but never masks that error.
func (t *TransactionCoordinator) logAmbiguousCommit(txnCtx *TransactionContext, err error) {
	t.manager.logger.Error("couchbase.ambiguous_commit",
		"transactionId", txnCtx.TransactionID,
		"attempt", txnCtx.Attempt,
		"timestamp", time.Now(),
		"error", err,
		"notes", "state ambiguous; data may or may not have been applied; verify manually; consider idempotent operations",
	)

	if persistErr := t.persistAmbiguousRecord(txnCtx, err); persistErr != nil {
		t.manager.logger.Error("couchbase.ambiguous_commit: failed to persist investigation record",
			"transactionId", txnCtx.TransactionID, "error", persistErr)
	}
}

// persistAmbiguousRecord is a seam for writing the ambiguous-commit record
// to durable storage outside the log stream; this module persists via the
// structured logger only, so it is a no-op that never fails.
func (t *TransactionCoordinator) persistAmbiguousRecord(txnCtx *TransactionContext, err error) error {
	return nil
}

// SafeGet returns nil on DocumentNotFound, otherwise propagates the error.
func SafeGet(attempt TransactionAttemptHandle, collection CollectionHandle, id string) (DocumentHandle, error) {
	doc, err := attempt.Get(collection, id)
	if err != nil {
		if isDocumentNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// SafeInsert logs DocumentExists and re-raises.
func SafeInsert(manager *Manager, attempt TransactionAttemptHandle, collection CollectionHandle, id string, content interface{}) (DocumentHandle, error) {
	doc, err := attempt.Insert(collection, id, content)
	if err != nil {
		kind, _, _, _ := resilience.Classify(err, "safe_insert", id)
		if kind == resilience.KindDocumentExists {
			manager.logger.Warn("couchbase.transaction.safe_insert: document already exists", "id", id)
		}
		return nil, err
	}
	return doc, nil
}

// SafeReplace logs CasMismatch as a warning and re-raises.
func SafeReplace(manager *Manager, attempt TransactionAttemptHandle, doc DocumentHandle, content interface{}) (DocumentHandle, error) {
	replaced, err := attempt.Replace(doc, content)
	if err != nil {
		kind, _, _, _ := resilience.Classify(err, "safe_replace", "")
		if kind == resilience.KindCasMismatch {
			manager.logger.Warn("couchbase.transaction.safe_replace: cas mismatch", "error", err)
		}
		return nil, err
	}
	return replaced, nil
}

// AtomicUpdate is the canonical read-modify-write helper: get current
// value, apply fn, insert if absent else replace.
func AtomicUpdate(attempt TransactionAttemptHandle, collection CollectionHandle, id string, fn func(current interface{}) (interface{}, error)) (DocumentHandle, error) {
	existing, err := attempt.Get(collection, id)
	if err != nil && !isDocumentNotFound(err) {
		return nil, err
	}

	var current interface{}
	if existing != nil {
		if err := existing.Content(&current); err != nil {
			return nil, err
		}
	}

	updated, err := fn(current)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return attempt.Insert(collection, id, updated)
	}
	return attempt.Replace(existing, updated)
}

// BatchOperation runs ops in order inside a transaction; any failure aborts
// and propagates.
func BatchOperation(ops []func() error) error {
	for _, op := range ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

func generateTransactionID() string {
	return fmt.Sprintf("txn_%d_%s", time.Now().UnixNano(), uuid.NewString()[:9])
}

func isTransactionCommitAmbiguous(err error) bool {
	return errorMessageContains(err, "ambiguous") && errorMessageContains(err, "commit")
}

func isTransactionExpired(err error) bool {
	return errorMessageContains(err, "expired")
}

func isTransactionFailed(err error) bool {
	return errorMessageContains(err, "transaction failed") || errorMessageContains(err, "transactionfailed")
}

func errorMessageContains(err error, needle string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), needle)
}
