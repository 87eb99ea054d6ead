// Package resilience implements the error classifier, circuit breaker, and
// retry loop shared by the connection manager, query executor, KV
// operations, and transaction coordinator.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/couchbase/gocb/v2"
)

// ErrorKind is the runtime classification of a driver-raised error. Kinds
// are looked up in a static table; an unrecognised error defaults to
// KindUnknown.
type ErrorKind string

const (
	KindDocumentNotFound          ErrorKind = "document_not_found"
	KindDocumentExists            ErrorKind = "document_exists"
	KindCasMismatch                ErrorKind = "cas_mismatch"
	KindDocumentLocked             ErrorKind = "document_locked"
	KindAuthenticationFailure      ErrorKind = "authentication_failure"
	KindTimeout                    ErrorKind = "timeout"
	KindAmbiguousTimeout           ErrorKind = "ambiguous_timeout"
	KindRequestCanceled            ErrorKind = "request_canceled"
	KindServiceNotAvailable        ErrorKind = "service_not_available"
	KindTemporaryFailure           ErrorKind = "temporary_failure"
	KindRateLimited                ErrorKind = "rate_limited"
	KindQuotaLimited               ErrorKind = "quota_limited"
	KindBucketNotFound             ErrorKind = "bucket_not_found"
	KindScopeNotFound              ErrorKind = "scope_not_found"
	KindCollectionNotFound         ErrorKind = "collection_not_found"
	KindIndexNotFound              ErrorKind = "index_not_found"
	KindParsingFailure              ErrorKind = "parsing_failure"
	KindPreparedStatementFailure    ErrorKind = "prepared_statement_failure"
	KindDurabilityAmbiguous         ErrorKind = "durability_ambiguous"
	KindDurabilityImpossible        ErrorKind = "durability_impossible"
	KindDurableWriteInProgress      ErrorKind = "durable_write_in_progress"
	KindPathNotFound                ErrorKind = "path_not_found"
	KindPathExists                  ErrorKind = "path_exists"
	KindPathMismatch                ErrorKind = "path_mismatch"
	KindPathInvalid                 ErrorKind = "path_invalid"
	KindNetwork                     ErrorKind = "network"
	KindUnknown                     ErrorKind = "unknown"
)

// Severity is the logging/alerting level assigned to a classified error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category is the broad axis an error belongs to.
type Category string

const (
	CategoryClient      Category = "client"
	CategoryNetwork     Category = "network"
	CategoryServer      Category = "server"
	CategoryApplication Category = "application"
)

// ErrorClassification is the static policy attached to an ErrorKind.
type ErrorClassification struct {
	Kind       ErrorKind
	Retryable  bool
	Severity   Severity
	Category   Category
	ShouldLog  bool
	ShouldAlert bool
	MaxRetries int
}

// RetryStrategy is the retry policy derived from an ErrorClassification.
type RetryStrategy struct {
	ShouldRetry  bool
	MaxAttempts  int
	BaseDelayMs  int
}

// ErrorContext is the compact, loggable description of a classified error.
type ErrorContext struct {
	Message     string
	ErrorName   string
	Code        string
	Operation   string
	DocumentKey string
	IsRetryable bool
	IsCritical  bool
	IsTransient bool
	Cas         string
	Statement   string
	QueryID     string
}

// table is the authoritative kind -> classification+strategy mapping from
// the error classifier contract. Breaker-eligible kinds are exactly those
// whose Category is network or server: the only kinds a breaker failure may
// come from, per invariant 4.
var table = map[ErrorKind]struct {
	classification ErrorClassification
	strategy       RetryStrategy
}{
	KindDocumentNotFound: {
		ErrorClassification{KindDocumentNotFound, false, SeverityInfo, CategoryApplication, false, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindDocumentExists: {
		ErrorClassification{KindDocumentExists, false, SeverityInfo, CategoryApplication, false, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindCasMismatch: {
		ErrorClassification{KindCasMismatch, true, SeverityWarning, CategoryApplication, true, false, 5},
		RetryStrategy{true, 5, 100},
	},
	KindDocumentLocked: {
		ErrorClassification{KindDocumentLocked, true, SeverityWarning, CategoryApplication, true, false, 3},
		RetryStrategy{true, 3, 500},
	},
	KindAuthenticationFailure: {
		ErrorClassification{KindAuthenticationFailure, false, SeverityCritical, CategoryClient, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindTimeout: {
		ErrorClassification{KindTimeout, true, SeverityWarning, CategoryNetwork, true, false, 2},
		RetryStrategy{true, 2, 2000},
	},
	KindAmbiguousTimeout: {
		ErrorClassification{KindAmbiguousTimeout, false, SeverityCritical, CategoryServer, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindRequestCanceled: {
		ErrorClassification{KindRequestCanceled, true, SeverityWarning, CategoryClient, true, false, 2},
		RetryStrategy{true, 2, 500},
	},
	KindServiceNotAvailable: {
		ErrorClassification{KindServiceNotAvailable, true, SeverityWarning, CategoryServer, true, false, 5},
		RetryStrategy{true, 5, 1000},
	},
	KindTemporaryFailure: {
		ErrorClassification{KindTemporaryFailure, true, SeverityWarning, CategoryServer, true, false, 3},
		RetryStrategy{true, 3, 1000},
	},
	KindRateLimited: {
		ErrorClassification{KindRateLimited, true, SeverityWarning, CategoryServer, true, false, 2},
		RetryStrategy{true, 2, 5000},
	},
	KindQuotaLimited: {
		ErrorClassification{KindQuotaLimited, false, SeverityCritical, CategoryServer, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindBucketNotFound: {
		ErrorClassification{KindBucketNotFound, false, SeverityCritical, CategoryApplication, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindScopeNotFound: {
		ErrorClassification{KindScopeNotFound, false, SeverityCritical, CategoryApplication, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindCollectionNotFound: {
		ErrorClassification{KindCollectionNotFound, false, SeverityCritical, CategoryApplication, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindIndexNotFound: {
		ErrorClassification{KindIndexNotFound, false, SeverityWarning, CategoryApplication, true, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindParsingFailure: {
		ErrorClassification{KindParsingFailure, false, SeverityWarning, CategoryApplication, true, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindPreparedStatementFailure: {
		ErrorClassification{KindPreparedStatementFailure, true, SeverityWarning, CategoryApplication, true, false, 2},
		RetryStrategy{true, 2, 500},
	},
	KindDurabilityAmbiguous: {
		ErrorClassification{KindDurabilityAmbiguous, false, SeverityCritical, CategoryServer, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindDurabilityImpossible: {
		ErrorClassification{KindDurabilityImpossible, false, SeverityCritical, CategoryServer, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
	KindDurableWriteInProgress: {
		ErrorClassification{KindDurableWriteInProgress, true, SeverityWarning, CategoryServer, true, false, 3},
		RetryStrategy{true, 3, 500},
	},
	KindPathNotFound: {
		ErrorClassification{KindPathNotFound, false, SeverityInfo, CategoryApplication, false, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindPathExists: {
		ErrorClassification{KindPathExists, false, SeverityInfo, CategoryApplication, false, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindPathMismatch: {
		ErrorClassification{KindPathMismatch, false, SeverityWarning, CategoryApplication, true, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindPathInvalid: {
		ErrorClassification{KindPathInvalid, false, SeverityWarning, CategoryApplication, true, false, 0},
		RetryStrategy{false, 0, 0},
	},
	KindNetwork: {
		ErrorClassification{KindNetwork, true, SeverityWarning, CategoryNetwork, true, false, 3},
		RetryStrategy{true, 3, 1000},
	},
	KindUnknown: {
		ErrorClassification{KindUnknown, false, SeverityCritical, CategoryApplication, true, true, 0},
		RetryStrategy{false, 0, 0},
	},
}

// Classify maps a driver-raised error to its ErrorKind, ErrorClassification,
// RetryStrategy, and a compact ErrorContext. operation and documentKey are
// caller-supplied context echoed back into ErrorContext for logging.
func Classify(err error, operation, documentKey string) (ErrorKind, ErrorClassification, RetryStrategy, ErrorContext) {
	kind := classifyKind(err)
	entry, ok := table[kind]
	if !ok {
		entry = table[KindUnknown]
	}

	ctx := ErrorContext{
		Message:     err.Error(),
		ErrorName:   string(kind),
		Operation:   operation,
		DocumentKey: documentKey,
		IsRetryable: entry.strategy.ShouldRetry,
		IsCritical:  entry.classification.Severity == SeverityCritical,
		IsTransient: entry.classification.Category == CategoryNetwork || entry.classification.Category == CategoryServer,
	}

	return kind, entry.classification, entry.strategy, ctx
}

// classifyKind identifies the ErrorKind of err by first checking gocb's
// typed sentinel errors, then falling back to context/net errors, and
// finally to case-insensitive substring matching on the message. Ambiguous
// wins over transient in any conflict: it is checked before Timeout.
func classifyKind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return KindDocumentNotFound
	case errors.Is(err, gocb.ErrDocumentExists):
		return KindDocumentExists
	case errors.Is(err, gocb.ErrCasMismatch):
		return KindCasMismatch
	case errors.Is(err, gocb.ErrDocumentLocked):
		return KindDocumentLocked
	case errors.Is(err, gocb.ErrAuthenticationFailure):
		return KindAuthenticationFailure
	case errors.Is(err, gocb.ErrAmbiguousTimeout):
		return KindAmbiguousTimeout
	case errors.Is(err, gocb.ErrUnambiguousTimeout), errors.Is(err, gocb.ErrTimeout):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindRequestCanceled
	case errors.Is(err, gocb.ErrRequestCanceled):
		return KindRequestCanceled
	case errors.Is(err, gocb.ErrServiceNotAvailable):
		return KindServiceNotAvailable
	case errors.Is(err, gocb.ErrTemporaryFailure):
		return KindTemporaryFailure
	case errors.Is(err, gocb.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, gocb.ErrQuotaLimited):
		return KindQuotaLimited
	case errors.Is(err, gocb.ErrBucketNotFound):
		return KindBucketNotFound
	case errors.Is(err, gocb.ErrScopeNotFound):
		return KindScopeNotFound
	case errors.Is(err, gocb.ErrCollectionNotFound):
		return KindCollectionNotFound
	case errors.Is(err, gocb.ErrIndexNotFound):
		return KindIndexNotFound
	case errors.Is(err, gocb.ErrParsingFailure):
		return KindParsingFailure
	case errors.Is(err, gocb.ErrPreparedStatementFailure):
		return KindPreparedStatementFailure
	case errors.Is(err, gocb.ErrDurabilityAmbiguous):
		return KindDurabilityAmbiguous
	case errors.Is(err, gocb.ErrDurabilityImpossible):
		return KindDurabilityImpossible
	case errors.Is(err, gocb.ErrDurableWriteInProgress), errors.Is(err, gocb.ErrDurableWriteReCommitInProgress):
		return KindDurableWriteInProgress
	case errors.Is(err, gocb.ErrPathNotFound):
		return KindPathNotFound
	case errors.Is(err, gocb.ErrPathExists):
		return KindPathExists
	case errors.Is(err, gocb.ErrPathMismatch):
		return KindPathMismatch
	case errors.Is(err, gocb.ErrPathInvalid):
		return KindPathInvalid
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return KindNetwork
	}

	if isNetworkMessage(err.Error()) {
		return KindNetwork
	}

	return KindUnknown
}

// isNetworkMessage is the edge-case fallback: a case-insensitive substring
// match used only when the driver did not produce a typed kind.
func isNetworkMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{
		"connection refused", "connection reset", "econnrefused", "econnreset",
		"etimedout", "enotfound", "enetunreach", "ehostunreach",
		"no route to host", "network is unreachable", "connection",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// CountsAgainstBreaker reports whether a classified kind may move the
// circuit breaker, per invariant 4: only network/server category errors
// count; application-level errors never do.
func CountsAgainstBreaker(classification ErrorClassification) bool {
	return classification.Category == CategoryNetwork || classification.Category == CategoryServer
}
