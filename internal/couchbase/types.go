// Package couchbase implements the connection manager (C4), connection
// options builder (C3), query executor (C5), KV/subdocument operations
// (C6), and transaction coordinator (C7) described by this module: the
// resilience and orchestration layer sitting between application code and
// the gocb driver.
package couchbase

import "time"

// HealthState is the tri-state (plus disconnected) health classification
// derived from the periodic ping's per-service endpoint results.
type HealthState string

const (
	HealthHealthy      HealthState = "healthy"
	HealthDegraded     HealthState = "degraded"
	HealthUnhealthy    HealthState = "unhealthy"
	HealthDisconnected HealthState = "disconnected"
)

// HealthStatus is the point-in-time health of the managed connection.
type HealthStatus struct {
	Healthy           bool
	State             HealthState
	LastCheck         time.Time
	ConsecutiveFailed int
	BreakerState      string
}

// ConnectionMetrics is the rolling counters exposed by GetMetrics.
type ConnectionMetrics struct {
	SuccessfulConnections int64
	FailedConnections     int64
	TotalQueries          int64
	FailedQueries         int64
	CollectionCacheSize   int
}

// ScanConsistency mirrors gocb.QueryScanConsistency without importing it
// into call sites that only need the constant.
type ScanConsistency string

const (
	ScanConsistencyNotBounded ScanConsistency = "not_bounded"
	ScanConsistencyRequestPlus ScanConsistency = "request_plus"
	ScanConsistencyAtPlus     ScanConsistency = "at_plus"
)

// Durability mirrors gocb.DurabilityLevel.
type Durability string

const (
	DurabilityNone                   Durability = "none"
	DurabilityMajority                Durability = "majority"
	DurabilityMajorityAndPersistActive Durability = "majority_and_persist_active"
	DurabilityPersistToMajority       Durability = "persist_to_majority"
)

// QueryOptions is the caller-facing knob set for the query executor (C5).
type QueryOptions struct {
	Parameters          []interface{}
	NamedParameters      map[string]interface{}
	UsePreparedStatement bool
	QueryContext         string // "bucket.scope"
	Profile              bool
	Metrics              *bool // nil defaults to enabled; set a *false to opt out
	Timeout              time.Duration
	ScanConsistency      ScanConsistency
	Readonly             bool
	MaxRetries           int
	RequestID            string
	ClientContextID      string
}

// KVGetOptions configures Get/subdoc lookups.
type KVGetOptions struct {
	Project    []string
	WithExpiry bool
	Timeout    time.Duration
}

// KVUpsertOptions configures mutating KV operations.
type KVUpsertOptions struct {
	Durability Durability
	Expiry     time.Duration
	Cas        string // opaque CAS token
	Timeout    time.Duration
}

// SubdocOpKind is the mutation verb for a single subdocument operation.
type SubdocOpKind string

const (
	SubdocUpsert       SubdocOpKind = "upsert"
	SubdocInsert        SubdocOpKind = "insert"
	SubdocReplace       SubdocOpKind = "replace"
	SubdocRemove        SubdocOpKind = "remove"
	SubdocArrayAppend   SubdocOpKind = "array_append"
	SubdocArrayPrepend  SubdocOpKind = "array_prepend"
)

// SubdocOperation is one entry in an ordered mutate-in operation sequence.
type SubdocOperation struct {
	Op    SubdocOpKind
	Path  string
	Value interface{}
}

// TransactionContext is passed into a transaction body closure (C7).
type TransactionContext struct {
	TransactionID   string
	Attempt         int
	OperationType   string
	RequestID       string
	Bucket          string
	Scope           string
	Collection      string
	TotalOperations int
}

// TransactionConfig configures executeTransaction.
type TransactionConfig struct {
	Durability          Durability
	Timeout             time.Duration
	CleanupLostAttempts bool
}

// DefaultTransactionConfig returns the spec's defaults.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		Durability:          DurabilityMajority,
		Timeout:             15 * time.Second,
		CleanupLostAttempts: true,
	}
}
