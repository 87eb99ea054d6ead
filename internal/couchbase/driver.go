package couchbase

import (
	"context"
	"time"
)

// ClusterHandle is the narrow surface this module needs from a connected
// cluster. driver_gocb.go implements it over *gocb.Cluster; tests implement
// it over an in-memory stub.
type ClusterHandle interface {
	Bucket(name string) BucketHandle
	Query(statement string, opts QueryOptions) (QueryResultHandle, error)
	Transactions() TransactionsRunner
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
	Close() error
}

// BucketHandle is the narrow surface needed from an open bucket.
type BucketHandle interface {
	Name() string
	Scope(name string) ScopeHandle
	DefaultCollection() CollectionHandle
	GetAllScopeNames(ctx context.Context) ([]string, error)
	Ping(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error)
}

// PingEndpoint is one per-service entry from a diagnostics ping.
type PingEndpoint struct {
	Service string
	State   string
	Latency time.Duration
}

// ScopeHandle is the narrow surface needed from a scope.
type ScopeHandle interface {
	Name() string
	Collection(name string) CollectionHandle
}

// CollectionHandle is the narrow surface needed from a collection for KV
// and subdocument operations.
type CollectionHandle interface {
	Get(ctx context.Context, id string, opts KVGetOptions) (DocumentHandle, error)
	Upsert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error)
	Insert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error)
	Replace(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error)
	Remove(ctx context.Context, id string, opts KVUpsertOptions) error
	MutateIn(ctx context.Context, id string, ops []SubdocOperation, opts KVUpsertOptions) (string, error)
	LookupIn(ctx context.Context, id string, paths []string, opts KVGetOptions) (DocumentHandle, error)
	GetAndLock(ctx context.Context, id string, lockTime time.Duration) (DocumentHandle, error)
	Unlock(ctx context.Context, id string, cas string) error
	Touch(ctx context.Context, id string, expiry time.Duration) (string, error)
}

// DocumentHandle is the narrow surface needed from a fetched document.
type DocumentHandle interface {
	Cas() string
	Content(v interface{}) error
	ContentAt(index int, v interface{}) error
	Expiry() time.Duration
}

// QueryResultHandle is the narrow surface needed from a query result.
type QueryResultHandle interface {
	Next() bool
	Row(v interface{}) error
	Err() error
	Close() error
	ExecutionTime() time.Duration
	ResultCount() int
}

// TransactionsRunner is the narrow surface needed to run a transaction.
type TransactionsRunner interface {
	Run(ctx context.Context, cfg TransactionConfig, body func(attemptCtx TransactionAttemptHandle) error) (TransactionResultHandle, error)
}

// TransactionAttemptHandle is the operations available inside a transaction
// body closure.
type TransactionAttemptHandle interface {
	Get(collection CollectionHandle, id string) (DocumentHandle, error)
	Insert(collection CollectionHandle, id string, value interface{}) (DocumentHandle, error)
	Replace(doc DocumentHandle, value interface{}) (DocumentHandle, error)
	Remove(doc DocumentHandle) error
	Query(statement string, opts QueryOptions) (QueryResultHandle, error)
}

// TransactionResultHandle describes the outcome of a committed transaction.
type TransactionResultHandle interface {
	TransactionID() string
	UnstagingComplete() bool
}
