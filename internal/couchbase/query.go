package couchbase

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var queryTracer = otel.Tracer("couchbase.query")

// QueryResult is the materialised outcome of Execute/ExecuteInScope: the
// decoded rows plus the driver's reported timing, if requested.
type QueryResult struct {
	Rows          []map[string]interface{}
	ExecutionTime time.Duration
	ResultCount   int
}

// QueryExecutor is C5: runs parameterised N1QL queries with prepared
// statement caching, slow-query logging, and the shared retry loop.
type QueryExecutor struct {
	manager  *Manager
	prepared *lru.Cache[string, struct{}] // tracks statements already adhoc=false
}

// NewQueryExecutor builds a QueryExecutor bound to manager. prepCacheSize
// bounds the number of distinct statements remembered as "already prepared".
func NewQueryExecutor(manager *Manager, prepCacheSize int) *QueryExecutor {
	if prepCacheSize <= 0 {
		prepCacheSize = 128
	}
	cache, _ := lru.New[string, struct{}](prepCacheSize)
	return &QueryExecutor{manager: manager, prepared: cache}
}

// Execute runs statement against the cluster with opts, applying the
// executor's defaults: scanConsistency=requestPlus, timeout=30s, metrics=on,
// clientContextId falling back to requestId, else a generated uuid.
func (q *QueryExecutor) Execute(ctx context.Context, statement string, opts QueryOptions) (*QueryResult, error) {
	opts = withQueryDefaults(opts)
	if opts.UsePreparedStatement {
		q.prepared.Add(statement, struct{}{})
	}

	ctx, span := queryTracer.Start(ctx, "couchbase.query", trace.WithAttributes(
		attribute.String("db.statement.prefix", truncateStatement(statement, 100)),
	))
	defer span.End()

	var result *QueryResult
	err := q.manager.ExecuteWithRetry(ctx, "query", opts.MaxRetries, func() error {
		cluster, getErr := q.manager.GetConnection()
		if getErr != nil {
			return getErr
		}

		start := time.Now()
		raw, runErr := cluster.Query(statement, opts)
		if runErr != nil {
			return runErr
		}
		defer raw.Close()

		rows, decodeErr := decodeRows(raw)
		duration := time.Since(start)
		if decodeErr != nil {
			return decodeErr
		}
		if err := raw.Err(); err != nil {
			return err
		}

		result = &QueryResult{
			Rows:          rows,
			ExecutionTime: raw.ExecutionTime(),
			ResultCount:   raw.ResultCount(),
		}

		q.logSlowQuery(statement, duration, opts)
		if opts.Metrics != nil && *opts.Metrics {
			q.manager.logger.Info("couchbase.query",
				"executionTime", result.ExecutionTime,
				"resultCount", result.ResultCount,
				"clientContextId", opts.ClientContextID,
			)
		}
		if q.manager.metrics != nil {
			q.manager.metrics.Query.DurationSeconds.WithLabelValues("success").Observe(duration.Seconds())
			q.manager.metrics.Query.ResultCount.WithLabelValues("success").Observe(float64(len(rows)))
		}
		return nil
	})

	if err != nil {
		if q.manager.metrics != nil {
			q.manager.metrics.Query.DurationSeconds.WithLabelValues("failure").Observe(0)
		}
		return nil, err
	}
	return result, nil
}

// ExecuteInScope sets queryContext to "<bucket>.<scope>" and delegates to Execute.
func (q *QueryExecutor) ExecuteInScope(ctx context.Context, statement, bucket, scope string, opts QueryOptions) (*QueryResult, error) {
	opts.QueryContext = fmt.Sprintf("%s.%s", bucket, scope)
	return q.Execute(ctx, statement, opts)
}

func withQueryDefaults(opts QueryOptions) QueryOptions {
	if opts.ScanConsistency == "" {
		opts.ScanConsistency = ScanConsistencyRequestPlus
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Metrics == nil {
		enabled := true
		opts.Metrics = &enabled
	}
	if opts.ClientContextID == "" {
		if opts.RequestID != "" {
			opts.ClientContextID = opts.RequestID
		} else {
			opts.ClientContextID = fmt.Sprintf("query-%d-%s", time.Now().UnixNano(), uuid.NewString()[:9])
		}
	}
	return opts
}

// logSlowQuery logs a warning when duration exceeds 1000ms, including the
// first 100 chars of the statement.
func (q *QueryExecutor) logSlowQuery(statement string, duration time.Duration, opts QueryOptions) {
	if duration <= time.Second {
		return
	}
	if q.manager.metrics != nil {
		q.manager.metrics.Query.SlowTotal.Inc()
	}
	q.manager.logger.Warn("couchbase.slow_query",
		"statement", truncateStatement(statement, 100),
		"duration", duration,
		"clientContextId", opts.ClientContextID,
	)
}

func truncateStatement(statement string, max int) string {
	if len(statement) <= max {
		return statement
	}
	return statement[:max]
}

func decodeRows(result QueryResultHandle) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	for result.Next() {
		var row map[string]interface{}
		if err := result.Row(&row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
