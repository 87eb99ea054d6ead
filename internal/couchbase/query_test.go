package couchbase

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueryExecutor_LogsSlowQueryWithTruncatedStatement is literal scenario
// 5: a query taking longer than the 1000ms slow-query threshold is logged
// with no more than the first 100 characters of its statement.
func TestQueryExecutor_LogsSlowQueryWithTruncatedStatement(t *testing.T) {
	cluster := newStubCluster()
	cluster.queryFn = func(statement string, opts QueryOptions) (QueryResultHandle, error) {
		time.Sleep(1100 * time.Millisecond)
		return &stubQueryResult{rows: []map[string]interface{}{{"id": 1}}}, nil
	}

	var logs bytes.Buffer
	mgr := newManager(slog.New(slog.NewJSONHandler(&logs, nil)), nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	defer mgr.Close()

	executor := NewQueryExecutor(mgr, 16)
	longStatement := "SELECT * FROM `default` WHERE " + longPredicate()

	result, err := executor.Execute(context.Background(), longStatement, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResultCount)

	truncated := truncateStatement(longStatement, 100)
	assert.LessOrEqual(t, len(truncated), 100)
	assert.True(t, len(longStatement) > 100, "fixture statement must exceed the truncation threshold")
	assert.Contains(t, logs.String(), `"msg":"couchbase.slow_query"`)
	assert.Contains(t, logs.String(), `"statement":"`+truncated+`"`)
}

func TestQueryExecutor_FastQueryIsNotFlaggedSlow(t *testing.T) {
	cluster := newStubCluster()
	cluster.queryFn = func(statement string, opts QueryOptions) (QueryResultHandle, error) {
		return &stubQueryResult{}, nil
	}

	var logs bytes.Buffer
	mgr := newManager(slog.New(slog.NewJSONHandler(&logs, nil)), nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	defer mgr.Close()

	executor := NewQueryExecutor(mgr, 16)
	_, err := executor.Execute(context.Background(), "SELECT 1", QueryOptions{})
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "couchbase.slow_query")
}

func TestQueryExecutor_AppliesDefaults(t *testing.T) {
	opts := withQueryDefaults(QueryOptions{})
	assert.Equal(t, ScanConsistencyRequestPlus, opts.ScanConsistency)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.NotEmpty(t, opts.ClientContextID)
	require.NotNil(t, opts.Metrics)
	assert.True(t, *opts.Metrics, "metrics must default to enabled")
}

func TestQueryExecutor_MetricsCanBeExplicitlyDisabled(t *testing.T) {
	disabled := false
	opts := withQueryDefaults(QueryOptions{Metrics: &disabled})
	require.NotNil(t, opts.Metrics)
	assert.False(t, *opts.Metrics)
}

func TestQueryExecutor_ClientContextIDFallsBackToRequestID(t *testing.T) {
	opts := withQueryDefaults(QueryOptions{RequestID: "req-123"})
	assert.Equal(t, "req-123", opts.ClientContextID)
}

func longPredicate() string {
	s := ""
	for i := 0; i < 10; i++ {
		s += "field_" + string(rune('a'+i)) + " = 'value' AND "
	}
	return s + "true"
}
