package couchbase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zx8086/capellaql-sub003/internal/config"
)

func testConfig() *config.CouchbaseConfig {
	return &config.CouchbaseConfig{
		ConnectionString: "couchbase://localhost",
		Username:         "tester",
		Password:         "s3cret!",
		Bucket:           "default",
		Environment:      "development",
	}
}

func TestManager_InitializeConnectsAndBecomesHealthy(t *testing.T) {
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})

	err := mgr.Initialize(context.Background(), testConfig())
	require.NoError(t, err)
	assert.True(t, mgr.IsConnected())

	require.NoError(t, mgr.Close())
}

// TestManager_GetCollectionIsMemoisedAndInsertOnly checks the collection
// cache's composite key and insert-only property: once a handle is cached
// for bucket::scope::collection, repeated lookups return the same handle
// instance.
func TestManager_GetCollectionIsMemoisedAndInsertOnly(t *testing.T) {
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	defer mgr.Close()

	first, err := mgr.GetCollection("default", "_default", "_default")
	require.NoError(t, err)

	second, err := mgr.GetCollection("default", "_default", "_default")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestManager_GetCollectionDefaultsEmptyArgsFromConfig(t *testing.T) {
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	defer mgr.Close()

	byDefaults, err := mgr.GetCollection("", "", "")
	require.NoError(t, err)

	explicit, err := mgr.GetCollection("default", "_default", "_default")
	require.NoError(t, err)

	assert.Same(t, byDefaults, explicit)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
	assert.False(t, mgr.IsConnected())
}

// TestManager_ExecuteWithRetryOpensBreakerOnRepeatedNetworkFailure exercises
// the manager's breaker+retry integration: an operation that always returns
// a network-classified error eventually trips the shared breaker.
func TestManager_ExecuteWithRetryOpensBreakerOnRepeatedNetworkFailure(t *testing.T) {
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	defer mgr.Close()

	failing := func() error { return errNetworkStubForManager }

	for i := 0; i < 5; i++ {
		_ = mgr.ExecuteWithRetry(context.Background(), "probe", 1, failing)
	}

	assert.Equal(t, "open", mgr.GetCircuitBreakerState().String())
}

var errNetworkStubForManager = errors.New("dial tcp: connection refused")
