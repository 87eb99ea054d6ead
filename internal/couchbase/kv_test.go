package couchbase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKVOps(t *testing.T) (*KVOps, CollectionHandle) {
	t.Helper()
	cluster := newStubCluster()
	mgr := newManager(nil, nil, func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	})
	require.NoError(t, mgr.Initialize(context.Background(), testConfig()))
	t.Cleanup(func() { _ = mgr.Close() })

	collection, err := mgr.GetCollection("", "", "")
	require.NoError(t, err)
	return NewKVOps(mgr), collection
}

func TestKVOps_GetReturnsNilOnDocumentNotFound(t *testing.T) {
	kv, collection := newTestKVOps(t)

	var v interface{}
	doc, err := kv.Get(context.Background(), collection, "missing", &v, KVGetOptions{})

	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestKVOps_UpsertThenGetRoundTrips(t *testing.T) {
	kv, collection := newTestKVOps(t)

	cas, err := kv.Upsert(context.Background(), collection, "doc-1", map[string]interface{}{"a": 1}, KVUpsertOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, cas)

	var v interface{}
	doc, err := kv.Get(context.Background(), collection, "doc-1", &v, KVGetOptions{})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, cas, doc.Cas)
}

func TestKVOps_InsertFailsWhenDocumentExists(t *testing.T) {
	kv, collection := newTestKVOps(t)

	_, err := kv.Insert(context.Background(), collection, "doc-2", "v1", KVUpsertOptions{})
	require.NoError(t, err)

	_, err = kv.Insert(context.Background(), collection, "doc-2", "v2", KVUpsertOptions{})
	assert.Error(t, err)
}

func TestKVOps_ReplaceFailsWhenDocumentAbsent(t *testing.T) {
	kv, collection := newTestKVOps(t)

	_, err := kv.Replace(context.Background(), collection, "never-inserted", "v1", KVUpsertOptions{})
	assert.Error(t, err)
}

func TestKVOps_ExistsReflectsPresence(t *testing.T) {
	kv, collection := newTestKVOps(t)

	present, err := kv.Exists(context.Background(), collection, "doc-3", KVGetOptions{})
	require.NoError(t, err)
	assert.False(t, present)

	_, err = kv.Upsert(context.Background(), collection, "doc-3", "v", KVUpsertOptions{})
	require.NoError(t, err)

	present, err = kv.Exists(context.Background(), collection, "doc-3", KVGetOptions{})
	require.NoError(t, err)
	assert.True(t, present)
}

func TestKVOps_GetMultiSkipsMissingIDs(t *testing.T) {
	kv, collection := newTestKVOps(t)

	_, err := kv.Upsert(context.Background(), collection, "a", "va", KVUpsertOptions{})
	require.NoError(t, err)
	_, err = kv.Upsert(context.Background(), collection, "b", "vb", KVUpsertOptions{})
	require.NoError(t, err)

	result := kv.GetMulti(context.Background(), collection, []string{"a", "b", "missing"}, 10)

	assert.Len(t, result.Values, 2)
	assert.Contains(t, result.Values, "a")
	assert.Contains(t, result.Values, "b")
	assert.NotContains(t, result.Values, "missing")
}

func TestKVOps_UpsertMultiReportsSucceededAndFailed(t *testing.T) {
	kv, collection := newTestKVOps(t)

	result := kv.UpsertMulti(context.Background(), collection, []UpsertMultiDoc{
		{ID: "x", Value: "vx"},
		{ID: "y", Value: "vy"},
	}, 10)

	assert.Len(t, result.Succeeded, 2)
	assert.Empty(t, result.Failed)
}

func TestKVOps_MutateInProducesNewCas(t *testing.T) {
	kv, collection := newTestKVOps(t)

	cas, err := kv.MutateIn(context.Background(), collection, "doc-4", []SubdocOperation{
		{Op: SubdocUpsert, Path: "status", Value: "active"},
	}, KVUpsertOptions{})

	require.NoError(t, err)
	assert.NotEmpty(t, cas)
}

func TestKVOps_GetAndLockThenUnlock(t *testing.T) {
	kv, collection := newTestKVOps(t)

	_, err := kv.Upsert(context.Background(), collection, "doc-5", "v", KVUpsertOptions{})
	require.NoError(t, err)

	doc, err := kv.GetAndLock(context.Background(), collection, "doc-5", 15)
	require.NoError(t, err)
	require.NotNil(t, doc)

	err = kv.Unlock(context.Background(), collection, "doc-5", doc.Cas)
	assert.NoError(t, err)
}
