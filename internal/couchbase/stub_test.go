package couchbase

import (
	"context"
	"errors"
	"time"
)

// stubCluster is a minimal in-memory ClusterHandle used to test the
// connection manager, query executor, KV operations, and transaction
// coordinator without a live cluster.
type stubCluster struct {
	bucket       *stubBucket
	queryFn      func(statement string, opts QueryOptions) (QueryResultHandle, error)
	transactions *stubTransactions
	closeErr     error
	waitErr      error
}

func newStubCluster() *stubCluster {
	return &stubCluster{
		bucket:       newStubBucket(),
		transactions: &stubTransactions{},
	}
}

func (c *stubCluster) Bucket(name string) BucketHandle { return c.bucket }

func (c *stubCluster) Query(statement string, opts QueryOptions) (QueryResultHandle, error) {
	if c.queryFn != nil {
		return c.queryFn(statement, opts)
	}
	return &stubQueryResult{}, nil
}

func (c *stubCluster) Transactions() TransactionsRunner { return c.transactions }

func (c *stubCluster) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return c.waitErr
}

func (c *stubCluster) Close() error { return c.closeErr }

type stubBucket struct {
	scopes map[string]*stubScope
	pingFn func(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error)
}

func newStubBucket() *stubBucket {
	return &stubBucket{scopes: map[string]*stubScope{}}
}

func (b *stubBucket) Name() string { return "test-bucket" }

func (b *stubBucket) Scope(name string) ScopeHandle {
	if s, ok := b.scopes[name]; ok {
		return s
	}
	s := &stubScope{name: name, collections: map[string]*stubCollection{}}
	b.scopes[name] = s
	return s
}

func (b *stubBucket) DefaultCollection() CollectionHandle {
	return b.Scope("_default").Collection("_default")
}

func (b *stubBucket) GetAllScopeNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(b.scopes))
	for n := range b.scopes {
		names = append(names, n)
	}
	return names, nil
}

func (b *stubBucket) Ping(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error) {
	if b.pingFn != nil {
		return b.pingFn(ctx, timeout)
	}
	return []PingEndpoint{{Service: "kv", State: "ok", Latency: time.Millisecond}}, nil
}

type stubScope struct {
	name        string
	collections map[string]*stubCollection
}

func (s *stubScope) Name() string { return s.name }

func (s *stubScope) Collection(name string) CollectionHandle {
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &stubCollection{name: name, docs: map[string]*stubDoc{}}
	s.collections[name] = c
	return c
}

type stubDoc struct {
	value interface{}
	cas   string
}

type stubCollection struct {
	name string
	docs map[string]*stubDoc
	cas  int
}

func (c *stubCollection) nextCas() string {
	c.cas++
	return string(rune('a' + c.cas))
}

func (c *stubCollection) Get(ctx context.Context, id string, opts KVGetOptions) (DocumentHandle, error) {
	d, ok := c.docs[id]
	if !ok {
		return nil, errDocumentNotFoundSentinel
	}
	return &stubDocHandle{doc: d}, nil
}

func (c *stubCollection) Upsert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	cas := c.nextCas()
	c.docs[id] = &stubDoc{value: value, cas: cas}
	return cas, nil
}

func (c *stubCollection) Insert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	if _, ok := c.docs[id]; ok {
		return "", errors.New("document exists")
	}
	cas := c.nextCas()
	c.docs[id] = &stubDoc{value: value, cas: cas}
	return cas, nil
}

func (c *stubCollection) Replace(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	if _, ok := c.docs[id]; !ok {
		return "", errDocumentNotFoundSentinel
	}
	cas := c.nextCas()
	c.docs[id] = &stubDoc{value: value, cas: cas}
	return cas, nil
}

func (c *stubCollection) Remove(ctx context.Context, id string, opts KVUpsertOptions) error {
	if _, ok := c.docs[id]; !ok {
		return errDocumentNotFoundSentinel
	}
	delete(c.docs, id)
	return nil
}

func (c *stubCollection) MutateIn(ctx context.Context, id string, ops []SubdocOperation, opts KVUpsertOptions) (string, error) {
	cas := c.nextCas()
	if _, ok := c.docs[id]; !ok {
		c.docs[id] = &stubDoc{value: map[string]interface{}{}}
	}
	c.docs[id].cas = cas
	return cas, nil
}

func (c *stubCollection) LookupIn(ctx context.Context, id string, paths []string, opts KVGetOptions) (DocumentHandle, error) {
	d, ok := c.docs[id]
	if !ok {
		return nil, errDocumentNotFoundSentinel
	}
	return &stubDocHandle{doc: d}, nil
}

func (c *stubCollection) GetAndLock(ctx context.Context, id string, lockTime time.Duration) (DocumentHandle, error) {
	return c.Get(ctx, id, KVGetOptions{})
}

func (c *stubCollection) Unlock(ctx context.Context, id string, cas string) error { return nil }

func (c *stubCollection) Touch(ctx context.Context, id string, expiry time.Duration) (string, error) {
	return c.nextCas(), nil
}

type stubDocHandle struct {
	doc *stubDoc
}

func (d *stubDocHandle) Cas() string { return d.doc.cas }

func (d *stubDocHandle) Content(v interface{}) error {
	if ptr, ok := v.(*interface{}); ok {
		*ptr = d.doc.value
	}
	return nil
}

func (d *stubDocHandle) ContentAt(index int, v interface{}) error {
	return d.Content(v)
}

func (d *stubDocHandle) Expiry() time.Duration { return 0 }

type stubQueryResult struct {
	rows []map[string]interface{}
	idx  int
	err  error
}

func (r *stubQueryResult) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *stubQueryResult) Row(v interface{}) error {
	if ptr, ok := v.(*map[string]interface{}); ok {
		*ptr = r.rows[r.idx-1]
	}
	return nil
}

func (r *stubQueryResult) Err() error                      { return r.err }
func (r *stubQueryResult) Close() error                    { return nil }
func (r *stubQueryResult) ExecutionTime() time.Duration    { return time.Millisecond }
func (r *stubQueryResult) ResultCount() int                { return len(r.rows) }

type stubTransactions struct {
	runFn func(ctx context.Context, cfg TransactionConfig, body func(TransactionAttemptHandle) error) (TransactionResultHandle, error)
}

func (t *stubTransactions) Run(ctx context.Context, cfg TransactionConfig, body func(TransactionAttemptHandle) error) (TransactionResultHandle, error) {
	if t.runFn != nil {
		return t.runFn(ctx, cfg, body)
	}
	if err := body(&stubTransactionAttempt{}); err != nil {
		return nil, err
	}
	return &stubTransactionResult{id: "txn_stub"}, nil
}

type stubTransactionAttempt struct{}

func (a *stubTransactionAttempt) Get(collection CollectionHandle, id string) (DocumentHandle, error) {
	return collection.Get(context.Background(), id, KVGetOptions{})
}

func (a *stubTransactionAttempt) Insert(collection CollectionHandle, id string, value interface{}) (DocumentHandle, error) {
	_, err := collection.Insert(context.Background(), id, value, KVUpsertOptions{})
	if err != nil {
		return nil, err
	}
	return collection.Get(context.Background(), id, KVGetOptions{})
}

func (a *stubTransactionAttempt) Replace(doc DocumentHandle, value interface{}) (DocumentHandle, error) {
	return doc, nil
}

func (a *stubTransactionAttempt) Remove(doc DocumentHandle) error { return nil }

func (a *stubTransactionAttempt) Query(statement string, opts QueryOptions) (QueryResultHandle, error) {
	return &stubQueryResult{}, nil
}

type stubTransactionResult struct {
	id string
}

func (r *stubTransactionResult) TransactionID() string   { return r.id }
func (r *stubTransactionResult) UnstagingComplete() bool { return true }

func newTestManager(cluster *stubCluster) *Manager {
	connect := func(connStr string, opts interface{}) (ClusterHandle, error) {
		return cluster, nil
	}
	return newManager(nil, nil, connect)
}
