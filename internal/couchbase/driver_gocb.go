package couchbase

import (
	"context"
	"time"

	"github.com/couchbase/gocb/v2"
)

// gocbCluster adapts *gocb.Cluster to ClusterHandle. This file, with its
// conversion helpers in gocb_helpers.go and the ClusterOptions builder in
// options.go, is where the package uses gocb types; everything else in this
// package talks to the narrow interfaces in driver.go so it can be exercised
// against stub drivers in tests.
type gocbCluster struct {
	cluster *gocb.Cluster
}

// WrapCluster adapts a connected *gocb.Cluster into a ClusterHandle.
func WrapCluster(cluster *gocb.Cluster) ClusterHandle {
	return &gocbCluster{cluster: cluster}
}

func (c *gocbCluster) Bucket(name string) BucketHandle {
	return &gocbBucket{bucket: c.cluster.Bucket(name)}
}

func (c *gocbCluster) Query(statement string, opts QueryOptions) (QueryResultHandle, error) {
	result, err := c.cluster.Query(statement, toGocbQueryOptions(opts))
	if err != nil {
		return nil, err
	}
	return &gocbQueryResult{result: result}, nil
}

func (c *gocbCluster) Transactions() TransactionsRunner {
	return &gocbTransactions{transactions: c.cluster.Transactions()}
}

func (c *gocbCluster) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return c.cluster.WaitUntilReady(timeout, &gocb.WaitUntilReadyOptions{Context: ctx})
}

func (c *gocbCluster) Close() error {
	return c.cluster.Close(nil)
}

type gocbBucket struct {
	bucket *gocb.Bucket
}

func (b *gocbBucket) Name() string {
	return b.bucket.Name()
}

func (b *gocbBucket) Scope(name string) ScopeHandle {
	return &gocbScope{scope: b.bucket.Scope(name)}
}

func (b *gocbBucket) DefaultCollection() CollectionHandle {
	return &gocbCollection{collection: b.bucket.DefaultCollection()}
}

func (b *gocbBucket) Ping(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error) {
	report, err := b.bucket.Ping(&gocb.PingOptions{
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue, gocb.ServiceTypeQuery},
		Timeout:      timeout,
		Context:      ctx,
	})
	if err != nil {
		return nil, err
	}

	var endpoints []PingEndpoint
	for service, reports := range report.Services {
		for _, r := range reports {
			endpoints = append(endpoints, PingEndpoint{
				Service: string(service),
				State:   pingStateString(r.State),
				Latency: r.Latency,
			})
		}
	}
	return endpoints, nil
}

// pingStateString maps gocb's uint-backed PingState to the string health.go
// compares against. gocb.PingState is not a string type, so converting it
// directly (string(r.State)) produces a one-rune garbage value instead of
// "ok"/"timeout"/"error".
func pingStateString(state gocb.PingState) string {
	switch state {
	case gocb.PingStateOk:
		return "ok"
	case gocb.PingStateTimeout:
		return "timeout"
	case gocb.PingStateError:
		return "error"
	default:
		return "unknown"
	}
}

func (b *gocbBucket) GetAllScopeNames(ctx context.Context) ([]string, error) {
	scopes, err := b.bucket.Collections().GetAllScopes(&gocb.GetAllScopesOptions{Context: ctx})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(scopes))
	for _, s := range scopes {
		names = append(names, s.Name)
	}
	return names, nil
}

type gocbScope struct {
	scope *gocb.Scope
}

func (s *gocbScope) Name() string {
	return s.scope.Name()
}

func (s *gocbScope) Collection(name string) CollectionHandle {
	return &gocbCollection{collection: s.scope.Collection(name)}
}

type gocbCollection struct {
	collection *gocb.Collection
}

func (c *gocbCollection) Get(ctx context.Context, id string, opts KVGetOptions) (DocumentHandle, error) {
	o := &gocb.GetOptions{Context: ctx, WithExpiry: opts.WithExpiry, Timeout: opts.Timeout}
	if len(opts.Project) > 0 {
		o.Project = opts.Project
	}
	res, err := c.collection.Get(id, o)
	if err != nil {
		return nil, err
	}
	return &gocbDocument{getResult: res}, nil
}

func (c *gocbCollection) Upsert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	res, err := c.collection.Upsert(id, value, toGocbUpsertOptions(ctx, opts))
	if err != nil {
		return "", err
	}
	return casToString(res.Cas()), nil
}

func (c *gocbCollection) Insert(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	res, err := c.collection.Insert(id, value, toGocbInsertOptions(ctx, opts))
	if err != nil {
		return "", err
	}
	return casToString(res.Cas()), nil
}

func (c *gocbCollection) Replace(ctx context.Context, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	o := &gocb.ReplaceOptions{Context: ctx, Expiry: opts.Expiry, Timeout: opts.Timeout, DurabilityLevel: toGocbDurability(opts.Durability)}
	if opts.Cas != "" {
		o.Cas = stringToCas(opts.Cas)
	}
	res, err := c.collection.Replace(id, value, o)
	if err != nil {
		return "", err
	}
	return casToString(res.Cas()), nil
}

func (c *gocbCollection) Remove(ctx context.Context, id string, opts KVUpsertOptions) error {
	o := &gocb.RemoveOptions{Context: ctx, Timeout: opts.Timeout, DurabilityLevel: toGocbDurability(opts.Durability)}
	if opts.Cas != "" {
		o.Cas = stringToCas(opts.Cas)
	}
	_, err := c.collection.Remove(id, o)
	return err
}

func (c *gocbCollection) MutateIn(ctx context.Context, id string, ops []SubdocOperation, opts KVUpsertOptions) (string, error) {
	specs := make([]gocb.MutateInSpec, 0, len(ops))
	for _, op := range ops {
		switch op.Op {
		case SubdocUpsert:
			specs = append(specs, gocb.UpsertSpec(op.Path, op.Value, nil))
		case SubdocInsert:
			specs = append(specs, gocb.InsertSpec(op.Path, op.Value, nil))
		case SubdocReplace:
			specs = append(specs, gocb.ReplaceSpec(op.Path, op.Value, nil))
		case SubdocRemove:
			specs = append(specs, gocb.RemoveSpec(op.Path, nil))
		case SubdocArrayAppend:
			specs = append(specs, gocb.ArrayAppendSpec(op.Path, op.Value, nil))
		case SubdocArrayPrepend:
			specs = append(specs, gocb.ArrayPrependSpec(op.Path, op.Value, nil))
		}
	}

	o := &gocb.MutateInOptions{Context: ctx, Timeout: opts.Timeout, DurabilityLevel: toGocbDurability(opts.Durability)}
	if opts.Cas != "" {
		o.Cas = stringToCas(opts.Cas)
	}
	res, err := c.collection.MutateIn(id, specs, o)
	if err != nil {
		return "", err
	}
	return casToString(res.Cas()), nil
}

func (c *gocbCollection) GetAndLock(ctx context.Context, id string, lockTime time.Duration) (DocumentHandle, error) {
	res, err := c.collection.GetAndLock(id, lockTime, &gocb.GetAndLockOptions{Context: ctx})
	if err != nil {
		return nil, err
	}
	return &gocbDocument{getResult: res}, nil
}

func (c *gocbCollection) Unlock(ctx context.Context, id string, cas string) error {
	return c.collection.Unlock(id, stringToCas(cas), &gocb.UnlockOptions{Context: ctx})
}

func (c *gocbCollection) Touch(ctx context.Context, id string, expiry time.Duration) (string, error) {
	res, err := c.collection.Touch(id, expiry, &gocb.TouchOptions{Context: ctx})
	if err != nil {
		return "", err
	}
	return casToString(res.Cas()), nil
}

func (c *gocbCollection) LookupIn(ctx context.Context, id string, paths []string, opts KVGetOptions) (DocumentHandle, error) {
	specs := make([]gocb.LookupInSpec, 0, len(paths))
	for _, p := range paths {
		specs = append(specs, gocb.GetSpec(p, nil))
	}
	res, err := c.collection.LookupIn(id, specs, &gocb.LookupInOptions{Context: ctx, Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	return &gocbDocument{lookupResult: res}, nil
}

type gocbDocument struct {
	getResult    *gocb.GetResult
	lookupResult *gocb.LookupInResult
}

func (d *gocbDocument) Cas() string {
	if d.getResult != nil {
		return casToString(d.getResult.Cas())
	}
	return casToString(d.lookupResult.Cas())
}

func (d *gocbDocument) Content(v interface{}) error {
	return d.getResult.Content(v)
}

func (d *gocbDocument) ContentAt(index int, v interface{}) error {
	return d.lookupResult.ContentAt(uint(index), v)
}

func (d *gocbDocument) Expiry() time.Duration {
	if d.getResult == nil {
		return 0
	}
	exp := d.getResult.ExpiryTime()
	if exp == nil {
		return 0
	}
	return time.Until(*exp)
}

type gocbQueryResult struct {
	result *gocb.QueryResult
}

func (q *gocbQueryResult) Next() bool {
	return q.result.Next()
}

func (q *gocbQueryResult) Row(v interface{}) error {
	return q.result.Row(v)
}

func (q *gocbQueryResult) Err() error {
	return q.result.Err()
}

func (q *gocbQueryResult) Close() error {
	return q.result.Close()
}

func (q *gocbQueryResult) ExecutionTime() time.Duration {
	meta, err := q.result.MetaData()
	if err != nil {
		return 0
	}
	return meta.Metrics.ExecutionTime
}

func (q *gocbQueryResult) ResultCount() int {
	meta, err := q.result.MetaData()
	if err != nil {
		return 0
	}
	return int(meta.Metrics.ResultCount)
}

type gocbTransactions struct {
	transactions *gocb.Transactions
}

func (t *gocbTransactions) Run(ctx context.Context, cfg TransactionConfig, body func(TransactionAttemptHandle) error) (TransactionResultHandle, error) {
	perConfig := &gocb.TransactionOptions{
		DurabilityLevel: toGocbDurability(cfg.Durability),
		Timeout:         cfg.Timeout,
	}

	res, err := t.transactions.Run(func(attemptCtx *gocb.TransactionAttemptContext) error {
		return body(&gocbTransactionAttempt{ctx: ctx, attemptCtx: attemptCtx})
	}, perConfig)
	if err != nil {
		return nil, err
	}
	return &gocbTransactionResult{result: res}, nil
}

type gocbTransactionAttempt struct {
	ctx        context.Context
	attemptCtx *gocb.TransactionAttemptContext
}

func (a *gocbTransactionAttempt) Get(collection CollectionHandle, id string) (DocumentHandle, error) {
	col, ok := collection.(*gocbCollection)
	if !ok {
		return nil, errNotGocbCollection
	}
	res, err := a.attemptCtx.Get(col.collection, id)
	if err != nil {
		return nil, err
	}
	return &gocbTxDocument{doc: res}, nil
}

func (a *gocbTransactionAttempt) Insert(collection CollectionHandle, id string, value interface{}) (DocumentHandle, error) {
	col, ok := collection.(*gocbCollection)
	if !ok {
		return nil, errNotGocbCollection
	}
	res, err := a.attemptCtx.Insert(col.collection, id, value)
	if err != nil {
		return nil, err
	}
	return &gocbTxDocument{doc: res}, nil
}

func (a *gocbTransactionAttempt) Replace(doc DocumentHandle, value interface{}) (DocumentHandle, error) {
	txDoc, ok := doc.(*gocbTxDocument)
	if !ok {
		return nil, errNotGocbDocument
	}
	res, err := a.attemptCtx.Replace(txDoc.doc, value)
	if err != nil {
		return nil, err
	}
	return &gocbTxDocument{doc: res}, nil
}

func (a *gocbTransactionAttempt) Remove(doc DocumentHandle) error {
	txDoc, ok := doc.(*gocbTxDocument)
	if !ok {
		return errNotGocbDocument
	}
	return a.attemptCtx.Remove(txDoc.doc)
}

func (a *gocbTransactionAttempt) Query(statement string, opts QueryOptions) (QueryResultHandle, error) {
	res, err := a.attemptCtx.Query(statement, toGocbTransactionQueryOptions(opts))
	if err != nil {
		return nil, err
	}
	return &gocbTxQueryResult{result: res}, nil
}

type gocbTxDocument struct {
	doc *gocb.TransactionGetResult
}

func (d *gocbTxDocument) Cas() string {
	return casToString(d.doc.Cas())
}

func (d *gocbTxDocument) Content(v interface{}) error {
	return d.doc.Content(v)
}

func (d *gocbTxDocument) ContentAt(index int, v interface{}) error {
	return errUnsupportedOnTxDocument
}

func (d *gocbTxDocument) Expiry() time.Duration {
	return 0
}

type gocbTxQueryResult struct {
	result *gocb.TransactionQueryResult
}

func (q *gocbTxQueryResult) Next() bool             { return q.result.Next() }
func (q *gocbTxQueryResult) Row(v interface{}) error { return q.result.Row(v) }
func (q *gocbTxQueryResult) Err() error              { return q.result.Err() }
func (q *gocbTxQueryResult) Close() error            { return q.result.Close() }
func (q *gocbTxQueryResult) ExecutionTime() time.Duration { return 0 }
func (q *gocbTxQueryResult) ResultCount() int             { return 0 }

type gocbTransactionResult struct {
	result *gocb.TransactionResult
}

func (r *gocbTransactionResult) TransactionID() string {
	return r.result.TransactionID
}

func (r *gocbTransactionResult) UnstagingComplete() bool {
	return r.result.UnstagingComplete
}
