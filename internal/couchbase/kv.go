package couchbase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zx8086/capellaql-sub003/internal/resilience"
)

// KVDocument is the materialised result of Get/LookupIn.
type KVDocument struct {
	Cas    string
	Expiry time.Duration
}

// KVOps is C6: KV and subdocument primitives with CAS and durability,
// layered over a CollectionHandle.
type KVOps struct {
	manager *Manager
}

// NewKVOps builds a KVOps bound to manager.
func NewKVOps(manager *Manager) *KVOps {
	return &KVOps{manager: manager}
}

func defaultKVGetOptions(opts KVGetOptions) KVGetOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = 7500 * time.Millisecond
	}
	return opts
}

func defaultKVUpsertOptions(opts KVUpsertOptions) KVUpsertOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = 7500 * time.Millisecond
	}
	return opts
}

// Get returns the document's content decoded into v, or (nil, nil) when the
// document does not exist. Every other error propagates.
func (k *KVOps) Get(ctx context.Context, collection CollectionHandle, id string, v interface{}, opts KVGetOptions) (*KVDocument, error) {
	opts = defaultKVGetOptions(opts)
	var doc *KVDocument

	err := k.operate(ctx, "get", func() error {
		res, getErr := collection.Get(ctx, id, opts)
		if getErr != nil {
			if isDocumentNotFound(getErr) {
				return nil
			}
			return getErr
		}
		if v != nil {
			if err := res.Content(v); err != nil {
				return err
			}
		}
		doc = &KVDocument{Cas: res.Cas(), Expiry: res.Expiry()}
		return nil
	})
	return doc, err
}

// Upsert creates or replaces the document unconditionally; the driver has
// no CAS check on upsert, so opts.Cas is not consulted here.
func (k *KVOps) Upsert(ctx context.Context, collection CollectionHandle, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	opts = defaultKVUpsertOptions(opts)
	var cas string
	err := k.operate(ctx, "upsert", func() error {
		var upsertErr error
		cas, upsertErr = collection.Upsert(ctx, id, value, opts)
		return upsertErr
	})
	return cas, err
}

// Insert fails with DocumentExists when id already exists.
func (k *KVOps) Insert(ctx context.Context, collection CollectionHandle, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	opts = defaultKVUpsertOptions(opts)
	var cas string
	err := k.operate(ctx, "insert", func() error {
		var insertErr error
		cas, insertErr = collection.Insert(ctx, id, value, opts)
		return insertErr
	})
	return cas, err
}

// Replace fails with DocumentNotFound when id is absent.
func (k *KVOps) Replace(ctx context.Context, collection CollectionHandle, id string, value interface{}, opts KVUpsertOptions) (string, error) {
	opts = defaultKVUpsertOptions(opts)
	var cas string
	err := k.operate(ctx, "replace", func() error {
		var replaceErr error
		cas, replaceErr = collection.Replace(ctx, id, value, opts)
		return replaceErr
	})
	return cas, err
}

// Remove deletes id, optionally gated on opts.Cas.
func (k *KVOps) Remove(ctx context.Context, collection CollectionHandle, id string, opts KVUpsertOptions) error {
	opts = defaultKVUpsertOptions(opts)
	return k.operate(ctx, "remove", func() error {
		return collection.Remove(ctx, id, opts)
	})
}

// GetAndLock fetches id and acquires a pessimistic lock for lockTimeSec
// (default 15s), returning the locked document's CAS.
func (k *KVOps) GetAndLock(ctx context.Context, collection CollectionHandle, id string, lockTimeSec int) (*KVDocument, error) {
	if lockTimeSec <= 0 {
		lockTimeSec = 15
	}
	var doc *KVDocument
	err := k.operate(ctx, "get_and_lock", func() error {
		res, getErr := collection.GetAndLock(ctx, id, time.Duration(lockTimeSec)*time.Second)
		if getErr != nil {
			if isDocumentNotFound(getErr) {
				return nil
			}
			return getErr
		}
		doc = &KVDocument{Cas: res.Cas()}
		return nil
	})
	return doc, err
}

// Unlock releases a lock previously acquired by GetAndLock.
func (k *KVOps) Unlock(ctx context.Context, collection CollectionHandle, id, cas string) error {
	return k.operate(ctx, "unlock", func() error {
		return collection.Unlock(ctx, id, cas)
	})
}

// Touch refreshes id's expiry without altering its body.
func (k *KVOps) Touch(ctx context.Context, collection CollectionHandle, id string, expiry time.Duration) (string, error) {
	var cas string
	err := k.operate(ctx, "touch", func() error {
		var touchErr error
		cas, touchErr = collection.Touch(ctx, id, expiry)
		return touchErr
	})
	return cas, err
}

// Exists reports whether id is present. It runs a Get that does not decode
// the content; the driver still fetches the document body.
func (k *KVOps) Exists(ctx context.Context, collection CollectionHandle, id string, opts KVGetOptions) (bool, error) {
	doc, err := k.Get(ctx, collection, id, nil, opts)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// MutateIn composes ops into a single subdocument mutation, executed
// atomically per the driver's subdocument semantics.
func (k *KVOps) MutateIn(ctx context.Context, collection CollectionHandle, id string, ops []SubdocOperation, opts KVUpsertOptions) (string, error) {
	opts = defaultKVUpsertOptions(opts)
	var cas string
	err := k.operate(ctx, "mutate_in", func() error {
		var mutateErr error
		cas, mutateErr = collection.MutateIn(ctx, id, ops, opts)
		return mutateErr
	})
	return cas, err
}

// LookupIn returns a path->value mapping; absent paths are omitted from the
// result map rather than raising.
func (k *KVOps) LookupIn(ctx context.Context, collection CollectionHandle, id string, paths []string, opts KVGetOptions) (map[string]interface{}, error) {
	opts = defaultKVGetOptions(opts)
	result := make(map[string]interface{}, len(paths))

	err := k.operate(ctx, "lookup_in", func() error {
		doc, lookupErr := collection.LookupIn(ctx, id, paths, opts)
		if lookupErr != nil {
			if isDocumentNotFound(lookupErr) {
				return nil
			}
			return lookupErr
		}
		for i, path := range paths {
			var value interface{}
			if err := doc.ContentAt(i, &value); err == nil {
				result[path] = value
			}
		}
		return nil
	})
	return result, err
}

// GetMultiResult is the outcome of GetMulti: ids missing from Values either
// did not exist or failed and were logged and skipped.
type GetMultiResult struct {
	Values map[string]interface{}
}

// GetMulti fans out Get across ids in batches of batchSize, run
// concurrently within each batch with no delay between batches.
func (k *KVOps) GetMulti(ctx context.Context, collection CollectionHandle, ids []string, batchSize int) GetMultiResult {
	if batchSize <= 0 {
		batchSize = 100
	}
	values := make(map[string]interface{})
	var mu sync.Mutex

	forEachBatch(ids, batchSize, func(id string) {
		var v interface{}
		doc, err := k.Get(ctx, collection, id, &v, KVGetOptions{})
		if err != nil {
			k.manager.logger.Warn("couchbase.kv.get_multi: id failed, skipping", "id", id, "error", err)
			return
		}
		if doc == nil {
			return
		}
		mu.Lock()
		values[id] = v
		mu.Unlock()
	})

	return GetMultiResult{Values: values}
}

// UpsertMultiDoc is one (id, value) pair for UpsertMulti.
type UpsertMultiDoc struct {
	ID    string
	Value interface{}
}

// UpsertFailure pairs an id with the error its upsert returned.
type UpsertFailure struct {
	ID    string
	Error error
}

// UpsertMultiResult is the outcome of UpsertMulti.
type UpsertMultiResult struct {
	Succeeded []string
	Failed    []UpsertFailure
}

// UpsertMulti fans out Upsert across docs in batches of batchSize, run
// concurrently within each batch with no delay between batches.
func (k *KVOps) UpsertMulti(ctx context.Context, collection CollectionHandle, docs []UpsertMultiDoc, batchSize int) UpsertMultiResult {
	if batchSize <= 0 {
		batchSize = 100
	}
	var mu sync.Mutex
	result := UpsertMultiResult{}

	forEachBatchDocs(docs, batchSize, func(d UpsertMultiDoc) {
		_, err := k.Upsert(ctx, collection, d.ID, d.Value, KVUpsertOptions{})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed = append(result.Failed, UpsertFailure{ID: d.ID, Error: err})
			return
		}
		result.Succeeded = append(result.Succeeded, d.ID)
	})

	return result
}

func forEachBatch(ids []string, batchSize int, fn func(id string)) {
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				fn(id)
			}(id)
		}
		wg.Wait()
	}
}

func forEachBatchDocs(docs []UpsertMultiDoc, batchSize int, fn func(d UpsertMultiDoc)) {
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		var wg sync.WaitGroup
		for _, d := range docs[start:end] {
			wg.Add(1)
			go func(d UpsertMultiDoc) {
				defer wg.Done()
				fn(d)
			}(d)
		}
		wg.Wait()
	}
}

// operate runs fn through the manager's shared breaker/retry policy,
// labelled for KV metrics.
func (k *KVOps) operate(ctx context.Context, verb string, fn func() error) error {
	start := time.Now()
	err := k.manager.ExecuteWithRetry(ctx, "kv."+verb, 3, fn)

	status := "success"
	if err != nil {
		status = "failure"
	}
	if k.manager.metrics != nil {
		k.manager.metrics.KV.OperationsTotal.WithLabelValues(verb, status).Inc()
		k.manager.metrics.KV.DurationSeconds.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	}
	return err
}

func isDocumentNotFound(err error) bool {
	kind, _, _, _ := resilience.Classify(err, "kv", "")
	return kind == resilience.KindDocumentNotFound || errors.Is(err, errDocumentNotFoundSentinel)
}

// errDocumentNotFoundSentinel lets stub drivers in tests signal "not found"
// without depending on gocb's sentinel error directly.
var errDocumentNotFoundSentinel = errors.New("document not found")
