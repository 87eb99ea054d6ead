package couchbase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/zx8086/capellaql-sub003/internal/config"
	"github.com/zx8086/capellaql-sub003/internal/metrics"
	"github.com/zx8086/capellaql-sub003/internal/resilience"
)

// Connector opens a ClusterHandle from cluster options. Production wires
// this to gocb.Connect + WrapCluster; tests wire it to a stub factory.
type Connector func(connStr string, opts interface{}) (ClusterHandle, error)

// Manager is the singleton connection manager (C4): it owns the cluster
// handle, default bucket, collection cache, breaker, and is the retry
// orchestrator for every other component in this package.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Registry
	breaker *resilience.Breaker
	connect Connector

	mu             sync.RWMutex
	cfg            *config.CouchbaseConfig
	cluster        ClusterHandle
	bucket         BucketHandle
	healthy        bool
	isClosing      bool
	successfulConn int64
	failedConn     int64
	totalQueries   int64
	failedQueries  int64
	avgQueryTimeMs float64
	lastCheck      time.Time
	consecFailed   int

	collections *lru.Cache[string, CollectionHandle]
	pinger      *healthProbe

	initGroup  singleflight.Group
	healthStop context.CancelFunc
	healthWG   sync.WaitGroup
}

var (
	instance     *Manager
	instanceOnce sync.Once
)

// GetInstance returns the process-wide singleton, constructing it on first
// call. Subsequent calls return the same instance regardless of arguments:
// only the first caller's logger/metrics/connect wiring takes effect,
// matching the teacher's lazily-constructed singleton idiom.
func GetInstance(logger *slog.Logger, reg *metrics.Registry, connect Connector) *Manager {
	instanceOnce.Do(func() {
		instance = newManager(logger, reg, connect)
	})
	return instance
}

// newManager builds a Manager outside the package singleton, used by
// GetInstance and by tests that need an isolated instance per test.
func newManager(logger *slog.Logger, reg *metrics.Registry, connect Connector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	var breakerMetrics *metrics.BreakerMetrics
	if reg != nil {
		breakerMetrics = reg.Breaker
	}
	return &Manager{
		logger:  logger,
		metrics: reg,
		connect: connect,
		breaker: resilience.New(resilience.DefaultBreakerConfig(), logger, breakerMetrics),
	}
}

// retryMetrics returns the shared RetryMetrics, or nil when metrics are
// disabled; resilience.WithRetry and its *RetryMetrics methods are nil-safe.
func (m *Manager) retryMetrics() *metrics.RetryMetrics {
	if m.metrics == nil {
		return nil
	}
	return m.metrics.Retry
}

// Initialize connects to the cluster described by cfg, opens the default
// bucket, and waits for bucket readiness. Concurrent callers collapse onto
// a single in-flight attempt via singleflight.
func (m *Manager) Initialize(ctx context.Context, cfg *config.CouchbaseConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("couchbase: invalid config: %w", err)
	}

	_, err, _ := m.initGroup.Do("initialize", func() (interface{}, error) {
		return nil, m.doInitialize(ctx, cfg)
	})
	return err
}

func (m *Manager) doInitialize(ctx context.Context, cfg *config.CouchbaseConfig) error {
	start := time.Now()
	meta := config.ParseConnectionString(cfg.ConnectionString)

	err := resilience.WithRetry(ctx, "couchbase.connect", 3, m.logger, m.retryMetrics(), true, func(attempt int) error {
		opts, buildErr := BuildClusterOptions(cfg, meta)
		if buildErr != nil {
			return buildErr
		}

		if m.metrics != nil {
			m.metrics.Connection.AttemptsTotal.Inc()
		}

		cluster, connErr := m.connect(cfg.ConnectionString, opts)
		if connErr != nil {
			if _, _, authStrategy, _ := resilience.Classify(connErr, "connect", ""); !authStrategy.ShouldRetry {
				// authentication failures fail fast: the error is returned
				// as is, and WithRetry's own classification of it stops the loop.
				return connErr
			}
			return connErr
		}

		m.mu.Lock()
		m.cluster = cluster
		m.mu.Unlock()
		return nil
	})

	if err != nil {
		m.mu.Lock()
		m.failedConn++
		m.healthy = false
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Connection.FailedTotal.Inc()
		}
		return fmt.Errorf("couchbase: connect failed: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	bucket := m.cluster.Bucket(cfg.Bucket)
	m.bucket = bucket
	m.collections, _ = lru.New[string, CollectionHandle](256)
	m.pinger = newHealthProbe(func(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error) {
		return bucket.Ping(ctx, timeout)
	})
	m.mu.Unlock()

	if err := m.waitForReadiness(ctx, bucket); err != nil {
		m.mu.Lock()
		m.failedConn++
		m.healthy = false
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Connection.FailedTotal.Inc()
		}
		return fmt.Errorf("couchbase: bucket not ready: %w", err)
	}

	m.mu.Lock()
	m.healthy = true
	m.successfulConn++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Connection.SucceededTotal.Inc()
		m.metrics.Connection.ReadyDuration.Observe(time.Since(start).Seconds())
	}

	m.logger.Info("couchbase.connect", "bucket", cfg.Bucket, "capella", meta.IsCapella, "duration", time.Since(start))

	m.startHealthMonitoring()
	return nil
}

// waitForReadiness polls GetAllScopeNames every 500ms for up to 5s, per the
// connection manager's bucket-readiness probe.
func (m *Manager) waitForReadiness(ctx context.Context, bucket BucketHandle) error {
	deadline := time.Now().Add(5 * time.Second)
	var lastErr error

	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		_, err := bucket.GetAllScopeNames(probeCtx)
		cancel()
		if err == nil {
			m.logger.Info("couchbase.bucket_ready")
			return nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("bucket readiness timed out: %w", lastErr)
}

// startHealthMonitoring launches the 60s periodic health probe. It is
// cancelled by Close and is safe to call at most once per Initialize.
func (m *Manager) startHealthMonitoring() {
	ctx, cancel := context.WithCancel(context.Background())
	m.healthStop = cancel
	m.healthWG.Add(1)

	go func() {
		defer m.healthWG.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runHealthProbe(ctx)
			}
		}
	}()
}

func (m *Manager) runHealthProbe(ctx context.Context) {
	status := m.checkHealth(ctx)
	m.mu.Lock()
	m.healthy = status.Healthy
	m.lastCheck = status.LastCheck
	if status.Healthy {
		m.consecFailed = 0
	} else {
		m.consecFailed++
	}
	m.mu.Unlock()

	outcome := "healthy"
	if !status.Healthy {
		outcome = "unhealthy"
	}
	if m.metrics != nil {
		m.metrics.Connection.HealthChecks.WithLabelValues(outcome).Inc()
	}
	m.logger.Info("couchbase.health", "healthy", status.Healthy)
}

// GetCollection memoises handles by the composite key bucket::scope::collection.
// Empty bucket/scope/collection fall back to the manager's configured
// defaults. An entry, once inserted, is never mutated in place.
func (m *Manager) GetCollection(bucket, scope, collection string) (CollectionHandle, error) {
	m.mu.RLock()
	cfg := m.cfg
	b := m.bucket
	cache := m.collections
	m.mu.RUnlock()

	if cfg == nil || b == nil {
		return nil, fmt.Errorf("couchbase: manager not initialized")
	}

	if bucket == "" {
		bucket = cfg.Bucket
	}
	if scope == "" {
		scope = cfg.EffectiveScope()
	}
	if collection == "" {
		collection = cfg.EffectiveCollection()
	}

	key := bucket + "::" + scope + "::" + collection
	if existing, ok := cache.Get(key); ok {
		return existing, nil
	}

	var handle CollectionHandle
	if bucket == cfg.Bucket {
		handle = b.Scope(scope).Collection(collection)
	} else {
		handle = m.mustBucket(bucket).Scope(scope).Collection(collection)
	}

	cache.Add(key, handle)
	if m.metrics != nil {
		m.metrics.Connection.CollectionCache.Set(float64(cache.Len()))
	}
	return handle, nil
}

func (m *Manager) mustBucket(name string) BucketHandle {
	m.mu.RLock()
	cluster := m.cluster
	m.mu.RUnlock()
	return cluster.Bucket(name)
}

// GetScope returns the default bucket's named scope, or its configured
// default scope if name is empty.
func (m *Manager) GetScope(name string) (ScopeHandle, error) {
	m.mu.RLock()
	cfg := m.cfg
	b := m.bucket
	m.mu.RUnlock()
	if cfg == nil || b == nil {
		return nil, fmt.Errorf("couchbase: manager not initialized")
	}
	if name == "" {
		name = cfg.EffectiveScope()
	}
	return b.Scope(name), nil
}

// GetConnection returns the underlying ClusterHandle façade for components
// that need direct driver access (C5 query, C7 transactions).
func (m *Manager) GetConnection() (ClusterHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cluster == nil {
		return nil, fmt.Errorf("couchbase: manager not initialized")
	}
	return m.cluster, nil
}

// Breaker exposes the shared circuit breaker to C5/C6/C7's retry loops.
func (m *Manager) Breaker() *resilience.Breaker {
	return m.breaker
}

// GetCircuitBreakerState returns the breaker's current state.
func (m *Manager) GetCircuitBreakerState() resilience.State {
	return m.breaker.GetState()
}

// ResetCircuitBreaker forces the breaker to Closed.
func (m *Manager) ResetCircuitBreaker() {
	m.breaker.Reset()
}

// IsConnected reports whether the manager currently believes it is healthy.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

// GetMetrics returns the manager's rolling connection/query counters.
func (m *Manager) GetMetrics() ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	size := 0
	if m.collections != nil {
		size = m.collections.Len()
	}
	return ConnectionMetrics{
		SuccessfulConnections: m.successfulConn,
		FailedConnections:     m.failedConn,
		TotalQueries:          m.totalQueries,
		FailedQueries:         m.failedQueries,
		CollectionCacheSize:   size,
	}
}

// recordQueryDuration updates the rolling average query time using the
// integer-n running average the connection manager specifies:
// avg <- (avg*(n-1) + duration)/n.
func (m *Manager) recordQueryDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalQueries++
	n := float64(m.totalQueries)
	m.avgQueryTimeMs = (m.avgQueryTimeMs*(n-1) + float64(d.Milliseconds())) / n
}

func (m *Manager) recordQueryFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedQueries++
}

// ExecuteWithRetry runs op inside the breaker, retrying per the error
// classifier's verdict up to maxAttempts (default 3).
func (m *Manager) ExecuteWithRetry(ctx context.Context, operation string, maxAttempts int, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	start := time.Now()
	err := m.breaker.Execute(func() error {
		return resilience.WithRetry(ctx, operation, maxAttempts, m.logger, m.retryMetrics(), false, func(attempt int) error {
			return op()
		})
	}, nil, func(err error) resilience.ErrorClassification {
		_, classification, _, _ := resilience.Classify(err, operation, "")
		return classification
	})

	if err != nil {
		m.recordQueryFailure()
		return err
	}
	m.recordQueryDuration(time.Since(start))
	return nil
}

// Close is idempotent: it stops the health monitor, closes the cluster
// handle (errors are logged but not re-raised), clears the collection
// cache, and marks the manager unhealthy.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.isClosing {
		m.mu.Unlock()
		return nil
	}
	m.isClosing = true
	cluster := m.cluster
	stop := m.healthStop
	m.mu.Unlock()

	if stop != nil {
		stop()
		m.healthWG.Wait()
	}

	if cluster != nil {
		if err := cluster.Close(); err != nil {
			m.logger.Warn("couchbase.close: error closing cluster", "error", err)
		}
	}

	m.mu.Lock()
	m.collections = nil
	m.cfg = nil
	m.bucket = nil
	m.cluster = nil
	m.healthy = false
	m.mu.Unlock()

	return nil
}
