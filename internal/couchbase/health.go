package couchbase

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Pinger is the narrow surface this module needs from gocb's diagnostics
// ping. Production wires this to bucket.Ping(&gocb.PingOptions{...});
// tests wire it to a stub.
type Pinger func(ctx context.Context, timeout time.Duration) ([]PingEndpoint, error)

// healthProbe wraps Pinger with a secondary circuit breaker (sony/gobreaker)
// that guards ONLY the periodic health-probe loop. This is independent of
// resilience.Breaker (C2), which guards the data-path executeWithRetry
// calls; a flapping health endpoint must never itself trip the data-path
// breaker.
type healthProbe struct {
	ping    Pinger
	breaker *gobreaker.CircuitBreaker
}

func newHealthProbe(ping Pinger) *healthProbe {
	settings := gobreaker.Settings{
		Name:        "couchbase-health-probe",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &healthProbe{ping: ping, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (h *healthProbe) probe(ctx context.Context) ([]PingEndpoint, error) {
	res, err := h.breaker.Execute(func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return h.ping(probeCtx, 5*time.Second)
	})
	if err != nil {
		return nil, err
	}
	return res.([]PingEndpoint), nil
}

// checkHealth runs the KV+Query ping (guarded by the secondary breaker) and
// classifies the result into a HealthStatus, per the health-monitoring
// contract: healthy >=100%, degraded >=50%, unhealthy <50%, disconnected
// when no cluster/bucket handles exist. When no endpoints are reported but
// the cluster/bucket handles exist and the manager was last known healthy,
// report healthy (covers Capella deployments that expose no diagnostics).
func (m *Manager) checkHealth(ctx context.Context) HealthStatus {
	m.mu.RLock()
	cluster := m.cluster
	bucket := m.bucket
	lastHealthy := m.healthy
	breakerState := m.breaker.GetState().String()
	m.mu.RUnlock()

	now := time.Now()
	if cluster == nil || bucket == nil {
		return HealthStatus{Healthy: false, State: HealthDisconnected, LastCheck: now, BreakerState: breakerState}
	}

	if m.pinger == nil {
		state := HealthUnhealthy
		if lastHealthy {
			state = HealthHealthy
		}
		return HealthStatus{Healthy: lastHealthy, State: state, LastCheck: now, BreakerState: breakerState}
	}

	results, err := m.pinger.probe(ctx)
	if err != nil || len(results) == 0 {
		// No endpoints reported but handles exist and we were last known
		// healthy: covers Capella deployments exposing no diagnostics.
		if lastHealthy && err == nil {
			return HealthStatus{Healthy: true, State: HealthHealthy, LastCheck: now, BreakerState: breakerState}
		}
		return HealthStatus{Healthy: false, State: HealthUnhealthy, LastCheck: now, BreakerState: breakerState}
	}

	healthyCount := 0
	for _, r := range results {
		if r.State == "ok" || r.Latency > 0 {
			healthyCount++
		}
	}
	healthPercentage := float64(healthyCount) / float64(len(results)) * 100

	var state HealthState
	switch {
	case healthPercentage >= 100:
		state = HealthHealthy
	case healthPercentage >= 50:
		state = HealthDegraded
	default:
		state = HealthUnhealthy
	}

	return HealthStatus{
		Healthy:      healthPercentage >= 50,
		State:        state,
		LastCheck:    now,
		BreakerState: breakerState,
	}
}
