package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zx8086/capellaql-sub003/internal/metrics"
)

// ErrCircuitBreakerOpen is returned by Execute when the breaker is Open and
// no fallback was supplied.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// State is one of the breaker's three states. Execute's outcomes only ever
// move it Closed->Open, Open->HalfOpen, HalfOpen->Closed, HalfOpen->Open;
// the manual Reset and ForceOpen controls set Closed or Open from any state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the threshold/timeout knobs of a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // default 5
	Timeout          time.Duration // default 60s
	SuccessThreshold int           // default 3
}

// DefaultBreakerConfig returns the spec's default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Stats is the point-in-time snapshot returned by GetStats.
type Stats struct {
	State            State
	Failures         int
	Successes        int
	LastFailureTime  time.Time
	LastSuccessTime  time.Time
	NextAttemptTime  time.Time
	IsHealthy        bool
	SuccessRate      float64
	TotalOperations  int64
	ErrorRate        float64
}

// Breaker is the hand-rolled 4-transition circuit breaker guarding the
// connection manager's executeWithRetry loop. It is the only breaker that
// decides whether an operation is dispatched to the driver; a second,
// independent breaker (backed by sony/gobreaker, see internal/couchbase
// health.go) guards only the periodic health probe and never touches this
// type.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger
	mx     *metrics.BreakerMetrics

	mu sync.Mutex

	state            State
	failures         int
	successes        int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	nextAttemptTime  time.Time
	totalOperations  int64
}

// New builds a Breaker in the Closed state.
func New(cfg BreakerConfig, logger *slog.Logger, mx *metrics.BreakerMetrics) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{cfg: cfg, logger: logger, mx: mx, state: StateClosed}
	b.recordState()
	return b
}

// Execute runs op through the breaker. If the breaker is Open and the
// timeout has not elapsed, fallback (if non-nil) is invoked instead;
// otherwise ErrCircuitBreakerOpen is returned. A successful op always
// calls onSuccess; a failing op calls onFailure only when classification
// says the error counts against the breaker (CountsAgainstBreaker).
func (b *Breaker) Execute(op func() error, fallback func() error, classify func(error) ErrorClassification) error {
	b.mu.Lock()
	b.totalOperations++

	if b.state == StateOpen {
		if time.Now().Before(b.nextAttemptTime) {
			b.mu.Unlock()
			if b.mx != nil {
				b.mx.RejectionsTotal.Inc()
			}
			if fallback != nil {
				return fallback()
			}
			return ErrCircuitBreakerOpen
		}
		// Lazy Open -> HalfOpen transition on next request past nextAttemptTime.
		b.transitionToUnlocked(StateHalfOpen)
	}
	if b.mx != nil {
		b.mx.OperationsTotal.Inc()
	}
	b.mu.Unlock()

	err := op()

	if err == nil {
		b.onSuccess()
		return nil
	}

	classification := classify(err)
	if CountsAgainstBreaker(classification) {
		b.onFailure()
	}
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	b.failures = 0
	b.lastSuccessTime = time.Now()

	if b.state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
		b.transitionToUnlocked(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	// onFailure while already Open is a no-op: prevents race-induced
	// oscillation with parallel requests that passed Execute's Open check
	// before the breaker opened.
	if b.state == StateOpen {
		return
	}

	b.failures++
	b.lastFailureTime = time.Now()

	if b.state == StateHalfOpen {
		b.transitionToUnlocked(StateOpen)
		return
	}

	if b.failures >= b.cfg.FailureThreshold {
		b.transitionToUnlocked(StateOpen)
	}
}

func (b *Breaker) transitionToUnlocked(to State) {
	from := b.state
	b.state = to

	switch to {
	case StateOpen:
		b.nextAttemptTime = time.Now().Add(b.cfg.Timeout)
	case StateHalfOpen:
		b.successes = 0
	case StateClosed:
		b.failures = 0
		b.successes = 0
	}

	if from != to {
		b.logger.Warn("circuit breaker state transition", "from", from.String(), "to", to.String())
		if b.mx != nil {
			b.mx.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
		}
	}
	b.recordState()
}

func (b *Breaker) recordState() {
	if b.mx == nil {
		return
	}
	switch b.state {
	case StateClosed:
		b.mx.State.Set(0)
	case StateOpen:
		b.mx.State.Set(1)
	case StateHalfOpen:
		b.mx.State.Set(2)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStats returns a point-in-time snapshot.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	successRate := 100.0
	errorRate := 0.0
	if b.totalOperations > 0 {
		successRate = 100.0 - (float64(b.failures)/float64(b.totalOperations))*100.0
		errorRate = 100.0 - successRate
	}

	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailureTime,
		LastSuccessTime: b.lastSuccessTime,
		NextAttemptTime: b.nextAttemptTime,
		IsHealthy:       b.state == StateClosed,
		SuccessRate:     successRate,
		TotalOperations: b.totalOperations,
		ErrorRate:       errorRate,
	}
}

// Reset forces the breaker to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToUnlocked(StateClosed)
}

// ForceOpen forces the breaker to Open with a fresh nextAttemptTime. reason
// is logged but not otherwise tracked.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Warn("circuit breaker forced open", "reason", reason)
	b.transitionToUnlocked(StateOpen)
}
