// Package concurrency provides the admission-control primitives for the
// retrieval core: circuit breakers, adaptive rate limiters, bounded resource
// pools, and the controller that aggregates them per operation name.
//
// Every stateful object in this package is guarded by its own lock; there is
// no global lock shared across primitives.
package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathomsearch/fathom/internal/telemetry"
)

// ErrCircuitOpen is returned when a circuit breaker is open and the
// downstream is blocked. Callers retry later or fall back.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is the normal state where calls pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen is when the circuit is tripped and calls fail fast.
	BreakerOpen
	// BreakerHalfOpen is when the circuit allows trial calls to probe recovery.
	BreakerHalfOpen
)

// String returns a string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning parameters.
type BreakerConfig struct {
	// FailureThreshold is the minimum number of recorded outcomes before the
	// failure ratio is considered meaningful.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int `yaml:"success_threshold"`

	// Timeout is how long the circuit stays open before allowing a trial call.
	Timeout time.Duration `yaml:"timeout"`

	// WindowSize bounds the sliding outcome window.
	WindowSize int `yaml:"window_size"`
}

// DefaultBreakerConfig returns the standard breaker parameters:
// 5 failures minimum, 60 second open timeout, 3 successes to close,
// 100-outcome sliding window.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          60 * time.Second,
		WindowSize:       100,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}

// CircuitBreaker implements the circuit breaker pattern over a bounded
// sliding window of call outcomes. It protects against cascading failures by
// failing fast when a downstream is unhealthy, and acts as automatic
// backpressure for that downstream.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	successCount  int // consecutive successes while half-open
	lastFailure   time.Time
	window        *telemetry.Ring[bool] // true = success
	windowSamples int
	windowFails   int
}

// NewCircuitBreaker creates a circuit breaker with the given name.
// Zero-valued config fields fall back to DefaultBreakerConfig.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	cfg := config.withDefaults()
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  BreakerClosed,
		window: telemetry.NewRing[bool](cfg.WindowSize),
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state, applying the open-timeout transition.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState applies the Open -> HalfOpen timeout transition.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.config.Timeout {
		cb.state = BreakerHalfOpen
		cb.successCount = 0
	}
	return cb.state
}

// Execute runs fn through the breaker. While the circuit is open and the
// timeout has not expired, fn is never invoked and ErrCircuitOpen is
// returned. Otherwise fn runs, its outcome is recorded, and its original
// error is returned unchanged on failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()
	if state == BreakerOpen {
		cb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	cb.mu.Unlock()

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// recordSuccess records a successful outcome and applies state transitions.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pushOutcome(true)

	if cb.state == BreakerHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// recordFailure records a failed outcome and applies state transitions.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pushOutcome(false)
	cb.failureCount++
	cb.lastFailure = time.Now()

	switch cb.state {
	case BreakerHalfOpen:
		// Any half-open failure trips the circuit again.
		cb.state = BreakerOpen
		cb.successCount = 0
	case BreakerClosed:
		if cb.shouldTrip() {
			cb.state = BreakerOpen
		}
	}
}

// pushOutcome appends an outcome to the sliding window, maintaining the
// running sample and failure counts. Callers must hold cb.mu.
func (cb *CircuitBreaker) pushOutcome(success bool) {
	if cb.windowSamples >= cb.window.Cap() {
		// The ring evicts the oldest outcome; adjust counts to match.
		evicted := cb.window.Snapshot()[0]
		if !evicted {
			cb.windowFails--
		}
	} else {
		cb.windowSamples++
	}
	cb.window.Push(success)
	if !success {
		cb.windowFails++
	}
}

// shouldTrip reports whether the windowed failure ratio warrants opening.
// Requires both enough samples and a failure ratio of at least one half.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.windowSamples < cb.config.FailureThreshold {
		return false
	}
	return float64(cb.windowFails)/float64(cb.windowSamples) >= 0.5
}

// BreakerSnapshot is a point-in-time view of breaker state.
type BreakerSnapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	WindowSamples   int       `json:"window_samples"`
	WindowFailures  int       `json:"window_failures"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// Snapshot returns the current breaker statistics.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		Name:            cb.name,
		State:           cb.currentState().String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		WindowSamples:   cb.windowSamples,
		WindowFailures:  cb.windowFails,
		LastFailureTime: cb.lastFailure,
	}
}
