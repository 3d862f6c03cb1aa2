package concurrency

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an operation is rejected because the
// caller exceeded the allowed throughput. Callers back off.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimiterConfig holds rate limiter tuning parameters.
//
// The adaptation thresholds and factors have no derivation beyond observed
// behavior in production; they are configurable, not invariants.
type LimiterConfig struct {
	// Rate is the configured steady-state requests per second.
	Rate float64 `yaml:"rate"`

	// Burst is the bucket capacity.
	Burst int `yaml:"burst"`

	// Window is the sliding window used to measure recent demand.
	Window time.Duration `yaml:"window"`

	// LowWaterRatio is the fraction of window capacity under which the rate
	// is relaxed upward.
	LowWaterRatio float64 `yaml:"low_water_ratio"`

	// HighWaterRatio is the fraction of window capacity over which the rate
	// is tightened downward.
	HighWaterRatio float64 `yaml:"high_water_ratio"`

	// RaiseFactor multiplies the current rate when demand is low.
	RaiseFactor float64 `yaml:"raise_factor"`

	// LowerFactor multiplies the current rate when demand is high.
	LowerFactor float64 `yaml:"lower_factor"`
}

// DefaultLimiterConfig returns the standard limiter parameters:
// 50 rps with burst 100 over a 1 second window, relaxing at 10% demand
// and tightening at 80%.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Rate:           50,
		Burst:          100,
		Window:         time.Second,
		LowWaterRatio:  0.1,
		HighWaterRatio: 0.8,
		RaiseFactor:    1.1,
		LowerFactor:    0.9,
	}
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	d := DefaultLimiterConfig()
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.LowWaterRatio <= 0 {
		c.LowWaterRatio = d.LowWaterRatio
	}
	if c.HighWaterRatio <= 0 {
		c.HighWaterRatio = d.HighWaterRatio
	}
	if c.RaiseFactor <= 0 {
		c.RaiseFactor = d.RaiseFactor
	}
	if c.LowerFactor <= 0 {
		c.LowerFactor = d.LowerFactor
	}
	return c
}

// AdaptiveRateLimiter is a self-tuning token bucket. Tokens replenish
// continuously at the current rate, capped at the burst capacity. Acquire is
// non-blocking: it consumes one token or reports rejection.
//
// Every acquire re-measures demand over the sliding window and nudges the
// current rate between half and twice the configured rate.
type AdaptiveRateLimiter struct {
	name   string
	config LimiterConfig

	mu          sync.Mutex
	limiter     *rate.Limiter
	currentRate float64
	requests    []time.Time // sliding request-timestamp window
}

// NewAdaptiveRateLimiter creates a limiter with the given name.
// Zero-valued config fields (other than Rate) fall back to defaults;
// Rate zero is honored as "no refill".
func NewAdaptiveRateLimiter(name string, config LimiterConfig) *AdaptiveRateLimiter {
	cfg := config.withDefaults()
	return &AdaptiveRateLimiter{
		name:        name,
		config:      cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		currentRate: cfg.Rate,
	}
}

// Name returns the limiter name.
func (l *AdaptiveRateLimiter) Name() string {
	return l.name
}

// Acquire consumes one token if available. It never blocks.
func (l *AdaptiveRateLimiter) Acquire() bool {
	l.mu.Lock()
	now := time.Now()
	l.requests = append(l.requests, now)
	l.adapt(now)
	l.mu.Unlock()

	return l.limiter.Allow()
}

// adapt purges stale timestamps and retunes the current rate from recent
// demand. Callers must hold l.mu.
func (l *AdaptiveRateLimiter) adapt(now time.Time) {
	cutoff := now.Add(-l.config.Window)
	keep := 0
	for _, ts := range l.requests {
		if ts.After(cutoff) {
			break
		}
		keep++
	}
	l.requests = l.requests[keep:]

	capacity := l.config.Rate * l.config.Window.Seconds()
	if capacity <= 0 {
		return
	}

	ratio := float64(len(l.requests)) / capacity
	next := l.currentRate
	switch {
	case ratio < l.config.LowWaterRatio:
		next = l.currentRate * l.config.RaiseFactor
		if max := l.config.Rate * 2; next > max {
			next = max
		}
	case ratio > l.config.HighWaterRatio:
		next = l.currentRate * l.config.LowerFactor
		if min := l.config.Rate * 0.5; next < min {
			next = min
		}
	}

	if next != l.currentRate {
		l.currentRate = next
		l.limiter.SetLimit(rate.Limit(next))
	}
}

// LimiterSnapshot is a point-in-time view of limiter state.
type LimiterSnapshot struct {
	Name            string  `json:"name"`
	AvailableTokens float64 `json:"available_tokens"`
	CurrentRate     float64 `json:"current_rate"`
	ConfiguredRate  float64 `json:"configured_rate"`
	BurstCapacity   int     `json:"burst_capacity"`
	RecentRequests  int     `json:"recent_requests"`
}

// Snapshot returns the current limiter statistics.
func (l *AdaptiveRateLimiter) Snapshot() LimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterSnapshot{
		Name:            l.name,
		AvailableTokens: l.limiter.Tokens(),
		CurrentRate:     l.currentRate,
		ConfiguredRate:  l.config.Rate,
		BurstCapacity:   l.config.Burst,
		RecentRequests:  len(l.requests),
	}
}
