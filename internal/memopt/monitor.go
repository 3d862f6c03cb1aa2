package memopt

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fathomsearch/fathom/internal/telemetry"
)

// MemorySnapshot is one sample of process memory usage.
type MemorySnapshot struct {
	ResidentBytes uint64    `json:"resident_bytes"`
	VirtualBytes  uint64    `json:"virtual_bytes"`
	Taken         time.Time `json:"taken"`
}

// ResidentMB returns the resident size in megabytes.
func (s MemorySnapshot) ResidentMB() float64 {
	return float64(s.ResidentBytes) / (1024 * 1024)
}

// Sampler provides process memory readings. The runtime-based default is
// used in production; tests substitute a scripted sampler.
type Sampler interface {
	Sample() MemorySnapshot
}

// RuntimeSampler reads memory usage from the Go runtime.
type RuntimeSampler struct{}

// Sample reads the current runtime memory statistics. Heap plus stack in-use
// stands in for resident memory; Sys for virtual.
func (RuntimeSampler) Sample() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemorySnapshot{
		ResidentBytes: ms.HeapInuse + ms.StackInuse,
		VirtualBytes:  ms.Sys,
		Taken:         time.Now(),
	}
}

// Trend classifies recent memory movement.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// MonitorConfig holds memory monitor parameters.
type MonitorConfig struct {
	// AlertThresholdMB is the resident size above which an alert fires.
	AlertThresholdMB float64 `yaml:"alert_threshold_mb"`

	// AlertCooldown suppresses repeat alerts.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`

	// TrendWindow is the number of samples used for trend classification.
	TrendWindow int `yaml:"trend_window"`

	// TrendSlopeMB is the regression slope (MB per sample) beyond which the
	// trend is classified as moving.
	TrendSlopeMB float64 `yaml:"trend_slope_mb"`
}

// DefaultMonitorConfig returns the standard monitor parameters: 1024 MB
// alert threshold, 300 s cooldown, 5-sample trend window, 5 MB slope.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		AlertThresholdMB: 1024,
		AlertCooldown:    300 * time.Second,
		TrendWindow:      5,
		TrendSlopeMB:     5,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.AlertThresholdMB <= 0 {
		c.AlertThresholdMB = d.AlertThresholdMB
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = d.AlertCooldown
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.TrendSlopeMB <= 0 {
		c.TrendSlopeMB = d.TrendSlopeMB
	}
	return c
}

// Monitor samples resident memory into a bounded history, fires a
// rate-limited alert with forced compaction when usage crosses the
// threshold, and classifies the recent trend.
type Monitor struct {
	config  MonitorConfig
	sampler Sampler
	history *telemetry.Ring[MemorySnapshot]

	mu        sync.Mutex
	lastAlert time.Time
	alerts    int64
}

// NewMonitor creates a monitor. A nil sampler falls back to RuntimeSampler.
func NewMonitor(config MonitorConfig, sampler Sampler) *Monitor {
	if sampler == nil {
		sampler = RuntimeSampler{}
	}
	return &Monitor{
		config:  config.withDefaults(),
		sampler: sampler,
		history: telemetry.NewRing[MemorySnapshot](telemetry.DefaultHistoryCap),
	}
}

// Check takes one sample, records it, and fires the threshold alert when
// due. Returns the sample.
func (m *Monitor) Check() MemorySnapshot {
	snap := m.sampler.Sample()
	m.history.Push(snap)

	if snap.ResidentMB() > m.config.AlertThresholdMB {
		m.mu.Lock()
		due := time.Since(m.lastAlert) >= m.config.AlertCooldown
		if due {
			m.lastAlert = time.Now()
			m.alerts++
		}
		m.mu.Unlock()

		if due {
			slog.Warn("memory usage above threshold, forcing compaction",
				slog.Float64("resident_mb", snap.ResidentMB()),
				slog.Float64("threshold_mb", m.config.AlertThresholdMB))
			forceCompaction()
		}
	}
	return snap
}

// Trend classifies the memory movement over the trend window using the
// slope of a least-squares fit. Fewer samples than the window is stable.
func (m *Monitor) Trend() Trend {
	recent := m.history.Tail(m.config.TrendWindow)
	if len(recent) < m.config.TrendWindow {
		return TrendStable
	}

	slope := regressionSlopeMB(recent)
	switch {
	case slope > m.config.TrendSlopeMB:
		return TrendIncreasing
	case slope < -m.config.TrendSlopeMB:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// regressionSlopeMB returns the least-squares slope in MB per sample.
func regressionSlopeMB(samples []MemorySnapshot) float64 {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range samples {
		x := float64(i)
		y := s.ResidentMB()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// History returns the recorded samples, oldest first.
func (m *Monitor) History() []MemorySnapshot {
	return m.history.Snapshot()
}

// Alerts returns the number of alerts fired.
func (m *Monitor) Alerts() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts
}

// forceCompaction runs a full collection and returns retained-but-unused
// memory to the OS.
func forceCompaction() {
	runtime.GC()
	debug.FreeOSMemory()
}
