package memopt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSampler replays a fixed sequence of resident sizes (in MB).
type scriptedSampler struct {
	sizesMB []float64
	pos     int
}

func (s *scriptedSampler) Sample() MemorySnapshot {
	mb := s.sizesMB[len(s.sizesMB)-1]
	if s.pos < len(s.sizesMB) {
		mb = s.sizesMB[s.pos]
		s.pos++
	}
	return MemorySnapshot{
		ResidentBytes: uint64(mb * 1024 * 1024),
		VirtualBytes:  uint64(mb * 2 * 1024 * 1024),
		Taken:         time.Now(),
	}
}

func TestMonitor_AlertFiresOnceWithinCooldown(t *testing.T) {
	sampler := &scriptedSampler{sizesMB: []float64{2048, 2048, 2048}}
	m := NewMonitor(MonitorConfig{AlertThresholdMB: 1024, AlertCooldown: time.Hour}, sampler)

	m.Check()
	m.Check()
	m.Check()

	assert.Equal(t, int64(1), m.Alerts())
}

func TestMonitor_NoAlertBelowThreshold(t *testing.T) {
	sampler := &scriptedSampler{sizesMB: []float64{100, 200, 300}}
	m := NewMonitor(MonitorConfig{}, sampler)

	for i := 0; i < 3; i++ {
		m.Check()
	}

	assert.Equal(t, int64(0), m.Alerts())
	assert.Len(t, m.History(), 3)
}

func TestMonitor_TrendClassification(t *testing.T) {
	tests := []struct {
		name    string
		sizesMB []float64
		want    Trend
	}{
		{"increasing", []float64{100, 110, 120, 130, 140}, TrendIncreasing},
		{"decreasing", []float64{140, 130, 120, 110, 100}, TrendDecreasing},
		{"stable", []float64{100, 101, 100, 102, 101}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(MonitorConfig{}, &scriptedSampler{sizesMB: tt.sizesMB})
			for range tt.sizesMB {
				m.Check()
			}
			assert.Equal(t, tt.want, m.Trend())
		})
	}
}

func TestMonitor_TrendNeedsFullWindow(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, &scriptedSampler{sizesMB: []float64{100, 200}})
	m.Check()
	m.Check()

	assert.Equal(t, TrendStable, m.Trend())
}

func TestMonitor_HistoryBounded(t *testing.T) {
	sampler := &scriptedSampler{sizesMB: []float64{10}}
	m := NewMonitor(MonitorConfig{}, sampler)

	for i := 0; i < 150; i++ {
		m.Check()
	}

	assert.Len(t, m.History(), 100)
}

func TestGCOptimizer_CompactsAtThreshold(t *testing.T) {
	g := NewGCOptimizer(10, &scriptedSampler{sizesMB: []float64{50}})

	for i := 0; i < 25; i++ {
		require.NoError(t, g.Scoped(func() error { return nil }))
	}

	assert.Equal(t, int64(25), g.Operations())
	events := g.Events()
	require.Len(t, events, 2)
	assert.Greater(t, events[0].Elapsed, time.Duration(0))
	assert.False(t, events[0].At.IsZero())
}

func TestGCOptimizer_CountsFailedOperations(t *testing.T) {
	g := NewGCOptimizer(5, &scriptedSampler{sizesMB: []float64{50}})

	for i := 0; i < 5; i++ {
		_ = g.Scoped(func() error { return assert.AnError })
	}

	assert.Equal(t, int64(5), g.Operations())
	assert.Len(t, g.Events(), 1)
}
