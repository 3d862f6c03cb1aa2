package concurrency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolConfig holds resource pool parameters.
type PoolConfig struct {
	// Capacity is the maximum number of concurrently held leases.
	Capacity int `yaml:"capacity"`
}

// ResourcePool is a bounded lease pool. Acquire suspends the caller in FIFO
// order when the pool is exhausted; release is the lease holder's obligation
// on every exit path (use defer).
type ResourcePool struct {
	name     string
	capacity int
	sem      *semaphore.Weighted

	mu           sync.Mutex
	inUse        int
	waiting      int
	acquisitions int64
	totalWait    time.Duration
}

// NewResourcePool creates a pool with the given name and capacity.
// Non-positive capacities fall back to 1.
func NewResourcePool(name string, capacity int) *ResourcePool {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResourcePool{
		name:     name,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Name returns the pool name.
func (p *ResourcePool) Name() string {
	return p.name
}

// Lease is a scoped hold on one pool slot.
type Lease struct {
	pool *ResourcePool
	once sync.Once
}

// Release returns the slot to the pool. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.sem.Release(1)
		l.pool.mu.Lock()
		l.pool.inUse--
		l.pool.mu.Unlock()
	})
}

// Acquire obtains a lease, suspending until a slot frees up or the context
// is done.
func (p *ResourcePool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()

	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()

	err := p.sem.Acquire(ctx, 1)

	p.mu.Lock()
	p.waiting--
	if err == nil {
		p.inUse++
		p.acquisitions++
		p.totalWait += time.Since(start)
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &Lease{pool: p}, nil
}

// PoolSnapshot is a point-in-time view of pool state.
type PoolSnapshot struct {
	Name         string        `json:"name"`
	Capacity     int           `json:"capacity"`
	InUse        int           `json:"in_use"`
	Waiting      int           `json:"waiting"`
	Utilization  float64       `json:"utilization"`
	Acquisitions int64         `json:"acquisitions"`
	AvgWait      time.Duration `json:"avg_wait"`
}

// Snapshot returns the current pool statistics.
func (p *ResourcePool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avgWait time.Duration
	if p.acquisitions > 0 {
		avgWait = p.totalWait / time.Duration(p.acquisitions)
	}

	return PoolSnapshot{
		Name:         p.name,
		Capacity:     p.capacity,
		InUse:        p.inUse,
		Waiting:      p.waiting,
		Utilization:  float64(p.inUse) / float64(p.capacity),
		Acquisitions: p.acquisitions,
		AvgWait:      avgWait,
	}
}
