package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePool_AcquireWithinCapacity(t *testing.T) {
	p := NewResourcePool("database", 2)
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	l2, err := p.Acquire(ctx)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.InUse)
	assert.Equal(t, 1.0, snap.Utilization)

	l1.Release()
	l2.Release()

	snap = p.Snapshot()
	assert.Equal(t, 0, snap.InUse)
	assert.Equal(t, 0.0, snap.Utilization)
}

func TestResourcePool_SuspendsWhenExhausted(t *testing.T) {
	p := NewResourcePool("database", 1)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *Lease, 1)
	go func() {
		l, err := p.Acquire(ctx)
		require.NoError(t, err)
		acquired <- l
	}()

	// The second acquire must stay suspended while the lease is held.
	select {
	case <-acquired:
		t.Fatal("acquire succeeded while pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()

	select {
	case l := <-acquired:
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
}

func TestResourcePool_AcquireHonorsContext(t *testing.T) {
	p := NewResourcePool("api_calls", 1)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.InUse)
	assert.Equal(t, 0, snap.Waiting)
}

func TestResourcePool_ReleaseIsIdempotent(t *testing.T) {
	p := NewResourcePool("database", 3)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	assert.Equal(t, 0, p.Snapshot().InUse)
}

func TestResourcePool_TracksWaitStats(t *testing.T) {
	p := NewResourcePool("database", 1)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		l, err := p.Acquire(ctx)
		require.NoError(t, err)
		l.Release()
	}()

	time.Sleep(30 * time.Millisecond)
	lease.Release()
	<-done

	snap := p.Snapshot()
	assert.Equal(t, int64(2), snap.Acquisitions)
	assert.Greater(t, snap.AvgWait, time.Duration(0))
}
