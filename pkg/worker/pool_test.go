package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/metric"
)

func TestNewPool(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	pool, err := NewPool(Config{Name: "test"}, noop)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.cfg.Workers)
	assert.Equal(t, 64, pool.cfg.QueueSize)

	pool, err = NewPool(Config{Name: "test", Workers: 4, QueueSize: 8}, noop)
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Stats().Workers)
	assert.Equal(t, 8, pool.Stats().QueueSize)

	_, err = NewPool[int](Config{Name: "test"}, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)

	_, err = NewPool(Config{}, noop, WithMetricsRegistry(metric.NewMetricsRegistry()))
	assert.Error(t, err)
}

func TestPool_Lifecycle(t *testing.T) {
	pool, err := NewPool(Config{Name: "test"}, func(context.Context, int) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(1), ErrPoolStopped)
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolStopped)
}

func TestPool_PreservesOrderWithOneWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	pool, err := NewPool(Config{Name: "ordered", Workers: 1, QueueSize: 100}, func(_ context.Context, n int) error {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	require.Len(t, seen, 50)
	for i, n := range seen {
		assert.Equal(t, i, n)
	}
	assert.Equal(t, int64(50), pool.Stats().Processed)
}

func TestPool_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	registry := metric.NewMetricsRegistry()
	pool, err := NewPool(Config{Name: "blocked", Workers: 1, QueueSize: 1}, func(context.Context, int) error {
		started <- struct{}{}
		<-release
		return nil
	}, WithMetricsRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	<-started // worker holds item 1, queue is empty again
	require.NoError(t, pool.Submit(2))
	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(2*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(pool.metrics.items.WithLabelValues(outcomeDropped)))
	assert.Equal(t, float64(2), testutil.ToFloat64(pool.metrics.items.WithLabelValues(outcomeProcessed)))
}

func TestPool_CountsFailures(t *testing.T) {
	pool, err := NewPool(Config{Name: "failing", Workers: 2, QueueSize: 10}, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestPool_StopTimeoutCancelsWorkers(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})

	pool, err := NewPool(Config{Name: "stuck"}, func(ctx context.Context, _ int) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	<-started

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
	require.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
}

func TestPool_DuplicateMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	noop := func(context.Context, int) error { return nil }

	_, err := NewPool(Config{Name: "dup"}, noop, WithMetricsRegistry(registry))
	require.NoError(t, err)
	_, err = NewPool(Config{Name: "dup"}, noop, WithMetricsRegistry(registry))
	assert.Error(t, err)
}
