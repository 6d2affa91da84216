// Package worker provides a bounded worker pool for moving work off
// latency-sensitive goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/daqstream/metric"
)

// Item outcomes as recorded in the items_total counter.
const (
	outcomeSubmitted = "submitted"
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
)

// Config sizes a pool.
type Config struct {
	// Name labels log lines and prefixes metric names; it must be a valid
	// Prometheus name fragment when metrics are enabled.
	Name string
	// Workers is the number of processing goroutines. One worker keeps
	// items in submission order.
	Workers int
	// QueueSize bounds the number of items waiting for a worker.
	QueueSize int
}

// DefaultConfig returns an ordered single-worker pool.
func DefaultConfig(name string) Config {
	return Config{Name: name, Workers: 1, QueueSize: 64}
}

// Option configures optional pool collaborators
type Option func(*poolOptions)

type poolOptions struct {
	registry *metric.MetricsRegistry
	logger   *slog.Logger
}

// WithMetricsRegistry exports pool metrics through registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(o *poolOptions) {
		o.registry = registry
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *poolOptions) {
		o.logger = logger
	}
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

// Pool processes submitted items on a fixed set of goroutines. Submit never
// blocks: when the queue is full the item is dropped.
type Pool[T any] struct {
	cfg     Config
	process func(context.Context, T) error
	queue   chan T
	logger  *slog.Logger
	metrics *poolMetrics

	mu     sync.Mutex
	state  lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	items      *prometheus.CounterVec
	duration   prometheus.Histogram
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqstream",
			Subsystem: name,
			Name:      "queue_depth",
			Help:      "Items waiting for a worker",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: name,
			Name:      "items_total",
			Help:      "Work items by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "daqstream",
			Subsystem: name,
			Name:      "process_duration_seconds",
			Help:      "Time spent processing one item",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	if err := registry.RegisterGauge("worker_pool", name+"_queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("worker_pool", name+"_items", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("worker_pool", name+"_process_duration", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// NewPool creates a pool. Zero Workers or QueueSize fall back to
// DefaultConfig values.
func NewPool[T any](cfg Config, process func(context.Context, T) error, opts ...Option) (*Pool[T], error) {
	if process == nil {
		return nil, ErrNilProcessor
	}
	defaults := DefaultConfig(cfg.Name)
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	o := &poolOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "worker-pool", "pool", cfg.Name)
	}

	p := &Pool[T]{
		cfg:     cfg,
		process: process,
		queue:   make(chan T, cfg.QueueSize),
		logger:  o.logger,
	}
	if o.registry != nil {
		if cfg.Name == "" {
			return nil, fmt.Errorf("worker pool metrics need a name")
		}
		m, err := newPoolMetrics(o.registry, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("register %s pool metrics: %w", cfg.Name, err)
		}
		p.metrics = m
	}
	return p, nil
}

// Start launches the workers. Items are processed with a context derived
// from ctx.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return ErrPoolAlreadyStarted
	case stateStopped:
		return ErrPoolStopped
	}

	workCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(workCtx)
	}
	p.state = stateRunning
	return nil
}

// Submit queues item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateIdle:
		return ErrPoolNotStarted
	case stateStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		p.submitted.Add(1)
		p.record(outcomeSubmitted)
		return nil
	default:
		p.dropped.Add(1)
		p.record(outcomeDropped)
		return ErrQueueFull
	}
}

// Stop refuses new items and waits up to timeout for the queue to drain.
// Workers still busy at the deadline see their context cancelled.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.state = stateStopped
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	close(p.queue)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return nil
	case <-timer.C:
		cancel()
		p.logger.Warn("Worker pool did not drain before deadline",
			"timeout", timeout, "queue_depth", len(p.queue))
		return ErrStopTimeout
	}
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.queue {
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}

		start := time.Now()
		err := p.process(ctx, item)
		if p.metrics != nil {
			p.metrics.duration.Observe(time.Since(start).Seconds())
		}

		p.processed.Add(1)
		p.record(outcomeProcessed)
		if err != nil {
			p.failed.Add(1)
			p.record(outcomeFailed)
		}
	}
}

func (p *Pool[T]) record(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.items.WithLabelValues(outcome).Inc()
	if outcome == outcomeSubmitted {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.cfg.Workers,
		QueueSize:  p.cfg.QueueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
