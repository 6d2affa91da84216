package nats

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/pkg/worker"
	"github.com/c360/daqstream/processor/cycle"
)

// Publisher is the part of a NATS connection the sink needs.
// *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

var _ cycle.Sink = (*Sink)(nil)

// Config holds the sink settings
type Config struct {
	Subject string
	// Workers > 0 publishes from a worker pool so broker latency stays off
	// the control cycle. Zero publishes inline from Send.
	Workers   int
	QueueSize int
}

// Sink publishes every frame as one JSON message.
type Sink struct {
	subject string
	pub     Publisher
	logger  *slog.Logger
	pool    *worker.Pool[*cycle.Frame]

	published atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64

	metrics *sinkMetrics
}

type sinkMetrics struct {
	bytesPublished prometheus.Counter
	encodeDuration prometheus.Histogram
}

func newSinkMetrics(registry *metric.MetricsRegistry) (*sinkMetrics, error) {
	m := &sinkMetrics{
		bytesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "nats_sink",
			Name:      "bytes_published_total",
			Help:      "Encoded frame bytes handed to NATS",
		}),
		encodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "daqstream",
			Subsystem: "nats_sink",
			Name:      "encode_duration_seconds",
			Help:      "Time spent encoding one frame",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
	}
	if err := registry.RegisterCounter("nats_sink", "bytes_published", m.bytesPublished); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("nats_sink", "encode_duration", m.encodeDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSink creates a NATS frame sink. registry and logger may be nil.
func NewSink(cfg Config, pub Publisher, registry *metric.MetricsRegistry, logger *slog.Logger) (*Sink, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil publisher", errors.ErrMissingConfig),
			"Sink", "NewSink", "dependency validation")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty subject", errors.ErrInvalidConfig),
			"Sink", "NewSink", "config validation")
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats-sink")
	}

	s := &Sink{subject: cfg.Subject, pub: pub, logger: logger}
	if registry != nil {
		m, err := newSinkMetrics(registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Sink", "NewSink", "metrics registration")
		}
		s.metrics = m
	}

	if cfg.Workers > 0 {
		opts := []worker.Option{worker.WithLogger(logger)}
		if registry != nil {
			opts = append(opts, worker.WithMetricsRegistry(registry))
		}
		pool, err := worker.NewPool(worker.Config{
			Name:      "nats_publish",
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
		}, s.publish, opts...)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Sink", "NewSink", "publish pool")
		}
		s.pool = pool
	}
	return s, nil
}

// Start launches the publish workers. It is a no-op for an inline sink.
func (s *Sink) Start(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Start(ctx); err != nil && !stderrors.Is(err, worker.ErrPoolAlreadyStarted) {
		return errors.WrapFatal(err, "Sink", "Start", "publish pool start")
	}
	return nil
}

// Stop drains queued frames, waiting at most timeout.
func (s *Sink) Stop(timeout time.Duration) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Sink", "Stop", "publish pool drain")
	}
	return nil
}

// Name implements cycle.Sink
func (s *Sink) Name() string {
	return "nats"
}

// Subject returns the subject frames are published on
func (s *Sink) Subject() string {
	return s.subject
}

// Send implements cycle.Sink. With a publish pool the frame is queued and
// a full queue drops it.
func (s *Sink) Send(ctx context.Context, frame *cycle.Frame) error {
	if s.pool == nil {
		return s.publish(ctx, frame)
	}
	if err := s.pool.Submit(frame); err != nil {
		s.failed.Add(1)
		return errors.WrapTransient(err, "Sink", "Send", "frame enqueue")
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, frame *cycle.Frame) error {
	start := time.Now()
	data, err := json.Marshal(frame)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "Sink", "publish", "frame encoding")
	}
	if s.metrics != nil {
		s.metrics.encodeDuration.Observe(time.Since(start).Seconds())
	}

	if err := s.pub.Publish(ctx, s.subject, data); err != nil {
		if s.failed.Add(1) == 1 {
			s.logger.Warn("NATS publish failed", "subject", s.subject, "error", err)
		}
		return errors.WrapTransient(err, "Sink", "publish", "frame publish")
	}

	s.published.Add(1)
	s.bytes.Add(int64(len(data)))
	if s.metrics != nil {
		s.metrics.bytesPublished.Add(float64(len(data)))
	}
	return nil
}

// Published returns the number of frames handed to the publisher
func (s *Sink) Published() int64 {
	return s.published.Load()
}

// Failed returns the number of frames that could not be published,
// including frames dropped by a full publish queue.
func (s *Sink) Failed() int64 {
	return s.failed.Load()
}

// Pending returns the number of frames waiting in the publish queue.
func (s *Sink) Pending() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.Stats().QueueDepth
}
