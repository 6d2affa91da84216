package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/daqstream/config"
	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/pkg/buffer"
)

// Cycle outcomes as recorded in metrics.
const (
	OutcomeRead   = "read"
	OutcomeMissed = "missed"
	OutcomeFailed = "failed"
	OutcomeReset  = "reset"
)

// starvedAfter is the number of consecutive missed cycles after which the
// cycle reports degraded.
const starvedAfter = 100

// Sink receives every decoded frame. Send is called from the cycle goroutine
// and should not block for longer than a cycle period.
type Sink interface {
	Name() string
	Send(ctx context.Context, frame *Frame) error
}

// OverrunCounter reports a monotonically growing count of chunks the
// producer had to drop.
type OverrunCounter interface {
	Overruns() int64
}

// Deps holds runtime dependencies for the control cycle
type Deps struct {
	Config   config.CycleConfig
	Buffer   *buffer.Shared
	Sinks    []Sink
	Overruns OverrunCounter
	// Metrics records cycle outcomes; nil disables Prometheus export.
	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Stats is a snapshot of the cycle counters.
type Stats struct {
	Read       int64     `json:"read"`
	Missed     int64     `json:"missed"`
	Failed     int64     `json:"failed"`
	Resets     int64     `json:"resets"`
	SinkErrors int64     `json:"sink_errors"`
	LastFrame  time.Time `json:"last_frame"`
}

// Cycle is the consumer side of the sample buffer: once per period it takes
// the active read unit, decodes it and dispatches the frame to the sinks.
type Cycle struct {
	cfg      config.CycleConfig
	buf      *buffer.Shared
	sinks    []Sink
	overruns OverrunCounter
	metrics  *metric.Metrics
	logger   *slog.Logger
	cal      *Calibration
	runID    string

	mu        sync.Mutex
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time

	// Step state, owned by whichever goroutine calls Step.
	sequence          uint64
	lastOverruns      int64
	overrunStreak     int
	consecutiveMissed atomic.Int64

	read       atomic.Int64
	missed     atomic.Int64
	failed     atomic.Int64
	resets     atomic.Int64
	sinkErrors atomic.Int64
	lastFrame  atomic.Int64 // unix nanos
}

// NewCycle creates a control cycle over an initialised buffer.
func NewCycle(deps Deps) (*Cycle, error) {
	if deps.Buffer == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil sample buffer", errors.ErrMissingConfig),
			"Cycle", "NewCycle", "dependency validation")
	}
	if !deps.Buffer.Initialised() {
		return nil, errors.WrapInvalid(errors.ErrNotInitialised, "Cycle", "NewCycle", "buffer check")
	}
	if deps.Config.Period <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: period must be positive", errors.ErrInvalidConfig),
			"Cycle", "NewCycle", "config validation")
	}

	layout := deps.Buffer.Layout()
	cal, err := NewCalibration(layout.NChannels, layout.ReadSamples, deps.Config.Gains, deps.Config.Offsets)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Cycle", "NewCycle", "calibration")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "control-cycle")
	}

	c := &Cycle{
		cfg:      deps.Config,
		buf:      deps.Buffer,
		sinks:    deps.Sinks,
		overruns: deps.Overruns,
		metrics:  deps.Metrics,
		logger:   logger,
		cal:      cal,
		runID:    uuid.NewString(),
	}
	if c.overruns != nil {
		c.lastOverruns = c.overruns.Overruns()
	}
	return c, nil
}

// RunID identifies this process run in every emitted frame.
func (c *Cycle) RunID() string {
	return c.runID
}

// Start launches the ticker goroutine. Calling Start on a running cycle is a
// no-op.
func (c *Cycle) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	c.startTime = time.Now()
	c.running.Store(true)
	c.recordStatus(1)

	go func(shutdown, done chan struct{}) {
		defer close(done)
		c.run(ctx, shutdown)
	}(c.shutdown, c.done)

	c.logger.Info("Control cycle started", "run_id", c.runID, "period", c.cfg.Period)
	return nil
}

// Stop halts the ticker and waits up to timeout for the in-flight cycle.
func (c *Cycle) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return nil
	}
	c.running.Store(false)
	close(c.shutdown)
	done := c.done
	c.mu.Unlock()

	c.recordStatus(0)

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Cycle", "Stop", "graceful shutdown")
	}
}

func (c *Cycle) run(ctx context.Context, shutdown <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			outcome, err := c.Step(ctx)
			if err != nil {
				c.logger.Warn("Control cycle failed", "outcome", outcome, "error", err)
			}
		}
	}
}

// Step runs one cycle: overrun recovery, then at most one read unit is
// decoded, checked out and sent to the sinks. Step must not be called
// concurrently with itself; the running cycle calls it on every tick.
func (c *Cycle) Step(ctx context.Context) (string, error) {
	start := time.Now()

	if c.recoverFromOverruns() {
		c.observe(OutcomeReset, 0)
		return OutcomeReset, nil
	}

	var frame *Frame
	handled, err := c.buf.Consume(func(channels []buffer.ChannelView, ts buffer.ChannelView) error {
		frame = decode(channels, ts, c.cal)
		return nil
	})
	if err != nil {
		c.failed.Add(1)
		if c.metrics != nil {
			c.metrics.RecordError("cycle", errors.Classify(err).String())
		}
		c.observe(OutcomeFailed, 0)
		return OutcomeFailed, errors.Wrap(err, "Cycle", "Step", "read unit consumption")
	}
	if !handled {
		c.missed.Add(1)
		c.consecutiveMissed.Add(1)
		c.observe(OutcomeMissed, 0)
		return OutcomeMissed, nil
	}
	c.consecutiveMissed.Store(0)

	c.sequence++
	frame.RunID = c.runID
	frame.Sequence = c.sequence
	frame.Time = start

	c.dispatch(ctx, frame)

	c.read.Add(1)
	c.lastFrame.Store(start.UnixNano())
	c.observe(OutcomeRead, time.Since(start))
	return OutcomeRead, nil
}

// recoverFromOverruns resets the buffer once the producer has reported
// overruns for ResetAfterOverruns consecutive cycles.
func (c *Cycle) recoverFromOverruns() bool {
	if c.overruns == nil || c.cfg.ResetAfterOverruns <= 0 {
		return false
	}

	current := c.overruns.Overruns()
	if current > c.lastOverruns {
		c.overrunStreak++
	} else {
		c.overrunStreak = 0
	}
	c.lastOverruns = current

	if c.overrunStreak < c.cfg.ResetAfterOverruns {
		return false
	}
	c.overrunStreak = 0

	if err := c.buf.Reset(); err != nil {
		c.logger.Error("Buffer reset failed", "error", err)
		return false
	}
	c.resets.Add(1)
	if c.metrics != nil {
		c.metrics.RecordBufferReset()
	}
	c.logger.Warn("Sample buffer reset after sustained overruns",
		"threshold", c.cfg.ResetAfterOverruns, "overruns", current)
	return true
}

func (c *Cycle) dispatch(ctx context.Context, frame *Frame) {
	for _, sink := range c.sinks {
		status := "ok"
		if err := sink.Send(ctx, frame); err != nil {
			status = "error"
			c.sinkErrors.Add(1)
			c.logger.Debug("Sink rejected frame", "sink", sink.Name(), "sequence", frame.Sequence, "error", err)
		}
		if c.metrics != nil {
			c.metrics.RecordFramePublished(sink.Name(), status)
		}
	}
}

func (c *Cycle) observe(outcome string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCycle(outcome)
	if outcome == OutcomeRead {
		c.metrics.RecordCycleDuration(d)
	}
}

func (c *Cycle) recordStatus(status int) {
	if c.metrics != nil {
		c.metrics.RecordComponentStatus("cycle", status)
	}
}

// Stats returns a snapshot of the cycle counters.
func (c *Cycle) Stats() Stats {
	var last time.Time
	if ns := c.lastFrame.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Read:       c.read.Load(),
		Missed:     c.missed.Load(),
		Failed:     c.failed.Load(),
		Resets:     c.resets.Load(),
		SinkErrors: c.sinkErrors.Load(),
		LastFrame:  last,
	}
}

// Health reports unhealthy when stopped and degraded while starved of data.
func (c *Cycle) Health() health.Status {
	if !c.running.Load() {
		return health.NewUnhealthy("control-cycle", "not running")
	}

	c.mu.Lock()
	uptime := time.Since(c.startTime)
	c.mu.Unlock()

	stats := c.Stats()
	metrics := &health.Metrics{
		Uptime:       uptime,
		ErrorCount:   stats.Failed + stats.SinkErrors,
		Processed:    stats.Read,
		LastActivity: stats.LastFrame,
	}

	if c.consecutiveMissed.Load() >= starvedAfter {
		return health.NewDegraded("control-cycle", "no complete read unit for many cycles").WithMetrics(metrics)
	}
	return health.NewHealthy("control-cycle", "cycling").WithMetrics(metrics)
}
