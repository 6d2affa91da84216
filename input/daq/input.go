package daq

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/daqstream/config"
	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/pkg/buffer"
)

// degradedWindow is how long after the last overrun or read error the input
// reports degraded.
const degradedWindow = 5 * time.Second

func recent(unixNanos int64) bool {
	return unixNanos != 0 && time.Since(time.Unix(0, unixNanos)) < degradedWindow
}

// Deps holds runtime dependencies for the acquisition input
type Deps struct {
	Config config.InputConfig
	Buffer *buffer.Shared
	// Source overrides the UDP socket described by Config.
	Source          Source
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of the input counters.
type Stats struct {
	Chunks       int64     `json:"chunks"`
	Bytes        int64     `json:"bytes"`
	Overruns     int64     `json:"overruns"`
	Malformed    int64     `json:"malformed"`
	StaleWrites  int64     `json:"stale_writes"`
	Errors       int64     `json:"errors"`
	LastActivity time.Time `json:"last_activity"`
}

// Input is the producer side of the sample buffer: it receives chunks from a
// Source and commits them in place into the buffer's write region.
type Input struct {
	cfg    config.InputConfig
	buf    *buffer.Shared
	logger *slog.Logger

	mu        sync.Mutex
	src       Source
	ownSource bool
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time

	chunks       atomic.Int64
	bytes        atomic.Int64
	overruns     atomic.Int64
	malformed    atomic.Int64
	staleWrites  atomic.Int64
	errCount     atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastOverrun  atomic.Int64 // unix nanos
	lastErrorAt  atomic.Int64 // unix nanos
	lastError    atomic.Value // string

	metrics *inputMetrics
}

// NewInput creates an acquisition input. The buffer must be initialised
// before Start.
func NewInput(deps Deps) (*Input, error) {
	if deps.Buffer == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil sample buffer", errors.ErrMissingConfig),
			"Input", "NewInput", "dependency validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "daq-input")
	}

	in := &Input{
		cfg:    deps.Config,
		buf:    deps.Buffer,
		logger: logger,
		src:    deps.Source,
	}
	in.lastError.Store("")

	if deps.MetricsRegistry != nil {
		m, err := newInputMetrics(deps.MetricsRegistry, "daq_input")
		if err != nil {
			return nil, errors.WrapTransient(err, "Input", "NewInput", "metrics registration")
		}
		in.metrics = m
	}

	return in, nil
}

// Start binds the source (when none was supplied) and begins receiving.
// Calling Start on a running input is a no-op.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}
	if !in.buf.Initialised() {
		return errors.WrapInvalid(errors.ErrNotInitialised, "Input", "Start", "buffer check")
	}

	if in.src == nil || in.ownSource {
		src, err := ListenUDP(ctx, UDPSourceConfig{
			BindAddress:      in.cfg.BindAddress,
			Port:             in.cfg.Port,
			ReadTimeout:      in.cfg.ReadTimeout,
			SocketBufferSize: in.cfg.SocketBufferSize,
			Retry:            in.cfg.BindRetry,
		}, in.logger)
		if err != nil {
			return errors.Wrap(err, "Input", "Start", "source binding")
		}
		in.src = src
		in.ownSource = true
		in.logger.Info("UDP acquisition input listening", "address", src.LocalAddr().String())
	}

	in.shutdown = make(chan struct{})
	in.done = make(chan struct{})
	in.startTime = time.Now()
	in.running.Store(true)

	go func(src Source, shutdown, done chan struct{}) {
		defer close(done)
		in.readLoop(ctx, src, shutdown)
	}(in.src, in.shutdown, in.done)

	return nil
}

// Stop closes the source and waits up to timeout for the read loop to exit.
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	if !in.running.Load() {
		in.mu.Unlock()
		return nil
	}
	in.running.Store(false)
	close(in.shutdown)
	src, done := in.src, in.done
	in.mu.Unlock()

	// Closing unblocks a pending ReadChunk
	if err := src.Close(); err != nil {
		in.logger.Debug("Source close failed", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Input", "Stop", "graceful shutdown")
	}
}

func (in *Input) readLoop(ctx context.Context, src Source, shutdown <-chan struct{}) {
	layout := in.buf.Layout()
	mapLen := layout.RunawayZoneLength()
	rowSize := layout.RowSize()
	// One spare byte detects chunks larger than a map request.
	scratch := make([]byte, mapLen+1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		// Read in place only when the region has room for the spare byte;
		// otherwise an oversized datagram would be truncated to a valid size.
		r, ok := in.buf.Reserve()
		if ok && len(r.Region) <= mapLen {
			_ = in.buf.Commit(r, 0)
			ok = false
		}
		dst := scratch
		if ok {
			dst = r.Region[:mapLen+1]
		}

		n, err := src.ReadChunk(dst)
		if err != nil || n == 0 || n > mapLen || n%rowSize != 0 {
			if ok {
				_ = in.buf.Commit(r, 0)
			}
			if err != nil {
				if !in.handleReadError(err) {
					return
				}
				continue
			}
			if n != 0 {
				in.recordMalformed(n, rowSize, mapLen)
			}
			continue
		}

		if ok {
			err = in.buf.Commit(r, n)
		} else {
			// The consumer may have freed space while the read was blocked.
			err = in.buf.Write(scratch[:n])
		}
		if err != nil {
			switch {
			case stderrors.Is(err, errors.ErrStaleWrite):
				in.staleWrites.Add(1)
				if in.metrics != nil {
					in.metrics.staleWrites.Inc()
				}
			case stderrors.Is(err, errors.ErrBufferFull):
				in.recordOverrun()
			default:
				in.recordError(err)
			}
			continue
		}

		in.recordChunk(n)
	}
}

func (in *Input) recordChunk(n int) {
	now := time.Now()
	in.chunks.Add(1)
	in.bytes.Add(int64(n))
	in.lastActivity.Store(now.UnixNano())
	if in.metrics != nil {
		in.metrics.chunksReceived.Inc()
		in.metrics.bytesReceived.Add(float64(n))
		in.metrics.lastActivity.Set(float64(now.Unix()))
	}
}

func (in *Input) recordMalformed(n, rowSize, mapLen int) {
	in.malformed.Add(1)
	if in.metrics != nil {
		in.metrics.malformed.Inc()
	}
	in.logger.Debug("Dropping malformed chunk", "bytes", n, "row_size", rowSize, "max", mapLen)
}

// handleReadError records err and reports whether the loop should continue.
func (in *Input) handleReadError(err error) bool {
	if stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, io.EOF) {
		return false
	}
	in.recordError(err)
	if in.metrics != nil {
		in.metrics.socketErrors.Inc()
	}
	if !errors.IsTransient(err) {
		in.logger.Error("Acquisition source failed", "error", err)
		return false
	}
	return true
}

func (in *Input) recordError(err error) {
	in.errCount.Add(1)
	in.lastError.Store(err.Error())
	in.lastErrorAt.Store(time.Now().UnixNano())
}

func (in *Input) recordOverrun() {
	in.overruns.Add(1)
	in.lastOverrun.Store(time.Now().UnixNano())
	if in.metrics != nil {
		in.metrics.overruns.Inc()
	}
}

// Overruns returns the number of chunks dropped because the buffer was
// blocked. The count only grows.
func (in *Input) Overruns() int64 {
	return in.overruns.Load()
}

// Stats returns a snapshot of the input counters.
func (in *Input) Stats() Stats {
	var last time.Time
	if ns := in.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Chunks:       in.chunks.Load(),
		Bytes:        in.bytes.Load(),
		Overruns:     in.overruns.Load(),
		Malformed:    in.malformed.Load(),
		StaleWrites:  in.staleWrites.Load(),
		Errors:       in.errCount.Load(),
		LastActivity: last,
	}
}

// Health reports unhealthy when stopped and degraded while overruns are recent.
func (in *Input) Health() health.Status {
	if !in.running.Load() {
		return health.NewUnhealthy("daq-input", "not running")
	}

	in.mu.Lock()
	uptime := time.Since(in.startTime)
	in.mu.Unlock()

	stats := in.Stats()
	metrics := &health.Metrics{
		Uptime:       uptime,
		ErrorCount:   stats.Errors,
		Processed:    stats.Chunks,
		LastActivity: stats.LastActivity,
	}

	if recent(in.lastOverrun.Load()) {
		return health.NewDegraded("daq-input", "dropping chunks: sample buffer blocked").WithMetrics(metrics)
	}
	if recent(in.lastErrorAt.Load()) {
		msg, _ := in.lastError.Load().(string)
		status := health.FromError("daq-input", stderrors.New(msg))
		status.Status = health.StateDegraded
		return status.WithMetrics(metrics)
	}
	return health.NewHealthy("daq-input", "receiving").WithMetrics(metrics)
}

// Addr returns the bound UDP address, or nil when the input reads from a
// supplied Source or is not started.
func (in *Input) Addr() net.Addr {
	in.mu.Lock()
	defer in.mu.Unlock()
	if udp, ok := in.src.(*UDPSource); ok {
		return udp.LocalAddr()
	}
	return nil
}
