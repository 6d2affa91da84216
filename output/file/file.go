// Package file provides a sink that records decoded frames to disk
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/processor/cycle"
)

// Supported record formats.
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Config holds configuration for the frame recorder
type Config struct {
	Directory  string `json:"directory" mapstructure:"directory" yaml:"directory"`
	FilePrefix string `json:"file_prefix" mapstructure:"file_prefix" yaml:"file_prefix"`
	// Format is jsonl (one frame per line) or json (indented frames).
	Format string `json:"format" mapstructure:"format" yaml:"format"`
	Append bool   `json:"append" mapstructure:"append" yaml:"append"`
	// BufferSize frames are batched before a write; FlushInterval bounds
	// how long a partial batch waits.
	BufferSize    int           `json:"buffer_size" mapstructure:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.Format != FormatJSONL && c.Format != FormatJSON {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: jsonl, json")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the recorder
func DefaultConfig() Config {
	return Config{
		Directory:     "/tmp/daqstream",
		FilePrefix:    "frames",
		Format:        FormatJSONL,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

var _ cycle.Sink = (*Output)(nil)

// Output appends every frame to a single file
type Output struct {
	cfg    Config
	path   string
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown    chan struct{}
	running     atomic.Bool
	startTime   time.Time
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	framesWritten atomic.Int64
	bytesWritten  atomic.Int64
	writeErrors   atomic.Int64
	lastActivity  atomic.Int64 // unix nanos

	metrics *outputMetrics
}

type outputMetrics struct {
	framesWritten prometheus.Counter
	bytesWritten  prometheus.Counter
	writeErrors   prometheus.Counter
}

func newOutputMetrics(registry *metric.MetricsRegistry) (*outputMetrics, error) {
	m := &outputMetrics{
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "file_sink",
			Name:      "frames_written_total",
			Help:      "Frames written to the record file",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "file_sink",
			Name:      "bytes_written_total",
			Help:      "Bytes written to the record file",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "file_sink",
			Name:      "write_errors_total",
			Help:      "Frames lost to write failures",
		}),
	}
	if err := registry.RegisterCounter("file_sink", "frames_written", m.framesWritten); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("file_sink", "bytes_written", m.bytesWritten); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("file_sink", "write_errors", m.writeErrors); err != nil {
		return nil, err
	}
	return m, nil
}

// NewOutput creates a frame recorder. registry and logger may be nil.
func NewOutput(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Output, error) {
	defaults := DefaultConfig()
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaults.FilePrefix
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "file-output")
	}

	f := &Output{
		cfg:    cfg,
		path:   filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format)),
		logger: logger,
		buffer: make([][]byte, 0, cfg.BufferSize),
	}
	if registry != nil {
		m, err := newOutputMetrics(registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Output", "NewOutput", "metrics registration")
		}
		f.metrics = m
	}
	return f, nil
}

// Name implements cycle.Sink
func (f *Output) Name() string {
	return "file"
}

// Path returns the record file path
func (f *Output) Path() string {
	return f.path
}

// Start creates the directory, opens the record file and starts the flush
// loop. Calling Start on a running recorder is a no-op.
func (f *Output) Start(_ context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running.Load() {
		return nil
	}

	if err := os.MkdirAll(f.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Output", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Start", "open output file")
	}

	f.fileMu.Lock()
	f.file = file
	f.fileMu.Unlock()

	f.shutdown = make(chan struct{})
	f.startTime = time.Now()
	f.running.Store(true)

	f.wg.Add(1)
	go f.flushLoop(f.shutdown)

	f.logger.Info("File output started",
		"output_file", f.path,
		"format", f.cfg.Format,
		"append", f.cfg.Append,
		"buffer_size", f.cfg.BufferSize)
	return nil
}

// Stop flushes buffered frames and closes the file.
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running.Load() {
		return nil
	}
	f.running.Store(false)
	close(f.shutdown)

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	f.flush()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return errors.WrapTransient(err, "Output", "Stop", "close output file")
	}
	return nil
}

// Send implements cycle.Sink. The frame is encoded immediately and written
// with the next batch.
func (f *Output) Send(ctx context.Context, frame *cycle.Frame) error {
	if !f.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Send", "check running state")
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.Format == FormatJSON {
		data, err = json.MarshalIndent(frame, "", "  ")
	} else {
		data, err = json.Marshal(frame)
	}
	if err != nil {
		f.recordError(1)
		return errors.WrapInvalid(err, "Output", "Send", "frame encoding")
	}
	data = append(data, '\n')

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, data)
	shouldFlush := len(f.buffer) >= f.cfg.BufferSize
	f.bufferMu.Unlock()

	f.lastActivity.Store(time.Now().UnixNano())

	if shouldFlush && ctx.Err() == nil {
		f.flush()
	}
	return nil
}

func (f *Output) flushLoop(shutdown <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered frames to the file
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	frames := f.buffer
	f.buffer = make([][]byte, 0, f.cfg.BufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		f.recordError(len(frames))
		f.logger.Error("File handle is nil during flush", "frames_lost", len(frames))
		return
	}

	for _, data := range frames {
		n, err := f.file.Write(data)
		if err != nil {
			f.recordError(1)
			f.logger.Error("Failed to write frame to file", "path", f.path, "error", err)
			continue
		}
		f.framesWritten.Add(1)
		f.bytesWritten.Add(int64(n))
		if f.metrics != nil {
			f.metrics.framesWritten.Inc()
			f.metrics.bytesWritten.Add(float64(n))
		}
	}
}

func (f *Output) recordError(n int) {
	f.writeErrors.Add(int64(n))
	if f.metrics != nil {
		f.metrics.writeErrors.Add(float64(n))
	}
}

// Written returns the number of frames written to disk
func (f *Output) Written() int64 {
	return f.framesWritten.Load()
}

// Health reports unhealthy when the file is not open and degraded after
// write errors.
func (f *Output) Health() health.Status {
	if !f.running.Load() {
		return health.NewUnhealthy("file-output", "not running")
	}

	f.lifecycleMu.Lock()
	uptime := time.Since(f.startTime)
	f.lifecycleMu.Unlock()

	var last time.Time
	if ns := f.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	metrics := &health.Metrics{
		Uptime:       uptime,
		ErrorCount:   f.writeErrors.Load(),
		Processed:    f.framesWritten.Load(),
		LastActivity: last,
	}

	if f.writeErrors.Load() > 0 {
		return health.NewDegraded("file-output", "frames lost to write errors").WithMetrics(metrics)
	}
	return health.NewHealthy("file-output", "recording to "+f.path).WithMetrics(metrics)
}
