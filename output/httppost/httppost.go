// Package httppost provides a sink that POSTs decoded frames to an HTTP
// endpoint
package httppost

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/pkg/retry"
	"github.com/c360/daqstream/pkg/worker"
	"github.com/c360/daqstream/processor/cycle"
)

// Config holds configuration for the HTTP POST sink
type Config struct {
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	ContentType string
	// Retry governs per-frame delivery attempts. 5xx responses and
	// transport errors are retried; 4xx responses are not.
	Retry retry.Config
	// QueueSize bounds frames waiting for delivery. Delivery runs on a
	// single worker so frames arrive in order.
	QueueSize int
	TLS       *tls.Config
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(fmt.Errorf("%w: scheme %q", errors.ErrInvalidConfig, u.Scheme),
			"Config", "Validate", "url scheme")
	}
	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}
	if err := c.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "retry")
	}
	return nil
}

// DefaultConfig returns default configuration for the HTTP POST sink
func DefaultConfig() Config {
	return Config{
		Headers:     map[string]string{},
		Timeout:     10 * time.Second,
		ContentType: "application/json",
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		QueueSize: 64,
	}
}

var _ cycle.Sink = (*Output)(nil)

// Output delivers each frame as one JSON POST request
type Output struct {
	cfg        Config
	httpClient *http.Client
	pool       *worker.Pool[*cycle.Frame]
	logger     *slog.Logger

	running   atomic.Bool
	startTime atomic.Int64 // unix nanos

	framesSent   atomic.Int64
	retries      atomic.Int64
	failures     atomic.Int64
	lastActivity atomic.Int64 // unix nanos
}

// NewOutput creates an HTTP POST sink. registry and logger may be nil.
func NewOutput(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Output, error) {
	defaults := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaults.ContentType
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "httppost-output")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS
	}

	h := &Output{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:     logger,
	}

	opts := []worker.Option{worker.WithLogger(logger)}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry(registry))
	}
	pool, err := worker.NewPool(worker.Config{
		Name:      "httppost_delivery",
		Workers:   1,
		QueueSize: cfg.QueueSize,
	}, h.deliver, opts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "NewOutput", "delivery pool")
	}
	h.pool = pool
	return h, nil
}

// Name implements cycle.Sink
func (h *Output) Name() string {
	return "httppost"
}

// Start launches the delivery worker.
func (h *Output) Start(ctx context.Context) error {
	if err := h.pool.Start(ctx); err != nil {
		if stderrors.Is(err, worker.ErrPoolAlreadyStarted) {
			return nil
		}
		return errors.WrapFatal(err, "Output", "Start", "delivery pool start")
	}
	h.startTime.Store(time.Now().UnixNano())
	h.running.Store(true)
	h.logger.Info("HTTP POST output started", "url", h.cfg.URL, "queue_size", h.cfg.QueueSize)
	return nil
}

// Stop waits up to timeout for queued frames to be delivered.
func (h *Output) Stop(timeout time.Duration) error {
	if !h.running.Swap(false) {
		return nil
	}
	if err := h.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Output", "Stop", "delivery drain")
	}
	return nil
}

// Send implements cycle.Sink. The frame is queued; a full queue drops it.
func (h *Output) Send(_ context.Context, frame *cycle.Frame) error {
	if err := h.pool.Submit(frame); err != nil {
		h.failures.Add(1)
		return errors.WrapTransient(err, "Output", "Send", "frame enqueue")
	}
	return nil
}

func (h *Output) deliver(ctx context.Context, frame *cycle.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		h.failures.Add(1)
		return errors.WrapInvalid(err, "Output", "deliver", "frame encoding")
	}

	cfg := h.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		h.retries.Add(1)
		h.logger.Debug("Retrying frame delivery",
			"sequence", frame.Sequence, "attempt", attempt, "delay", delay, "error", err)
	}

	err = retry.Do(ctx, cfg, func() error {
		return h.post(ctx, data)
	})
	h.lastActivity.Store(time.Now().UnixNano())
	if err != nil {
		if h.failures.Add(1) == 1 {
			h.logger.Warn("Frame delivery failed", "url", h.cfg.URL, "sequence", frame.Sequence, "error", err)
		}
		return err
	}
	h.framesSent.Add(1)
	return nil
}

// post sends a single request; client errors are not retried.
func (h *Output) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", h.cfg.ContentType)
	for key, value := range h.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Output", "post", "http request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(fmt.Errorf("HTTP %d", resp.StatusCode), "Output", "post", "server response")
	default:
		return retry.NonRetryable(fmt.Errorf("HTTP %d", resp.StatusCode))
	}
}

// Sent returns the number of frames acknowledged with a 2xx response
func (h *Output) Sent() int64 {
	return h.framesSent.Load()
}

// Failed returns the number of frames dropped or not delivered
func (h *Output) Failed() int64 {
	return h.failures.Load()
}

// Retries returns the number of delivery retries
func (h *Output) Retries() int64 {
	return h.retries.Load()
}

// Health reports degraded while deliveries are failing.
func (h *Output) Health() health.Status {
	if !h.running.Load() {
		return health.NewUnhealthy("httppost-output", "not running")
	}

	var last time.Time
	if ns := h.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	metrics := &health.Metrics{
		Uptime:       time.Since(time.Unix(0, h.startTime.Load())),
		ErrorCount:   h.failures.Load(),
		Processed:    h.framesSent.Load(),
		LastActivity: last,
	}

	if h.failures.Load() > 0 && h.framesSent.Load() == 0 {
		return health.NewDegraded("httppost-output", "no frame delivered yet").WithMetrics(metrics)
	}
	return health.NewHealthy("httppost-output", "delivering to "+h.cfg.URL).WithMetrics(metrics)
}
