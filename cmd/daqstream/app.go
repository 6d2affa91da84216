package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/daqstream/component"
	"github.com/c360/daqstream/config"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/input/daq"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/natsclient"
	"github.com/c360/daqstream/output/file"
	"github.com/c360/daqstream/output/httppost"
	natsout "github.com/c360/daqstream/output/nats"
	"github.com/c360/daqstream/output/websocket"
	"github.com/c360/daqstream/pkg/buffer"
	"github.com/c360/daqstream/pkg/retry"
	"github.com/c360/daqstream/pkg/tlsutil"
	"github.com/c360/daqstream/processor/cycle"
)

// app wires the acquisition pipeline: input -> shared buffer -> cycle -> sinks.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *metric.MetricsRegistry
	monitor    *health.Monitor
	components *component.Manager

	shared *buffer.Shared
	input  *daq.Input
	cycle  *cycle.Cycle

	natsClient *natsclient.Client
	natsSink   *natsout.Sink
	ws         *websocket.Output
	recorder   *file.Output
	webhook    *httppost.Output
	metrics    *metric.Server
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   metric.NewMetricsRegistry(),
		monitor:    health.NewMonitor(),
		components: component.NewManager(logger.With("component", "component-manager")),
	}

	sb, err := buffer.NewSampleBuffer(
		buffer.WithMetrics(a.registry, "acquisition"),
		buffer.WithLogger(logger.With("component", "sample-buffer")),
	)
	if err != nil {
		return nil, fmt.Errorf("create sample buffer: %w", err)
	}
	if err := sb.Initialise(cfg.Buffer); err != nil {
		return nil, fmt.Errorf("initialise sample buffer: %w", err)
	}
	a.shared = buffer.NewShared(sb)
	a.monitor.Register("sample-buffer", health.CheckerFunc(a.bufferHealth))

	a.input, err = daq.NewInput(daq.Deps{
		Config:          cfg.Input,
		Buffer:          a.shared,
		MetricsRegistry: a.registry,
		Logger:          logger.With("component", "daq-input"),
	})
	if err != nil {
		return nil, fmt.Errorf("create input: %w", err)
	}
	a.monitor.Register("daq-input", a.input)

	sinks, err := a.buildSinks()
	if err != nil {
		return nil, err
	}

	a.cycle, err = cycle.NewCycle(cycle.Deps{
		Config:   cfg.Cycle,
		Buffer:   a.shared,
		Sinks:    sinks,
		Overruns: a.input,
		Metrics:  a.registry.CoreMetrics(),
		Logger:   logger.With("component", "control-cycle"),
	})
	if err != nil {
		return nil, fmt.Errorf("create control cycle: %w", err)
	}
	a.monitor.Register("control-cycle", a.cycle)

	if cfg.Metrics.Enabled {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
		a.metrics.SetHealthHandler(health.Handler(a.monitor, appName))
	}

	if err := a.assemble(); err != nil {
		return nil, fmt.Errorf("assemble components: %w", err)
	}
	return a, nil
}

func (a *app) buildSinks() ([]cycle.Sink, error) {
	var sinks []cycle.Sink

	if a.cfg.NATS.Enabled {
		tlsConfig, err := tlsutil.LoadClientConfig(a.cfg.NATS.TLS)
		if err != nil {
			return nil, fmt.Errorf("load NATS TLS: %w", err)
		}
		client, err := natsclient.NewClient(a.cfg.NATS.URL,
			natsclient.WithName(a.cfg.NATS.Name),
			natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait),
			natsclient.WithTLSConfig(tlsConfig),
			natsclient.WithLogger(a.logger.With("component", "natsclient")),
		)
		if err != nil {
			return nil, fmt.Errorf("create NATS client: %w", err)
		}
		sink, err := natsout.NewSink(natsout.Config{
			Subject:   a.cfg.NATS.Subject,
			Workers:   a.cfg.NATS.PublishWorkers,
			QueueSize: a.cfg.NATS.PublishQueue,
		}, client, a.registry, a.logger.With("component", "nats-sink"))
		if err != nil {
			return nil, fmt.Errorf("create NATS sink: %w", err)
		}
		a.natsClient = client
		a.natsSink = sink
		a.monitor.Register("nats", client)
		sinks = append(sinks, sink)
	}

	if a.cfg.WebSocket.Enabled {
		tlsConfig, err := tlsutil.LoadServerConfig(a.cfg.WebSocket.TLS)
		if err != nil {
			return nil, fmt.Errorf("load WebSocket TLS: %w", err)
		}
		ws, err := websocket.NewOutput(websocket.Config{
			Port:         a.cfg.WebSocket.Port,
			Path:         a.cfg.WebSocket.Path,
			WriteTimeout: a.cfg.WebSocket.WriteTimeout,
			TLS:          tlsConfig,
		}, a.registry, a.logger.With("component", "websocket-output"))
		if err != nil {
			return nil, fmt.Errorf("create WebSocket output: %w", err)
		}
		a.ws = ws
		a.monitor.Register("websocket-output", ws)
		sinks = append(sinks, ws)
	}

	if a.cfg.Record.Enabled {
		rec, err := file.NewOutput(file.Config{
			Directory:     a.cfg.Record.Directory,
			FilePrefix:    a.cfg.Record.FilePrefix,
			Format:        a.cfg.Record.Format,
			Append:        a.cfg.Record.Append,
			BufferSize:    a.cfg.Record.BufferSize,
			FlushInterval: a.cfg.Record.FlushInterval,
		}, a.registry, a.logger.With("component", "file-output"))
		if err != nil {
			return nil, fmt.Errorf("create frame recorder: %w", err)
		}
		a.recorder = rec
		a.monitor.Register("file-output", rec)
		sinks = append(sinks, rec)
	}

	if a.cfg.Webhook.Enabled {
		tlsConfig, err := tlsutil.LoadClientConfig(a.cfg.Webhook.TLS)
		if err != nil {
			return nil, fmt.Errorf("load webhook TLS: %w", err)
		}
		hook, err := httppost.NewOutput(httppost.Config{
			URL:       a.cfg.Webhook.URL,
			Headers:   a.cfg.Webhook.Headers,
			Timeout:   a.cfg.Webhook.Timeout,
			Retry:     a.cfg.Webhook.Retry,
			QueueSize: a.cfg.Webhook.QueueSize,
			TLS:       tlsConfig,
		}, a.registry, a.logger.With("component", "httppost-output"))
		if err != nil {
			return nil, fmt.Errorf("create webhook output: %w", err)
		}
		a.webhook = hook
		a.monitor.Register("httppost-output", hook)
		sinks = append(sinks, hook)
	}

	if len(sinks) == 0 {
		a.logger.Warn("No frame sinks enabled; frames are decoded and discarded")
	}
	return sinks, nil
}

// assemble registers components consumer-first so no frame is produced
// before its sinks exist; the manager stops them producer-first.
func (a *app) assemble() error {
	type entry struct {
		name string
		c    component.Lifecycle
	}
	var entries []entry

	if a.metrics != nil {
		entries = append(entries, entry{"metrics", component.Funcs{
			OnStart: func(context.Context) error {
				if err := a.metrics.Start(); err != nil {
					return err
				}
				a.logger.Info("Metrics server listening", "address", a.metrics.Address())
				return nil
			},
			OnStop: a.metrics.Stop,
		}})
	}
	if a.natsClient != nil {
		entries = append(entries, entry{"nats", component.Funcs{
			OnStart: a.startNATS,
			OnStop:  a.stopNATS,
		}})
	}
	if a.ws != nil {
		entries = append(entries, entry{"websocket-output", a.ws})
	}
	if a.recorder != nil {
		entries = append(entries, entry{"file-output", a.recorder})
	}
	if a.webhook != nil {
		entries = append(entries, entry{"httppost-output", a.webhook})
	}
	entries = append(entries,
		entry{"control-cycle", a.cycle},
		entry{"daq-input", a.input},
	)

	for _, e := range entries {
		if err := a.components.Add(e.name, e.c); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) startNATS(ctx context.Context) error {
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return a.natsClient.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	return a.natsSink.Start(ctx)
}

// stopNATS drains queued frames before the connection closes.
func (a *app) stopNATS(timeout time.Duration) error {
	var errs []error
	if err := a.natsSink.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("drain NATS sink: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.natsClient.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close NATS client: %w", err))
	}
	return stderrors.Join(errs...)
}

func (a *app) start(ctx context.Context) error {
	return a.components.Start(ctx)
}

func (a *app) stop(timeout time.Duration) error {
	err := a.components.Stop(timeout)

	summary := a.shared.Stats().Summary()
	a.logger.Info("Pipeline stopped",
		"bytes_written", summary.BytesWritten,
		"checkouts", summary.Checkouts,
		"rejected", summary.Rejected,
		"resets", summary.Resets)

	return err
}

func (a *app) bufferHealth() health.Status {
	if !a.shared.Initialised() {
		return health.NewUnhealthy("sample-buffer", "not initialised")
	}
	stats := a.shared.Stats()
	metrics := &health.Metrics{
		Uptime:    stats.Uptime(),
		Processed: stats.Checkouts(),
	}
	if pending := a.shared.Pending(); pending >= a.cfg.Buffer.NOfBuffers {
		return health.NewDegraded("sample-buffer",
			fmt.Sprintf("all %d sub-buffers awaiting checkout", pending)).WithMetrics(metrics)
	}
	return health.NewHealthy("sample-buffer", "accepting data").WithMetrics(metrics)
}
