package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/pkg/buffer"
	"github.com/c360/daqstream/pkg/retry"
	"github.com/c360/daqstream/pkg/tlsutil"
)

// Config represents the complete application configuration
type Config struct {
	Buffer    buffer.Layout   `json:"buffer" mapstructure:"buffer" yaml:"buffer"`
	Input     InputConfig     `json:"input" mapstructure:"input" yaml:"input"`
	Cycle     CycleConfig     `json:"cycle" mapstructure:"cycle" yaml:"cycle"`
	NATS      NATSConfig      `json:"nats" mapstructure:"nats" yaml:"nats"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket" yaml:"websocket"`
	Record    RecordConfig    `json:"record" mapstructure:"record" yaml:"record"`
	Webhook   WebhookConfig   `json:"webhook" mapstructure:"webhook" yaml:"webhook"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics" yaml:"metrics"`
}

// InputConfig configures the UDP acquisition input
type InputConfig struct {
	BindAddress      string        `json:"bind_address" mapstructure:"bind_address" yaml:"bind_address"`
	Port             int           `json:"port" mapstructure:"port" yaml:"port"`
	ReadTimeout      time.Duration `json:"read_timeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	SocketBufferSize int           `json:"socket_buffer_size" mapstructure:"socket_buffer_size" yaml:"socket_buffer_size"`
	BindRetry        retry.Config  `json:"bind_retry" mapstructure:"bind_retry" yaml:"bind_retry"`
}

// CycleConfig configures the control cycle consumer
type CycleConfig struct {
	Period time.Duration `json:"period" mapstructure:"period" yaml:"period"`
	// Gains and Offsets convert raw counts to engineering units per channel:
	// value = raw*gain + offset. Empty means gain 1 and offset 0.
	Gains   []float64 `json:"gains,omitempty" mapstructure:"gains" yaml:"gains,omitempty"`
	Offsets []float64 `json:"offsets,omitempty" mapstructure:"offsets" yaml:"offsets,omitempty"`
	// ResetAfterOverruns rewinds the buffer after this many consecutive
	// cycles in which the input reported overruns. Zero disables recovery.
	ResetAfterOverruns int `json:"reset_after_overruns" mapstructure:"reset_after_overruns" yaml:"reset_after_overruns"`
}

// NATSConfig configures the NATS frame publisher
type NATSConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	URL           string        `json:"url" mapstructure:"url" yaml:"url"`
	Subject       string        `json:"subject" mapstructure:"subject" yaml:"subject"`
	Name          string        `json:"name" mapstructure:"name" yaml:"name"`
	MaxReconnects int           `json:"max_reconnects" mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	// PublishWorkers > 0 publishes off the cycle goroutine; 1 keeps order.
	PublishWorkers int `json:"publish_workers" mapstructure:"publish_workers" yaml:"publish_workers"`
	PublishQueue   int `json:"publish_queue" mapstructure:"publish_queue" yaml:"publish_queue"`

	TLS tlsutil.ClientConfig `json:"tls" mapstructure:"tls" yaml:"tls"`
}

// WebSocketConfig configures the WebSocket frame broadcaster
type WebSocketConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Port         int           `json:"port" mapstructure:"port" yaml:"port"`
	Path         string        `json:"path" mapstructure:"path" yaml:"path"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`

	TLS tlsutil.ServerConfig `json:"tls" mapstructure:"tls" yaml:"tls"`
}

// RecordConfig configures the on-disk frame recorder
type RecordConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Directory     string        `json:"directory" mapstructure:"directory" yaml:"directory"`
	FilePrefix    string        `json:"file_prefix" mapstructure:"file_prefix" yaml:"file_prefix"`
	Format        string        `json:"format" mapstructure:"format" yaml:"format"`
	Append        bool          `json:"append" mapstructure:"append" yaml:"append"`
	BufferSize    int           `json:"buffer_size" mapstructure:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval" yaml:"flush_interval"`
}

// WebhookConfig configures HTTP POST delivery of frames
type WebhookConfig struct {
	Enabled   bool                 `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	URL       string               `json:"url" mapstructure:"url" yaml:"url"`
	Headers   map[string]string    `json:"headers,omitempty" mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout   time.Duration        `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	QueueSize int                  `json:"queue_size" mapstructure:"queue_size" yaml:"queue_size"`
	Retry     retry.Config         `json:"retry" mapstructure:"retry" yaml:"retry"`
	TLS       tlsutil.ClientConfig `json:"tls" mapstructure:"tls" yaml:"tls"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Port    int    `json:"port" mapstructure:"port" yaml:"port"`
	Path    string `json:"path" mapstructure:"path" yaml:"path"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config update")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "config validation")
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "buffer section")
	}

	if !validPort(c.Input.Port) {
		return invalid("input.port %d out of range", c.Input.Port)
	}
	if c.Input.ReadTimeout < 0 {
		return invalid("input.read_timeout cannot be negative")
	}
	if c.Input.SocketBufferSize < 0 {
		return invalid("input.socket_buffer_size cannot be negative")
	}
	if err := c.Input.BindRetry.Validate(); err != nil {
		return invalid("input.bind_retry: %v", err)
	}

	if c.Cycle.Period <= 0 {
		return invalid("cycle.period must be positive, got %s", c.Cycle.Period)
	}
	if n := len(c.Cycle.Gains); n != 0 && n != c.Buffer.NChannels {
		return invalid("cycle.gains has %d entries for %d channels", n, c.Buffer.NChannels)
	}
	if n := len(c.Cycle.Offsets); n != 0 && n != c.Buffer.NChannels {
		return invalid("cycle.offsets has %d entries for %d channels", n, c.Buffer.NChannels)
	}
	if c.Cycle.ResetAfterOverruns < 0 {
		return invalid("cycle.reset_after_overruns cannot be negative")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return invalid("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" || strings.ContainsAny(c.NATS.Subject, " \t*>") {
			return invalid("nats.subject %q is not a valid publish subject", c.NATS.Subject)
		}
		if c.NATS.PublishWorkers < 0 || c.NATS.PublishQueue < 0 {
			return invalid("nats.publish_workers and nats.publish_queue cannot be negative")
		}
		if tc := c.NATS.TLS; tc.Enabled && (tc.CertFile == "") != (tc.KeyFile == "") {
			return invalid("nats.tls needs both cert_file and key_file for a client certificate")
		}
	}

	if c.WebSocket.Enabled {
		if !validPort(c.WebSocket.Port) {
			return invalid("websocket.port %d out of range", c.WebSocket.Port)
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return invalid("websocket.path %q must start with /", c.WebSocket.Path)
		}
		if tc := c.WebSocket.TLS; tc.Enabled && (tc.CertFile == "" || tc.KeyFile == "") {
			return invalid("websocket.tls requires cert_file and key_file")
		}
	}

	if c.Record.Enabled {
		if c.Record.Directory == "" {
			return invalid("record.directory is required when recording is enabled")
		}
		if c.Record.Format != "jsonl" && c.Record.Format != "json" {
			return invalid("record.format %q must be jsonl or json", c.Record.Format)
		}
		if c.Record.BufferSize < 0 || c.Record.FlushInterval < 0 {
			return invalid("record.buffer_size and record.flush_interval cannot be negative")
		}
	}

	if c.Webhook.Enabled {
		if !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
			return invalid("webhook.url %q must be an http(s) URL", c.Webhook.URL)
		}
		if c.Webhook.Timeout < 0 || c.Webhook.QueueSize < 0 {
			return invalid("webhook.timeout and webhook.queue_size cannot be negative")
		}
		if err := c.Webhook.Retry.Validate(); err != nil {
			return invalid("webhook.retry: %v", err)
		}
	}

	if c.Metrics.Enabled {
		if !validPort(c.Metrics.Port) {
			return invalid("metrics.port %d out of range", c.Metrics.Port)
		}
		if c.WebSocket.Enabled && c.WebSocket.Port == c.Metrics.Port {
			return invalid("websocket and metrics cannot share port %d", c.Metrics.Port)
		}
	}

	return nil
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "yaml encoding")
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
