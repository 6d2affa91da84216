package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/pkg/retry"
)

// DefaultEnvPrefix is the environment variable prefix used by NewLoader.
const DefaultEnvPrefix = "DAQSTREAM"

// Loader loads configuration from a YAML or JSON file, overlaid with
// environment variables (DAQSTREAM_CYCLE_PERIOD overrides cycle.period).
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader using DefaultEnvPrefix.
func NewLoader() *Loader {
	return NewLoaderWithPrefix(DefaultEnvPrefix)
}

// NewLoaderWithPrefix creates a loader reading environment overrides with prefix.
func NewLoaderWithPrefix(prefix string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads path (optional), applies defaults and environment overrides,
// expands ${VAR} references and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	l.setDefaults()

	if path != "" {
		if err := validateConfigPath(path); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "config path validation")
		}
		if err := checkConfigFile(path); err != nil {
			return nil, err
		}
		if strings.HasSuffix(path, ".json") {
			l.v.SetConfigType("json")
		}
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "config file parsing")
		}
	}

	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "config decoding")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	// Buffer layout: 4 x 100-row sub-buffers of 8 four-byte channels.
	l.v.SetDefault("buffer.n_of_buffers", 4)
	l.v.SetDefault("buffer.n_channels", 8)
	l.v.SetDefault("buffer.samples_in_map_request", 32)
	l.v.SetDefault("buffer.size_of_samples", 4)
	l.v.SetDefault("buffer.read_samples", 100)
	l.v.SetDefault("buffer.timestamp_required", false)

	bindRetry := retry.DefaultConfig()
	l.v.SetDefault("input.bind_address", "0.0.0.0")
	l.v.SetDefault("input.port", 14550)
	l.v.SetDefault("input.read_timeout", 100*time.Millisecond)
	l.v.SetDefault("input.socket_buffer_size", 2<<20)
	l.v.SetDefault("input.bind_retry.max_attempts", bindRetry.MaxAttempts)
	l.v.SetDefault("input.bind_retry.initial_delay", bindRetry.InitialDelay)
	l.v.SetDefault("input.bind_retry.max_delay", bindRetry.MaxDelay)
	l.v.SetDefault("input.bind_retry.multiplier", bindRetry.Multiplier)
	l.v.SetDefault("input.bind_retry.add_jitter", bindRetry.AddJitter)

	l.v.SetDefault("cycle.period", 10*time.Millisecond)
	l.v.SetDefault("cycle.gains", []float64{})
	l.v.SetDefault("cycle.offsets", []float64{})
	l.v.SetDefault("cycle.reset_after_overruns", 50)

	l.v.SetDefault("nats.enabled", false)
	l.v.SetDefault("nats.url", "nats://localhost:4222")
	l.v.SetDefault("nats.subject", "daq.frames")
	l.v.SetDefault("nats.name", "daqstream")
	l.v.SetDefault("nats.max_reconnects", -1)
	l.v.SetDefault("nats.reconnect_wait", 2*time.Second)
	l.v.SetDefault("nats.publish_workers", 1)
	l.v.SetDefault("nats.publish_queue", 64)

	l.v.SetDefault("websocket.enabled", false)
	l.v.SetDefault("websocket.port", 8081)
	l.v.SetDefault("websocket.path", "/frames")
	l.v.SetDefault("websocket.write_timeout", 5*time.Second)

	l.v.SetDefault("record.enabled", false)
	l.v.SetDefault("record.directory", "/var/lib/daqstream")
	l.v.SetDefault("record.file_prefix", "frames")
	l.v.SetDefault("record.format", "jsonl")
	l.v.SetDefault("record.append", true)
	l.v.SetDefault("record.buffer_size", 100)
	l.v.SetDefault("record.flush_interval", time.Second)

	l.v.SetDefault("webhook.enabled", false)
	l.v.SetDefault("webhook.timeout", 10*time.Second)
	l.v.SetDefault("webhook.queue_size", 64)
	l.v.SetDefault("webhook.retry.max_attempts", 3)
	l.v.SetDefault("webhook.retry.initial_delay", 100*time.Millisecond)
	l.v.SetDefault("webhook.retry.max_delay", 2*time.Second)
	l.v.SetDefault("webhook.retry.multiplier", 2.0)

	l.v.SetDefault("metrics.enabled", true)
	l.v.SetDefault("metrics.port", 9090)
	l.v.SetDefault("metrics.path", "/metrics")
}
