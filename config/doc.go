// Package config loads and validates daqstream configuration.
//
// Configuration comes from an optional YAML or JSON file overlaid with
// environment variables using the DAQSTREAM_ prefix, where dots in keys
// become underscores:
//
//	DAQSTREAM_BUFFER_N_CHANNELS=16
//	DAQSTREAM_NATS_URL=nats://broker:4222
//
// String values may reference other environment variables with ${VAR}.
//
//	cfg, err := config.NewLoader().Load("daqstream.yaml")
//	if err != nil {
//		return err
//	}
//
// Sections:
//
//   - buffer: the sample buffer layout (see buffer.Layout)
//   - input: UDP acquisition socket and its bind retry policy
//   - cycle: control cycle period, per-channel gain/offset and overrun recovery
//   - nats, websocket: frame sinks
//   - metrics: Prometheus endpoint
//
// Validation errors are classified invalid (errors.IsInvalid). SaveToFile
// writes the configuration back as YAML; SafeConfig guards a configuration
// shared between goroutines.
package config
