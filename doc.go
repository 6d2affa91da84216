// Package daqstream streams multi-channel acquisition data from a DAQ
// producer through a fixed-capacity circular sample buffer into a
// fixed-rate control cycle.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        input/daq (producer)         │  UDP datagrams, whole rows
//	│  CheckAvailableSpace / Advance      │  copied into the write region
//	└─────────────────────────────────────┘
//	           ↓ writes
//	┌─────────────────────────────────────┐
//	│     pkg/buffer (SampleBuffer)       │  N sub-buffers of interleaved
//	│  ring + runaway zone, SPSC          │  rows, one producer, one consumer
//	└─────────────────────────────────────┘
//	           ↓ ReadReady / ReadChannels / Checkout
//	┌─────────────────────────────────────┐
//	│     processor/cycle (consumer)      │  decode, calibrate, publish
//	└─────────────────────────────────────┘
//	           ↓ frames
//	┌─────────────────────────────────────┐
//	│  output/nats    output/websocket    │  fan-out sinks
//	└─────────────────────────────────────┘
//
// # Buffer Layout
//
// The arena holds NOfBuffers sub-buffers of ReadSamples interleaved rows,
// one sample of SizeOfSamples bytes per channel with the timestamp column
// first when enabled. A runaway zone of SamplesInMapRequest rows follows the
// ring so a producer chunk that overshoots a read-unit boundary is still
// written contiguously.
//
// Readers never copy on the hot path: ReadChannels returns strided
// ChannelView values that alias the active sub-buffer. Views stay valid
// until the next Checkout or Reset; callers that keep data past that point
// must copy it, as processor/cycle does when it builds a Frame.
//
// # Concurrency
//
// SampleBuffer itself is single-producer single-consumer with no internal
// locking. buffer.Shared wraps it with a mutex for the common deployment
// where the producer and consumer run on separate goroutines.
//
// # Running
//
//	daqstream --config=daqstream.yaml
//	daqstream --validate --config=daqstream.yaml
//	daqstream --print-config
//
// Metrics are served on /metrics and aggregate component health on
// /health when the metrics server is enabled.
package daqstream
