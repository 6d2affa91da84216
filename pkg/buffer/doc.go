// Package buffer provides the multi-channel circular sample buffer that sits
// between a block-oriented acquisition producer and a fixed-rate control
// consumer, together with built-in statistics and optional Prometheus metrics.
//
// # Overview
//
// A SampleBuffer owns one contiguous byte arena laid out as nOfBuffers equal
// sub-buffers followed by a runaway zone:
//
//	| sub-buffer 0 | sub-buffer 1 | ... | sub-buffer n-1 | runaway zone |
//
// Each sub-buffer holds one read unit: readSamples interleaved rows, where a
// row is one sample per channel (timestamp column first when enabled). The
// runaway zone holds one map request (samplesInMapRequest rows) so that a
// producer chunk that does not end on a read-unit boundary can always be
// written contiguously.
//
// # Quick Start
//
//	buf, err := buffer.NewSampleBuffer(buffer.WithMetrics(registry, "daq"))
//	if err != nil {
//		return err
//	}
//	err = buf.Initialise(buffer.Layout{
//		NOfBuffers:          4,
//		NChannels:           8,
//		SamplesInMapRequest: 32,
//		SizeOfSamples:       4,
//		ReadSamples:         100,
//	})
//
// Producer side:
//
//	if buf.CheckAvailableSpace() {
//		n := dma.Read(buf.WriteRegion())
//		_ = buf.Advance(n)
//	}
//
// Consumer side, once per cycle:
//
//	if buf.ReadReady() {
//		channels, _ := buf.ReadChannels()
//		for _, ch := range channels {
//			raw := ch.Uint(0)
//			...
//		}
//		_ = buf.Checkout()
//	}
//
// # Channel Views
//
// ReadChannels returns one ChannelView per channel. A view is an offset, a
// stride (the row size) and an element size into the arena; sample k of a
// channel lives at base + k*stride. De-interleaving therefore costs nothing:
// no bytes are copied until the caller decodes them.
//
// # Wrap-Around
//
// The producer always writes contiguously from the cursor. Bytes that land
// past the last sub-buffer are held in the runaway zone and copied to the
// head once the head sub-buffers they belong to have been checked out. A map
// request larger than the ring is read in place from the runaway zone and
// folds back once the whole ring has been consumed. When
// neither the ring nor the runaway zone has room the buffer is blocked and
// Advance returns a transient ErrBufferFull until the consumer checks out.
//
// # Concurrency
//
// SampleBuffer takes no locks. Shared wraps it with a mutex for one producer
// goroutine and one consumer goroutine, and adds Reserve/Commit and Consume
// so that bulk copies and decoding run outside the lock.
//
// # Observability
//
// Statistics are always collected and available via Stats(). WithMetrics
// additionally exports them to a metric.MetricsRegistry.
package buffer
