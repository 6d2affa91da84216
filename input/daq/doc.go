// Package daq implements the acquisition input: the producer side of the
// sample buffer.
//
// Each chunk delivered by a Source (by default one UDP datagram) must hold
// whole interleaved rows and at most one map request. When the buffer has
// room for a map request plus one byte, the chunk is read directly into the
// buffer's write region and committed, so the payload is never copied.
// Otherwise it is read into a scratch buffer and copied in once validated.
// If the consumer has fallen behind and there is still no room, the chunk is
// counted as an overrun; the control cycle watches the overrun count to
// decide when to reset the buffer.
//
//	in, err := daq.NewInput(daq.Deps{
//		Config:          cfg.Input,
//		Buffer:          shared,
//		MetricsRegistry: registry,
//	})
//	if err != nil {
//		return err
//	}
//	if err := in.Start(ctx); err != nil {
//		return err
//	}
//	defer in.Stop(5 * time.Second)
//
// Chunks that are not a whole number of rows or exceed one map request are
// dropped and counted as malformed, which keeps the interleaving aligned.
package daq
