// Package cycle implements the control cycle: the fixed-rate consumer of the
// sample buffer.
//
// On every tick the cycle checks whether the active sub-buffer holds a
// complete read unit. If it does, the channel views are decoded into a Frame
// (raw counts plus engineering values, value = raw*gain + offset), the
// sub-buffer is checked out, and the frame is handed to every Sink. If it
// does not, the cycle is counted as missed and nothing else happens.
//
// The decode happens while the producer is free to keep writing into the
// other sub-buffers; the views stay valid until checkout because the
// producer never advances into the active sub-buffer. Frames own their data,
// so sinks may keep them after Send returns.
//
// Recovery: when an OverrunCounter is supplied and ResetAfterOverruns is
// positive, the cycle resets the buffer after that many consecutive cycles
// in which the producer dropped chunks. Stale data is discarded and the
// stream resynchronises at the head of the arena.
//
//	c, err := cycle.NewCycle(cycle.Deps{
//		Config:   cfg.Cycle,
//		Buffer:   shared,
//		Sinks:    []cycle.Sink{natsSink, wsSink},
//		Overruns: input,
//		Metrics:  registry.CoreMetrics(),
//	})
package cycle
