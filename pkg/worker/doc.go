// Package worker runs work items on a bounded set of goroutines.
//
// The pool exists to keep slow consumers away from goroutines that must
// not block, such as the control cycle publishing frames to a broker:
//
//	pool, err := worker.NewPool(worker.DefaultConfig("nats_publish"),
//		func(ctx context.Context, f *cycle.Frame) error {
//			return publish(ctx, f)
//		},
//		worker.WithMetricsRegistry(registry),
//	)
//	if err != nil {
//		return err
//	}
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(frame); errors.Is(err, worker.ErrQueueFull) {
//		// the item was dropped
//	}
//
// Submit never blocks. A full queue drops the item and returns ErrQueueFull.
// Stop refuses further items and drains what is already queued, cancelling
// the processing context only if the drain outlives the timeout.
//
// With a single worker items are processed in submission order. More
// workers raise throughput but give up ordering.
//
// # Metrics
//
// With WithMetricsRegistry the pool exports, under daqstream_<name>_:
//
//	queue_depth               items waiting for a worker
//	items_total{outcome}      submitted, processed, failed, dropped
//	process_duration_seconds  per-item processing time
package worker
