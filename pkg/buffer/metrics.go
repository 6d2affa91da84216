package buffer

import (
	"github.com/c360/daqstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// bufferMetrics holds Prometheus metrics for sample buffer operations.
type bufferMetrics struct {
	advances  prometheus.Counter
	bytes     prometheus.Counter
	rejected  prometheus.Counter
	checkouts prometheus.Counter
	resets    prometheus.Counter
	wraps     prometheus.Counter

	pending     prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstream",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "daqstream",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		advances:    counter("advances_total", "Total number of committed producer writes"),
		bytes:       counter("bytes_written_total", "Total number of bytes committed by the producer"),
		rejected:    counter("rejected_total", "Producer writes refused because the ring was blocked"),
		checkouts:   counter("checkouts_total", "Sub-buffers released by the consumer"),
		resets:      counter("resets_total", "Buffer rewinds"),
		wraps:       counter("wraps_total", "Runaway zone contents moved back to the head"),
		pending:     gauge("pending_buffers", "Complete sub-buffers awaiting checkout"),
		utilization: gauge("utilization", "Bytes awaiting checkout relative to the ring size (0.0 to 1.0)"),
	}

	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"buffer_advances", m.advances},
		{"buffer_bytes_written", m.bytes},
		{"buffer_rejected", m.rejected},
		{"buffer_checkouts", m.checkouts},
		{"buffer_resets", m.resets},
		{"buffer_wraps", m.wraps},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(prefix, c.name, c.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "buffer_pending", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordAdvance(n int) {
	m.advances.Inc()
	m.bytes.Add(float64(n))
}

func (m *bufferMetrics) recordReject() {
	m.rejected.Inc()
}

func (m *bufferMetrics) recordCheckout() {
	m.checkouts.Inc()
}

func (m *bufferMetrics) recordReset() {
	m.resets.Inc()
}

func (m *bufferMetrics) recordWrap() {
	m.wraps.Inc()
}

// updateFill sets pending sub-buffers and the fill ratio of the ring.
func (m *bufferMetrics) updateFill(pending int, unread, ringLength int) {
	m.pending.Set(float64(pending))
	if ringLength > 0 {
		m.utilization.Set(float64(unread) / float64(ringLength))
	}
}
