package daq

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/daqstream/metric"
)

// inputMetrics holds Prometheus metrics for the acquisition input
type inputMetrics struct {
	chunksReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	overruns       prometheus.Counter
	malformed      prometheus.Counter
	staleWrites    prometheus.Counter
	socketErrors   prometheus.Counter
	lastActivity   prometheus.Gauge
}

func newInputMetrics(registry *metric.MetricsRegistry, service string) (*inputMetrics, error) {
	m := &inputMetrics{
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "chunks_received_total",
			Help:      "Chunks committed to the sample buffer",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "bytes_received_total",
			Help:      "Bytes committed to the sample buffer",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "overruns_total",
			Help:      "Chunks dropped because the sample buffer was blocked",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "malformed_chunks_total",
			Help:      "Chunks dropped for not being whole rows or exceeding one map request",
		}),
		staleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "stale_writes_total",
			Help:      "Chunks discarded because the buffer was reset while they were being received",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "socket_errors_total",
			Help:      "Source read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqstream",
			Subsystem: "input",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last received chunk",
		}),
	}

	counters := map[string]prometheus.Counter{
		"chunks_received": m.chunksReceived,
		"bytes_received":  m.bytesReceived,
		"overruns":        m.overruns,
		"malformed":       m.malformed,
		"stale_writes":    m.staleWrites,
		"socket_errors":   m.socketErrors,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(service, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(service, "last_activity", m.lastActivity); err != nil {
		return nil, err
	}
	return m, nil
}
