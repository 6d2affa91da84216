package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-wide acquisition metrics (not buffer-specific)
type Metrics struct {
	ComponentStatus *prometheus.GaugeVec
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	FramesPublished *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	BufferResets    prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "daqstream",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=running, 2=failed)",
			},
			[]string{"component"},
		),

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstream",
				Subsystem: "cycle",
				Name:      "total",
				Help:      "Control cycles by outcome (read, missed, failed, reset)",
			},
			[]string{"outcome"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "daqstream",
				Subsystem: "cycle",
				Name:      "duration_seconds",
				Help:      "Time spent reading, decoding and dispatching one read unit",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
		),

		FramesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstream",
				Subsystem: "frames",
				Name:      "published_total",
				Help:      "Frames handed to a sink, by sink and status",
			},
			[]string{"sink", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		BufferResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "daqstream",
				Subsystem: "buffer",
				Name:      "recoveries_total",
				Help:      "Buffer resets performed to recover from sustained overruns",
			},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.ComponentStatus,
		c.CyclesTotal,
		c.CycleDuration,
		c.FramesPublished,
		c.ErrorsTotal,
		c.BufferResets,
	)
}

// RecordComponentStatus updates the component status gauge
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordCycle counts one control cycle with the given outcome
func (c *Metrics) RecordCycle(outcome string) {
	c.CyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordCycleDuration observes the time spent on one read unit
func (c *Metrics) RecordCycleDuration(d time.Duration) {
	c.CycleDuration.Observe(d.Seconds())
}

// RecordFramePublished counts a frame handed to a sink
func (c *Metrics) RecordFramePublished(sink, status string) {
	c.FramesPublished.WithLabelValues(sink, status).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordBufferReset counts a recovery reset
func (c *Metrics) RecordBufferReset() {
	c.BufferResets.Inc()
}
