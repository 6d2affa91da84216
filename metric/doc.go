// Package metric provides Prometheus-based metrics collection and an HTTP
// endpoint for daqstream monitoring.
//
// A MetricsRegistry wraps a private prometheus.Registry. It carries the core
// acquisition metrics (cycle outcomes, cycle duration, published frames,
// errors, recovery resets) and lets components register their own collectors
// under a "service.metric" key so duplicate registrations are reported as
// invalid errors instead of panics.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(5 * time.Second)
//
//	registry.CoreMetrics().RecordCycle("read")
package metric
