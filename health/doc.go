// Package health tracks the health of daqstream components and serves the
// aggregate over HTTP.
//
// Three states are reported: healthy, degraded (running but losing data, for
// example an input counting overruns) and unhealthy (not running).
//
// Components implement Checker and are registered with a Monitor, which
// polls them on demand:
//
//	monitor := health.NewMonitor()
//	monitor.Register("daq-input", input)
//	monitor.Register("control-cycle", cycle)
//	mux.Handle("/health", health.Handler(monitor, "daqstream"))
//
// Aggregation rules: any unhealthy component makes the system unhealthy;
// otherwise any degraded component makes it degraded.
//
// Error messages placed in a Status through FromError are sanitized: URLs,
// file paths, IP addresses, ports and credentials are masked.
package health
