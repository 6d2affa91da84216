// Package component manages the start and stop order of the pipeline.
//
// Components are added in dependency order, consumers before producers:
//
//	m := component.NewManager(logger)
//	_ = m.Add("metrics", metricsServer)
//	_ = m.Add("websocket-output", ws)
//	_ = m.Add("control-cycle", cycle)
//	_ = m.Add("daq-input", input)
//
//	if err := m.Start(ctx); err != nil {
//		return err // already-started components were stopped again
//	}
//	defer m.Stop(5 * time.Second)
//
// Start brings components up in order, so nothing produces data before its
// consumers exist. Stop runs in reverse, so producers stop first and queued
// data drains downstream. Funcs adapts parts whose lifecycle methods do not
// match Lifecycle, such as a server whose Start takes no context.
package component
