// Package websocket provides the control-cycle sink that streams frames to
// WebSocket clients.
//
// # Overview
//
// Output serves one WebSocket endpoint (default /frames). Every frame handed
// to Send is JSON-encoded once, wrapped in an Envelope and queued to every
// connected client:
//
//	{"type":"frame","id":"42","timestamp":1760702400000,"payload":{...frame...}}
//
// # Client Management
//
// Each client gets a read goroutine, which only detects disconnects and
// answers pongs, and a write goroutine, which drains the client's queue and
// sends periodic pings. Writes to one connection are serialised by a
// per-client mutex because gorilla/websocket allows a single concurrent
// writer.
//
// # Slow Clients
//
// Send never blocks the control cycle. When a client's queue is full the
// client is disconnected and counted as dropped; a viewer that cannot keep up
// with the cycle rate reconnects and resumes from the live stream.
//
// # Usage
//
//	out, err := websocket.NewOutput(websocket.Config{
//		Port:         cfg.WebSocket.Port,
//		Path:         cfg.WebSocket.Path,
//		WriteTimeout: cfg.WebSocket.WriteTimeout,
//	}, registry, logger)
//	if err != nil {
//		return err
//	}
//	if err := out.Start(ctx); err != nil {
//		return err
//	}
//	defer out.Stop(5 * time.Second)
package websocket
