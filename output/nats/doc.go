// Package nats provides the control-cycle sink that publishes decoded frames
// to a NATS subject.
//
// Frames are JSON-encoded (run_id, sequence, time, timestamps, raw, values)
// and published without waiting for an acknowledgement. Publishing goes
// through the Publisher interface; in production that is a
// *natsclient.Client, which owns reconnection. While the connection is down
// Send returns a transient error and the cycle counts the frame as failed
// for this sink.
package nats
