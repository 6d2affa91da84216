// Package retry provides exponential backoff for transient failures such as
// binding the acquisition socket while a previous process still holds it.
//
//	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*net.UDPConn, error) {
//		return net.ListenUDP("udp", addr)
//	})
//
// Errors classified invalid or fatal by the errors package, and errors
// wrapped with NonRetryable, are returned immediately. All retry operations
// respect context cancellation, both during fn and during the backoff delay.
// OnRetry lets the caller log each failed attempt.
package retry
