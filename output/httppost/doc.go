// Package httppost delivers decoded frames to an HTTP endpoint.
//
// Each frame becomes one POST request with a JSON body. Delivery runs on a
// single background worker (pkg/worker) so a slow or unreachable endpoint
// never stalls the control cycle, and frames reach the endpoint in cycle
// order. When the delivery queue is full, Send drops the frame and returns
// a transient error.
//
// Retries use pkg/retry with exponential backoff:
//
//	2xx        delivered
//	429, 5xx   retried up to Retry.MaxAttempts
//	other 4xx  dropped without retry
//	transport  retried
//
// Set Config.TLS, typically from tlsutil.LoadClientConfig, to trust a
// private CA or present a client certificate.
package httppost
