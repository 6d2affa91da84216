// Package natsclient manages the NATS connection used to publish frames.
//
// The Client wraps a single *nats.Conn with reconnect options, slog-logged
// connection events and a circuit breaker around Connect: after a run of
// failed attempts the breaker opens and Connect fails fast with
// ErrCircuitOpen until the backoff elapses. The backoff doubles on every
// further run of failures up to the configured maximum.
//
//	client, err := natsclient.NewClient(cfg.NATS.URL,
//		natsclient.WithName(cfg.NATS.Name),
//		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
//		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// Once connected the nats library reconnects on its own; the client only
// mirrors the state in Status and Health.
//
// NewTestClient starts a disposable NATS server with testcontainers for
// integration tests (build tag "integration").
package natsclient
