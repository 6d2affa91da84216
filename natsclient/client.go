package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client manages one NATS connection with a circuit breaker around Connect.
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription

	// Circuit breaker
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Int64 // nanoseconds
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	tlsConfig     *tls.Config

	username string
	password string
	token    string

	published  atomic.Int64
	reconnects atomic.Int64

	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a NATS client. No connection is made until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	if v, ok := c.status.Load().(ConnectionStatus); ok {
		return v
	}
	return StatusDisconnected
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy returns true if the connection is usable
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the number of failed connection attempts since the last
// successful connection.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the wait before the circuit is tested again
func (c *Client) Backoff() time.Duration {
	return time.Duration(c.backoff.Load())
}

// Published returns the number of messages handed to the connection
func (c *Client) Published() int64 {
	return c.published.Load()
}

func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	circuit := c.circuitFailures.Add(1)
	c.logger.Debug("Recorded NATS connection failure", "failures", total, "circuit_failures", circuit)

	if circuit < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	current := c.Backoff()
	next := current * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(int64(next))

	status := c.Status()
	if status == StatusCircuitOpen {
		c.logger.Warn("Circuit breaker still open", "backoff", next)
		return
	}
	if c.status.CompareAndSwap(status, StatusCircuitOpen) {
		c.logger.Warn("Circuit breaker opened", "failures", total, "backoff", current)
		time.AfterFunc(current, c.testCircuit)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(int64(time.Second))
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the breaker so the next Connect is attempted.
func (c *Client) testCircuit() {
	c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	return opts
}

// Connect establishes the connection. It fails fast with ErrCircuitOpen
// while the breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(fmt.Errorf("client is closed"), "Client", "Connect", "check client state")
	}
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	opts := c.buildConnectionOptions()
	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			done <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.failConnect()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.failConnect()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)
	c.notifyHealth(true)
	return nil
}

func (c *Client) failConnect() {
	c.recordFailure()
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Publish sends data on subject. It does not wait for the server.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	c.published.Add(1)
	return nil
}

// Subscribe registers handler for subject. Subscriptions are removed on Close.
func (c *Client) Subscribe(subject string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errors.Wrap(err, "Client", "Subscribe", "subscribe")
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Flush waits for the server to process everything published so far.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.FlushWithContext(ctx)
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Close drains the connection, bounded by the drain timeout or the context
// deadline, whichever is sooner. Closing twice is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := c.conn
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain connection"))
		}

		conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""
	c.setStatus(StatusDisconnected)

	return stderrors.Join(errs...)
}

// Health reports the connection state for the health monitor.
func (c *Client) Health() health.Status {
	metrics := &health.Metrics{
		ErrorCount: int64(c.failures.Load()),
		Processed:  c.published.Load(),
	}
	switch status := c.Status(); status {
	case StatusConnected:
		return health.NewHealthy("nats", "connected").WithMetrics(metrics)
	case StatusReconnecting, StatusConnecting:
		return health.NewDegraded("nats", status.String()).WithMetrics(metrics)
	default:
		return health.NewUnhealthy("nats", status.String()).WithMetrics(metrics)
	}
}

func (c *Client) notifyHealth(healthy bool) {
	c.mu.RLock()
	fn := c.onHealthChange
	c.mu.RUnlock()
	if fn != nil {
		go fn(healthy)
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
	c.notifyHealth(false)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.reconnects.Add(1)
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
	c.notifyHealth(true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.logger.Debug("NATS connection closed")
	c.notifyHealth(false)
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS async error", "error", err)
}
