package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/health"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/processor/cycle"
)

// Disconnect reasons recorded in metrics
const (
	reasonClosed   = "closed"
	reasonSlow     = "slow"
	reasonError    = "write_error"
	reasonShutdown = "shutdown"
)

// Config holds the broadcaster settings
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port         int
	Path         string
	WriteTimeout time.Duration
	PingInterval time.Duration
	// QueueSize is the number of frames buffered per client before the
	// client is considered slow and dropped.
	QueueSize int
	// TLS serves wss:// when set.
	TLS *tls.Config
}

// DefaultConfig returns the default broadcaster settings
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		Path:         "/frames",
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		QueueSize:    16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Envelope wraps every message sent to clients
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// clientInfo holds the state of one connected client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	queue       chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	writeMutex  sync.Mutex // gorilla/websocket does not allow concurrent writers
	sent        atomic.Int64
}

// Output serves a WebSocket endpoint and broadcasts every frame to all
// connected clients.
type Output struct {
	cfg    Config
	logger *slog.Logger

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex
	wg        sync.WaitGroup

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	running     atomic.Bool
	startTime   atomic.Int64 // unix nanos

	messageID    atomic.Uint64
	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	dropped      atomic.Int64
	errorCount   atomic.Int64

	metrics *outputMetrics
}

var _ cycle.Sink = (*Output)(nil)

type outputMetrics struct {
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
}

func newOutputMetrics(registry *metric.MetricsRegistry) (*outputMetrics, error) {
	m := &outputMetrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Frames written to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqstream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstream",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Client disconnections by reason",
		}, []string{"disconnect_reason"}),
	}

	if err := registry.RegisterCounter("websocket", "messages_sent", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "bytes_sent", m.bytesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "client_connections", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "client_disconnections", m.disconnectionTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// NewOutput creates a WebSocket broadcaster. registry and logger may be nil.
func NewOutput(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Output, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, cfg.Port),
			"Output", "NewOutput", "config validation")
	}
	if logger == nil {
		logger = slog.Default().With("component", "websocket-output")
	}

	w := &Output{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		clients: make(map[*websocket.Conn]*clientInfo),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if registry != nil {
		m, err := newOutputMetrics(registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Output", "NewOutput", "metrics registration")
		}
		w.metrics = m
	}
	return w, nil
}

// Name implements cycle.Sink
func (w *Output) Name() string {
	return "websocket"
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (w *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	return mux
}

// Start listens on the configured port. Calling Start twice is a no-op.
func (w *Output) Start(_ context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(w.cfg.Port)))
	if err != nil {
		return errors.WrapTransient(err, "Output", "Start", "listen")
	}

	if w.cfg.TLS != nil {
		ln = tls.NewListener(ln, w.cfg.TLS)
	}

	w.listener = ln
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.startTime.Store(time.Now().UnixNano())
	w.running.Store(true)

	server := w.server
	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			w.errorCount.Add(1)
			w.logger.Error("WebSocket server failed", "error", err)
		}
	}()

	w.logger.Info("WebSocket output listening", "address", ln.Addr().String(),
		"path", w.cfg.Path, "tls", w.cfg.TLS != nil)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (w *Output) Addr() net.Addr {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// Stop shuts the server down and disconnects every client.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return nil
	}
	w.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if w.server != nil {
		if err := w.server.Shutdown(ctx); err != nil {
			shutdownErr = errors.WrapTransient(err, "Output", "Stop", "server shutdown")
		}
	}
	w.closeAllClients()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("WebSocket client goroutines did not exit within timeout")
	}

	w.server = nil
	w.listener = nil
	return shutdownErr
}

// ClientCount returns the number of connected clients
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Dropped returns the number of clients disconnected for being too slow
func (w *Output) Dropped() int64 {
	return w.dropped.Load()
}

// Send implements cycle.Sink. The frame is encoded once and queued to every
// client without blocking; a client whose queue is full is disconnected.
func (w *Output) Send(_ context.Context, frame *cycle.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return errors.WrapInvalid(err, "Output", "Send", "frame encoding")
	}
	envelope, err := json.Marshal(Envelope{
		Type:      "frame",
		ID:        strconv.FormatUint(w.messageID.Add(1), 10),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Output", "Send", "envelope encoding")
	}

	for _, info := range w.snapshot() {
		select {
		case info.queue <- envelope:
		default:
			w.dropped.Add(1)
			w.logger.Debug("Dropping slow WebSocket client", "remote", info.conn.RemoteAddr().String())
			w.removeClient(info, reasonSlow)
		}
	}
	return nil
}

func (w *Output) snapshot() []*clientInfo {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	list := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		if !info.closed.Load() {
			list = append(list, info)
		}
	}
	return list
}

func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.errorCount.Add(1)
		w.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		queue:       make(chan []byte, w.cfg.QueueSize),
		done:        make(chan struct{}),
	}

	w.clientsMu.Lock()
	w.clients[conn] = info
	count := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("WebSocket client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	w.wg.Add(2)
	go w.writeLoop(info)
	go w.readLoop(info)
}

// readLoop discards client messages and detects disconnects.
func (w *Output) readLoop(info *clientInfo) {
	defer w.wg.Done()
	defer w.removeClient(info, reasonClosed)

	readTimeout := 2 * w.cfg.PingInterval
	_ = info.conn.SetReadDeadline(time.Now().Add(readTimeout))
	info.conn.SetPongHandler(func(string) error {
		return info.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := info.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *Output) writeLoop(info *clientInfo) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-info.done:
			return
		case data := <-info.queue:
			if err := w.write(info, websocket.TextMessage, data); err != nil {
				w.errorCount.Add(1)
				w.removeClient(info, reasonError)
				return
			}
			info.sent.Add(1)
			w.messagesSent.Add(1)
			w.bytesSent.Add(int64(len(data)))
			if w.metrics != nil {
				w.metrics.messagesSent.Inc()
				w.metrics.bytesSent.Add(float64(len(data)))
			}
		case <-ticker.C:
			if err := w.write(info, websocket.PingMessage, nil); err != nil {
				w.removeClient(info, reasonError)
				return
			}
		}
	}
}

func (w *Output) write(info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	if info.closed.Load() {
		return websocket.ErrCloseSent
	}
	_ = info.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return info.conn.WriteMessage(messageType, data)
}

// removeClient unregisters and closes a client exactly once.
func (w *Output) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)
		close(info.done)

		w.clientsMu.Lock()
		delete(w.clients, info.conn)
		count := len(w.clients)
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}
		w.logger.Debug("WebSocket client disconnected", "reason", reason,
			"connected_for", time.Since(info.connectedAt), "frames_sent", info.sent.Load())

		if reason == reasonShutdown {
			_ = info.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
		}
		_ = info.conn.Close()
	})
}

func (w *Output) closeAllClients() {
	for _, info := range w.snapshot() {
		w.removeClient(info, reasonShutdown)
	}
}

// Health reports unhealthy when stopped
func (w *Output) Health() health.Status {
	if !w.running.Load() {
		return health.NewUnhealthy("websocket-output", "not running")
	}
	metrics := &health.Metrics{
		Uptime:     time.Since(time.Unix(0, w.startTime.Load())),
		ErrorCount: w.errorCount.Load(),
		Processed:  w.messagesSent.Load(),
	}
	return health.NewHealthy("websocket-output",
		fmt.Sprintf("%d clients connected", w.ClientCount())).WithMetrics(metrics)
}
