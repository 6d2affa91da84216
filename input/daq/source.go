package daq

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/pkg/retry"
)

// Source delivers raw acquisition chunks: whole interleaved rows, at most one
// map request per chunk.
//
// ReadChunk blocks for a bounded time. It returns (0, nil) when nothing
// arrived in that time, and an error wrapping net.ErrClosed once the source
// has been closed.
type Source interface {
	ReadChunk(p []byte) (int, error)
	Close() error
}

// UDPSource reads one chunk per datagram from a UDP socket.
type UDPSource struct {
	conn        *net.UDPConn
	readTimeout time.Duration
}

// UDPSourceConfig holds the socket parameters for ListenUDP.
type UDPSourceConfig struct {
	BindAddress      string
	Port             int
	ReadTimeout      time.Duration
	SocketBufferSize int
	Retry            retry.Config
}

// ListenUDP binds a UDP socket, retrying with backoff while the address is
// unavailable.
func ListenUDP(ctx context.Context, cfg UDPSourceConfig, logger *slog.Logger) (*UDPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.BindAddress, fmt.Sprint(cfg.Port)))
	if err != nil {
		return nil, errors.WrapInvalid(err, "UDPSource", "ListenUDP", "address resolution")
	}

	retryCfg := cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("UDP bind failed, retrying",
			"address", addr.String(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	conn, err := retry.DoWithResult(ctx, retryCfg, func() (*net.UDPConn, error) {
		return net.ListenUDP("udp", addr)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "UDPSource", "ListenUDP", "socket binding")
	}

	if cfg.SocketBufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.SocketBufferSize); err != nil {
			// Some systems cap the buffer size
			logger.Warn("Could not set UDP buffer size",
				"buffer_size", cfg.SocketBufferSize,
				"error", err)
		}
	}

	return &UDPSource{conn: conn, readTimeout: cfg.ReadTimeout}, nil
}

// LocalAddr returns the bound address.
func (s *UDPSource) LocalAddr() *net.UDPAddr {
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// ReadChunk reads one datagram into p. A datagram longer than p is truncated.
func (s *UDPSource) ReadChunk(p []byte) (int, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	n, _, err := s.conn.ReadFromUDP(p)
	if err != nil {
		if stderrors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Close closes the socket and unblocks a pending ReadChunk.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}
