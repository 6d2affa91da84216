package websocket

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/processor/cycle"
)

func testFrame(seq uint64) *cycle.Frame {
	return &cycle.Frame{
		RunID:    "run",
		Sequence: seq,
		Time:     time.Now(),
		Raw:      [][]uint32{{1, 2, 3}},
		Values:   [][]float64{{1, 2, 3}},
	}
}

func newTestServer(t *testing.T, cfg Config, registry *metric.MetricsRegistry) (*Output, string) {
	t.Helper()
	out, err := NewOutput(cfg, registry, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(out.Handler())
	t.Cleanup(func() {
		out.closeAllClients()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + out.cfg.Path
	return out, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestNewOutput_Validation(t *testing.T) {
	_, err := NewOutput(Config{Port: 70000}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	out, err := NewOutput(Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "/frames", out.cfg.Path)
	assert.Equal(t, 16, out.cfg.QueueSize)
	assert.Equal(t, "websocket", out.Name())
}

func TestOutput_BroadcastsToAllClients(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, url := newTestServer(t, Config{}, registry)

	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return out.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, out.Send(context.Background(), testFrame(1)))
	require.NoError(t, out.Send(context.Background(), testFrame(2)))

	for _, conn := range []*websocket.Conn{a, b} {
		for want := uint64(1); want <= 2; want++ {
			env := readEnvelope(t, conn)
			assert.Equal(t, "frame", env.Type)
			assert.NotEmpty(t, env.ID)

			var f cycle.Frame
			require.NoError(t, json.Unmarshal(env.Payload, &f))
			assert.Equal(t, want, f.Sequence)
			assert.Equal(t, [][]uint32{{1, 2, 3}}, f.Raw)
		}
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(out.metrics.messagesSent) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(out.metrics.clientsConnected))
}

func TestOutput_SendWithoutClients(t *testing.T) {
	out, err := NewOutput(Config{}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, out.Send(context.Background(), testFrame(1)))
}

func TestOutput_ClientDisconnect(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, url := newTestServer(t, Config{}, registry)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues(reasonClosed)))
}

func TestOutput_DropsSlowClient(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out, url := newTestServer(t, Config{QueueSize: 1}, registry)

	dial(t, url)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Stall the writer so the queue cannot drain.
	info := out.snapshot()[0]
	info.writeMutex.Lock()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, out.Send(context.Background(), testFrame(seq)))
	}
	info.writeMutex.Unlock()

	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), out.Dropped())
	assert.Equal(t, float64(1), testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues(reasonSlow)))
}

func TestOutput_StartStop(t *testing.T) {
	out, err := NewOutput(Config{Port: 0}, nil, nil)
	require.NoError(t, err)

	assert.Nil(t, out.Addr())
	assert.True(t, out.Health().IsUnhealthy())

	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Start(context.Background()))
	require.NotNil(t, out.Addr())
	assert.True(t, out.Health().IsHealthy())

	port := out.Addr().(*net.TCPAddr).Port
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/frames", port), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, out.Stop(2*time.Second))
	require.NoError(t, out.Stop(2*time.Second))
	assert.Zero(t, out.ClientCount())
	assert.True(t, out.Health().IsUnhealthy())

	// The client observes the close.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

func TestOutput_ServesTLS(t *testing.T) {
	out, err := NewOutput(Config{Port: 0, TLS: selfSignedTLS(t)}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	defer func() { _ = out.Stop(2 * time.Second) }()

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
		HandshakeTimeout: 2 * time.Second,
	}
	port := out.Addr().(*net.TCPAddr).Port

	_, _, err = websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/frames", port), nil)
	assert.Error(t, err)

	conn, _, err := dialer.Dial(fmt.Sprintf("wss://127.0.0.1:%d/frames", port), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, out.Send(context.Background(), testFrame(9)))
	env := readEnvelope(t, conn)
	assert.Equal(t, "frame", env.Type)
}
