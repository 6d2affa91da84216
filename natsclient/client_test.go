package natsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_InvalidOption(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithReconnectWait(-time.Second))
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestConnect_FailureOpensCircuit(t *testing.T) {
	// Nothing listens on port 1, so every attempt is refused immediately.
	client, err := NewClient("nats://127.0.0.1:1",
		WithCircuitBreakerThreshold(2),
		WithTimeout(500*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, StatusDisconnected, client.Status())

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, client.Health().IsUnhealthy())
}

func TestPublish_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish(context.Background(), "daq.frames", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe("daq.frames", func([]byte) {}), ErrNotConnected)
	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, client.Published())
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "secret"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	require.Error(t, err)
}

func TestHealth_FollowsStatus(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.True(t, client.Health().IsUnhealthy())

	client.setStatus(StatusReconnecting)
	assert.True(t, client.Health().IsDegraded())

	client.setStatus(StatusConnected)
	assert.True(t, client.Health().IsHealthy())
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("daqstream-test"),
		WithCredentials("user", "pass"),
		WithMaxReconnects(3),
	)
	require.NoError(t, err)

	// Base options plus credentials and name.
	assert.Len(t, client.buildConnectionOptions(), 11)

	secure, err := NewClient("tls://localhost:4222", WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)
	assert.Len(t, secure.buildConnectionOptions(), 10)
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	const iterations = 100

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.recordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.resetCircuit()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.Health()
		}
	}()
	wg.Wait()

	assert.GreaterOrEqual(t, int(client.Status()), int(StatusDisconnected))
	assert.LessOrEqual(t, client.Backoff(), time.Minute)
}
