package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/pkg/retry"
	"github.com/c360/daqstream/processor/cycle"
)

func testFrame(seq uint64) *cycle.Frame {
	return &cycle.Frame{
		RunID:    "run-7",
		Sequence: seq,
		Time:     time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
		Raw:      [][]uint32{{5, 6}},
		Values:   [][]float64{{0.5, 0.6}},
	}
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no url", Config{}},
		{"bad scheme", Config{URL: "ftp://example.com/frames"}},
		{"negative timeout", Config{URL: "http://example.com", Timeout: -time.Second}},
		{"bad retry", Config{URL: "http://example.com", Retry: retry.Config{InitialDelay: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestOutput_PostsFramesInOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		received []cycle.Frame
		headers  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var f cycle.Frame
		if err := json.Unmarshal(body, &f); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, f)
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out, err := NewOutput(Config{
		URL:     srv.URL,
		Headers: map[string]string{"X-Rig": "bench-2"},
	}, metric.NewMetricsRegistry(), nil)
	require.NoError(t, err)
	assert.Equal(t, "httppost", out.Name())

	require.NoError(t, out.Start(context.Background()))
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, out.Send(context.Background(), testFrame(seq)))
	}
	require.NoError(t, out.Stop(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 4)
	for i, f := range received {
		assert.Equal(t, uint64(i+1), f.Sequence)
	}
	assert.Equal(t, "bench-2", headers.Get("X-Rig"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, int64(4), out.Sent())
	assert.Zero(t, out.Failed())
}

func TestOutput_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := NewOutput(Config{URL: srv.URL, Retry: fastRetry(5)}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	require.NoError(t, out.Send(context.Background(), testFrame(1)))
	require.NoError(t, out.Stop(2*time.Second))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), out.Retries())
	assert.Equal(t, int64(1), out.Sent())
}

func TestOutput_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	out, err := NewOutput(Config{URL: srv.URL, Retry: fastRetry(5)}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	require.NoError(t, out.Send(context.Background(), testFrame(1)))
	require.NoError(t, out.Stop(2*time.Second))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), out.Failed())
	assert.Zero(t, out.Sent())
}

func TestOutput_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out, err := NewOutput(Config{URL: srv.URL, Retry: fastRetry(1)}, nil, nil)
	require.NoError(t, err)
	assert.True(t, out.Health().IsUnhealthy())

	require.NoError(t, out.Start(context.Background()))
	defer func() { _ = out.Stop(time.Second) }()
	assert.True(t, out.Health().IsHealthy())

	require.NoError(t, out.Send(context.Background(), testFrame(1)))
	require.Eventually(t, func() bool { return out.Failed() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, out.Health().IsDegraded())
}

func TestOutput_SendBeforeStart(t *testing.T) {
	out, err := NewOutput(Config{URL: "http://127.0.0.1:1/frames"}, nil, nil)
	require.NoError(t, err)

	err = out.Send(context.Background(), testFrame(1))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
