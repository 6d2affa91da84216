package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
	"github.com/c360/daqstream/metric"
	"github.com/c360/daqstream/processor/cycle"
)

func testFrame(seq uint64) *cycle.Frame {
	return &cycle.Frame{
		RunID:    "run-1",
		Sequence: seq,
		Time:     time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
		Raw:      [][]uint32{{1, 2}, {3, 4}},
		Values:   [][]float64{{0.1, 0.2}, {0.3, 0.4}},
	}
}

func readLines(t *testing.T, path string) []cycle.Frame {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	var frames []cycle.Frame
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		var f cycle.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no directory", Config{Format: FormatJSONL}},
		{"bad format", Config{Directory: "/tmp", Format: "raw"}},
		{"negative buffer", Config{Directory: "/tmp", Format: FormatJSON, BufferSize: -1}},
		{"negative interval", Config{Directory: "/tmp", Format: FormatJSON, FlushInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestOutput_RecordsFramesAsJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	registry := metric.NewMetricsRegistry()

	out, err := NewOutput(Config{Directory: dir, BufferSize: 2, FlushInterval: time.Hour}, registry, nil)
	require.NoError(t, err)
	assert.Equal(t, "file", out.Name())
	assert.Equal(t, filepath.Join(dir, "frames.jsonl"), out.Path())

	require.NoError(t, out.Start(context.Background()))
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, out.Send(context.Background(), testFrame(seq)))
	}

	// The first batch of two is on disk, the third frame waits for Stop.
	assert.Equal(t, int64(2), out.Written())
	assert.True(t, out.Health().IsHealthy())

	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Stop(time.Second))

	frames := readLines(t, out.Path())
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Sequence)
		assert.Equal(t, [][]uint32{{1, 2}, {3, 4}}, f.Raw)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(out.metrics.framesWritten))
	assert.True(t, out.Health().IsUnhealthy())
}

func TestOutput_FlushInterval(t *testing.T) {
	dir := t.TempDir()
	out, err := NewOutput(Config{Directory: dir, BufferSize: 100, FlushInterval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	defer func() { _ = out.Stop(time.Second) }()

	require.NoError(t, out.Send(context.Background(), testFrame(1)))
	require.Eventually(t, func() bool { return out.Written() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOutput_AppendAndTruncate(t *testing.T) {
	dir := t.TempDir()

	write := func(appendMode bool, seqs ...uint64) {
		out, err := NewOutput(Config{Directory: dir, Append: appendMode, BufferSize: 10}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, out.Start(context.Background()))
		for _, seq := range seqs {
			require.NoError(t, out.Send(context.Background(), testFrame(seq)))
		}
		require.NoError(t, out.Stop(time.Second))
	}

	write(true, 1, 2)
	write(true, 3)
	assert.Len(t, readLines(t, filepath.Join(dir, "frames.jsonl")), 3)

	write(false, 4)
	frames := readLines(t, filepath.Join(dir, "frames.jsonl"))
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(4), frames[0].Sequence)
}

func TestOutput_SendBeforeStart(t *testing.T) {
	out, err := NewOutput(Config{Directory: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	err = out.Send(context.Background(), testFrame(1))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
