package buffer

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	cerrors "github.com/c360/daqstream/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShared(t *testing.T, layout Layout) *Shared {
	t.Helper()
	return NewShared(newInitialised(t, layout))
}

func TestShared_ReserveCommit(t *testing.T) {
	s := newShared(t, twoChannelLayout)

	r, ok := s.Reserve()
	require.True(t, ok)
	require.Len(t, r.Region, 168)

	n := copy(r.Region, encodeWords(sixteenWords))
	require.NoError(t, s.Commit(r, n))
	assert.Equal(t, 64, s.WriteOffset())
	require.True(t, s.ReadReady())

	channels, ok := s.ReadChannels()
	require.True(t, ok)
	assert.Equal(t, uint32(0x99999999), channels[0].Uint(4))
	assert.Equal(t, uint32(0x10101010), channels[1].Uint(4))
}

func TestShared_CommitAfterResetIsStale(t *testing.T) {
	s := newShared(t, twoChannelLayout)

	r, ok := s.Reserve()
	require.True(t, ok)
	require.NoError(t, s.Reset())

	err := s.Commit(r, 40)
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
	assert.ErrorIs(t, err, cerrors.ErrStaleWrite)
	assert.Equal(t, 0, s.WriteOffset())
}

func TestShared_CommitBeyondReservation(t *testing.T) {
	s := newShared(t, twoChannelLayout)

	r, ok := s.Reserve()
	require.True(t, ok)

	err := s.Commit(r, len(r.Region)+1)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
	assert.Equal(t, 0, s.WriteOffset())
}

func TestShared_ReserveWhenBlocked(t *testing.T) {
	s := newShared(t, twoChannelLayout)
	require.NoError(t, s.Advance(144))

	_, ok := s.Reserve()
	assert.False(t, ok)
	assert.False(t, s.CheckAvailableSpace())
}

func TestShared_WrapDeferredWhileReserved(t *testing.T) {
	s := newShared(t, twoChannelLayout)

	// Cursor sits exactly at the end of the ring.
	require.NoError(t, s.Advance(128))

	r, ok := s.Reserve()
	require.True(t, ok)
	require.Len(t, r.Region, 40)

	// The consumer frees sub-buffer 0 while the producer is still filling the
	// runaway zone; the reserved bytes must end up at the head after commit.
	require.NoError(t, s.Checkout())

	words := []uint32{0xC0C0C0C0, 0xD0D0D0D0, 0xC1C1C1C1, 0xD1D1D1D1, 0xC2C2C2C2}
	copy(r.Region, encodeWords(append(words, 0, 0, 0, 0, 0)))
	require.NoError(t, s.Commit(r, 40))
	assert.Equal(t, 40, s.WriteOffset())

	require.NoError(t, s.Checkout())
	require.NoError(t, s.Advance(24))
	require.True(t, s.ReadReady())
	assert.Equal(t, 0, s.ActiveBuffer())

	channels, ok := s.ReadChannels()
	require.True(t, ok)
	assert.Equal(t, uint32(0xC0C0C0C0), channels[0].Uint(0))
	assert.Equal(t, uint32(0xD0D0D0D0), channels[1].Uint(0))
	assert.Equal(t, uint32(0xC1C1C1C1), channels[0].Uint(1))
	assert.Equal(t, uint32(0xC2C2C2C2), channels[0].Uint(2))
}

func TestShared_ConsumeChecksOut(t *testing.T) {
	s := newShared(t, twoChannelLayout)

	handled, err := s.Consume(func([]ChannelView, ChannelView) error { return nil })
	require.NoError(t, err)
	assert.False(t, handled)

	require.NoError(t, s.Write(encodeWords(sixteenWords)))

	var got []uint32
	handled, err = s.Consume(func(channels []ChannelView, ts ChannelView) error {
		assert.False(t, ts.Valid())
		got = channels[1].AppendUint32(got)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, uint32(0x22222222), got[0])
	assert.Equal(t, 1, s.ActiveBuffer())
	assert.False(t, s.ReadReady())
}

func TestShared_ConsumeErrorKeepsSubBuffer(t *testing.T) {
	s := newShared(t, twoChannelLayout)
	require.NoError(t, s.Write(encodeWords(sixteenWords)))

	boom := errors.New("sink failed")
	handled, err := s.Consume(func([]ChannelView, ChannelView) error { return boom })
	assert.True(t, handled)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.ActiveBuffer())
	assert.True(t, s.ReadReady())
}

func TestShared_ProducerConsumer(t *testing.T) {
	layout := Layout{NOfBuffers: 4, NChannels: 1, SamplesInMapRequest: 7, SizeOfSamples: 4, ReadSamples: 16}
	s := newShared(t, layout)

	const reads = 500
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var next uint32
		chunk := layout.RunawayZoneLength()
		for {
			select {
			case <-done:
				return
			default:
			}
			r, ok := s.Reserve()
			if !ok {
				time.Sleep(10 * time.Microsecond)
				continue
			}
			for off := 0; off < chunk; off += 4 {
				binary.LittleEndian.PutUint32(r.Region[off:], next)
				next++
			}
			if err := s.Commit(r, chunk); err != nil {
				t.Errorf("commit: %v", err)
				return
			}
		}
	}()

	var expected uint32
	deadline := time.Now().Add(10 * time.Second)
	for completed := 0; completed < reads; {
		require.True(t, time.Now().Before(deadline), "consumer starved after %d reads", completed)

		handled, err := s.Consume(func(channels []ChannelView, _ ChannelView) error {
			for k := 0; k < channels[0].Len(); k++ {
				if got := channels[0].Uint(k); got != expected {
					return errors.New("sample out of order")
				}
				expected++
			}
			return nil
		})
		require.NoError(t, err)
		if handled {
			completed++
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}

	close(done)
	wg.Wait()

	assert.Equal(t, uint32(reads*layout.ReadSamples), expected)
	assert.Equal(t, int64(reads), s.Stats().Checkouts())
	assert.Positive(t, s.Stats().Wraps())
}
