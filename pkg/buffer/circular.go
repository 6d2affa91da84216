package buffer

import (
	"fmt"
	"log/slog"

	errs "github.com/c360/daqstream/errors"
)

// SampleBuffer is a fixed-capacity arena of nOfBuffers equal sub-buffers
// followed by a runaway zone, filled by a block-oriented producer and drained
// one sub-buffer at a time by a fixed-rate consumer.
//
// SampleBuffer is not safe for concurrent use; wrap it in Shared when the
// producer and consumer run on different goroutines.
type SampleBuffer struct {
	layout      Layout
	arena       []byte
	initialised bool

	singleLen  int
	runawayLen int
	ringLen    int

	// Virtual byte counters since the last reset. lapStart is the virtual
	// offset that arena offset 0 currently maps to.
	written  uint64
	consumed uint64
	lapStart uint64

	epoch  uint64
	pinned bool

	stats   *Statistics
	metrics *bufferMetrics
	logger  *slog.Logger
}

// NewSampleBuffer creates an uninitialised sample buffer. Call Initialise
// before use.
func NewSampleBuffer(options ...Option) (*SampleBuffer, error) {
	opts := applyOptions(options...)

	b := &SampleBuffer{
		stats:  NewStatistics(),
		logger: opts.logger,
	}

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errs.WrapTransient(err, "SampleBuffer", "NewSampleBuffer", "metrics registration")
		}
		b.metrics = m
	}

	return b, nil
}

// Initialise validates the layout and allocates the arena. On failure the
// buffer is left uninitialised. Re-initialising discards the previous arena.
func (b *SampleBuffer) Initialise(layout Layout) error {
	if err := layout.Validate(); err != nil {
		b.arena = nil
		b.initialised = false
		b.layout = Layout{}
		b.singleLen, b.runawayLen, b.ringLen = 0, 0, 0
		b.rewind()
		b.stats.UpdateMemoryUsage(0)
		return errs.Wrap(err, "SampleBuffer", "Initialise", "layout validation")
	}

	b.layout = layout
	b.singleLen = layout.SingleBufferLength()
	b.runawayLen = layout.RunawayZoneLength()
	b.ringLen = layout.NOfBuffers * b.singleLen
	b.arena = make([]byte, layout.BufferLength())
	b.initialised = true
	b.rewind()
	b.stats.UpdateMemoryUsage(int64(len(b.arena)))
	b.updateFill()

	b.logger.Info("Sample buffer initialised",
		"n_of_buffers", layout.NOfBuffers,
		"n_channels", layout.NChannels,
		"timestamp", layout.TimestampRequired,
		"single_buffer_length", b.singleLen,
		"runaway_zone_length", b.runawayLen,
		"buffer_length", len(b.arena))

	return nil
}

// rewind returns the cursor and active index to the head and starts a new epoch.
func (b *SampleBuffer) rewind() {
	b.written = 0
	b.consumed = 0
	b.lapStart = 0
	b.pinned = false
	b.epoch++
}

// Initialised reports whether Initialise has succeeded.
func (b *SampleBuffer) Initialised() bool {
	return b.initialised
}

// Layout returns the active layout, or the zero Layout before initialisation.
func (b *SampleBuffer) Layout() Layout {
	return b.layout
}

// SingleBufferLength returns the size in bytes of one sub-buffer.
func (b *SampleBuffer) SingleBufferLength() int {
	return b.singleLen
}

// RunawayZoneLength returns the size in bytes of the runaway zone, which is
// also the size of one map request.
func (b *SampleBuffer) RunawayZoneLength() int {
	return b.runawayLen
}

// Length returns the arena size in bytes.
func (b *SampleBuffer) Length() int {
	return len(b.arena)
}

// WriteOffset returns the cursor position relative to the head. It ranges
// over [0, Length()]: a cursor equal to Length() means the runaway zone is
// full and the next byte has nowhere to go until a checkout folds it back.
func (b *SampleBuffer) WriteOffset() int {
	return int(b.written - b.lapStart)
}

// ActiveBuffer returns the index of the sub-buffer the consumer reads next.
func (b *SampleBuffer) ActiveBuffer() int {
	if !b.initialised {
		return 0
	}
	return int((b.consumed / uint64(b.singleLen)) % uint64(b.layout.NOfBuffers))
}

// Epoch changes every time the buffer is initialised or reset.
func (b *SampleBuffer) Epoch() uint64 {
	return b.epoch
}

// Stats returns the always-on statistics tracker.
func (b *SampleBuffer) Stats() *Statistics {
	return b.stats
}

// Pending returns the number of complete sub-buffers awaiting checkout.
func (b *SampleBuffer) Pending() int {
	if !b.initialised {
		return 0
	}
	return int((b.written - b.consumed) / uint64(b.singleLen))
}

// writeLimit returns the arena offset the producer may write up to.
func (b *SampleBuffer) writeLimit() int {
	limit := int64(b.consumed) + int64(b.ringLen) - int64(b.lapStart)
	if limit >= int64(b.ringLen) {
		// Nothing from the previous lap is left in the ring; the whole
		// runaway zone absorbs the overflow.
		return b.ringLen + b.runawayLen
	}
	return int(limit)
}

func (b *SampleBuffer) available() int {
	if !b.initialised {
		return 0
	}
	return b.writeLimit() - b.WriteOffset()
}

// CheckAvailableSpace reports whether one full map request fits at the cursor.
func (b *SampleBuffer) CheckAvailableSpace() bool {
	return b.CheckAvailableSpaceFor(b.runawayLen)
}

// CheckAvailableSpaceFor reports whether n bytes fit at the cursor without
// touching unconsumed data.
func (b *SampleBuffer) CheckAvailableSpaceFor(n int) bool {
	if !b.initialised || n < 0 {
		return false
	}
	return n <= b.available()
}

// WriteRegion returns the writable bytes at the cursor. The slice is bounded
// by the available space; nil before initialisation.
func (b *SampleBuffer) WriteRegion() []byte {
	if !b.initialised {
		return nil
	}
	w := b.WriteOffset()
	limit := b.writeLimit()
	return b.arena[w:limit:limit]
}

// Advance commits n bytes written at the cursor. When n does not fit the
// cursor is left unchanged and a transient ErrBufferFull is returned.
func (b *SampleBuffer) Advance(n int) error {
	if !b.initialised {
		return errs.WrapInvalid(errs.ErrNotInitialised, "SampleBuffer", "Advance", "cursor advance")
	}
	if n < 0 {
		return errs.WrapInvalid(fmt.Errorf("%w: negative advance %d", errs.ErrInvalidData, n),
			"SampleBuffer", "Advance", "cursor advance")
	}
	if avail := b.available(); n > avail {
		b.stats.Reject()
		if b.metrics != nil {
			b.metrics.recordReject()
		}
		return errs.WrapTransient(fmt.Errorf("%w: %d bytes requested, %d available", errs.ErrBufferFull, n, avail),
			"SampleBuffer", "Advance", "cursor advance")
	}

	b.written += uint64(n)
	b.stats.Advance(n)
	if b.metrics != nil {
		b.metrics.recordAdvance(n)
	}

	b.tryWrap()
	b.updateFill()
	return nil
}

// Write copies p to the cursor and advances past it.
func (b *SampleBuffer) Write(p []byte) error {
	if b.initialised && len(p) <= b.available() {
		copy(b.arena[b.WriteOffset():], p)
	}
	return b.Advance(len(p))
}

// tryWrap moves bytes written past the ring into the head once the head
// sub-buffers they land on have been checked out. A map request larger than
// the ring folds back only after the whole ring has been consumed.
func (b *SampleBuffer) tryWrap() {
	if b.pinned {
		return
	}
	w := b.WriteOffset()
	if w < b.ringLen {
		return
	}
	free := int64(b.consumed) - int64(b.lapStart)
	over := w - b.ringLen
	if free < int64(b.singleLen) {
		return
	}
	if free < int64(b.ringLen) && int64(over) > free {
		return
	}

	// Source and destination overlap when over > ringLen; copy is a memmove.
	copy(b.arena[:over], b.arena[b.ringLen:w])
	b.lapStart += uint64(b.ringLen)

	b.stats.Wrap()
	if b.metrics != nil {
		b.metrics.recordWrap()
	}
}

// ReadReady reports whether the active sub-buffer holds a full read unit.
func (b *SampleBuffer) ReadReady() bool {
	return b.initialised && b.written-b.consumed >= uint64(b.singleLen)
}

// activeBase returns the arena offset of the active sub-buffer. Data left
// over from the previous lap sits in the ring; data of the current lap may
// extend into the runaway zone while a fold-back is pending.
func (b *SampleBuffer) activeBase() int {
	if b.consumed < b.lapStart {
		return int(b.consumed+uint64(b.ringLen)) - int(b.lapStart)
	}
	return int(b.consumed - b.lapStart)
}

// ReadChannels returns one view per data channel into the active sub-buffer.
// The views stay valid until the next Checkout or Reset.
func (b *SampleBuffer) ReadChannels() ([]ChannelView, bool) {
	if !b.initialised {
		return nil, false
	}

	ts := 0
	if b.layout.TimestampRequired {
		ts = 1
	}
	base := b.activeBase()
	size := b.layout.SizeOfSamples
	stride := b.layout.RowSize()

	views := make([]ChannelView, b.layout.NChannels)
	for i := range views {
		views[i] = newChannelView(b.arena, base+(i+ts)*size, stride, size, b.layout.ReadSamples)
	}
	return views, true
}

// ReadTimestamp returns the timestamp channel view of the active sub-buffer.
// ok is false before initialisation or when no timestamp channel is configured.
func (b *SampleBuffer) ReadTimestamp() (ChannelView, bool) {
	if !b.initialised || !b.layout.TimestampRequired {
		return ChannelView{}, false
	}
	return newChannelView(b.arena, b.activeBase(), b.layout.RowSize(), b.layout.SizeOfSamples, b.layout.ReadSamples), true
}

// Checkout releases the active sub-buffer to the producer and moves to the
// next one.
func (b *SampleBuffer) Checkout() error {
	if !b.initialised {
		return errs.WrapInvalid(errs.ErrNotInitialised, "SampleBuffer", "Checkout", "sub-buffer checkout")
	}
	if !b.ReadReady() {
		return errs.WrapTransient(errs.ErrNotReadReady, "SampleBuffer", "Checkout", "sub-buffer checkout")
	}

	b.consumed += uint64(b.singleLen)
	b.stats.Checkout()
	if b.metrics != nil {
		b.metrics.recordCheckout()
	}

	b.tryWrap()
	b.updateFill()
	return nil
}

// Reset rewinds the cursor to the head and the active index to zero,
// discarding everything written so far.
func (b *SampleBuffer) Reset() error {
	if !b.initialised {
		return errs.WrapInvalid(errs.ErrNotInitialised, "SampleBuffer", "Reset", "buffer reset")
	}

	discarded := b.written - b.consumed
	b.rewind()
	b.stats.ResetEvent()
	if b.metrics != nil {
		b.metrics.recordReset()
	}
	b.updateFill()

	b.logger.Debug("Sample buffer reset", "discarded_bytes", discarded, "epoch", b.epoch)
	return nil
}

func (b *SampleBuffer) updateFill() {
	pending := b.Pending()
	b.stats.UpdatePending(int64(pending))
	if b.metrics != nil {
		b.metrics.updateFill(pending, int(b.written-b.consumed), b.ringLen)
	}
}
