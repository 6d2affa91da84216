package buffer

import (
	"fmt"
	"sync"

	errs "github.com/c360/daqstream/errors"
)

// Shared guards a SampleBuffer with a mutex so that one producer goroutine and
// one consumer goroutine can use it concurrently.
//
// Bulk copies happen outside the lock: the producer fills a Reservation and
// commits it, the consumer decodes its views inside Consume. Neither region
// can overlap the other while the ring discipline holds.
//
// Reset must be called from the consumer goroutine.
type Shared struct {
	mu  sync.Mutex
	buf *SampleBuffer
}

// NewShared wraps buf. buf must not be used directly afterwards.
func NewShared(buf *SampleBuffer) *Shared {
	return &Shared{buf: buf}
}

// Reservation is a writable region handed to the producer by Reserve.
type Reservation struct {
	// Region aliases the arena at the write cursor.
	Region []byte
	epoch  uint64
}

// Initialise validates the layout and (re)allocates the arena.
func (s *Shared) Initialise(layout Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Initialise(layout)
}

// Layout returns the active layout.
func (s *Shared) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Layout()
}

// Initialised reports whether the buffer has been initialised.
func (s *Shared) Initialised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Initialised()
}

// CheckAvailableSpace reports whether one map request fits at the cursor.
func (s *Shared) CheckAvailableSpace() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.CheckAvailableSpace()
}

// CheckAvailableSpaceFor reports whether n bytes fit at the cursor.
func (s *Shared) CheckAvailableSpaceFor(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.CheckAvailableSpaceFor(n)
}

// Advance commits n bytes written at the cursor.
func (s *Shared) Advance(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Advance(n)
}

// Write copies p to the cursor and advances past it.
func (s *Shared) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Reserve hands out the writable region at the cursor when at least one map
// request fits. Until the reservation is committed the runaway zone is not
// folded back to the head, so the region keeps its meaning.
func (s *Shared) Reserve() (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.buf.CheckAvailableSpace() {
		return Reservation{}, false
	}
	s.buf.pinned = true
	return Reservation{Region: s.buf.WriteRegion(), epoch: s.buf.Epoch()}, true
}

// Commit advances past the first n bytes of r. A reservation taken before a
// Reset or re-initialisation is rejected with ErrStaleWrite.
func (s *Shared) Commit(r Reservation, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.epoch != s.buf.Epoch() {
		return errs.WrapTransient(errs.ErrStaleWrite, "Shared", "Commit", "reservation commit")
	}
	s.buf.pinned = false
	if n > len(r.Region) {
		s.buf.tryWrap()
		return errs.WrapInvalid(fmt.Errorf("%w: commit of %d bytes exceeds reservation of %d",
			errs.ErrInvalidData, n, len(r.Region)), "Shared", "Commit", "reservation commit")
	}
	return s.buf.Advance(n)
}

// ReadReady reports whether a full read unit is available.
func (s *Shared) ReadReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.ReadReady()
}

// ReadChannels returns views into the active sub-buffer.
func (s *Shared) ReadChannels() ([]ChannelView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.ReadChannels()
}

// ReadTimestamp returns the timestamp view of the active sub-buffer.
func (s *Shared) ReadTimestamp() (ChannelView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.ReadTimestamp()
}

// Checkout releases the active sub-buffer.
func (s *Shared) Checkout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Checkout()
}

// Consume runs fn on the active sub-buffer when a read unit is ready and
// checks it out if fn succeeds. It reports whether a sub-buffer was handed
// to fn. ts is the zero ChannelView when no timestamp channel is configured.
func (s *Shared) Consume(fn func(channels []ChannelView, ts ChannelView) error) (bool, error) {
	s.mu.Lock()
	if !s.buf.ReadReady() {
		s.mu.Unlock()
		return false, nil
	}
	channels, _ := s.buf.ReadChannels()
	ts, _ := s.buf.ReadTimestamp()
	epoch := s.buf.Epoch()
	s.mu.Unlock()

	if err := fn(channels, ts); err != nil {
		return true, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.buf.Epoch() {
		return true, errs.WrapTransient(errs.ErrStaleWrite, "Shared", "Consume", "sub-buffer checkout")
	}
	return true, s.buf.Checkout()
}

// Reset rewinds the buffer and invalidates outstanding reservations.
func (s *Shared) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Reset()
}

// Pending returns the number of complete sub-buffers awaiting checkout.
func (s *Shared) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Pending()
}

// WriteOffset returns the cursor position relative to the head.
func (s *Shared) WriteOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.WriteOffset()
}

// ActiveBuffer returns the index of the sub-buffer the consumer reads next.
func (s *Shared) ActiveBuffer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.ActiveBuffer()
}

// Epoch changes every time the buffer is initialised or reset.
func (s *Shared) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Epoch()
}

// Stats returns the statistics tracker; it is safe for concurrent use.
func (s *Shared) Stats() *Statistics {
	return s.buf.Stats()
}
