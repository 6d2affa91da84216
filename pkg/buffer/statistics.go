package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks sample buffer activity.
type Statistics struct {
	// Atomic counters for thread-safe updates
	advances     int64
	bytesWritten int64
	rejected     int64
	checkouts    int64
	resets       int64
	wraps        int64

	// Protected by mutex
	mu             sync.RWMutex
	startTime      time.Time
	pendingBuffers int64
	maxPending     int64
	memoryUsage    int64 // Arena size in bytes
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Advance records a committed producer write of n bytes.
func (s *Statistics) Advance(n int) {
	atomic.AddInt64(&s.advances, 1)
	atomic.AddInt64(&s.bytesWritten, int64(n))
}

// Reject records a producer write refused for lack of space.
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejected, 1)
}

// Checkout records a sub-buffer released by the consumer.
func (s *Statistics) Checkout() {
	atomic.AddInt64(&s.checkouts, 1)
}

// ResetEvent records a buffer rewind.
func (s *Statistics) ResetEvent() {
	atomic.AddInt64(&s.resets, 1)
}

// Wrap records runaway-zone bytes being moved back to the head.
func (s *Statistics) Wrap() {
	atomic.AddInt64(&s.wraps, 1)
}

// UpdatePending updates the number of complete sub-buffers awaiting checkout.
func (s *Statistics) UpdatePending(pending int64) {
	s.mu.Lock()
	s.pendingBuffers = pending
	if pending > s.maxPending {
		s.maxPending = pending
	}
	s.mu.Unlock()
}

// UpdateMemoryUsage records the arena size.
func (s *Statistics) UpdateMemoryUsage(usage int64) {
	s.mu.Lock()
	s.memoryUsage = usage
	s.mu.Unlock()
}

// Advances returns the number of committed producer writes.
func (s *Statistics) Advances() int64 {
	return atomic.LoadInt64(&s.advances)
}

// BytesWritten returns the total number of committed bytes.
func (s *Statistics) BytesWritten() int64 {
	return atomic.LoadInt64(&s.bytesWritten)
}

// Rejected returns the number of refused producer writes.
func (s *Statistics) Rejected() int64 {
	return atomic.LoadInt64(&s.rejected)
}

// Checkouts returns the number of released sub-buffers.
func (s *Statistics) Checkouts() int64 {
	return atomic.LoadInt64(&s.checkouts)
}

// Resets returns the number of rewinds.
func (s *Statistics) Resets() int64 {
	return atomic.LoadInt64(&s.resets)
}

// Wraps returns how many times runaway bytes were moved to the head.
func (s *Statistics) Wraps() int64 {
	return atomic.LoadInt64(&s.wraps)
}

// PendingBuffers returns the number of complete sub-buffers awaiting checkout.
func (s *Statistics) PendingBuffers() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingBuffers
}

// MaxPending returns the highest number of pending sub-buffers seen.
func (s *Statistics) MaxPending() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPending
}

// MemoryUsage returns the arena size in bytes.
func (s *Statistics) MemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memoryUsage
}

// Throughput returns the average number of committed bytes per second.
func (s *Statistics) Throughput() float64 {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()

	if elapsed == 0 {
		return 0.0
	}
	return float64(s.BytesWritten()) / elapsed.Seconds()
}

// RejectRate returns the fraction of producer writes that were refused (0.0 to 1.0).
func (s *Statistics) RejectRate() float64 {
	attempts := s.Advances() + s.Rejected()
	if attempts == 0 {
		return 0.0
	}
	return float64(s.Rejected()) / float64(attempts)
}

// Uptime returns how long the statistics have been collected.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset zeroes all statistics.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.advances, 0)
	atomic.StoreInt64(&s.bytesWritten, 0)
	atomic.StoreInt64(&s.rejected, 0)
	atomic.StoreInt64(&s.checkouts, 0)
	atomic.StoreInt64(&s.resets, 0)
	atomic.StoreInt64(&s.wraps, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.pendingBuffers = 0
	s.maxPending = 0
	s.mu.Unlock()
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Advances       int64         `json:"advances"`
	BytesWritten   int64         `json:"bytes_written"`
	Rejected       int64         `json:"rejected"`
	Checkouts      int64         `json:"checkouts"`
	Resets         int64         `json:"resets"`
	Wraps          int64         `json:"wraps"`
	PendingBuffers int64         `json:"pending_buffers"`
	MaxPending     int64         `json:"max_pending"`
	MemoryUsage    int64         `json:"memory_usage"`
	Throughput     float64       `json:"throughput"`
	RejectRate     float64       `json:"reject_rate"`
	Uptime         time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Advances:       s.Advances(),
		BytesWritten:   s.BytesWritten(),
		Rejected:       s.Rejected(),
		Checkouts:      s.Checkouts(),
		Resets:         s.Resets(),
		Wraps:          s.Wraps(),
		PendingBuffers: s.PendingBuffers(),
		MaxPending:     s.MaxPending(),
		MemoryUsage:    s.MemoryUsage(),
		Throughput:     s.Throughput(),
		RejectRate:     s.RejectRate(),
		Uptime:         s.Uptime(),
	}
}
