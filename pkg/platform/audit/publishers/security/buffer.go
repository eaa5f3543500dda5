package security

import (
	"sync"

	audit "aegis/pkg/platform/audit"
)

const defaultCapacity = 10000

// RingBuffer is a bounded, thread-safe FIFO of audit entries.
// When full, the oldest entry is dropped to make room for the new one.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []audit.Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RingBuffer{
		entries:  make([]audit.Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest if necessary.
// It reports whether an entry was dropped.
func (b *RingBuffer) Enqueue(entry audit.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if b.count >= b.capacity {
		b.entries[b.tail] = audit.Entry{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// DequeueBatch removes up to n entries in FIFO order.
func (b *RingBuffer) DequeueBatch(n int) []audit.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]audit.Entry, n)
	for i := range n {
		result[i] = b.entries[b.tail]
		b.entries[b.tail] = audit.Entry{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Len returns the current number of buffered entries.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of entries dropped on overflow.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
