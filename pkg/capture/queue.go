package capture

import "sync/atomic"

// Queue sizing. The session sizes the queue from the stream byte rate (one
// second of audio), clamped to this floor.
const minQueueCapacity = 64 * 1024

// TransportQueue is a bounded byte ring safe for exactly one producer and one
// consumer goroutine. Push never blocks and never evicts queued bytes: when
// the free space cannot hold the whole input, only a prefix fits and the rest
// is dropped by the caller. The session's producer drops whole frames only,
// so the stream as seen by the consumer stays frame-aligned; sustained
// overflow therefore loses audio but never misframes it.
type TransportQueue struct {
	buf  []byte
	mask uint64

	// head is owned by the consumer, tail by the producer. Each side reads
	// the other's index atomically.
	head atomic.Uint64
	tail atomic.Uint64
}

// NewTransportQueue creates a queue with at least the given capacity, rounded
// up to a power of two.
func NewTransportQueue(capacity int) *TransportQueue {
	if capacity < minQueueCapacity {
		capacity = minQueueCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &TransportQueue{
		buf:  make([]byte, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the queue capacity in bytes.
func (q *TransportQueue) Cap() int {
	return len(q.buf)
}

// Len returns the approximate number of queued bytes. Safe from any
// goroutine; the value may be stale by the time it is read.
func (q *TransportQueue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Free returns the space currently available to the producer. Producer
// goroutine only.
func (q *TransportQueue) Free() int {
	return len(q.buf) - q.Len()
}

// Push appends as much of p as fits and returns the number of bytes written.
// Producer goroutine only; never blocks.
func (q *TransportQueue) Push(p []byte) int {
	tail := q.tail.Load()
	free := uint64(len(q.buf)) - (tail - q.head.Load())
	n := len(p)
	if uint64(n) > free {
		n = int(free)
	}
	if n == 0 {
		return 0
	}

	idx := tail & q.mask
	first := copy(q.buf[idx:], p[:n])
	if first < n {
		copy(q.buf, p[first:n])
	}
	q.tail.Store(tail + uint64(n))
	return n
}

// Drain appends all currently queued bytes to dst and returns the extended
// slice. Consumer goroutine only; never blocks.
func (q *TransportQueue) Drain(dst []byte) []byte {
	head := q.head.Load()
	avail := q.tail.Load() - head
	if avail == 0 {
		return dst
	}

	idx := head & q.mask
	run := uint64(len(q.buf)) - idx
	if run > avail {
		run = avail
	}
	dst = append(dst, q.buf[idx:idx+run]...)
	if run < avail {
		dst = append(dst, q.buf[:avail-run]...)
	}
	q.head.Store(head + avail)
	return dst
}
