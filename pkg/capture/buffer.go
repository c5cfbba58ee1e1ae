package capture

// AlignmentBuffer accumulates raw bytes and exposes only leading ranges whose
// length is a whole multiple of the frame size. Any trailing remainder stays
// buffered and reappears as the prefix once more bytes arrive.
//
// It has no locking of its own; each delivery path owns one instance.
type AlignmentBuffer struct {
	frameSize int
	data      []byte
}

// NewAlignmentBuffer creates a buffer for the given frame size. Frame sizes
// from 1 byte (mono 8-bit) up to the largest representable frame are valid.
func NewAlignmentBuffer(frameSize int) *AlignmentBuffer {
	if frameSize < 1 {
		frameSize = 1
	}
	return &AlignmentBuffer{frameSize: frameSize}
}

// Append adds p to the end of the buffer.
func (b *AlignmentBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Aligned returns the maximal leading sub-range whose length is an exact
// multiple of the frame size. The returned slice aliases the buffer and is
// only valid until the next Append or Discard.
func (b *AlignmentBuffer) Aligned() []byte {
	n := len(b.data) / b.frameSize * b.frameSize
	return b.data[:n]
}

// Discard removes exactly n leading bytes, shifting any remainder to the
// front. n larger than the buffered length empties the buffer.
func (b *AlignmentBuffer) Discard(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
}

// Len returns the number of buffered bytes, aligned or not.
func (b *AlignmentBuffer) Len() int {
	return len(b.data)
}

// Reset empties the buffer without releasing its storage.
func (b *AlignmentBuffer) Reset() {
	b.data = b.data[:0]
}
