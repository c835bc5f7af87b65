// File: buffer/buffer.go
// Package buffer provides the growable byte accumulator used for both the
// unconsumed-read buffer and the pending-write buffer of a connection.

package buffer

// ByteBuffer accumulates bytes appended across multiple partial reads or
// writes. It is not safe for concurrent use; callers confine each instance
// to a single owner at a time.
type ByteBuffer struct {
	data []byte
}

// New returns an empty ByteBuffer.
func New() *ByteBuffer {
	return &ByteBuffer{}
}

// NewSize returns an empty ByteBuffer with the given initial capacity.
func NewSize(capacity int) *ByteBuffer {
	return &ByteBuffer{data: make([]byte, 0, capacity)}
}

// Append adds p to the end of the buffer.
func (b *ByteBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Len returns the number of buffered bytes.
func (b *ByteBuffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes. The slice is only valid until the next
// mutating call.
func (b *ByteBuffer) Bytes() []byte {
	return b.data
}

// Reset truncates the buffer to empty, keeping the backing array for reuse.
func (b *ByteBuffer) Reset() {
	b.data = b.data[:0]
}

// Discard drops the first n bytes, compacting the remainder to the front.
// Discarding more than Len() empties the buffer.
func (b *ByteBuffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
}
