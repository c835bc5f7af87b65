// File: buffer/pool.go

package buffer

import "sync"

// ChunkPool hands out fixed-size scratch chunks for draining sockets.
// Chunks are recycled through a sync.Pool so the read loop does not
// allocate per event.
type ChunkPool struct {
	size int
	pool sync.Pool
}

// NewChunkPool creates a pool of chunks of the given size.
func NewChunkPool(size int) *ChunkPool {
	p := &ChunkPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a chunk of the pool's configured size.
func (p *ChunkPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a chunk to the pool. Chunks of a different size are dropped.
func (p *ChunkPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// ChunkSize returns the size of chunks handed out by Get.
func (p *ChunkPool) ChunkSize() int {
	return p.size
}
