// Package utils provides small helpers shared by the backup components.
package utils

import (
	"io"
	"sync"
)

// BufferPool provides a pool of reusable byte buffers for stream copies.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of buffers of the given size.
func NewBufferPool(bufferSize int) *BufferPool {
	return &BufferPool{
		size: bufferSize,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, bufferSize)
				return &b
			},
		},
	}
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of a different size are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) != p.size {
		return
	}
	*buf = (*buf)[:p.size]
	p.pool.Put(buf)
}

// Copy copies src to dst using a pooled buffer.
func (p *BufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := p.Get()
	defer p.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// DefaultBufferPool holds 256KB buffers, sized for dump and archive streams.
var DefaultBufferPool = NewBufferPool(256 * 1024)

// Copy copies src to dst with a buffer from DefaultBufferPool.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return DefaultBufferPool.Copy(dst, src)
}
