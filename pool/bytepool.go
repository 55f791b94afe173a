// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// DefaultBufferSize is used when a BytePool is built with a non-positive size.
const DefaultBufferSize = 4096

// BytePool hands out fixed-size read buffers. Buffers of any other length
// are rejected on Put so the pool never grows mixed sizes.
type BytePool struct {
	pool *SyncPool[*[]byte]
	size int
}

// NewBytePool builds a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BytePool{
		pool: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
		size: size,
	}
}

// Size returns the buffer length handed out by the pool.
func (b *BytePool) Size() int {
	return b.size
}

// GetBuffer returns a buffer from the pool.
func (b *BytePool) GetBuffer() []byte {
	return *b.pool.Get()
}

// PutBuffer returns a buffer to the pool.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	buf = buf[:b.size]
	b.pool.Put(&buf)
}
