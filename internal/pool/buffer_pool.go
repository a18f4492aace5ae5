package pool

import "sync"

// ReadBufferSize is the size of the buffers handed out by GetBuffer.
// It holds several maximum size frames.
const ReadBufferSize = 1024

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, ReadBufferSize)
		return &b
	},
}

// GetBuffer returns a ReadBufferSize byte buffer. Release it with PutBuffer.
func GetBuffer() *[]byte {
	b, _ := bufferPool.Get().(*[]byte)
	return b
}

// PutBuffer returns b to the pool. Buffers of another size are dropped.
func PutBuffer(b *[]byte) {
	if b == nil || cap(*b) != ReadBufferSize {
		return
	}
	*b = (*b)[:ReadBufferSize]
	bufferPool.Put(b)
}
