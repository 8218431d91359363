package pool

import "sync"

// Size classes. Receive buffers default to the small class, transfer blocks
// are usually far below it.
const (
	SmallSize  = 4096
	MediumSize = 32768
	LargeSize  = 131072
)

// BufferPool manages reusable byte buffers in three size classes
type BufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// New creates an empty pool
func New() *BufferPool {
	return &BufferPool{
		small:  sync.Pool{New: newBuffer(SmallSize)},
		medium: sync.Pool{New: newBuffer(MediumSize)},
		large:  sync.Pool{New: newBuffer(LargeSize)},
	}
}

func newBuffer(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

var defaultPool = New()

// Get returns a buffer of exactly size bytes. Anything above LargeSize is
// allocated directly and never pooled.
func (p *BufferPool) Get(size int) []byte {
	switch {
	case size <= SmallSize:
		return (*p.small.Get().(*[]byte))[:size]
	case size <= MediumSize:
		return (*p.medium.Get().(*[]byte))[:size]
	case size <= LargeSize:
		return (*p.large.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer obtained from Get
func (p *BufferPool) Put(buf []byte) {
	switch cap(buf) {
	case SmallSize:
		full := buf[:SmallSize]
		p.small.Put(&full)
	case MediumSize:
		full := buf[:MediumSize]
		p.medium.Put(&full)
	case LargeSize:
		full := buf[:LargeSize]
		p.large.Put(&full)
	}
	// Else: non-standard size, let GC handle it
}

// GetBuffer takes a buffer from the process-wide pool
func GetBuffer(size int) []byte {
	return defaultPool.Get(size)
}

// PutBuffer returns a buffer to the process-wide pool
func PutBuffer(buf []byte) {
	defaultPool.Put(buf)
}
