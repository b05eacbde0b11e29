package postprocess

import (
	"sync"
)

// scratchPool holds float32 buffers used when an output tensor must be
// converted from float16 or int8 before decoding, so concurrent decoders do
// not allocate per frame
type scratchPool struct {
	pool    sync.Pool
	maxSize int
}

// newScratchPool returns a pool whose buffers start with maxSize capacity
func newScratchPool(maxSize int) *scratchPool {

	s := &scratchPool{maxSize: maxSize}

	s.pool.New = func() any {
		buf := make([]float32, 0, maxSize)
		return &buf
	}

	return s
}

// Get returns a zero length buffer with at least size capacity.  Buffers
// are not zeroed as the caller overwrites them completely.
func (s *scratchPool) Get(size int) *[]float32 {

	buf := s.pool.Get().(*[]float32)

	if cap(*buf) < size {
		*buf = make([]float32, 0, size)
	}

	*buf = (*buf)[:0]

	return buf
}

// Put returns a buffer to the pool, oversized buffers are kept so the pool
// settles on the largest tensor seen
func (s *scratchPool) Put(buf *[]float32) {
	*buf = (*buf)[:0]
	s.pool.Put(buf)
}
