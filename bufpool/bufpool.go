// Package bufpool provides a pool of reusable memory slots handed out to the
// pipeline stages so no per-frame allocation is needed.  CPU addressable and
// accelerator resident slots are tracked separately, each with its own
// ceiling.
package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
)

var (
	// ErrNoBuffer is returned by Acquire when no free slot fits the request
	// and the pool ceiling has been reached
	ErrNoBuffer = errors.New("no buffer available")
	// ErrClosed is returned when using a pool after Close
	ErrClosed = errors.New("buffer pool closed")
	// ErrUnknownBuffer is returned when releasing a buffer that is not
	// currently handed out by this pool
	ErrUnknownBuffer = errors.New("unknown or already released buffer")
)

// Kind is where the memory of a slot resides
type Kind int

const (
	// CPU is host memory
	CPU Kind = 0
	// Accelerator is memory shared with or resident on an accelerator
	Accelerator Kind = 1
)

// String returns the name of the kind
func (k Kind) String() string {
	if k == Accelerator {
		return "accelerator"
	}
	return "cpu"
}

// Allocator provides the backing memory of slots
type Allocator interface {
	// Alloc returns a region of exactly size bytes
	Alloc(size int) ([]byte, error)
	// Free releases a region previously returned by Alloc
	Free(buf []byte)
}

// HeapAllocator allocates slots from the Go heap
type HeapAllocator struct{}

// Alloc allocates size bytes on the heap
func (HeapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Free is a no-op, the memory is reclaimed by the garbage collector once
// the pool drops its reference
func (HeapAllocator) Free([]byte) {}

// slot is a single pooled memory region
type slot struct {
	data     []byte
	capacity int
	inUse    bool
	lastUsed time.Time
	// gen increments each time the slot is handed out so stale handles can
	// be detected on release
	gen uint64
}

// Buffer is the handle to an acquired slot.  The holder owns the memory
// until it is passed to Release.
type Buffer struct {
	kind  Kind
	index int
	gen   uint64
	size  int
	data  []byte
}

// Bytes returns the slot memory sliced to the requested size
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// Float32s returns the slot memory reinterpreted as n float32 values.  It
// returns nil if the slot is too small.
func (b *Buffer) Float32s(n int) []float32 {

	if n <= 0 || n*4 > len(b.data) {
		return nil
	}

	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), n)
}

// Size returns the requested size of the buffer
func (b *Buffer) Size() int {
	return b.size
}

// Cap returns the capacity of the underlying slot
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Kind returns where the buffer memory resides
func (b *Buffer) Kind() Kind {
	return b.kind
}

// Options configures a Pool
type Options struct {
	// MaxCPUSlots is the ceiling of CPU slots
	MaxCPUSlots int
	// MaxAcceleratorSlots is the ceiling of accelerator slots
	MaxAcceleratorSlots int
	// SlotSize is the capacity of preallocated slots and the minimum
	// capacity of lazily created ones
	SlotSize int
	// PreallocCPU and PreallocAccelerator are the number of slots created at
	// startup, capped by the ceilings
	PreallocCPU         int
	PreallocAccelerator int
	// CPUAllocator and AcceleratorAllocator provide slot memory, they
	// default to HeapAllocator
	CPUAllocator         Allocator
	AcceleratorAllocator Allocator
	// Logger receives warnings, defaults to a no-op logger
	Logger *zap.Logger
}

// Stats are the pool statistics for observability
type Stats struct {
	TotalSlots       int
	ActiveSlots      int
	CPUSlots         int
	AcceleratorSlots int
	// TotalBytes is the sum of all slot capacities
	TotalBytes int64
	// InUseBytes is the sum of the capacities of slots handed out
	InUseBytes int64
	// PeakBytes is the highest TotalBytes seen
	PeakBytes int64
	// Exhausted counts Acquire calls that returned ErrNoBuffer
	Exhausted uint64
	// UtilizationRate is ActiveSlots / TotalSlots
	UtilizationRate float64
}

// Pool is a pool of fixed capacity memory slots
type Pool struct {
	mu     sync.Mutex
	slots  [2][]*slot
	max    [2]int
	alloc  [2]Allocator
	size   int
	closed bool
	log    *zap.Logger

	totalBytes atomic.Int64
	peakBytes  atomic.Int64
	exhausted  atomic.Uint64
}

// New creates a Pool and preallocates its startup slots
func New(opts Options) (*Pool, error) {

	if opts.SlotSize <= 0 {
		return nil, fmt.Errorf("slot size %d must be positive", opts.SlotSize)
	}

	if opts.MaxCPUSlots < 0 || opts.MaxAcceleratorSlots < 0 {
		return nil, fmt.Errorf("slot ceilings must not be negative")
	}

	p := &Pool{
		max:  [2]int{opts.MaxCPUSlots, opts.MaxAcceleratorSlots},
		size: opts.SlotSize,
		log:  opts.Logger,
	}

	if p.log == nil {
		p.log = zap.NewNop()
	}

	p.alloc[CPU] = opts.CPUAllocator
	p.alloc[Accelerator] = opts.AcceleratorAllocator

	for k := range p.alloc {
		if p.alloc[k] == nil {
			p.alloc[k] = HeapAllocator{}
		}
	}

	prealloc := [2]int{
		min(opts.PreallocCPU, opts.MaxCPUSlots),
		min(opts.PreallocAccelerator, opts.MaxAcceleratorSlots),
	}

	for k, n := range prealloc {
		for i := 0; i < n; i++ {
			if _, err := p.createSlot(Kind(k), p.size); err != nil {
				p.Close()
				return nil, fmt.Errorf("error preallocating %s slot %d: %w", Kind(k), i, err)
			}
		}
	}

	p.log.Debug("buffer pool initialised",
		zap.Int("cpu_slots", len(p.slots[CPU])),
		zap.Int("accelerator_slots", len(p.slots[Accelerator])),
		zap.Int("slot_size", p.size),
	)

	return p, nil
}

// Acquire returns a CPU buffer of at least size bytes
func (p *Pool) Acquire(size int) (*Buffer, error) {
	return p.AcquireKind(CPU, size)
}

// AcquireKind returns a buffer of at least size bytes of the given kind.  An
// existing free slot is reused when one is large enough, otherwise a new slot
// is created if the ceiling allows.  It never blocks, when the pool is
// exhausted ErrNoBuffer is returned and the caller should drop its work.
func (p *Pool) AcquireKind(kind Kind, size int) (*Buffer, error) {

	if kind != CPU && kind != Accelerator {
		return nil, fmt.Errorf("unknown buffer kind %d", kind)
	}

	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	idx := p.findAvailable(kind, size)

	if idx < 0 && len(p.slots[kind]) < p.max[kind] {
		var err error
		idx, err = p.createSlot(kind, max(size, p.size))

		if err != nil {
			p.log.Warn("buffer allocation failed", zap.Stringer("kind", kind),
				zap.Int("size", size), zap.Error(err))
			idx = -1
		}
	}

	if idx < 0 {
		p.exhausted.Add(1)
		return nil, ErrNoBuffer
	}

	s := p.slots[kind][idx]
	s.inUse = true
	s.lastUsed = time.Now()
	s.gen++

	return &Buffer{
		kind:  kind,
		index: idx,
		gen:   s.gen,
		size:  size,
		data:  s.data,
	}, nil
}

// Release marks the buffer's slot free for its next tenant.  The memory is
// neither zeroed nor shrunk.  Releasing a buffer twice returns
// ErrUnknownBuffer.
func (p *Pool) Release(b *Buffer) error {

	if b == nil {
		return ErrUnknownBuffer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if b.index < 0 || b.index >= len(p.slots[b.kind]) {
		return ErrUnknownBuffer
	}

	s := p.slots[b.kind][b.index]

	if !s.inUse || s.gen != b.gen {
		return ErrUnknownBuffer
	}

	s.inUse = false
	s.lastUsed = time.Now()

	return nil
}

// Stats returns the current pool statistics
func (p *Pool) Stats() Stats {

	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		CPUSlots:         len(p.slots[CPU]),
		AcceleratorSlots: len(p.slots[Accelerator]),
		TotalBytes:       p.totalBytes.Load(),
		PeakBytes:        p.peakBytes.Load(),
		Exhausted:        p.exhausted.Load(),
	}

	st.TotalSlots = st.CPUSlots + st.AcceleratorSlots

	for _, list := range p.slots {
		for _, s := range list {
			if s.inUse {
				st.ActiveSlots++
				st.InUseBytes += int64(s.capacity)
			}
		}
	}

	if st.TotalSlots > 0 {
		st.UtilizationRate = float64(st.ActiveSlots) / float64(st.TotalSlots)
	}

	return st
}

// IdleSince returns the number of free slots not used since t
func (p *Pool) IdleSince(t time.Time) int {

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0

	for _, list := range p.slots {
		for _, s := range list {
			if !s.inUse && s.lastUsed.Before(t) {
				n++
			}
		}
	}

	return n
}

// Close releases the memory of every slot exactly once.  Slots still handed
// out are released too, their holders must not use them afterwards.
func (p *Pool) Close() {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	active := 0

	for k, list := range p.slots {
		for _, s := range list {
			if s.inUse {
				active++
			}

			p.alloc[k].Free(s.data)
			s.data = nil
			s.inUse = false
		}

		p.slots[k] = nil
	}

	if active > 0 {
		p.log.Warn("buffer pool closed with buffers in use", zap.Int("active", active))
	}

	p.totalBytes.Store(0)
}

// findAvailable scans for a free slot of the given kind with enough capacity
// and returns its index or -1
func (p *Pool) findAvailable(kind Kind, size int) int {

	for i, s := range p.slots[kind] {
		if !s.inUse && s.capacity >= size {
			return i
		}
	}

	return -1
}

// createSlot allocates a new free slot and returns its index
func (p *Pool) createSlot(kind Kind, size int) (int, error) {

	data, err := p.alloc[kind].Alloc(size)

	if err != nil {
		return -1, err
	}

	if len(data) < size {
		return -1, fmt.Errorf("allocator returned %d bytes, wanted %d", len(data), size)
	}

	p.slots[kind] = append(p.slots[kind], &slot{
		data:     data,
		capacity: size,
		lastUsed: time.Now(),
	})

	p.updatePeak(p.totalBytes.Add(int64(size)))

	return len(p.slots[kind]) - 1, nil
}

// updatePeak raises the peak allocation to current if higher
func (p *Pool) updatePeak(current int64) {
	for {
		peak := p.peakBytes.Load()

		if current <= peak || p.peakBytes.CompareAndSwap(peak, current) {
			return
		}
	}
}
