package bufpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator records allocations and frees so the tests can check
// every slot is freed exactly once
type countingAllocator struct {
	mu     sync.Mutex
	allocs int
	frees  map[*byte]int
	fail   bool
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{frees: make(map[*byte]int)}
}

func (c *countingAllocator) Alloc(size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return nil, errors.New("out of memory")
	}

	c.allocs++
	buf := make([]byte, size)
	c.frees[&buf[0]] = 0
	return buf, nil
}

func (c *countingAllocator) Free(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frees[&buf[0]]++
}

func TestAcquireReleaseReuse(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 2, SlotSize: 1024})
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire(512)
	require.NoError(t, err)
	assert.Equal(t, 512, a.Size())
	assert.Len(t, a.Bytes(), 512)
	assert.Equal(t, 1024, a.Cap())

	a.Bytes()[0] = 0xAB

	require.NoError(t, p.Release(a))

	// same slot is handed out again, contents are not zeroed
	b, err := p.Acquire(256)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b.Bytes()[0])
	assert.Equal(t, 1, p.Stats().TotalSlots)
}

func TestAcquireExhausted(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 2, SlotSize: 64})
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire(64)
	require.NoError(t, err)
	_, err = p.Acquire(64)
	require.NoError(t, err)

	_, err = p.Acquire(64)
	assert.ErrorIs(t, err, ErrNoBuffer)
	assert.EqualValues(t, 1, p.Stats().Exhausted)

	require.NoError(t, p.Release(a))

	c, err := p.Acquire(32)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestAcquireLargerThanSlotSize(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 2, SlotSize: 64, PreallocCPU: 1})
	require.NoError(t, err)
	defer p.Close()

	// preallocated slot is too small so a new one is created at the
	// requested size
	b, err := p.Acquire(200)
	require.NoError(t, err)
	assert.Equal(t, 200, b.Cap())

	st := p.Stats()
	assert.Equal(t, 2, st.CPUSlots)
	assert.EqualValues(t, 264, st.TotalBytes)
	assert.EqualValues(t, 200, st.InUseBytes)

	// ceiling reached and the free slot is too small
	_, err = p.Acquire(100)
	assert.ErrorIs(t, err, ErrNoBuffer)
}

func TestKindsAreSeparate(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 1, MaxAcceleratorSlots: 1, SlotSize: 16})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.AcquireKind(CPU, 16)
	require.NoError(t, err)
	assert.Equal(t, CPU, c.Kind())

	a, err := p.AcquireKind(Accelerator, 16)
	require.NoError(t, err)
	assert.Equal(t, Accelerator, a.Kind())

	_, err = p.AcquireKind(CPU, 16)
	assert.ErrorIs(t, err, ErrNoBuffer)
	_, err = p.AcquireKind(Accelerator, 16)
	assert.ErrorIs(t, err, ErrNoBuffer)

	st := p.Stats()
	assert.Equal(t, 2, st.ActiveSlots)
	assert.InDelta(t, 1.0, st.UtilizationRate, 1e-9)
}

func TestDoubleRelease(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 1, SlotSize: 16})
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire(16)
	require.NoError(t, err)
	require.NoError(t, p.Release(a))
	assert.ErrorIs(t, p.Release(a), ErrUnknownBuffer)

	// stale handle must not release the slot's new tenant
	b, err := p.Acquire(16)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(a), ErrUnknownBuffer)
	assert.Equal(t, 1, p.Stats().ActiveSlots)
	require.NoError(t, p.Release(b))

	assert.ErrorIs(t, p.Release(nil), ErrUnknownBuffer)
}

func TestInvalidRequests(t *testing.T) {

	_, err := New(Options{MaxCPUSlots: 1})
	assert.Error(t, err)

	p, err := New(Options{MaxCPUSlots: 1, SlotSize: 16})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(0)
	assert.Error(t, err)
	_, err = p.AcquireKind(Kind(7), 16)
	assert.Error(t, err)
}

func TestCloseFreesOnce(t *testing.T) {

	alloc := newCountingAllocator()

	p, err := New(Options{
		MaxCPUSlots:          3,
		MaxAcceleratorSlots:  2,
		SlotSize:             32,
		PreallocCPU:          2,
		PreallocAccelerator:  5,
		CPUAllocator:         alloc,
		AcceleratorAllocator: alloc,
	})
	require.NoError(t, err)

	// prealloc capped by ceiling
	assert.Equal(t, 4, alloc.allocs)

	_, err = p.Acquire(32)
	require.NoError(t, err)
	_, err = p.Acquire(32)
	require.NoError(t, err)
	_, err = p.Acquire(32)
	require.NoError(t, err)
	assert.Equal(t, 5, alloc.allocs)

	p.Close()
	p.Close()

	for _, n := range alloc.frees {
		assert.Equal(t, 1, n)
	}

	assert.Len(t, alloc.frees, 5)

	_, err = p.Acquire(32)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, p.Stats().TotalBytes)
}

func TestAllocatorFailure(t *testing.T) {

	alloc := newCountingAllocator()
	alloc.fail = true

	_, err := New(Options{MaxCPUSlots: 1, SlotSize: 8, PreallocCPU: 1, CPUAllocator: alloc})
	assert.Error(t, err)

	p, err := New(Options{MaxCPUSlots: 1, SlotSize: 8, CPUAllocator: alloc})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(8)
	assert.ErrorIs(t, err, ErrNoBuffer)
}

func TestFloat32View(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 1, SlotSize: 16})
	require.NoError(t, err)
	defer p.Close()

	b, err := p.Acquire(16)
	require.NoError(t, err)

	f := b.Float32s(4)
	require.Len(t, f, 4)
	f[0] = 1.5
	assert.Equal(t, float32(1.5), b.Float32s(1)[0])

	assert.Nil(t, b.Float32s(5))
}

func TestPeakAndIdle(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 4, SlotSize: 10})
	require.NoError(t, err)
	defer p.Close()

	var bufs []*Buffer

	for i := 0; i < 4; i++ {
		b, err := p.Acquire(10)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}

	assert.EqualValues(t, 40, p.Stats().PeakBytes)

	for _, b := range bufs {
		require.NoError(t, p.Release(b))
	}

	assert.Equal(t, 4, p.IdleSince(time.Now().Add(time.Second)))
	assert.Equal(t, 0, p.IdleSince(time.Now().Add(-time.Hour)))
}

func TestConcurrentAcquireRelease(t *testing.T) {

	p, err := New(Options{MaxCPUSlots: 4, SlotSize: 64})
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 200; i++ {
				b, err := p.Acquire(64)

				if errors.Is(err, ErrNoBuffer) {
					continue
				}

				if !assert.NoError(t, err) {
					return
				}

				assert.NoError(t, p.Release(b))
			}
		}()
	}

	wg.Wait()

	st := p.Stats()
	assert.Equal(t, 0, st.ActiveSlots)
	assert.LessOrEqual(t, st.CPUSlots, 4)
}
