package monitor

import (
	"math"
	"sync/atomic"
)

// window is a fixed size ring of the most recent samples
type window struct {
	buf  []float64
	next int
	n    int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{buf: make([]float64, size)}
}

// push adds v, overwriting the oldest sample once full
func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// last appends the most recent n samples to dst, oldest first
func (w *window) last(dst []float64, n int) []float64 {

	if n > w.n {
		n = w.n
	}

	start := w.next - n
	if start < 0 {
		start += len(w.buf)
	}

	for i := 0; i < n; i++ {
		dst = append(dst, w.buf[(start+i)%len(w.buf)])
	}

	return dst
}

func (w *window) len() int {
	return w.n
}

func (w *window) reset() {
	w.next = 0
	w.n = 0
}

// atomicFloat is a float64 updated with atomic loads and stores
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// Max stores v if it is larger than the current value
func (f *atomicFloat) Max(v float64) {
	for {
		old := f.bits.Load()
		if v <= math.Float64frombits(old) {
			return
		}
		if f.bits.CompareAndSwap(old, math.Float64bits(v)) {
			return
		}
	}
}

// Add adds delta to the current value
func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}
