package atomic_float

import (
	"math"
	"sync/atomic"
)

/*
Float64 is a float64 that may be read and written from many goroutines, stored as its
IEEE-754 bits in an atomic.Uint64. The zero value is 0.0 and ready to use.

Add is a compare-and-swap loop: a writer that loses the race re-reads and retries,
so no addend is ever dropped. Floating point addition is not associative, so the final
sum of many concurrent adds may differ in the last bits between runs unless every
addend is exactly representable (e.g. small integers).
*/
type Float64 struct {
	bits atomic.Uint64
}

func (f *Float64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *Float64) Store(val float64) {
	f.bits.Store(math.Float64bits(val))
}

// Add adds delta and returns the new value.
func (f *Float64) Add(delta float64) (newVal float64) {
	for {
		old := f.bits.Load()
		newVal = math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(newVal)) {
			return
		}
	}
}

// Max raises the value to val if val is larger, returning the resulting value.
func (f *Float64) Max(val float64) float64 {
	for {
		old := f.bits.Load()
		cur := math.Float64frombits(old)
		if val <= cur {
			return cur
		}
		if f.bits.CompareAndSwap(old, math.Float64bits(val)) {
			return val
		}
	}
}

// Mean is a concurrent running average: a sum and a count updated together.
type Mean struct {
	sum   Float64
	count atomic.Int64
}

func (m *Mean) Observe(val float64) {
	m.sum.Add(val)
	m.count.Add(1)
}

// Value is the mean of the observations so far, or 0 before the first. A reader
// racing an Observe may see the new sum with the old count.
func (m *Mean) Value() float64 {
	n := m.count.Load()
	if n == 0 {
		return 0
	}
	return m.sum.Load() / float64(n)
}

func (m *Mean) Count() int64 {
	return m.count.Load()
}
