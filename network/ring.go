package network

import "golang.org/x/exp/constraints"

// ringBuffer is a fixed-capacity circular buffer used to retain the most
// recent N values of an ordered type without unbounded growth. It is
// adapted directly from the teacher library's rate limiter
// (github.com/joeycumines/go-catrate, ring.go), generalized only in that
// it keeps the generic type parameter rather than being hand-specialized;
// here it backs SimulatedNetwork's bounded "recent sequence numbers per
// link" diagnostic (RecentSequenceNumbers), without the network itself
// retaining every send forever.
type ringBuffer[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

// newRingBuffer returns a ringBuffer with the given power-of-2 capacity.
func newRingBuffer[E constraints.Ordered](size int) *ringBuffer[E] {
	if size <= 0 || size&(size-1) != 0 {
		panic("network: ring: size must be a power of 2")
	}
	return &ringBuffer[E]{s: make([]E, size)}
}

func (x *ringBuffer[E]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

// Push appends v, evicting the oldest element if the buffer is full.
func (x *ringBuffer[E]) Push(v E) {
	if x.Len() == x.Cap() {
		x.r++
	}
	x.s[x.mask(x.w)] = v
	x.w++
}

func (x *ringBuffer[E]) Len() int { return int(x.w - x.r) }

func (x *ringBuffer[E]) Cap() int { return len(x.s) }

// Slice returns the buffered values in insertion order, oldest first.
func (x *ringBuffer[E]) Slice() []E {
	l := x.Len()
	if l == 0 {
		return nil
	}
	b := make([]E, l)
	for i := 0; i < l; i++ {
		b[i] = x.s[x.mask(x.r+uint(i))]
	}
	return b
}
