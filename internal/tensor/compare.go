package tensor

import "math"

// Default tolerances match numpy.isclose.
const (
	DefaultRTol = 1e-5
	DefaultATol = 1e-8
)

// Closeness summarizes an element-wise comparison.
type Closeness struct {
	Close      bool
	MaxAbsDiff float64
	Mismatched int
	Elements   int
}

// AllClose compares a against reference b with |a-b| <= atol + rtol*|b|.
// Tensors of different volume are never close; shapes that only differ in
// singleton axes (for example a leading batch of one) are compared.
func AllClose(a, b *Tensor, rtol, atol float64) Closeness {
	if len(a.data) != len(b.data) {
		return Closeness{Close: false, MaxAbsDiff: math.Inf(1), Mismatched: len(b.data), Elements: len(b.data)}
	}
	c := Closeness{Close: true, Elements: len(a.data)}
	for i, av := range a.data {
		bv := b.data[i]
		if av == bv {
			continue
		}
		diff := math.Abs(av - bv)
		if math.IsNaN(diff) {
			diff = math.Inf(1)
		}
		if diff > c.MaxAbsDiff {
			c.MaxAbsDiff = diff
		}
		if !(diff <= atol+rtol*math.Abs(bv)) {
			c.Mismatched++
			c.Close = false
		}
	}
	return c
}
