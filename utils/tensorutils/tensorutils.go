// Package tensorutils provides utilities for working with tensors
package tensorutils

// Slice selects the half-open index range [start, end) with the given
// step along one axis of a tensor. It satisfies tensor.Slice.
type Slice struct {
	start int
	end   int
	step  int
}

// NewSlice returns a Slice covering [start, end) with the given step
func NewSlice(start, end, step int) Slice {
	return Slice{start: start, end: end, step: step}
}

// Start returns the first index of the slice
func (s Slice) Start() int { return s.start }

// End returns the index one past the last index of the slice
func (s Slice) End() int { return s.end }

// Step returns the stride between consecutive indices of the slice
func (s Slice) Step() int { return s.step }
