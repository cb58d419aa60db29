package tensor

import "fmt"

// Shape represents the dimensions of an array.
type Shape []int

// NumElements returns the product of the extents.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that the shape has rank >= 1 and only positive extents.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("empty shape: %w", ErrShape)
	}
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0): %w", i, dim, ErrShape)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ContiguousStrides calculates row-major strides in elements.
// stride[i] = product of all dimensions after i.
func (s Shape) ContiguousStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// ValidateStrides checks that strides can describe a view of shape.
func ValidateStrides(shape Shape, strides []int) error {
	if len(strides) != len(shape) {
		return fmt.Errorf("stride length %d does not match rank %d: %w", len(strides), len(shape), ErrShape)
	}
	for i, st := range strides {
		if st < 0 {
			return fmt.Errorf("negative stride %d at axis %d: %w", st, i, ErrShape)
		}
	}
	return nil
}

// Extent returns the number of elements the backing store must hold to serve
// every index of shape under strides: the largest reachable offset plus one.
// For contiguous strides this equals NumElements.
func Extent(shape Shape, strides []int) int {
	last := 0
	for i, dim := range shape {
		last += (dim - 1) * strides[i]
	}
	return last + 1
}

// IsContiguous reports whether strides are the row-major strides of shape.
func IsContiguous(shape Shape, strides []int) bool {
	want := shape.ContiguousStrides()
	if len(want) != len(strides) {
		return false
	}
	for i := range want {
		if shape[i] != 1 && want[i] != strides[i] {
			return false
		}
	}
	return true
}

// Offset returns the flat element offset of a full index tuple.
func Offset(index []int, strides []int) int {
	off := 0
	for i, idx := range index {
		off += idx * strides[i]
	}
	return off
}

// CheckIndex validates that index addresses exactly one element of shape.
// Partial index tuples are rejected rather than resolved to a sub-array.
func CheckIndex(index []int, shape Shape) error {
	if len(index) != len(shape) {
		return fmt.Errorf("index %v has %d components, array rank is %d: %w", index, len(index), len(shape), ErrIndex)
	}
	for i, idx := range index {
		if idx < 0 || idx >= shape[i] {
			return fmt.Errorf("index %d out of range [0, %d) at axis %d: %w", idx, shape[i], i, ErrIndex)
		}
	}
	return nil
}
