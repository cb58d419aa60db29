package tensor

import "fmt"

// BroadcastShapes implements NumPy-style broadcasting over any number of shapes.
//
// Rules:
// 1. Shapes are aligned from the trailing axis; shorter shapes are padded with 1 on the left
// 2. Along each axis an extent of 1 matches anything
// 3. All remaining extents must agree
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5)
//	(2, 3) + (1,)   → (2, 3)
//	(3, 4) + (3, 5) → error
func BroadcastShapes(shapes ...Shape) (Shape, error) {
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no shapes to broadcast: %w", ErrShape)
	}

	rank := 0
	for _, s := range shapes {
		rank = max(rank, len(s))
	}

	result := make(Shape, rank)
	for i := 0; i < rank; i++ {
		dim := 1
		for _, s := range shapes {
			idx := len(s) - rank + i
			if idx < 0 {
				continue
			}
			d := s[idx]
			switch {
			case d == dim, d == 1:
			case dim == 1:
				dim = d
			default:
				return nil, fmt.Errorf("shapes %v not compatible for broadcasting (dimension %d: %d vs %d): %w",
					shapes, i, dim, d, ErrShape)
			}
		}
		result[i] = dim
	}
	return result, nil
}

// BroadcastStrides maps an operand's strides onto the output shape.
//
// Strides are left-padded with zeros to the output rank. Along any axis where the
// operand's extent differs from the output extent the operand extent must be 1 and
// its stride becomes 0, so every output position on that axis reads the same element.
func BroadcastStrides(shape Shape, strides []int, out Shape) ([]int, error) {
	if len(shape) > len(out) {
		return nil, fmt.Errorf("cannot broadcast rank %d to rank %d: %w", len(shape), len(out), ErrShape)
	}
	if len(strides) != len(shape) {
		return nil, fmt.Errorf("stride length %d does not match rank %d: %w", len(strides), len(shape), ErrShape)
	}

	pad := len(out) - len(shape)
	result := make([]int, len(out))
	for i := range out {
		if i < pad {
			continue
		}
		dim := shape[i-pad]
		switch {
		case dim == out[i]:
			result[i] = strides[i-pad]
		case dim == 1:
			result[i] = 0
		default:
			return nil, fmt.Errorf("cannot broadcast %v to %v (dimension %d: %d vs %d): %w",
				shape, out, i, dim, out[i], ErrShape)
		}
	}
	return result, nil
}

// SourceOffset maps a linear output index to an operand offset by decomposing it
// over the output strides from the highest axis to the lowest. Zero output
// strides are skipped and missing operand strides count as zero. With uint32
// the arithmetic wraps the way generated programs do.
func SourceOffset[T ~int | ~uint32](linear T, outStrides, inStrides []T) T {
	var off T
	rem := linear
	for i, s := range outStrides {
		if s == 0 {
			continue
		}
		coord := rem / s
		rem %= s
		if i < len(inStrides) {
			off += coord * inStrides[i]
		}
	}
	return off
}
