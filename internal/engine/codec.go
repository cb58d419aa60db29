package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// encodeValue stores v as element i of a little-endian buffer of type dt.
// Integer types require an integral value in range.
func encodeValue(data []byte, i int, dt tensor.DataType, v float64) error {
	switch dt {
	case tensor.Int32:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("value %v is not an int32: %w", v, tensor.ErrType)
		}
		binary.LittleEndian.PutUint32(data[i*4:], uint32(int32(v))) //nolint:gosec // G115: range checked
	case tensor.Uint32:
		if v != math.Trunc(v) || v < 0 || v > math.MaxUint32 {
			return fmt.Errorf("value %v is not a uint32: %w", v, tensor.ErrType)
		}
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	case tensor.Float16:
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(float32(v)).Bits())
	case tensor.Float32:
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(v)))
	default:
		return fmt.Errorf("cannot store into %s: %w", dt, tensor.ErrType)
	}
	return nil
}

// decodeValue loads element i of a little-endian buffer of type dt.
func decodeValue(data []byte, i int, dt tensor.DataType) float64 {
	switch dt {
	case tensor.Int32:
		return float64(int32(binary.LittleEndian.Uint32(data[i*4:]))) //nolint:gosec // G115: bit reinterpretation
	case tensor.Uint32:
		return float64(binary.LittleEndian.Uint32(data[i*4:]))
	case tensor.Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32())
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
}

func encodeUint32s(vals []uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func toUint32s(vals []int) []uint32 {
	out := make([]uint32, len(vals))
	for i, v := range vals {
		out[i] = uint32(v) //nolint:gosec // G115: shapes and strides are bounded by buffer sizes
	}
	return out
}
