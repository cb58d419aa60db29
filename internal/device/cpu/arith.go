package cpu

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// view is a typed window over a buffer. Values travel as float64, which
// holds every int32, uint32, float16 and float32 exactly.
type view struct {
	data []byte
	dt   tensor.DataType
	n    int
}

func newView(b *buffer, dt tensor.DataType) view {
	return view{data: b.data, dt: dt, n: len(b.data) / dt.Size()}
}

// load returns element i. Reads past either end return zero.
func (v view) load(i int) float64 {
	if i < 0 || i >= v.n {
		return 0
	}
	switch v.dt {
	case tensor.Int32:
		return float64(int32(binary.LittleEndian.Uint32(v.data[i*4:]))) //nolint:gosec // G115: bit reinterpretation
	case tensor.Uint32:
		return float64(binary.LittleEndian.Uint32(v.data[i*4:]))
	case tensor.Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(v.data[i*2:])).Float32())
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.data[i*4:])))
	}
}

// store writes element i. Writes past either end are dropped.
func (v view) store(i int, x float64) {
	if i < 0 || i >= v.n {
		return
	}
	switch v.dt {
	case tensor.Int32:
		binary.LittleEndian.PutUint32(v.data[i*4:], uint32(int32(x))) //nolint:gosec // G115: wrapping store
	case tensor.Uint32:
		binary.LittleEndian.PutUint32(v.data[i*4:], uint32(x))
	case tensor.Float16:
		binary.LittleEndian.PutUint16(v.data[i*2:], float16.Fromfloat32(float32(x)).Bits())
	default:
		binary.LittleEndian.PutUint32(v.data[i*4:], math.Float32bits(float32(x)))
	}
}

func (v view) u32(i int) uint32 {
	if i < 0 || i >= len(v.data)/4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v.data[i*4:])
}

// fit rounds a float result to the precision of dt.
func fit(x float64, dt tensor.DataType) float64 {
	switch dt {
	case tensor.Float32:
		return float64(float32(x))
	case tensor.Float16:
		return float64(float16.Fromfloat32(float32(x)).Float32())
	default:
		return x
	}
}

// convert applies a WGSL value conversion from one scalar type to another.
// Float to integer conversions truncate and saturate; integer to integer
// conversions reinterpret bits.
func convert(x float64, from, to tensor.DataType) float64 {
	if from == to || to == tensor.Invalid {
		return x
	}
	switch to {
	case tensor.Float32, tensor.Float16:
		return fit(x, to)
	case tensor.Int32:
		if from == tensor.Uint32 {
			return float64(int32(uint32(x))) //nolint:gosec // G115: bit reinterpretation
		}
		return math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Trunc(x)))
	case tensor.Uint32:
		if from == tensor.Int32 {
			return float64(uint32(int32(x))) //nolint:gosec // G115: bit reinterpretation
		}
		return math.Max(0, math.Min(math.MaxUint32, math.Trunc(x)))
	}
	return x
}

// binop evaluates a binary operator or binary function in type dt.
func binop(op kernel.Op, dt tensor.DataType, a, b float64) float64 {
	switch dt {
	case tensor.Int32:
		x, y := int32(a), int32(b)
		var r int32
		switch op {
		case kernel.OpAdd, kernel.OpSum:
			r = x + y
		case kernel.OpSub:
			r = x - y
		case kernel.OpMul, kernel.OpProduct:
			r = x * y
		case kernel.OpDiv:
			switch {
			case y == 0:
				r = x
			case x == math.MinInt32 && y == -1:
				r = x
			default:
				r = x / y
			}
		case kernel.OpMax, kernel.OpReduceMax:
			r = max(x, y)
		case kernel.OpMin, kernel.OpReduceMin:
			r = min(x, y)
		}
		return float64(r)
	case tensor.Uint32:
		x, y := uint32(a), uint32(b)
		var r uint32
		switch op {
		case kernel.OpAdd, kernel.OpSum:
			r = x + y
		case kernel.OpSub:
			r = x - y
		case kernel.OpMul, kernel.OpProduct:
			r = x * y
		case kernel.OpDiv:
			if y == 0 {
				r = x
			} else {
				r = x / y
			}
		case kernel.OpMax, kernel.OpReduceMax:
			r = max(x, y)
		case kernel.OpMin, kernel.OpReduceMin:
			r = min(x, y)
		}
		return float64(r)
	}

	x, y := float32(a), float32(b)
	var r float64
	switch op {
	case kernel.OpAdd, kernel.OpSum:
		r = float64(x + y)
	case kernel.OpSub:
		r = float64(x - y)
	case kernel.OpMul, kernel.OpProduct:
		r = float64(x * y)
	case kernel.OpDiv:
		r = float64(x / y)
	case kernel.OpMax, kernel.OpReduceMax:
		r = math.Max(a, b)
	case kernel.OpMin, kernel.OpReduceMin:
		r = math.Min(a, b)
	case kernel.OpPow:
		r = math.Pow(a, b)
	}
	return fit(r, dt)
}

// unop evaluates a unary builtin in type dt.
func unop(op kernel.Op, dt tensor.DataType, a float64) float64 {
	switch dt {
	case tensor.Int32:
		x := int32(a)
		switch op {
		case kernel.OpAbs:
			if x < 0 {
				x = -x
			}
		case kernel.OpSign:
			switch {
			case x > 0:
				x = 1
			case x < 0:
				x = -1
			}
		}
		return float64(x)
	case tensor.Uint32:
		return a
	}

	var r float64
	switch op {
	case kernel.OpAbs:
		r = math.Abs(a)
	case kernel.OpSign:
		switch {
		case a > 0:
			r = 1
		case a < 0:
			r = -1
		}
	case kernel.OpSqrt:
		r = math.Sqrt(a)
	case kernel.OpInverseSqrt:
		r = 1 / math.Sqrt(a)
	case kernel.OpExp:
		r = math.Exp(a)
	case kernel.OpExp2:
		r = math.Exp2(a)
	case kernel.OpLog:
		r = math.Log(a)
	case kernel.OpLog2:
		r = math.Log2(a)
	case kernel.OpSin:
		r = math.Sin(a)
	case kernel.OpCos:
		r = math.Cos(a)
	case kernel.OpTan:
		r = math.Tan(a)
	case kernel.OpAsin:
		r = math.Asin(a)
	case kernel.OpAcos:
		r = math.Acos(a)
	case kernel.OpAtan:
		r = math.Atan(a)
	case kernel.OpSinh:
		r = math.Sinh(a)
	case kernel.OpCosh:
		r = math.Cosh(a)
	case kernel.OpTanh:
		r = math.Tanh(a)
	case kernel.OpCeil:
		r = math.Ceil(a)
	case kernel.OpFloor:
		r = math.Floor(a)
	case kernel.OpRound:
		r = math.RoundToEven(a)
	case kernel.OpTrunc:
		r = math.Trunc(a)
	case kernel.OpFract:
		r = a - math.Floor(a)
	}
	return fit(r, dt)
}

// identity is the neutral element of a reduction in type dt.
func identity(op kernel.Op, dt tensor.DataType) float64 {
	switch op {
	case kernel.OpProduct:
		return 1
	case kernel.OpReduceMin:
		switch dt {
		case tensor.Int32:
			return math.MaxInt32
		case tensor.Uint32:
			return math.MaxUint32
		default:
			return math.Inf(1)
		}
	case kernel.OpReduceMax:
		switch dt {
		case tensor.Int32:
			return math.MinInt32
		case tensor.Uint32:
			return 0
		default:
			return math.Inf(-1)
		}
	}
	return 0
}
