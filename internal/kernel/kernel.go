// Package kernel generates WGSL compute programs for the builtin operation set.
//
// Every generator is a pure function of its operand descriptors: the same
// operand types always produce byte-identical source, which is what the
// engine's program cache keys on. Scalar values are bound at dispatch time
// and never appear in the source. Alongside the source, each Kernel carries a structured
// Desc so that devices which do not compile WGSL can execute the same program.
package kernel

import (
	"fmt"
	"math"
	"strconv"

	"github.com/x448/float16"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// WorkgroupSize is the number of lanes per workgroup for elementwise and PRNG kernels.
const WorkgroupSize = 256

// MaxGroupsPerDim is the largest workgroup count a single dispatch dimension accepts.
const MaxGroupsPerDim = 65535

// Access is the read/write mode of one binding slot.
type Access int

// Binding access modes.
const (
	ReadOnly Access = iota
	ReadWrite
)

// String returns the WGSL access qualifier.
func (a Access) String() string {
	if a == ReadWrite {
		return "read_write"
	}
	return "read"
}

// Kind identifies the template family a kernel was produced by.
type Kind int

// Template families.
const (
	KindBinary Kind = iota + 1
	KindUnary
	KindBinaryFunc
	KindWhere
	KindReduce
	KindRandomSeed
	KindRandomNext
	KindRandomNormal
)

// Operand describes one input or output of a kernel.
//
// Bound operands occupy a storage binding slot. Scalar operands are read from
// one shared word buffer, in operand order. Cast names the type the operand is
// converted to before use; Invalid means no conversion.
type Operand struct {
	Slot   uint32
	Type   tensor.DataType
	Cast   tensor.DataType
	Scalar bool
	Value  float64
}

// Bound returns an array operand at slot.
func Bound(slot uint32, dt tensor.DataType) Operand {
	return Operand{Slot: slot, Type: dt}
}

// Constant returns a scalar operand.
func Constant(v float64, dt tensor.DataType) Operand {
	return Operand{Type: dt, Scalar: true, Value: v}
}

// As returns o converted to dt when the types differ.
func (o Operand) As(dt tensor.DataType) Operand {
	if o.Type != dt {
		o.Cast = dt
	}
	return o
}

// Effective returns the type the operand has inside expressions.
func (o Operand) Effective() tensor.DataType {
	if o.Cast != tensor.Invalid {
		return o.Cast
	}
	return o.Type
}

// Desc is the structured form of a kernel.
type Desc struct {
	Kind    Kind
	Op      Op
	Inputs  []Operand
	Output  Operand
	Strided bool

	// StrideSlots holds one stride binding per bound operand, inputs first
	// then the output. Empty for the direct variant.
	StrideSlots []uint32

	// ScalarSlot is the binding of the scalar word buffer when HasScalars.
	// It follows every other binding.
	ScalarSlot uint32
	HasScalars bool

	// Companion is the second output of RandomNormal.
	Companion Operand

	// Lanes is the workgroup width of a reduction pass.
	Lanes int
}

// Kernel is a generated device program.
type Kernel struct {
	Label    string
	Source   string
	Bindings []Access
	Desc     Desc

	// Workgroup is the lane count of one workgroup.
	Workgroup int
}

// Groups returns the workgroup grid covering lanes, folding into a second
// dimension when one dimension is not enough.
func Groups(lanes, workgroup int) [3]uint32 {
	n := (lanes + workgroup - 1) / workgroup
	if n < 1 {
		n = 1
	}
	if n <= MaxGroupsPerDim {
		return [3]uint32{uint32(n), 1, 1} //nolint:gosec // G115: bounded by MaxGroupsPerDim
	}
	y := (n + MaxGroupsPerDim - 1) / MaxGroupsPerDim
	return [3]uint32{MaxGroupsPerDim, uint32(y), 1} //nolint:gosec // G115: y <= n
}

// literal formats v as a WGSL literal of type dt.
func literal(v float64, dt tensor.DataType) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("kernel: scalar %v has no WGSL literal: %w", v, tensor.ErrCapability)
	}
	switch dt {
	case tensor.Int32:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return "", fmt.Errorf("kernel: scalar %v is not an int32: %w", v, tensor.ErrType)
		}
		if v == math.MinInt32 {
			return "i32(-2147483648)", nil
		}
		return strconv.FormatInt(int64(v), 10) + "i", nil
	case tensor.Uint32:
		if v != math.Trunc(v) || v < 0 || v > math.MaxUint32 {
			return "", fmt.Errorf("kernel: scalar %v is not a uint32: %w", v, tensor.ErrType)
		}
		return strconv.FormatUint(uint64(v), 10) + "u", nil
	case tensor.Float16:
		if math.Abs(v) > maxFloat16 {
			return "", fmt.Errorf("kernel: scalar %v overflows float16: %w", v, tensor.ErrType)
		}
		return floatLiteral(v) + "h", nil
	case tensor.Float32:
		return floatLiteral(v) + "f", nil
	default:
		return "", fmt.Errorf("kernel: scalar of type %s: %w", dt, tensor.ErrType)
	}
}

// ScalarWord encodes v as the 32-bit word a program reads for a scalar of
// type dt. Float16 occupies the low half. Values without a literal of type
// dt are rejected the same way literal rejects them.
func ScalarWord(v float64, dt tensor.DataType) (uint32, error) {
	if _, err := literal(v, dt); err != nil {
		return 0, err
	}
	switch dt {
	case tensor.Int32:
		return uint32(int32(v)), nil //nolint:gosec // G115: bit reinterpretation
	case tensor.Uint32:
		return uint32(v), nil
	case tensor.Float16:
		return uint32(float16.Fromfloat32(float32(v)).Bits()), nil
	default:
		return math.Float32bits(float32(v)), nil
	}
}

// ScalarWords returns the scalar buffer contents for k's operands.
func (k *Kernel) ScalarWords() ([]uint32, error) {
	var words []uint32
	for _, in := range k.Desc.Inputs {
		if !in.Scalar {
			continue
		}
		w, err := ScalarWord(in.Value, in.Type)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, nil
}

// maxFloat16 is the largest finite float16 value.
const maxFloat16 = 65504

func floatLiteral(v float64) string {
	return strconv.FormatFloat(v, 'e', -1, 32)
}

func needsF16(ops ...Operand) bool {
	for _, o := range ops {
		if o.Type == tensor.Float16 || o.Cast == tensor.Float16 {
			return true
		}
	}
	return false
}
