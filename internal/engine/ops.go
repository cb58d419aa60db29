package engine

import (
	"fmt"
	"math"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// Operand is an *Array or a Scalar.
type Operand interface {
	isOperand()
}

func (*Array) isOperand() {}

// Scalar is a weakly typed constant operand. It adopts the type of the
// array operands when it is representable in that type; a non-integral
// scalar combined with integer arrays promotes the operation to float32.
// Scalars take no part in broadcasting.
type Scalar float64

func (Scalar) isOperand() {}

// Apply runs an elementwise operation. The output shape is the broadcast of
// the array operands' shapes and the output type their promotion; out is
// allocated when nil. out may alias an input.
func (e *Engine) Apply(op kernel.Op, out *Array, operands ...Operand) (*Array, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	info, ok := kernel.Lookup(op)
	if !ok {
		return nil, fmt.Errorf("unknown operation %v: %w", op, tensor.ErrType)
	}
	switch info.Kind {
	case kernel.KindBinary, kernel.KindBinaryFunc, kernel.KindUnary, kernel.KindWhere:
	default:
		return nil, fmt.Errorf("%s is not elementwise: %w", info.Name, tensor.ErrCapability)
	}
	if len(operands) != info.Arity {
		return nil, fmt.Errorf("%s takes %d operands, got %d: %w", info.Name, info.Arity, len(operands), tensor.ErrShape)
	}

	var arrays []*Array
	var shapes []tensor.Shape
	for i, o := range operands {
		switch v := o.(type) {
		case *Array:
			if v == nil {
				return nil, fmt.Errorf("%s operand %d is nil: %w", info.Name, i, tensor.ErrShape)
			}
			if err := e.owns(v); err != nil {
				return nil, err
			}
			arrays = append(arrays, v)
			shapes = append(shapes, v.shape)
		case Scalar:
		default:
			return nil, fmt.Errorf("%s operand %d has type %T: %w", info.Name, i, o, tensor.ErrType)
		}
	}
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%s needs at least one array operand: %w", info.Name, tensor.ErrShape)
	}
	shape, err := tensor.BroadcastShapes(shapes...)
	if err != nil {
		return nil, err
	}

	values := operands
	if op == kernel.OpWhere {
		values = operands[1:]
	}
	dt, err := promote(values)
	if err != nil {
		return nil, err
	}
	ct := info.ComputeType(dt)

	if out != nil {
		if err := e.owns(out); err != nil {
			return nil, err
		}
		if out.custom {
			return nil, fmt.Errorf("%s output has custom strides: %w", info.Name, tensor.ErrCapability)
		}
		if !out.shape.Equal(shape) {
			return nil, fmt.Errorf("%s output shape %v, want %v: %w", info.Name, []int(out.shape), []int(shape), tensor.ErrShape)
		}
	}

	// Array operands take sequential slots; scalars become constants.
	inputs := make([]kernel.Operand, len(operands))
	strided := false
	var slot uint32
	for i, o := range operands {
		target := ct
		if op == kernel.OpWhere && i == 0 {
			target = tensor.Invalid
		}
		switch v := o.(type) {
		case *Array:
			in := kernel.Bound(slot, v.dtype)
			if target != tensor.Invalid {
				in = in.As(target)
			}
			inputs[i] = in
			slot++
			if !v.shape.Equal(shape) || !tensor.IsContiguous(v.shape, v.strides) {
				strided = true
			}
		case Scalar:
			if target == tensor.Invalid {
				target = scalarType(float64(v))
			}
			inputs[i] = kernel.Constant(float64(v), target)
		}
	}

	outType := ct
	if out != nil {
		outType = out.dtype
	}
	if err := e.requireF16(append(arrayTypes(arrays), ct, outType)...); err != nil {
		return nil, err
	}
	k, err := kernel.Generate(op, inputs, kernel.Bound(slot, outType), strided)
	if err != nil {
		return nil, err
	}

	n := shape.NumElements()
	groups := kernel.Groups(n, kernel.WorkgroupSize)
	if groups[1] > kernel.MaxGroupsPerDim {
		return nil, fmt.Errorf("%s over %d elements exceeds one dispatch: %w", info.Name, n, tensor.ErrCapability)
	}

	created := false
	if out == nil {
		if out, err = e.New(shape, WithDType(outType)); err != nil {
			return nil, err
		}
		created = true
	}
	if err := e.run(k, arrays, out, shape, groups); err != nil {
		if created {
			out.Release()
		}
		return nil, err
	}
	return out, nil
}

// run binds arrays and out for k and submits one dispatch. An output that
// aliases an input is computed into a transient buffer and copied back.
func (e *Engine) run(k *kernel.Kernel, arrays []*Array, out *Array, shape tensor.Shape, groups [3]uint32) error {
	for _, a := range arrays {
		if err := a.Send(); err != nil {
			return err
		}
	}

	var transient []device.Buffer
	fail := func(err error) error {
		releaseAll(transient)
		return err
	}

	bufs := make([]device.Buffer, 0, len(arrays)*2+2)
	for _, a := range arrays {
		bufs = append(bufs, a.buf)
	}

	target := out.buf
	aliased := false
	for _, a := range arrays {
		if a == out {
			aliased = true
		}
	}
	if aliased {
		tmp, err := e.createBuffer(out.buf.Size(), "alias/"+out.id.String())
		if err != nil {
			return err
		}
		transient = append(transient, tmp)
		target = tmp
	}
	bufs = append(bufs, target)

	if k.Desc.Strided {
		for _, a := range arrays {
			st, err := tensor.BroadcastStrides(a.shape, a.strides, shape)
			if err != nil {
				return fail(err)
			}
			buf, err := e.uint32Buffer(toUint32s(st), "strides/"+a.id.String())
			if err != nil {
				return fail(err)
			}
			transient = append(transient, buf)
			bufs = append(bufs, buf)
		}
		buf, err := e.uint32Buffer(toUint32s(shape.ContiguousStrides()), "strides/"+out.id.String())
		if err != nil {
			return fail(err)
		}
		transient = append(transient, buf)
		bufs = append(bufs, buf)
	}

	if k.Desc.HasScalars {
		words, err := k.ScalarWords()
		if err != nil {
			return fail(err)
		}
		buf, err := e.uint32Buffer(words, "scalars/"+out.id.String())
		if err != nil {
			return fail(err)
		}
		transient = append(transient, buf)
		bufs = append(bufs, buf)
	}

	d, err := e.dispatch(k, bufs, groups)
	if err != nil {
		return fail(err)
	}
	cmds := []device.Command{d}
	if aliased {
		cmds = append(cmds, device.Copy{Src: target, Dst: out.buf, Size: out.buf.Size()})
	}
	if err := e.submit(cmds, transient); err != nil {
		return err
	}
	out.markDeviceWritten()
	return nil
}

// owns checks that a belongs to e and is still usable.
func (e *Engine) owns(a *Array) error {
	if a.eng != e {
		return fmt.Errorf("array %s belongs to another engine: %w", a.id, tensor.ErrCapability)
	}
	return a.usable()
}

// requireF16 fails when any type is float16 and the device cannot run f16 programs.
func (e *Engine) requireF16(types ...tensor.DataType) error {
	for _, dt := range types {
		if dt == tensor.Float16 && !e.dev.Features().ShaderF16 {
			return fmt.Errorf("float16 kernels need the shader-f16 feature: %w", tensor.ErrCapability)
		}
	}
	return nil
}

func arrayTypes(arrays []*Array) []tensor.DataType {
	out := make([]tensor.DataType, len(arrays))
	for i, a := range arrays {
		out[i] = a.dtype
	}
	return out
}

// promote resolves the common type of value operands. Array types promote
// pairwise; scalars then adopt that type or widen integers to float32.
func promote(ops []Operand) (tensor.DataType, error) {
	dt := tensor.Invalid
	for _, o := range ops {
		a, ok := o.(*Array)
		if !ok {
			continue
		}
		if dt == tensor.Invalid {
			dt = a.dtype
			continue
		}
		var err error
		if dt, err = tensor.PromoteTypes(dt, a.dtype); err != nil {
			return tensor.Invalid, err
		}
	}

	for _, o := range ops {
		s, ok := o.(Scalar)
		if !ok {
			continue
		}
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return tensor.Invalid, fmt.Errorf("scalar %v: %w", v, tensor.ErrCapability)
		}
		switch {
		case dt == tensor.Invalid:
			dt = scalarType(v)
		case dt.IsFloat():
		case v != math.Trunc(v):
			dt = tensor.Float32
		case !fits(v, dt):
			return tensor.Invalid, fmt.Errorf("scalar %v does not fit %s: %w", v, dt, tensor.ErrType)
		}
	}
	return dt, nil
}

func scalarType(v float64) tensor.DataType {
	if v == math.Trunc(v) && fits(v, tensor.Int32) {
		return tensor.Int32
	}
	return tensor.Float32
}

func fits(v float64, dt tensor.DataType) bool {
	switch dt {
	case tensor.Int32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case tensor.Uint32:
		return v >= 0 && v <= math.MaxUint32
	default:
		return true
	}
}

// Add returns a + b.
func (e *Engine) Add(a, b Operand) (*Array, error) { return e.Apply(kernel.OpAdd, nil, a, b) }

// Sub returns a - b.
func (e *Engine) Sub(a, b Operand) (*Array, error) { return e.Apply(kernel.OpSub, nil, a, b) }

// Mul returns a * b.
func (e *Engine) Mul(a, b Operand) (*Array, error) { return e.Apply(kernel.OpMul, nil, a, b) }

// Div returns a / b. Integer division by zero yields the dividend.
func (e *Engine) Div(a, b Operand) (*Array, error) { return e.Apply(kernel.OpDiv, nil, a, b) }

// Max returns the elementwise maximum.
func (e *Engine) Max(a, b Operand) (*Array, error) { return e.Apply(kernel.OpMax, nil, a, b) }

// Min returns the elementwise minimum.
func (e *Engine) Min(a, b Operand) (*Array, error) { return e.Apply(kernel.OpMin, nil, a, b) }

// Pow returns a raised to b, computed in a float type.
func (e *Engine) Pow(a, b Operand) (*Array, error) { return e.Apply(kernel.OpPow, nil, a, b) }

// Where selects a where cond is non-zero and b elsewhere.
func (e *Engine) Where(cond, a, b Operand) (*Array, error) {
	return e.Apply(kernel.OpWhere, nil, cond, a, b)
}

// Unary applies a unary math function into out, allocating it when nil.
// Integer inputs to float-only functions produce float32 output.
func (e *Engine) Unary(op kernel.Op, x Operand, out *Array) (*Array, error) {
	if info, ok := kernel.Lookup(op); !ok || info.Kind != kernel.KindUnary {
		return nil, fmt.Errorf("%v is not a unary function: %w", op, tensor.ErrType)
	}
	return e.Apply(op, out, x)
}
