package kernel

import (
	"fmt"
	"strings"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// Generate dispatches an elementwise operation to its template.
//
// Inputs must already carry their conversion targets; out is the bound output.
// When strided is set, stride slots are assigned after the last bound operand.
func Generate(op Op, inputs []Operand, out Operand, strided bool) (*Kernel, error) {
	info, ok := Lookup(op)
	if !ok {
		return nil, fmt.Errorf("kernel: unknown op %d: %w", int(op), tensor.ErrType)
	}
	if len(inputs) != info.Arity {
		return nil, fmt.Errorf("kernel: %s takes %d operands, got %d: %w", info.Name, info.Arity, len(inputs), tensor.ErrShape)
	}
	switch info.Kind {
	case KindBinary:
		return Binary(op, inputs[0], inputs[1], out, strided)
	case KindBinaryFunc:
		return BinaryFunc(op, inputs[0], inputs[1], out, strided)
	case KindUnary:
		return Unary(op, inputs[0], out, strided)
	case KindWhere:
		return Where(inputs[0], inputs[1], inputs[2], out, strided)
	default:
		return nil, fmt.Errorf("kernel: %s is not elementwise: %w", info.Name, tensor.ErrType)
	}
}

// Binary returns the x op y kernel for + - * /.
func Binary(op Op, x, y, out Operand, strided bool) (*Kernel, error) {
	info, ok := Lookup(op)
	if !ok || info.Kind != KindBinary {
		return nil, fmt.Errorf("kernel: %v is not a binary operator: %w", op, tensor.ErrType)
	}
	return elementwise(op, info, []Operand{x, y}, out, strided, func(args []string) string {
		return info.Combine(args[0], args[1])
	})
}

// BinaryFunc returns the fn(x, y) kernel for max, min and pow.
func BinaryFunc(op Op, x, y, out Operand, strided bool) (*Kernel, error) {
	info, ok := Lookup(op)
	if !ok || info.Kind != KindBinaryFunc {
		return nil, fmt.Errorf("kernel: %v is not a binary function: %w", op, tensor.ErrType)
	}
	return elementwise(op, info, []Operand{x, y}, out, strided, func(args []string) string {
		return info.Combine(args[0], args[1])
	})
}

// Unary returns the fn(x) kernel for a unary math function.
func Unary(op Op, x, out Operand, strided bool) (*Kernel, error) {
	info, ok := Lookup(op)
	if !ok || info.Kind != KindUnary {
		return nil, fmt.Errorf("kernel: %v is not a unary function: %w", op, tensor.ErrType)
	}
	return elementwise(op, info, []Operand{x}, out, strided, func(args []string) string {
		return fmt.Sprintf("%s(%s)", info.Symbol, args[0])
	})
}

// Where returns the kernel selecting a where cond is non-zero and b elsewhere.
func Where(cond, a, b, out Operand, strided bool) (*Kernel, error) {
	info, _ := Lookup(OpWhere)
	zero, err := literal(0, cond.Effective())
	if err != nil {
		return nil, err
	}
	return elementwise(OpWhere, info, []Operand{cond, a, b}, out, strided, func(args []string) string {
		return fmt.Sprintf("select(%s, %s, %s != %s)", args[2], args[1], args[0], zero)
	})
}

// elementwise renders the shared one-lane-per-output-element skeleton.
func elementwise(op Op, info OpInfo, inputs []Operand, out Operand, strided bool, expr func([]string) string) (*Kernel, error) {
	if out.Scalar {
		return nil, fmt.Errorf("kernel: %s output must be bound: %w", info.Name, tensor.ErrCapability)
	}
	bound := 0
	for _, in := range inputs {
		if !in.Scalar {
			bound++
		}
	}
	if bound == 0 {
		return nil, fmt.Errorf("kernel: %s needs at least one array operand: %w", info.Name, tensor.ErrShape)
	}

	desc := Desc{
		Kind:    info.Kind,
		Op:      op,
		Inputs:  append([]Operand(nil), inputs...),
		Output:  out,
		Strided: strided,
	}

	all := append(append([]Operand(nil), inputs...), out)

	var b strings.Builder
	if needsF16(all...) {
		b.WriteString("enable f16;\n\n")
	}

	bindings := make([]Access, 0, bound+1)
	for _, in := range inputs {
		if in.Scalar {
			continue
		}
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> %s: array<%s>;\n", in.Slot, boundName(in.Slot), in.Type.WGSL())
		bindings = append(bindings, ReadOnly)
	}
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> result: array<%s>;\n", out.Slot, out.Type.WGSL())
	bindings = append(bindings, ReadWrite)

	next := out.Slot + 1
	if strided {
		for _, in := range inputs {
			if in.Scalar {
				continue
			}
			fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> %s: array<u32>;\n", next, strideName(in.Slot))
			desc.StrideSlots = append(desc.StrideSlots, next)
			bindings = append(bindings, ReadOnly)
			next++
		}
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> strides_out: array<u32>;\n", next)
		desc.StrideSlots = append(desc.StrideSlots, next)
		bindings = append(bindings, ReadOnly)
	}

	// Scalar values live in a read-only word buffer so that the source, and
	// with it the program cache key, does not depend on them.
	var scalars []string
	for i, in := range inputs {
		if !in.Scalar {
			continue
		}
		if _, err := ScalarWord(in.Value, in.Type); err != nil {
			return nil, err
		}
		scalars = append(scalars, fmt.Sprintf("    let c%d: %s = %s;\n", i, in.Type.WGSL(), scalarRead(len(scalars), in.Type)))
	}
	if len(scalars) > 0 {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> scalars: array<u32>;\n", next)
		desc.ScalarSlot = next
		desc.HasScalars = true
		bindings = append(bindings, ReadOnly)
	}

	b.WriteString("\n")
	writeEntry(&b, WorkgroupSize)
	b.WriteString("    if (idx >= arrayLength(&result)) {\n        return;\n    }\n")
	for _, s := range scalars {
		b.WriteString(s)
	}

	if strided {
		b.WriteString("    var rem = idx;\n")
		for _, in := range inputs {
			if !in.Scalar {
				fmt.Fprintf(&b, "    var off%d = 0u;\n", in.Slot)
			}
		}
		b.WriteString("    for (var axis = 0u; axis < arrayLength(&strides_out); axis = axis + 1u) {\n")
		b.WriteString("        let coord = rem / strides_out[axis];\n")
		b.WriteString("        rem = rem % strides_out[axis];\n")
		for _, in := range inputs {
			if !in.Scalar {
				fmt.Fprintf(&b, "        off%d = off%d + coord * %s[axis];\n", in.Slot, in.Slot, strideName(in.Slot))
			}
		}
		b.WriteString("    }\n")
	}

	args := make([]string, len(inputs))
	for i, in := range inputs {
		var ref string
		switch {
		case in.Scalar:
			ref = fmt.Sprintf("c%d", i)
		case strided:
			ref = fmt.Sprintf("%s[off%d]", boundName(in.Slot), in.Slot)
		default:
			ref = fmt.Sprintf("%s[idx]", boundName(in.Slot))
		}
		args[i] = convert(ref, in)
	}

	value := expr(args)
	if t := exprType(op, inputs); t != out.Type {
		value = fmt.Sprintf("%s(%s)", out.Type.WGSL(), value)
	}
	fmt.Fprintf(&b, "    result[idx] = %s;\n}\n", value)

	return &Kernel{
		Label:     label(info.Name, strided, all...),
		Source:    b.String(),
		Bindings:  bindings,
		Desc:      desc,
		Workgroup: WorkgroupSize,
	}, nil
}

// exprType is the type an elementwise expression evaluates to before the
// final store.
func exprType(op Op, inputs []Operand) tensor.DataType {
	if op == OpWhere {
		return inputs[1].Effective()
	}
	return inputs[0].Effective()
}

// scalarRead reinterprets word j of the scalar buffer as dt.
func scalarRead(j int, dt tensor.DataType) string {
	word := fmt.Sprintf("scalars[%d]", j)
	switch dt {
	case tensor.Uint32:
		return word
	case tensor.Float16:
		return fmt.Sprintf("bitcast<vec2<f16>>(%s).x", word)
	default:
		return fmt.Sprintf("bitcast<%s>(%s)", dt.WGSL(), word)
	}
}

func convert(ref string, o Operand) string {
	if o.Cast == tensor.Invalid || o.Cast == o.Type {
		return ref
	}
	return fmt.Sprintf("%s(%s)", o.Cast.WGSL(), ref)
}

func boundName(slot uint32) string {
	return fmt.Sprintf("in%d", slot)
}

func strideName(slot uint32) string {
	return fmt.Sprintf("strides_%d", slot)
}

// writeEntry emits the entry point header and the folded lane index.
func writeEntry(b *strings.Builder, workgroup int) {
	fmt.Fprintf(b, "@compute @workgroup_size(%d)\n", workgroup)
	b.WriteString("fn main(@builtin(global_invocation_id) global_id: vec3<u32>, @builtin(num_workgroups) groups: vec3<u32>) {\n")
	fmt.Fprintf(b, "    let idx = global_id.x + global_id.y * groups.x * %du;\n", workgroup)
}

func label(name string, strided bool, ops ...Operand) string {
	var b strings.Builder
	b.WriteString(name)
	for _, o := range ops {
		b.WriteString("_")
		if o.Scalar {
			b.WriteString("c")
		}
		b.WriteString(o.Effective().WGSL())
	}
	if strided {
		b.WriteString("_strided")
	}
	return b.String()
}
