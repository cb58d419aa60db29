package kernel

import (
	"fmt"
	"strings"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// MaxReduceLanes bounds the workgroup width of one reduction pass.
const MaxReduceLanes = 64

// ReduceLanes returns the workgroup width of a pass over n elements: the
// power of two covering half of n, clamped to [1, MaxReduceLanes].
func ReduceLanes(n int) int {
	half := (n + 1) / 2
	lanes := 1
	for lanes < half && lanes < MaxReduceLanes {
		lanes <<= 1
	}
	return lanes
}

// ReduceGroups returns the number of partial results a pass over n
// elements with the given width produces.
func ReduceGroups(n, lanes int) int {
	per := 2 * lanes
	return (n + per - 1) / per
}

// Reduce returns one tree-reduction pass. Bindings are the input (0), the
// partial results (1) and a params buffer holding the active element count (2).
// Each workgroup folds 2*lanes elements into one partial result.
func Reduce(op Op, dt tensor.DataType, lanes int) (*Kernel, error) {
	info, ok := Lookup(op)
	if !ok || info.Kind != KindReduce {
		return nil, fmt.Errorf("kernel: %v is not a reduction: %w", op, tensor.ErrType)
	}
	if lanes < 1 || lanes > MaxReduceLanes || lanes&(lanes-1) != 0 {
		return nil, fmt.Errorf("kernel: reduction width %d is not a power of two in [1, %d]: %w",
			lanes, MaxReduceLanes, tensor.ErrShape)
	}
	ident, err := identity(info.Identity, dt)
	if err != nil {
		return nil, err
	}
	t := dt.WGSL()

	var b strings.Builder
	if dt == tensor.Float16 {
		b.WriteString("enable f16;\n\n")
	}
	fmt.Fprintf(&b, "@group(0) @binding(0) var<storage, read> input: array<%s>;\n", t)
	fmt.Fprintf(&b, "@group(0) @binding(1) var<storage, read_write> output: array<%s>;\n", t)
	b.WriteString("@group(0) @binding(2) var<storage, read> params: array<u32>;\n\n")
	fmt.Fprintf(&b, "const LANES: u32 = %du;\n", lanes)
	fmt.Fprintf(&b, "var<workgroup> scratch: array<%s, %d>;\n\n", t, lanes)

	fmt.Fprintf(&b, "@compute @workgroup_size(%d)\n", lanes)
	b.WriteString("fn main(@builtin(local_invocation_id) local_id: vec3<u32>, @builtin(workgroup_id) group_id: vec3<u32>, @builtin(num_workgroups) groups: vec3<u32>) {\n")
	b.WriteString("    let n = params[0];\n")
	b.WriteString("    let wg = group_id.x + group_id.y * groups.x;\n")
	b.WriteString("    let i = wg * LANES * 2u + local_id.x;\n")
	fmt.Fprintf(&b, "    var acc: %s = %s;\n", t, ident)
	b.WriteString("    if (i < n) {\n        acc = input[i];\n    }\n")
	fmt.Fprintf(&b, "    if (i + LANES < n) {\n        acc = %s;\n    }\n", info.Combine("acc", "input[i + LANES]"))
	b.WriteString("    scratch[local_id.x] = acc;\n")
	b.WriteString("    workgroupBarrier();\n")
	b.WriteString("    for (var s = LANES / 2u; s > 0u; s = s >> 1u) {\n")
	b.WriteString("        if (local_id.x < s) {\n")
	fmt.Fprintf(&b, "            scratch[local_id.x] = %s;\n", info.Combine("scratch[local_id.x]", "scratch[local_id.x + s]"))
	b.WriteString("        }\n")
	b.WriteString("        workgroupBarrier();\n")
	b.WriteString("    }\n")
	b.WriteString("    if (local_id.x == 0u && wg * LANES * 2u < n) {\n")
	b.WriteString("        output[wg] = scratch[0];\n")
	b.WriteString("    }\n}\n")

	return &Kernel{
		Label:    fmt.Sprintf("%s_%s_%d", info.Name, t, lanes),
		Source:   b.String(),
		Bindings: []Access{ReadOnly, ReadWrite, ReadOnly},
		Desc: Desc{
			Kind:   KindReduce,
			Op:     op,
			Inputs: []Operand{Bound(0, dt), Bound(2, tensor.Uint32)},
			Output: Bound(1, dt),
			Lanes:  lanes,
		},
		Workgroup: lanes,
	}, nil
}

// identity returns the neutral element literal of a reduction. Float min and
// max start from an infinity, which WGSL has no literal for.
func identity(kind string, dt tensor.DataType) (string, error) {
	switch kind {
	case "zero":
		return literal(0, dt)
	case "one":
		return literal(1, dt)
	case "highest":
		switch dt {
		case tensor.Int32:
			return "2147483647i", nil
		case tensor.Uint32:
			return "4294967295u", nil
		case tensor.Float16:
			return "bitcast<vec2<f16>>(0x7c00u).x", nil
		case tensor.Float32:
			return "bitcast<f32>(0x7f800000u)", nil
		}
	case "lowest":
		switch dt {
		case tensor.Int32:
			return "i32(-2147483648)", nil
		case tensor.Uint32:
			return "0u", nil
		case tensor.Float16:
			return "bitcast<vec2<f16>>(0xfc00u).x", nil
		case tensor.Float32:
			return "bitcast<f32>(0xff800000u)", nil
		}
	}
	return "", fmt.Errorf("kernel: no %s identity for %s: %w", kind, dt, tensor.ErrType)
}
