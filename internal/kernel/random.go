package kernel

import (
	"fmt"
	"strings"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// JumpPolynomial advances a xoshiro128 state by 2^64 steps.
var JumpPolynomial = [4]uint32{0x8764000b, 0xf542d2d3, 0x6fa035c3, 0x77f2db5b}

// MaxJumpsPerPass bounds the streams one seeding dispatch derives.
const MaxJumpsPerPass = 4096

const xoshiroStep = `fn rotl(x: u32, k: u32) -> u32 {
    return (x << k) | (x >> (32u - k));
}

fn next(s: ptr<function, vec4<u32>>) -> u32 {
    let st = *s;
    let word = rotl(st.y * 5u, 7u) * 9u;
    let t = st.y << 9u;
    var n = st;
    n.z = n.z ^ n.x;
    n.w = n.w ^ n.y;
    n.y = n.y ^ n.z;
    n.x = n.x ^ n.w;
    n.z = n.z ^ t;
    n.w = rotl(n.w, 11u);
    *s = n;
    return word;
}
`

const unitF32 = `fn unit(x: u32) -> f32 {
    return bitcast<f32>((x >> 9u) | 0x3f800000u) - 1.0;
}
`

// RandomSeed returns the stream derivation kernel. Bindings are the state
// array (0) and params (1) holding [start, count]: a single lane walks
// state[start-1] forward one jump per stream and stores the next count states.
func RandomSeed() *Kernel {
	var b strings.Builder
	b.WriteString("@group(0) @binding(0) var<storage, read_write> state: array<vec4<u32>>;\n")
	b.WriteString("@group(0) @binding(1) var<storage, read> params: array<u32>;\n\n")
	fmt.Fprintf(&b, "var<private> JUMP: array<u32, 4> = array<u32, 4>(0x%08xu, 0x%08xu, 0x%08xu, 0x%08xu);\n\n",
		JumpPolynomial[0], JumpPolynomial[1], JumpPolynomial[2], JumpPolynomial[3])
	b.WriteString(xoshiroStep)
	b.WriteString(`
fn jump(s: vec4<u32>) -> vec4<u32> {
    var cur = s;
    var acc = vec4<u32>(0u);
    for (var i = 0u; i < 4u; i = i + 1u) {
        for (var bit = 0u; bit < 32u; bit = bit + 1u) {
            if ((JUMP[i] & (1u << bit)) != 0u) {
                acc = acc ^ cur;
            }
            _ = next(&cur);
        }
    }
    return acc;
}

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    if (global_id.x != 0u) {
        return;
    }
    let start = params[0];
    let count = params[1];
    var s = state[start - 1u];
    for (var k = 0u; k < count; k = k + 1u) {
        s = jump(s);
        state[start + k] = s;
    }
}
`)
	return &Kernel{
		Label:    "random_seed",
		Source:   b.String(),
		Bindings: []Access{ReadWrite, ReadOnly},
		Desc: Desc{
			Kind:   KindRandomSeed,
			Op:     OpRandomSeed,
			Inputs: []Operand{Bound(0, tensor.Uint32), Bound(1, tensor.Uint32)},
			Output: Bound(0, tensor.Uint32),
		},
		Workgroup: 1,
	}
}

// RandomNext returns the kernel advancing every stream one step and storing
// the output word as dt: raw for u32, bitcast for i32, and a mantissa
// transplant in [0, 1) for floats.
func RandomNext(dt tensor.DataType) (*Kernel, error) {
	var emit string
	switch dt {
	case tensor.Uint32:
		emit = "x"
	case tensor.Int32:
		emit = "bitcast<i32>(x)"
	case tensor.Float32:
		emit = "bitcast<f32>((x >> 9u) | 0x3f800000u) - 1.0"
	case tensor.Float16:
		emit = "bitcast<vec2<f16>>((x >> 22u) | 0x3c00u).x - 1.0h"
	default:
		return nil, fmt.Errorf("kernel: random output of type %s: %w", dt, tensor.ErrType)
	}

	var b strings.Builder
	if dt == tensor.Float16 {
		b.WriteString("enable f16;\n\n")
	}
	b.WriteString("@group(0) @binding(0) var<storage, read_write> state: array<vec4<u32>>;\n")
	fmt.Fprintf(&b, "@group(0) @binding(1) var<storage, read_write> result: array<%s>;\n\n", dt.WGSL())
	b.WriteString(xoshiroStep)
	b.WriteString("\n")
	writeEntry(&b, WorkgroupSize)
	b.WriteString("    if (idx >= arrayLength(&state)) {\n        return;\n    }\n")
	b.WriteString("    var s = state[idx];\n")
	b.WriteString("    let x = next(&s);\n")
	b.WriteString("    state[idx] = s;\n")
	fmt.Fprintf(&b, "    result[idx] = %s;\n}\n", emit)

	return &Kernel{
		Label:    "random_next_" + dt.WGSL(),
		Source:   b.String(),
		Bindings: []Access{ReadWrite, ReadWrite},
		Desc: Desc{
			Kind:   KindRandomNext,
			Op:     OpRandomNext,
			Inputs: []Operand{Bound(0, tensor.Uint32)},
			Output: Bound(1, dt),
		},
		Workgroup: WorkgroupSize,
	}, nil
}

// RandomNormal returns the Box-Muller kernel. Each stream draws two uniforms
// u1, u2 and stores r*cos(2*pi*u2) to result and r*sin(2*pi*u2) to
// companion, where r = sqrt(-2 ln(1 - u1)).
func RandomNormal(dt tensor.DataType) (*Kernel, error) {
	if !dt.IsFloat() {
		return nil, fmt.Errorf("kernel: normal samples of type %s: %w", dt, tensor.ErrType)
	}
	t := dt.WGSL()

	var b strings.Builder
	if dt == tensor.Float16 {
		b.WriteString("enable f16;\n\n")
	}
	b.WriteString("@group(0) @binding(0) var<storage, read_write> state: array<vec4<u32>>;\n")
	fmt.Fprintf(&b, "@group(0) @binding(1) var<storage, read_write> result: array<%s>;\n", t)
	fmt.Fprintf(&b, "@group(0) @binding(2) var<storage, read_write> companion: array<%s>;\n\n", t)
	b.WriteString(xoshiroStep)
	b.WriteString("\n")
	b.WriteString(unitF32)
	b.WriteString("\n")
	writeEntry(&b, WorkgroupSize)
	b.WriteString("    if (idx >= arrayLength(&state)) {\n        return;\n    }\n")
	b.WriteString("    var s = state[idx];\n")
	b.WriteString("    let u1 = 1.0 - unit(next(&s));\n")
	b.WriteString("    let u2 = unit(next(&s));\n")
	b.WriteString("    state[idx] = s;\n")
	b.WriteString("    let r = sqrt(-2.0 * log(u1));\n")
	b.WriteString("    let theta = 6.2831853 * u2;\n")
	if dt == tensor.Float32 {
		b.WriteString("    result[idx] = r * cos(theta);\n")
		b.WriteString("    companion[idx] = r * sin(theta);\n}\n")
	} else {
		fmt.Fprintf(&b, "    result[idx] = %s(r * cos(theta));\n", t)
		fmt.Fprintf(&b, "    companion[idx] = %s(r * sin(theta));\n}\n", t)
	}

	return &Kernel{
		Label:    "random_normal_" + t,
		Source:   b.String(),
		Bindings: []Access{ReadWrite, ReadWrite, ReadWrite},
		Desc: Desc{
			Kind:      KindRandomNormal,
			Op:        OpRandomNormal,
			Inputs:    []Operand{Bound(0, tensor.Uint32)},
			Output:    Bound(1, dt),
			Companion: Bound(2, dt),
		},
		Workgroup: WorkgroupSize,
	}, nil
}
