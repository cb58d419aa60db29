package cpu

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func i32Bytes(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v)) //nolint:gosec // test data
	}
	return out
}

func u32Bytes(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// run compiles k, binds data to its slots in order and returns the bytes of
// slot readSlot after one dispatch of the given groups.
func run(t *testing.T, d *Device, k *kernel.Kernel, groups [3]uint32, readSlot int, data ...[]byte) []byte {
	t.Helper()
	layout, err := d.CreateLayout(k.Bindings)
	require.NoError(t, err)
	prog, diags, err := d.CreateProgram(k, layout)
	require.NoError(t, err)
	assert.Empty(t, diags)

	bufs := make([]device.Buffer, len(data))
	for i, b := range data {
		bufs[i], err = d.CreateBuffer(uint64(len(b)), device.StorageUsage, "test")
		require.NoError(t, err)
		require.NoError(t, d.WriteBuffer(bufs[i], 0, b))
	}
	set, err := d.CreateBindSet(layout, bufs)
	require.NoError(t, err)

	size := bufs[readSlot].Size()
	staging, err := d.CreateBuffer(size, device.StagingUsage, "staging")
	require.NoError(t, err)
	require.NoError(t, d.Submit(
		device.Dispatch{Program: prog, BindSet: set, Groups: groups},
		device.Copy{Src: bufs[readSlot], Dst: staging, Size: size},
	))
	out, err := d.MapRead(context.Background(), staging, 0, size)
	require.NoError(t, err)
	return out
}

func TestAddFloat32(t *testing.T) {
	d := New()
	k, err := kernel.Binary(kernel.OpAdd, kernel.Bound(0, tensor.Float32), kernel.Bound(1, tensor.Float32), kernel.Bound(2, tensor.Float32), false)
	require.NoError(t, err)

	out := run(t, d, k, kernel.Groups(3, k.Workgroup), 2,
		f32Bytes(1, 2, 3), f32Bytes(10, 20, 30), f32Bytes(0, 0, 0))
	assert.Equal(t, f32Bytes(11, 22, 33), out)
	assert.Equal(t, 1, d.Submissions())
}

func TestIntegerSemantics(t *testing.T) {
	d := New()
	k, err := kernel.Binary(kernel.OpDiv, kernel.Bound(0, tensor.Int32), kernel.Bound(1, tensor.Int32), kernel.Bound(2, tensor.Int32), false)
	require.NoError(t, err)

	out := run(t, d, k, kernel.Groups(4, k.Workgroup), 2,
		i32Bytes(7, 9, math.MinInt32, -7), i32Bytes(2, 0, -1, 2), i32Bytes(0, 0, 0, 0))
	assert.Equal(t, i32Bytes(3, 9, math.MinInt32, -3), out)

	k, err = kernel.Binary(kernel.OpAdd, kernel.Bound(0, tensor.Uint32), kernel.Constant(1, tensor.Uint32), kernel.Bound(1, tensor.Uint32), false)
	require.NoError(t, err)
	out = run(t, d, k, kernel.Groups(2, k.Workgroup), 1, u32Bytes(math.MaxUint32, 5), u32Bytes(0, 0), u32Bytes(1))
	assert.Equal(t, u32Bytes(0, 6), out)
}

func TestStridedBroadcast(t *testing.T) {
	d := New()
	k, err := kernel.Binary(kernel.OpMul, kernel.Bound(0, tensor.Float32), kernel.Bound(1, tensor.Float32), kernel.Bound(2, tensor.Float32), true)
	require.NoError(t, err)

	// [2,3] * [3] with the row broadcast over axis 0.
	out := run(t, d, k, kernel.Groups(6, k.Workgroup), 2,
		f32Bytes(1, 2, 3, 4, 5, 6), f32Bytes(10, 100, 1000), f32Bytes(0, 0, 0, 0, 0, 0),
		u32Bytes(3, 1), u32Bytes(0, 1), u32Bytes(3, 1))
	assert.Equal(t, f32Bytes(10, 200, 3000, 40, 500, 6000), out)
}

func TestUnaryIntToFloat(t *testing.T) {
	d := New()
	k, err := kernel.Unary(kernel.OpSqrt, kernel.Bound(0, tensor.Int32).As(tensor.Float32), kernel.Bound(1, tensor.Float32), false)
	require.NoError(t, err)

	out := run(t, d, k, kernel.Groups(2, k.Workgroup), 1, i32Bytes(4, 9), f32Bytes(0, 0))
	assert.Equal(t, f32Bytes(2, 3), out)
}

func TestReducePasses(t *testing.T) {
	d := New()
	n := 300
	lanes := kernel.ReduceLanes(n)
	k, err := kernel.Reduce(kernel.OpSum, tensor.Int32, lanes)
	require.NoError(t, err)

	vals := make([]int32, n)
	for i := range vals {
		vals[i] = 2
	}
	groups := kernel.ReduceGroups(n, lanes)
	out := run(t, d, k, kernel.Groups(groups*lanes, lanes), 1,
		i32Bytes(vals...), make([]byte, 4*groups), u32Bytes(uint32(n))) //nolint:gosec // test size

	// Three partial sums of 128, 128 and 44 elements.
	assert.Equal(t, i32Bytes(256, 256, 88), out)
}

func TestScalarFromBuffer(t *testing.T) {
	d := New()
	k, err := kernel.Binary(kernel.OpMul, kernel.Bound(0, tensor.Float32), kernel.Constant(0, tensor.Float32), kernel.Bound(1, tensor.Float32), false)
	require.NoError(t, err)

	// The value comes from the bound word, not from the descriptor.
	out := run(t, d, k, kernel.Groups(3, k.Workgroup), 1,
		f32Bytes(1, 2, 3), f32Bytes(0, 0, 0), u32Bytes(math.Float32bits(2.5)))
	assert.Equal(t, f32Bytes(2.5, 5, 7.5), out)
}

func TestXoshiroReference(t *testing.T) {
	s := [4]uint32{1, 2, 3, 4}
	assert.Equal(t, uint32(11520), Next(&s))

	a := Jump([4]uint32{1, 2, 3, 4})
	b := Jump([4]uint32{1, 2, 3, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, [4]uint32{1, 2, 3, 4}, a)
}

func TestJumpCommutesWithNext(t *testing.T) {
	// Jump applies a polynomial in the state transition, so it commutes
	// with a single step. A wrong polynomial or bit order breaks this.
	seeds := [][4]uint32{
		{1, 2, 3, 4},
		{0xdeadbeef, 0, 0x12345678, 1},
		{0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff},
		{0, 0, 0, 1},
	}
	for _, s := range seeds {
		stepped := s
		Next(&stepped)
		left := Jump(stepped)

		right := Jump(s)
		Next(&right)

		assert.Equal(t, left, right, "seed %x", s)
	}

	// The commuting property holds for any polynomial, so pin the published one.
	assert.Equal(t, [4]uint32{0x8764000b, 0xf542d2d3, 0x6fa035c3, 0x77f2db5b}, kernel.JumpPolynomial)
}

func TestRandomSeedChain(t *testing.T) {
	d := New()
	state := make([]byte, 16*4)
	binary.LittleEndian.PutUint32(state[0:], 1)
	binary.LittleEndian.PutUint32(state[4:], 2)
	binary.LittleEndian.PutUint32(state[8:], 3)
	binary.LittleEndian.PutUint32(state[12:], 4)

	out := run(t, d, kernel.RandomSeed(), [3]uint32{1, 1, 1}, 0, state, u32Bytes(1, 3))

	want := [4]uint32{1, 2, 3, 4}
	for i := 1; i < 4; i++ {
		want = Jump(want)
		assert.Equal(t, want, loadState(out, i), "stream %d", i)
	}
}

func TestLostDevice(t *testing.T) {
	d := New()
	var reason string
	d.OnLost(func(r string) { reason = r })

	d.Lose("driver reset")
	assert.Equal(t, "driver reset", reason)

	_, err := d.CreateBuffer(16, device.StorageUsage, "x")
	require.ErrorIs(t, err, device.ErrDeviceLost)
	require.ErrorIs(t, d.Submit(), device.ErrDeviceLost)

	var late string
	d.OnLost(func(r string) { late = r })
	assert.Equal(t, "driver reset", late)
}

func TestCompileHook(t *testing.T) {
	d := New(WithCompileHook(func(k *kernel.Kernel) []device.Diagnostic {
		return []device.Diagnostic{{Severity: device.SeverityError, Message: "bad " + k.Label}}
	}))
	k := kernel.RandomSeed()
	layout, err := d.CreateLayout(k.Bindings)
	require.NoError(t, err)

	_, diags, err := d.CreateProgram(k, layout)
	var ce *device.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "random_seed", ce.Label)
	assert.Len(t, diags, 1)
}

func TestUsageChecks(t *testing.T) {
	d := New()
	buf, err := d.CreateBuffer(6, device.StorageUsage, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), buf.Size())

	_, err = d.MapRead(context.Background(), buf, 0, 4)
	require.Error(t, err)

	require.Error(t, d.WriteBuffer(buf, 4, make([]byte, 8)))

	buf.Release()
	require.ErrorIs(t, d.WriteBuffer(buf, 0, make([]byte, 4)), device.ErrReleased)
}
