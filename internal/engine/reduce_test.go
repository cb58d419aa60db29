package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func TestReduceSum(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		n    int
		want float64
	}{
		{1, 2},
		{32, 64},
		{300, 600},
		{70000, 140000},
	}
	for _, tt := range tests {
		x, err := e.Full(tensor.Shape{tt.n}, 2, WithDType(tensor.Int32))
		require.NoError(t, err)
		s, err := e.ReduceSum(x)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1}, s.Shape())
		assert.Equal(t, tensor.Int32, s.DType())
		assert.Equal(t, []float64{tt.want}, values(t, s), "n=%d", tt.n)
	}
}

func TestReduceSingleSubmission(t *testing.T) {
	e, dev := newTestEngine(t)
	x, err := e.Ones(tensor.Shape{5000})
	require.NoError(t, err)
	require.NoError(t, x.Send())

	before := dev.Submissions()
	_, err = e.ReduceSum(x)
	require.NoError(t, err)
	assert.Equal(t, before+1, dev.Submissions())
	assert.Greater(t, e.Stats().Dispatches, uint64(1))
}

func TestReduceOps(t *testing.T) {
	e, _ := newTestEngine(t)
	x, err := e.FromValues(tensor.Shape{2, 3}, tensor.Float32, []float64{3, -1, 4, 1, -5, 9})
	require.NoError(t, err)

	tests := []struct {
		op   kernel.Op
		want float64
	}{
		{kernel.OpSum, 11},
		{kernel.OpProduct, 540},
		{kernel.OpReduceMin, -5},
		{kernel.OpReduceMax, 9},
	}
	for _, tt := range tests {
		r, err := e.Reduce(tt.op, x)
		require.NoError(t, err)
		assert.Equal(t, []float64{tt.want}, values(t, r), "op=%v", tt.op)
	}

	_, err = e.Reduce(kernel.OpAdd, x)
	require.ErrorIs(t, err, tensor.ErrType)
}

func TestReduceMinUint(t *testing.T) {
	e, _ := newTestEngine(t)
	x, err := e.Arange(5, 1029, 1, tensor.Uint32)
	require.NoError(t, err)

	mn, err := e.ReduceMin(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, values(t, mn))

	mx, err := e.ReduceMax(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1028}, values(t, mx))
}

func TestReduceInfinities(t *testing.T) {
	e, _ := newTestEngine(t)

	// 130 elements leave idle lanes in the last workgroup.
	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float16} {
		lo, err := e.Full(tensor.Shape{130}, math.Inf(-1), WithDType(dt))
		require.NoError(t, err)
		mx, err := e.ReduceMax(lo)
		require.NoError(t, err)
		assert.Equal(t, []float64{math.Inf(-1)}, values(t, mx), "dtype=%s", dt)

		hi, err := e.Full(tensor.Shape{130}, math.Inf(1), WithDType(dt))
		require.NoError(t, err)
		mn, err := e.ReduceMin(hi)
		require.NoError(t, err)
		assert.Equal(t, []float64{math.Inf(1)}, values(t, mn), "dtype=%s", dt)
	}
}
