package tensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name   string
		shapes []Shape
		want   Shape
	}{
		{"same", []Shape{{2, 3}, {2, 3}}, Shape{2, 3}},
		{"scalar-shaped", []Shape{{2, 3}, {1}}, Shape{2, 3}},
		{"column", []Shape{{3, 1}, {3, 5}}, Shape{3, 5}},
		{"row", []Shape{{1, 5}, {3, 5}}, Shape{3, 5}},
		{"rank pad", []Shape{{4}, {2, 3, 4}}, Shape{2, 3, 4}},
		{"three way", []Shape{{2, 1, 4}, {3, 1}, {1}}, Shape{2, 3, 4}},
		{"single", []Shape{{7}}, Shape{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BroadcastShapes(tt.shapes...)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BroadcastShapes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBroadcastShapesIncompatible(t *testing.T) {
	_, err := BroadcastShapes(Shape{3, 4}, Shape{3, 5})
	require.ErrorIs(t, err, ErrShape)

	_, err = BroadcastShapes(Shape{2, 1}, Shape{3, 1}, Shape{1})
	require.ErrorIs(t, err, ErrShape)

	_, err = BroadcastShapes()
	require.ErrorIs(t, err, ErrShape)
}

func TestBroadcastStrides(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		strides []int
		out     Shape
		want    []int
	}{
		{"identity", Shape{2, 3}, []int{3, 1}, Shape{2, 3}, []int{3, 1}},
		{"scalar-shaped", Shape{1}, []int{1}, Shape{2, 3}, []int{0, 0}},
		{"row vector", Shape{3}, []int{1}, Shape{2, 3}, []int{0, 1}},
		{"column", Shape{2, 1}, []int{1, 1}, Shape{2, 3}, []int{1, 0}},
		{"custom strides kept", Shape{2, 3}, []int{1, 2}, Shape{4, 2, 3}, []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BroadcastStrides(tt.shape, tt.strides, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBroadcastStridesErrors(t *testing.T) {
	_, err := BroadcastStrides(Shape{2}, []int{1}, Shape{3})
	require.ErrorIs(t, err, ErrShape)

	_, err = BroadcastStrides(Shape{2, 3}, []int{1}, Shape{2, 3})
	require.ErrorIs(t, err, ErrShape)

	_, err = BroadcastStrides(Shape{1, 2, 3}, []int{6, 3, 1}, Shape{2, 3})
	require.ErrorIs(t, err, ErrShape)
}

func TestSourceOffset(t *testing.T) {
	out := Shape{2, 3}
	outStrides := out.ContiguousStrides()

	row, err := BroadcastStrides(Shape{3}, []int{1}, out)
	require.NoError(t, err)
	col, err := BroadcastStrides(Shape{2, 1}, []int{1, 1}, out)
	require.NoError(t, err)

	var rows, cols []int
	for i := 0; i < out.NumElements(); i++ {
		rows = append(rows, SourceOffset(i, outStrides, row))
		cols = append(cols, SourceOffset(i, outStrides, col))
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, rows)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, cols)
}

func TestPromoteTypes(t *testing.T) {
	tests := []struct {
		a, b DataType
		want DataType
	}{
		{Int32, Int32, Int32},
		{Uint32, Uint32, Uint32},
		{Float16, Float16, Float16},
		{Float32, Uint32, Float32},
		{Int32, Float32, Float32},
		{Float16, Float32, Float32},
		{Float16, Int32, Float16},
		{Uint32, Float16, Float16},
	}

	for _, tt := range tests {
		got, err := PromoteTypes(tt.a, tt.b)
		require.NoError(t, err, "%s + %s", tt.a, tt.b)
		assert.Equal(t, tt.want, got, "%s + %s", tt.a, tt.b)
	}
}

func TestPromoteTypesIncompatible(t *testing.T) {
	_, err := PromoteTypes(Int32, Uint32)
	require.ErrorIs(t, err, ErrType)

	_, err = PromoteTypes(Invalid, Float32)
	require.ErrorIs(t, err, ErrType)
}

func TestSourceOffsetUint32(t *testing.T) {
	// Missing operand strides count as zero.
	assert.Equal(t, uint32(2), SourceOffset[uint32](5, []uint32{3, 1}, []uint32{0}))
	assert.Equal(t, uint32(5), SourceOffset[uint32](5, []uint32{0, 3, 1}, []uint32{9, 3, 1}))

	// Offsets wrap like the generated u32 arithmetic.
	assert.Equal(t, uint32(0xfffffffc), SourceOffset[uint32](4, []uint32{1}, []uint32{0x7fffffff}))
}
