// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package array_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/array"
	"github.com/born-ml/ndgpu/internal/logger"
)

func openCPU(t *testing.T) *array.Engine {
	t.Helper()
	cfg := array.DefaultConfig()
	cfg.Backend = array.BackendCPU
	ctx := logger.WithContext(context.Background(), logger.Discard())
	e, err := array.OpenWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenFromEnvironment(t *testing.T) {
	t.Setenv("NDGPU_BACKEND", "cpu")
	t.Setenv("NDGPU_WORKERS", "2")
	ctx := logger.WithContext(context.Background(), logger.Discard())

	e, err := array.Open(ctx)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, "cpu", e.Info().Backend)
}

func TestPublicAPI(t *testing.T) {
	ctx := context.Background()
	e := openCPU(t)

	x, err := e.FromValues(array.Shape{2, 3}, array.Float32, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	y, err := e.Add(x, array.Scalar(1))
	require.NoError(t, err)
	s, err := e.ReduceSum(y)
	require.NoError(t, err)

	v, err := s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 27.0, v)

	z, err := e.Apply(array.OpTanh, nil, x)
	require.NoError(t, err)
	assert.Equal(t, array.Float32, z.DType())
	assert.Same(t, e, z.Engine())
}

func TestPublicErrors(t *testing.T) {
	e := openCPU(t)

	a, err := e.Zeros(array.Shape{2, 3})
	require.NoError(t, err)
	b, err := e.Zeros(array.Shape{4})
	require.NoError(t, err)
	_, err = e.Add(a, b)
	require.ErrorIs(t, err, array.ErrShape)

	i, err := e.Zeros(array.Shape{2}, array.WithDType(array.Int32))
	require.NoError(t, err)
	u, err := e.Zeros(array.Shape{2}, array.WithDType(array.Uint32))
	require.NoError(t, err)
	_, err = e.Add(i, u)
	require.ErrorIs(t, err, array.ErrType)

	require.NoError(t, e.Close())
	_, err = e.Add(a, a)
	require.ErrorIs(t, err, array.ErrReleased)
}

func TestGenerator(t *testing.T) {
	e := openCPU(t)
	g, err := array.NewGenerator(e, 128, array.WithSeed(2025))
	require.NoError(t, err)
	defer g.Release()

	x, err := g.Next(array.Float32)
	require.NoError(t, err)
	assert.Equal(t, array.Shape{128}, x.Shape())
}

func TestParseDataType(t *testing.T) {
	dt, err := array.ParseDataType("f16")
	require.NoError(t, err)
	assert.Equal(t, array.Float16, dt)

	_, err = array.ParseDataType("f64")
	require.ErrorIs(t, err, array.ErrType)
}
