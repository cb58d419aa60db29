package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/internal/config"
	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/device/cpu"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/logger"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func newTestEngine(t *testing.T, opts ...cpu.Option) (*Engine, *cpu.Device) {
	t.Helper()
	dev := cpu.New(opts...)
	e := New(dev, logger.Discard())
	t.Cleanup(func() { _ = e.Close() })
	return e, dev
}

func values(t *testing.T, a *Array) []float64 {
	t.Helper()
	v, err := a.Values(context.Background())
	require.NoError(t, err)
	return v
}

func TestOpenCPU(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendCPU
	cfg.Workers = 2

	e, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "cpu", e.Info().Backend)
	state, _ := e.State()
	assert.Equal(t, Active, state)
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "tpu"
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestCachesAreShared(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)
	b, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)

	_, err = e.Add(a, b)
	require.NoError(t, err)
	_, err = e.Add(b, a)
	require.NoError(t, err)

	st := e.Stats()
	assert.Equal(t, 1, st.Programs)
	assert.Equal(t, 1, st.Layouts)
	assert.Equal(t, uint64(2), st.Dispatches)

	// Same binding signature, different program.
	_, err = e.Sub(a, b)
	require.NoError(t, err)
	st = e.Stats()
	assert.Equal(t, 2, st.Programs)
	assert.Equal(t, 1, st.Layouts)
}

func TestScalarValuesShareProgram(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)

	for i := range 50 {
		out, err := e.Add(a, Scalar(float64(i)+0.5))
		require.NoError(t, err)
		if i == 49 {
			assert.Equal(t, []float64{50.5, 50.5, 50.5, 50.5}, values(t, out))
		}
	}
	assert.Equal(t, 1, e.Stats().Programs)
}

func TestPendingReleasesDrain(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := e.Ones(tensor.Shape{3})
	require.NoError(t, err)

	_, err = e.Add(a, b)
	require.NoError(t, err)
	require.NoError(t, e.Sync(context.Background()))
	assert.Zero(t, e.Stats().PendingReleases)
}

func TestBindSetsReleased(t *testing.T) {
	e, dev := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := e.Ones(tensor.Shape{3})
	require.NoError(t, err)

	_, err = e.Add(a, b)
	require.NoError(t, err)
	x, err := e.Ones(tensor.Shape{5000})
	require.NoError(t, err)
	_, err = e.ReduceSum(x)
	require.NoError(t, err)
	require.NoError(t, e.Sync(context.Background()))

	_, sets := dev.Live()
	assert.Zero(t, sets)

	// A batch that fails part way releases the bind sets already created.
	k, err := kernel.Binary(kernel.OpAdd, kernel.Bound(0, tensor.Float32), kernel.Bound(1, tensor.Float32), kernel.Bound(2, tensor.Float32), false)
	require.NoError(t, err)
	out, err := e.Zeros(tensor.Shape{3})
	require.NoError(t, err)
	good := Pass{Kernel: k, Groups: kernel.Groups(3, k.Workgroup), Args: []Arg{{Array: b}, {Array: b}, {Array: out, Write: true}}}
	bad := Pass{Kernel: k, Groups: good.Groups, Args: good.Args[:2]}
	require.ErrorIs(t, e.Run(good, bad), tensor.ErrShape)
	_, sets = dev.Live()
	assert.Zero(t, sets)
}

func TestDeviceLost(t *testing.T) {
	e, dev := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)

	dev.Lose("driver reset")

	_, err = e.Add(a, a)
	require.ErrorIs(t, err, device.ErrDeviceLost)
	_, err = e.New(tensor.Shape{2})
	require.ErrorIs(t, err, device.ErrDeviceLost)

	state, reason := e.State()
	assert.Equal(t, Lost, state)
	assert.Equal(t, "driver reset", reason)
}

func TestCompileErrorIsFatal(t *testing.T) {
	e, _ := newTestEngine(t, cpu.WithCompileHook(func(k *kernel.Kernel) []device.Diagnostic {
		if k.Desc.Op == kernel.OpSub {
			return []device.Diagnostic{{Severity: device.SeverityError, Message: "unexpected token"}}
		}
		return []device.Diagnostic{{Severity: device.SeverityWarning, Message: "unused binding"}}
	}))
	a, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)

	_, err = e.Add(a, a)
	require.NoError(t, err, "warnings do not fail compilation")

	_, err = e.Sub(a, a)
	var ce *device.CompileError
	require.ErrorAs(t, err, &ce)

	_, err = e.Add(a, a)
	require.ErrorIs(t, err, device.ErrDeviceLost)
}

func TestClose(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Ones(tensor.Shape{4})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Add(a, a)
	require.True(t, errors.Is(err, device.ErrReleased))
	state, _ := e.State()
	assert.Equal(t, Closed, state)
}

func TestSyncHonorsContext(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Sync(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "lost", Lost.String())
	assert.Equal(t, "closed", Closed.String())
}
