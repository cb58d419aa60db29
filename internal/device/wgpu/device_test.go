package wgpu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openwgpu "github.com/openfluke/webgpu/wgpu"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available")
	}
	d, err := New(Options{PowerPreference: "high-performance", EnableF16: true, MapTimeout: 10 * time.Second})
	if err != nil {
		t.Skipf("WebGPU device unavailable: %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func TestClassify(t *testing.T) {
	assert.Equal(t, smallClass, classify(16))
	assert.Equal(t, mediumClass, classify(64*1024))
	assert.Equal(t, largeClass, classify(4*1024*1024))
}

func TestUsageOf(t *testing.T) {
	assert.Equal(t, openwgpu.BufferUsageStorage|openwgpu.BufferUsageCopySrc|openwgpu.BufferUsageCopyDst, usageOf(device.StorageUsage))
	assert.Equal(t, openwgpu.BufferUsageMapRead|openwgpu.BufferUsageCopyDst, usageOf(device.StagingUsage))
}

func TestDeviceInfo(t *testing.T) {
	d := newTestDevice(t)
	info := d.Info()
	assert.NotEmpty(t, info.Backend)
	assert.Positive(t, info.MaxGroups)
	t.Logf("adapter: %s (%s) f16=%v", info.Name, info.Backend, info.Features.ShaderF16)
}

func TestAddRoundTrip(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	k, err := kernel.Binary(kernel.OpAdd, kernel.Bound(0, tensor.Int32), kernel.Bound(1, tensor.Int32), kernel.Bound(2, tensor.Int32), false)
	require.NoError(t, err)

	layout, err := d.CreateLayout(k.Bindings)
	require.NoError(t, err)
	prog, _, err := d.CreateProgram(k, layout)
	require.NoError(t, err)

	bytes := func(vals ...int32) []byte { return openwgpu.ToBytes(vals) }
	bufs := make([]device.Buffer, 3)
	for i, data := range [][]byte{bytes(1, 2, 3, 4), bytes(10, 20, 30, 40), bytes(0, 0, 0, 0)} {
		bufs[i], err = d.CreateBuffer(uint64(len(data)), device.StorageUsage, "test")
		require.NoError(t, err)
		require.NoError(t, d.WriteBuffer(bufs[i], 0, data))
	}
	set, err := d.CreateBindSet(layout, bufs)
	require.NoError(t, err)

	staging, err := d.CreateBuffer(16, device.StagingUsage, "staging")
	require.NoError(t, err)
	require.NoError(t, d.Submit(
		device.Dispatch{Program: prog, BindSet: set, Groups: kernel.Groups(4, k.Workgroup)},
		device.Copy{Src: bufs[2], Dst: staging, Size: 16},
	))

	out, err := d.MapRead(ctx, staging, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []int32{11, 22, 33, 44}, openwgpu.FromBytes[int32](out))
	set.Release()
	set.Release()

	staging.Release()
	again, err := d.CreateBuffer(16, device.StagingUsage, "staging")
	require.NoError(t, err)
	hits, _ := d.PoolStats()
	assert.Equal(t, uint64(1), hits)
	again.Release()

	done := make(chan struct{})
	d.OnWorkDone(func() { close(done) })
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("work done callback did not fire")
	}
}

func TestCompileError(t *testing.T) {
	d := newTestDevice(t)
	k := &kernel.Kernel{Label: "broken", Source: "@compute fn main( {", Bindings: []kernel.Access{kernel.ReadWrite}}
	layout, err := d.CreateLayout(k.Bindings)
	require.NoError(t, err)

	_, diags, err := d.CreateProgram(k, layout)
	var ce *device.CompileError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, diags)
}

func TestDeviceLostCallback(t *testing.T) {
	d := &Device{}
	var reason string
	d.OnLost(func(r string) { reason = r })

	d.deviceLost(openwgpu.DeviceLostReasonUnknown, " driver reset ")
	assert.Equal(t, "device lost (unknown): driver reset", reason)
	require.ErrorIs(t, d.check(), device.ErrDeviceLost)

	// Losses reported after Release come from tearing the device down.
	r := &Device{}
	r.Release()
	r.deviceLost(openwgpu.DeviceLostReasonDestroyed, "")
	require.ErrorIs(t, r.check(), device.ErrReleased)
	assert.Nil(t, r.lost)
}

func TestLossReason(t *testing.T) {
	assert.Equal(t, "device lost: destroyed", lossReason(openwgpu.DeviceLostReasonDestroyed, ""))
}

func TestReleaseFiresWaiters(t *testing.T) {
	d := &Device{waiters: make(map[uint64]func()), stop: make(chan struct{})}
	fired := 0
	d.waiters[0] = func() { fired++ }
	d.waiters[1] = func() { fired++ }

	d.Release()
	assert.Equal(t, 2, fired)
	assert.Empty(t, d.waiters)

	d.OnWorkDone(func() { fired++ })
	assert.Equal(t, 3, fired)
	d.finish(0)
	assert.Equal(t, 3, fired)
}

func TestAbandonedMapNotPooled(t *testing.T) {
	b := &buffer{usage: device.StagingUsage}
	assert.True(t, b.poolable())
	b.mapPending.Store(true)
	assert.False(t, b.poolable())
	assert.False(t, (&buffer{usage: device.StorageUsage}).poolable())
}
