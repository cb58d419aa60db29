// Package wgpu implements the device boundary on WebGPU.
package wgpu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
)

// Options configures adapter and device selection.
type Options struct {
	// PowerPreference is "high-performance" or "low-power". Other adapters
	// are tried when the preferred one is unavailable.
	PowerPreference string
	// EnableF16 requests the shader-f16 feature when the adapter has it.
	EnableF16 bool
	// MapTimeout bounds a staging buffer mapping. Zero means no bound
	// beyond the caller's context.
	MapTimeout time.Duration
}

// Device is a WebGPU device with its queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	info     device.Info
	features device.Features
	opts     Options

	staging *stagingPool

	mu       sync.Mutex
	lost     *device.LostError
	released bool
	onLost   []func(string)

	// waiters holds OnWorkDone callbacks not yet fired, keyed by
	// registration order. The poller runs while any are outstanding.
	waiters    map[uint64]func()
	nextWaiter uint64
	polling    bool
	stop       chan struct{}
	poller     sync.WaitGroup

	memory struct {
		allocated atomic.Uint64
		peak      atomic.Uint64
		active    atomic.Int64
	}
}

// New acquires an adapter and device.
// Returns an error if WebGPU is not available or initialization fails.
func New(opts Options) (d *Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("wgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("wgpu: failed to create instance")
	}

	adapter, err := requestAdapter(instance, opts.PowerPreference)
	if err != nil {
		instance.Release()
		return nil, err
	}

	var required []wgpu.FeatureName
	features := device.Features{}
	if f, ok := findShaderF16(adapter); ok && opts.EnableF16 {
		required = append(required, f)
		features.ShaderF16 = true
	}

	d = &Device{waiters: make(map[uint64]func()), stop: make(chan struct{})}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:              "ndgpu",
		RequiredFeatures:   required,
		DeviceLostCallback: d.deviceLost,
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to request device: %w", err)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("wgpu: failed to get queue")
	}

	ai := adapter.GetInfo()
	limits := adapter.GetLimits()

	d.instance = instance
	d.adapter = adapter
	d.device = dev
	d.queue = queue
	d.features = features
	d.opts = opts
	d.info = device.Info{
		Backend:     "wgpu/" + ai.BackendType.String(),
		Name:        strings.TrimSpace(ai.Name),
		Vendor:      strings.TrimSpace(ai.VendorName),
		Driver:      strings.TrimSpace(ai.DriverDescription),
		AdapterType: ai.AdapterType.String(),
		Features:    features,
		MaxGroups:   limits.Limits.MaxComputeWorkgroupsPerDimension,
	}
	d.staging = newStagingPool(d)
	return d, nil
}

// requestAdapter tries the preferred power class, then the other, then the default.
func requestAdapter(instance *wgpu.Instance, preference string) (*wgpu.Adapter, error) {
	order := []wgpu.PowerPreference{wgpu.PowerPreferenceHighPerformance, wgpu.PowerPreferenceLowPower}
	if preference == "low-power" {
		order[0], order[1] = order[1], order[0]
	}

	var errs []error
	for _, pref := range order {
		adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: pref})
		if err == nil && adapter != nil {
			return adapter, nil
		}
		errs = append(errs, err)
	}
	adapter, err := instance.RequestAdapter(nil)
	if err == nil && adapter != nil {
		return adapter, nil
	}
	errs = append(errs, err)
	return nil, fmt.Errorf("wgpu: all adapter attempts failed: %w", errors.Join(errs...))
}

func findShaderF16(adapter *wgpu.Adapter) (wgpu.FeatureName, bool) {
	for _, f := range adapter.EnumerateFeatures() {
		name := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(f.String()))
		if strings.HasSuffix(name, "shaderf16") {
			return f, true
		}
	}
	var zero wgpu.FeatureName
	return zero, false
}

// IsAvailable checks if a WebGPU adapter can be acquired on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil || adapter == nil {
		return false
	}
	adapter.Release()
	return true
}

// Info describes the adapter.
func (d *Device) Info() device.Info { return d.info }

// Features returns the enabled optional capabilities.
func (d *Device) Features() device.Features { return d.features }

// PoolStats reports staging pool hits and misses.
func (d *Device) PoolStats() (hits, misses uint64) {
	return d.staging.stats()
}

// MemoryStats reports live buffer bytes, the peak and the live buffer count.
func (d *Device) MemoryStats() (allocated, peak uint64, active int64) {
	return d.memory.allocated.Load(), d.memory.peak.Load(), d.memory.active.Load()
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return device.ErrReleased
	}
	if d.lost != nil {
		return d.lost
	}
	return nil
}

// deviceLost receives the binding's device-lost notification. The
// notification that follows our own Release is not a loss.
func (d *Device) deviceLost(reason wgpu.DeviceLostReason, message string) {
	d.mu.Lock()
	released := d.released
	d.mu.Unlock()
	if released {
		return
	}
	d.lose(lossReason(reason, message))
}

func lossReason(reason wgpu.DeviceLostReason, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "device lost: " + reason.String()
	}
	return "device lost (" + reason.String() + "): " + message
}

// fail converts errors that report a lost device into the lost state.
// The device-lost callback is the primary signal; error text is a fallback
// for failures the callback has not reported yet.
func (d *Device) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "lost") {
		d.lose(err.Error())
		return fmt.Errorf("wgpu: %s: %w", op, &device.LostError{Reason: err.Error()})
	}
	return fmt.Errorf("wgpu: %s: %w", op, err)
}

func (d *Device) lose(reason string) {
	d.mu.Lock()
	if d.lost != nil {
		d.mu.Unlock()
		return
	}
	d.lost = &device.LostError{Reason: reason}
	callbacks := d.onLost
	d.onLost = nil
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}

type buffer struct {
	buf      *wgpu.Buffer
	size     uint64
	alloc    uint64
	label    string
	usage    device.BufferUsage
	dev      *Device
	released atomic.Bool
	// mapPending is set when a MapRead was abandoned before its map
	// completed. Such a buffer cannot be mapped again and is never pooled.
	mapPending atomic.Bool
}

func (b *buffer) Size() uint64  { return b.size }
func (b *buffer) Label() string { return b.label }

func (b *buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	if b.poolable() && b.dev.check() == nil && b.dev.staging.put(b.buf, b.alloc) {
		return
	}
	b.buf.Release()
	b.dev.trackRelease(b.alloc)
}

func (b *buffer) poolable() bool {
	return b.usage == device.StagingUsage && !b.mapPending.Load()
}

func (d *Device) trackAlloc(size uint64) {
	cur := d.memory.allocated.Add(size)
	d.memory.active.Add(1)
	for {
		peak := d.memory.peak.Load()
		if cur <= peak || d.memory.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}

func (d *Device) trackRelease(size uint64) {
	d.memory.allocated.Add(^(size - 1))
	d.memory.active.Add(-1)
}

func usageOf(u device.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u.Has(device.UsageStorage) {
		out |= wgpu.BufferUsageStorage
	}
	if u.Has(device.UsageCopySrc) {
		out |= wgpu.BufferUsageCopySrc
	}
	if u.Has(device.UsageCopyDst) {
		out |= wgpu.BufferUsageCopyDst
	}
	if u.Has(device.UsageMapRead) {
		out |= wgpu.BufferUsageMapRead
	}
	return out
}

// CreateBuffer allocates Align(size) bytes.
func (d *Device) CreateBuffer(size uint64, usage device.BufferUsage, label string) (device.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("wgpu: buffer %q has zero size", label)
	}
	size = device.Align(size)
	if usage == device.StagingUsage {
		if buf, alloc := d.staging.acquire(size); buf != nil {
			return &buffer{buf: buf, size: size, alloc: alloc, label: label, usage: usage, dev: d}, nil
		}
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usageOf(usage),
	})
	if err != nil {
		return nil, d.fail("create buffer "+label, err)
	}
	d.trackAlloc(size)
	return &buffer{buf: buf, size: size, alloc: size, label: label, usage: usage, dev: d}, nil
}

func (d *Device) buffer(b device.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign buffer %T", b)
	}
	if buf.released.Load() {
		return nil, fmt.Errorf("wgpu: buffer %q: %w", buf.label, device.ErrReleased)
	}
	return buf, nil
}

// WriteBuffer schedules a host-to-device write on the queue.
func (d *Device) WriteBuffer(b device.Buffer, offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > buf.size {
		return fmt.Errorf("wgpu: write of %d bytes at %d overflows %q (%d bytes)", len(data), offset, buf.label, buf.size)
	}
	if n := len(data); n%4 != 0 {
		padded := make([]byte, device.Align(uint64(n)))
		copy(padded, data)
		data = padded
	}
	d.queue.WriteBuffer(buf.buf, offset, data)
	return nil
}

type layout struct {
	bgl   *wgpu.BindGroupLayout
	pl    *wgpu.PipelineLayout
	modes []kernel.Access
}

func (l *layout) Modes() []kernel.Access { return l.modes }

// CreateLayout creates an explicit bind group layout and its pipeline layout.
func (d *Device) CreateLayout(modes []kernel.Access) (device.Layout, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	entries := make([]wgpu.BindGroupLayoutEntry, len(modes))
	for i, m := range modes {
		typ := wgpu.BufferBindingTypeReadOnlyStorage
		if m == kernel.ReadWrite {
			typ = wgpu.BufferBindingTypeStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // G115: binding count is small
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: typ},
		}
	}
	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "ndgpu_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, d.fail("create bind group layout", err)
	}
	pl, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ndgpu_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return nil, d.fail("create pipeline layout", err)
	}
	return &layout{bgl: bgl, pl: pl, modes: append([]kernel.Access(nil), modes...)}, nil
}

type program struct {
	k        *kernel.Kernel
	pipeline *wgpu.ComputePipeline
}

func (p *program) Kernel() *kernel.Kernel { return p.k }

// CreateProgram compiles k's WGSL source into a compute pipeline.
func (d *Device) CreateProgram(k *kernel.Kernel, l device.Layout) (device.Program, []device.Diagnostic, error) {
	if err := d.check(); err != nil {
		return nil, nil, err
	}
	lay, ok := l.(*layout)
	if !ok {
		return nil, nil, fmt.Errorf("wgpu: foreign layout %T", l)
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          k.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: k.Source},
	})
	if err != nil {
		diags := []device.Diagnostic{{Severity: device.SeverityError, Message: err.Error()}}
		return nil, diags, &device.CompileError{Label: k.Label, Diagnostics: diags}
	}
	defer module.Release()

	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.Label,
		Layout: lay.pl,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		diags := []device.Diagnostic{{Severity: device.SeverityError, Message: err.Error()}}
		return nil, diags, &device.CompileError{Label: k.Label, Diagnostics: diags}
	}
	return &program{k: k, pipeline: pipeline}, nil, nil
}

type bindSet struct {
	layout   device.Layout
	group    *wgpu.BindGroup
	released atomic.Bool
}

func (s *bindSet) Layout() device.Layout { return s.layout }

func (s *bindSet) Release() {
	if s.released.Swap(true) {
		return
	}
	s.group.Release()
}

// CreateBindSet binds buffers to the layout slots in order.
func (d *Device) CreateBindSet(l device.Layout, buffers []device.Buffer) (device.BindSet, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	lay, ok := l.(*layout)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign layout %T", l)
	}
	if len(buffers) != len(lay.modes) {
		return nil, fmt.Errorf("wgpu: layout has %d slots, got %d buffers", len(lay.modes), len(buffers))
	}
	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, b := range buffers {
		buf, err := d.buffer(b)
		if err != nil {
			return nil, err
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // G115: binding count is small
			Buffer:  buf.buf,
			Size:    buf.buf.GetSize(),
		}
	}
	group, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "ndgpu_bind",
		Layout:  lay.bgl,
		Entries: entries,
	})
	if err != nil {
		return nil, d.fail("create bind group", err)
	}
	return &bindSet{layout: l, group: group}, nil
}

// Submit records every command into one encoder and submits it.
func (d *Device) Submit(cmds ...device.Command) error {
	if err := d.check(); err != nil {
		return err
	}
	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return d.fail("create command encoder", err)
	}
	defer enc.Release()

	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case device.Dispatch:
			p, ok := c.Program.(*program)
			if !ok {
				return fmt.Errorf("wgpu: foreign program %T", c.Program)
			}
			set, ok := c.BindSet.(*bindSet)
			if !ok {
				return fmt.Errorf("wgpu: foreign bind set %T", c.BindSet)
			}
			pass := enc.BeginComputePass(nil)
			pass.SetPipeline(p.pipeline)
			pass.SetBindGroup(0, set.group, nil)
			pass.DispatchWorkgroups(c.Groups[0], max(c.Groups[1], 1), max(c.Groups[2], 1))
			pass.End()
			pass.Release()
		case device.Copy:
			src, err := d.buffer(c.Src)
			if err != nil {
				return err
			}
			dst, err := d.buffer(c.Dst)
			if err != nil {
				return err
			}
			enc.CopyBufferToBuffer(src.buf, c.SrcOffset, dst.buf, c.DstOffset, device.Align(c.Size))
		default:
			return fmt.Errorf("wgpu: unknown command %T", cmd)
		}
	}

	cmd, err := enc.Finish(nil)
	if err != nil {
		return d.fail("finish commands", err)
	}
	defer cmd.Release()
	d.queue.Submit(cmd)
	return nil
}

// MapRead maps a map-readable buffer and copies size bytes out of it.
// Mapping waits for all earlier submissions.
func (d *Device) MapRead(ctx context.Context, b device.Buffer, offset, size uint64) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if d.opts.MapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.MapTimeout)
		defer cancel()
	}

	span := device.Align(size)
	done := make(chan struct{})
	var mapErr error
	err = buf.buf.MapAsync(wgpu.MapModeRead, offset, span, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map status: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, d.fail("map "+buf.label, err)
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
Loop:
	for {
		d.device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-ctx.Done():
			buf.mapPending.Store(true)
			return nil, fmt.Errorf("wgpu: map %s: %w", buf.label, ctx.Err())
		case <-ticker.C:
		}
	}
	if mapErr != nil {
		return nil, d.fail("map "+buf.label, mapErr)
	}

	data := buf.buf.GetMappedRange(uint(offset), uint(span))
	if data == nil {
		buf.buf.Unmap()
		return nil, fmt.Errorf("wgpu: map %s: mapped range is nil", buf.label)
	}
	out := make([]byte, size)
	copy(out, data)
	buf.buf.Unmap()
	return out, nil
}

// OnWorkDone runs fn once the queue reports every earlier submission done.
// A background poller drives the device while callbacks are outstanding.
// After Release fn runs immediately.
func (d *Device) OnWorkDone(fn func()) {
	d.mu.Lock()
	if d.released || d.queue == nil {
		d.mu.Unlock()
		fn()
		return
	}
	id := d.nextWaiter
	d.nextWaiter++
	d.waiters[id] = fn
	start := !d.polling
	if start {
		d.polling = true
		d.poller.Add(1)
	}
	queue := d.queue
	d.mu.Unlock()

	queue.OnSubmittedWorkDone(func(status wgpu.QueueWorkDoneStatus) {
		if status == wgpu.QueueWorkDoneStatusDeviceLost {
			d.lose("queue work done: " + status.String())
		}
		d.finish(id)
	})
	if start {
		go d.pollLoop()
	}
}

// finish fires and forgets waiter id. Unknown ids were already fired.
func (d *Device) finish(id uint64) {
	d.mu.Lock()
	fn, ok := d.waiters[id]
	delete(d.waiters, id)
	d.mu.Unlock()
	if ok {
		fn()
	}
}

func (d *Device) pollLoop() {
	defer d.poller.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		if len(d.waiters) == 0 || d.released {
			d.polling = false
			d.mu.Unlock()
			return
		}
		dev := d.device
		d.mu.Unlock()

		dev.Poll(false, nil)
		select {
		case <-d.stop:
			d.mu.Lock()
			d.polling = false
			d.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

// OnLost registers fn for device loss.
func (d *Device) OnLost(fn func(string)) {
	d.mu.Lock()
	if d.lost != nil {
		reason := d.lost.Reason
		d.mu.Unlock()
		fn(reason)
		return
	}
	d.onLost = append(d.onLost, fn)
	d.mu.Unlock()
}

// Release releases all WebGPU resources.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()

	// Join the poller before touching the device, let the queue drain so
	// work-done callbacks still see live resources, then fire whatever
	// did not report.
	if d.stop != nil {
		close(d.stop)
	}
	d.poller.Wait()
	if d.device != nil {
		d.device.Poll(true, nil)
	}
	d.mu.Lock()
	left := d.waiters
	d.waiters = make(map[uint64]func())
	d.mu.Unlock()
	for _, fn := range left {
		fn()
	}

	if d.staging != nil {
		d.staging.clear()
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
