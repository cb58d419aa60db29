// Package cpu implements the device boundary on the host.
//
// Programs are not compiled from WGSL. The device executes each kernel's
// structured descriptor with the same per-type semantics the WGSL program
// has: wrapping integer arithmetic, x/0 == x for integers, float16 rounding
// after every operation, and clamped reads past the end of a buffer.
package cpu

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/parallel"
)

// CompileHook inspects a kernel before it is accepted. It can be used to
// inject compiler diagnostics.
type CompileHook func(k *kernel.Kernel) []device.Diagnostic

// Option configures a Device.
type Option func(*Device)

// WithParallel sets the lane executor configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(d *Device) {
		d.par = cfg
	}
}

// WithF16 sets whether the device reports float16 shader support.
func WithF16(enabled bool) Option {
	return func(d *Device) {
		d.features.ShaderF16 = enabled
	}
}

// WithCompileHook installs a hook run on every CreateProgram call.
func WithCompileHook(h CompileHook) Option {
	return func(d *Device) {
		d.hook = h
	}
}

// Device is a host-memory device.
type Device struct {
	mu       sync.Mutex
	par      parallel.Config
	features device.Features
	hook     CompileHook

	lost     *device.LostError
	released bool
	onLost   []func(string)

	submissions int

	liveBuffers  atomic.Int64
	liveBindSets atomic.Int64
}

// New creates a CPU device.
func New(opts ...Option) *Device {
	d := &Device{
		par:      parallel.DefaultConfig(),
		features: device.Features{ShaderF16: true},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Info describes the device.
func (d *Device) Info() device.Info {
	return device.Info{
		Backend:     "cpu",
		Name:        "host reference device",
		AdapterType: "cpu",
		Features:    d.features,
		MaxGroups:   kernel.MaxGroupsPerDim,
	}
}

// Features returns the optional capabilities.
func (d *Device) Features() device.Features {
	return d.features
}

// Submissions returns the number of accepted submissions.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// Live returns the number of buffers and bind sets not yet released.
func (d *Device) Live() (buffers, bindSets int) {
	return int(d.liveBuffers.Load()), int(d.liveBindSets.Load())
}

// Lose marks the device lost and notifies OnLost callbacks.
func (d *Device) Lose(reason string) {
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

// check must be called with d.mu held.
func (d *Device) check() error {
	if d.released {
		return device.ErrReleased
	}
	if d.lost != nil {
		return d.lost
	}
	return nil
}

type buffer struct {
	label    string
	usage    device.BufferUsage
	data     []byte
	live     *atomic.Int64
	released atomic.Bool
}

func (b *buffer) Size() uint64  { return uint64(len(b.data)) }
func (b *buffer) Label() string { return b.label }

func (b *buffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.live.Add(-1)
	}
}

// CreateBuffer allocates a zeroed host buffer of Align(size) bytes.
func (d *Device) CreateBuffer(size uint64, usage device.BufferUsage, label string) (device.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("cpu: buffer %q has zero size", label)
	}
	d.liveBuffers.Add(1)
	return &buffer{label: label, usage: usage, data: make([]byte, device.Align(size)), live: &d.liveBuffers}, nil
}

func (d *Device) buffer(b device.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("cpu: foreign buffer %T", b)
	}
	if buf.released.Load() {
		return nil, fmt.Errorf("cpu: buffer %q: %w", buf.label, device.ErrReleased)
	}
	return buf, nil
}

// WriteBuffer copies data into buf at offset.
func (d *Device) WriteBuffer(b device.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if !buf.usage.Has(device.UsageCopyDst) {
		return fmt.Errorf("cpu: write to %q without copy-dst usage", buf.label)
	}
	if offset+uint64(len(data)) > uint64(len(buf.data)) {
		return fmt.Errorf("cpu: write of %d bytes at %d overflows %q (%d bytes)", len(data), offset, buf.label, len(buf.data))
	}
	copy(buf.data[offset:], data)
	return nil
}

type layout struct {
	modes []kernel.Access
}

func (l *layout) Modes() []kernel.Access { return l.modes }

// CreateLayout records the access modes of a binding layout.
func (d *Device) CreateLayout(modes []kernel.Access) (device.Layout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	return &layout{modes: slices.Clone(modes)}, nil
}

type program struct {
	k *kernel.Kernel
}

func (p *program) Kernel() *kernel.Kernel { return p.k }

// CreateProgram accepts k if its descriptor is executable and its bindings
// agree with layout.
func (d *Device) CreateProgram(k *kernel.Kernel, l device.Layout) (device.Program, []device.Diagnostic, error) {
	d.mu.Lock()
	if err := d.check(); err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	hook := d.hook
	d.mu.Unlock()

	var diags []device.Diagnostic
	if hook != nil {
		diags = hook(k)
	}
	if !slices.Equal(k.Bindings, l.Modes()) {
		diags = append(diags, device.Diagnostic{
			Severity: device.SeverityError,
			Message:  fmt.Sprintf("binding modes %v do not match layout %v", k.Bindings, l.Modes()),
		})
	}
	if !executable(k.Desc.Kind) {
		diags = append(diags, device.Diagnostic{
			Severity: device.SeverityError,
			Message:  fmt.Sprintf("unsupported kernel kind %d", k.Desc.Kind),
		})
	}
	if device.HasErrors(diags) {
		return nil, diags, &device.CompileError{Label: k.Label, Diagnostics: diags}
	}
	return &program{k: k}, diags, nil
}

type bindSet struct {
	layout   device.Layout
	buffers  []*buffer
	live     *atomic.Int64
	released atomic.Bool
}

func (s *bindSet) Layout() device.Layout { return s.layout }

func (s *bindSet) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.live.Add(-1)
	}
}

// CreateBindSet binds buffers to the slots of l in order.
func (d *Device) CreateBindSet(l device.Layout, buffers []device.Buffer) (device.BindSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	if len(buffers) != len(l.Modes()) {
		return nil, fmt.Errorf("cpu: layout has %d slots, got %d buffers", len(l.Modes()), len(buffers))
	}
	set := &bindSet{layout: l, buffers: make([]*buffer, len(buffers))}
	for i, b := range buffers {
		buf, err := d.buffer(b)
		if err != nil {
			return nil, err
		}
		if !buf.usage.Has(device.UsageStorage) {
			return nil, fmt.Errorf("cpu: buffer %q bound without storage usage", buf.label)
		}
		set.buffers[i] = buf
	}
	set.live = &d.liveBindSets
	d.liveBindSets.Add(1)
	return set, nil
}

// Submit executes the commands in order before returning.
func (d *Device) Submit(cmds ...device.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case device.Dispatch:
			if err := d.dispatch(c); err != nil {
				return err
			}
		case device.Copy:
			if err := d.copyBuffer(c); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cpu: unknown command %T", cmd)
		}
	}
	d.submissions++
	return nil
}

func (d *Device) copyBuffer(c device.Copy) error {
	src, err := d.buffer(c.Src)
	if err != nil {
		return err
	}
	dst, err := d.buffer(c.Dst)
	if err != nil {
		return err
	}
	if !src.usage.Has(device.UsageCopySrc) || !dst.usage.Has(device.UsageCopyDst) {
		return fmt.Errorf("cpu: copy %q -> %q without copy usage", src.label, dst.label)
	}
	if c.SrcOffset+c.Size > uint64(len(src.data)) || c.DstOffset+c.Size > uint64(len(dst.data)) {
		return fmt.Errorf("cpu: copy of %d bytes out of range", c.Size)
	}
	copy(dst.data[c.DstOffset:c.DstOffset+c.Size], src.data[c.SrcOffset:c.SrcOffset+c.Size])
	return nil
}

func (d *Device) dispatch(c device.Dispatch) error {
	p, ok := c.Program.(*program)
	if !ok {
		return fmt.Errorf("cpu: foreign program %T", c.Program)
	}
	set, ok := c.BindSet.(*bindSet)
	if !ok {
		return fmt.Errorf("cpu: foreign bind set %T", c.BindSet)
	}
	if set.released.Load() {
		return fmt.Errorf("cpu: dispatch %s with a released bind set: %w", p.k.Label, device.ErrReleased)
	}
	for _, b := range set.buffers {
		if b.released.Load() {
			return fmt.Errorf("cpu: dispatch %s reads %q: %w", p.k.Label, b.label, device.ErrReleased)
		}
	}
	groups := int(c.Groups[0]) * int(max(c.Groups[1], 1)) * int(max(c.Groups[2], 1))
	return execute(p.k, set.buffers, groups, d.par)
}

// MapRead returns a copy of size bytes of a map-readable buffer.
func (d *Device) MapRead(ctx context.Context, b device.Buffer, offset, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if !buf.usage.Has(device.UsageMapRead) {
		return nil, fmt.Errorf("cpu: map of %q without map-read usage", buf.label)
	}
	if offset+size > uint64(len(buf.data)) {
		return nil, fmt.Errorf("cpu: map of %d bytes at %d overflows %q", size, offset, buf.label)
	}
	return slices.Clone(buf.data[offset : offset+size]), nil
}

// OnWorkDone runs fn immediately: submissions complete before Submit returns.
func (d *Device) OnWorkDone(fn func()) {
	fn()
}

// OnLost registers fn for device loss. If the device is already lost fn
// runs immediately.
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

// Release marks the device unusable.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}
