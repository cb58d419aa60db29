// Package device defines the boundary between the execution engine and a
// compute device: buffers, binding layouts, compiled programs and a single
// submission queue.
package device

import (
	"context"

	"github.com/born-ml/ndgpu/internal/kernel"
)

// BufferUsage is a bit set describing how a buffer may be used.
type BufferUsage uint32

// Buffer usages.
const (
	UsageStorage BufferUsage = 1 << iota
	UsageCopySrc
	UsageCopyDst
	UsageMapRead
)

// StorageUsage is the usage of array and helper buffers.
const StorageUsage = UsageStorage | UsageCopySrc | UsageCopyDst

// StagingUsage is the usage of readback buffers.
const StagingUsage = UsageMapRead | UsageCopyDst

// Has reports whether all bits of u are set.
func (b BufferUsage) Has(u BufferUsage) bool {
	return b&u == u
}

// Align rounds n up to the 4-byte granularity devices require for buffer
// sizes and copies.
func Align(n uint64) uint64 {
	return (n + 3) &^ 3
}

// Buffer is a device memory region.
type Buffer interface {
	Size() uint64
	Label() string
	Release()
}

// Layout is a binding layout created from an ordered list of access modes.
type Layout interface {
	Modes() []kernel.Access
}

// Program is a compiled kernel bound to a layout.
type Program interface {
	Kernel() *kernel.Kernel
}

// BindSet binds concrete buffers to the slots of a layout. A bind set may
// be released once the submission that uses it has completed.
type BindSet interface {
	Layout() Layout
	Release()
}

// Command is one entry of a queue submission.
type Command interface {
	command()
}

// Dispatch runs a program over a workgroup grid.
type Dispatch struct {
	Program Program
	BindSet BindSet
	Groups  [3]uint32
}

// Copy copies Size bytes between buffers.
type Copy struct {
	Src       Buffer
	SrcOffset uint64
	Dst       Buffer
	DstOffset uint64
	Size      uint64
}

func (Dispatch) command() {}
func (Copy) command()     {}

// Features lists optional device capabilities.
type Features struct {
	ShaderF16 bool `json:"shader_f16"`
}

// Info describes the device behind a Device.
type Info struct {
	Backend     string   `json:"backend"`
	Name        string   `json:"name"`
	Vendor      string   `json:"vendor,omitempty"`
	Driver      string   `json:"driver,omitempty"`
	AdapterType string   `json:"adapter_type,omitempty"`
	Features    Features `json:"features"`
	MaxGroups   uint32   `json:"max_workgroups_per_dimension"`
}

// Device is a compute device with one submission queue.
//
// Commands in one Submit call execute in order, and successive submissions
// are observed in submission order. MapRead observes every earlier submission.
type Device interface {
	Info() Info
	Features() Features

	CreateBuffer(size uint64, usage BufferUsage, label string) (Buffer, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	CreateLayout(modes []kernel.Access) (Layout, error)
	// CreateProgram compiles k. Diagnostics below SeverityError are returned
	// alongside a usable program; an error diagnostic yields a *CompileError.
	CreateProgram(k *kernel.Kernel, layout Layout) (Program, []Diagnostic, error)
	CreateBindSet(layout Layout, buffers []Buffer) (BindSet, error)

	Submit(cmds ...Command) error
	MapRead(ctx context.Context, buf Buffer, offset, size uint64) ([]byte, error)

	// OnWorkDone calls fn once all work submitted so far has completed.
	// fn may run before OnWorkDone returns.
	OnWorkDone(fn func())
	// OnLost registers fn to be called once if the device is lost.
	OnLost(fn func(reason string))

	Release()
}
