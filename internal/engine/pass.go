package engine

import (
	"fmt"
	"strings"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// Arg binds one slot of a Pass: an engine array, or read-only helper words
// uploaded to a transient buffer when Array is nil.
type Arg struct {
	Array  *Array
	Write  bool
	Params []uint32
}

// Pass is one dispatch of a prebuilt kernel.
type Pass struct {
	Kernel *kernel.Kernel
	Groups [3]uint32
	Args   []Arg
}

// Run submits passes in order as a single submission. Arrays are sent
// before use and become device-authoritative when written.
func (e *Engine) Run(passes ...Pass) error {
	if err := e.check(); err != nil {
		return err
	}

	var transient []device.Buffer
	var written []*Array
	cmds := make([]device.Command, 0, len(passes))
	fail := func(err error) error {
		releaseAll(transient)
		releaseBindSets(cmds)
		return err
	}
	for i, p := range passes {
		if len(p.Args) != len(p.Kernel.Bindings) {
			return fail(fmt.Errorf("pass %d (%s): %d args for %d bindings: %w",
				i, p.Kernel.Label, len(p.Args), len(p.Kernel.Bindings), tensor.ErrShape))
		}
		if strings.HasPrefix(p.Kernel.Source, "enable f16;") {
			if err := e.requireF16(tensor.Float16); err != nil {
				return fail(err)
			}
		}
		bufs := make([]device.Buffer, len(p.Args))
		for j, arg := range p.Args {
			if arg.Array == nil {
				buf, err := e.uint32Buffer(arg.Params, fmt.Sprintf("params/%s/%d", p.Kernel.Label, j))
				if err != nil {
					return fail(err)
				}
				transient = append(transient, buf)
				bufs[j] = buf
				continue
			}
			if err := e.owns(arg.Array); err != nil {
				return fail(err)
			}
			if err := arg.Array.Send(); err != nil {
				return fail(err)
			}
			bufs[j] = arg.Array.buf
			if arg.Write {
				written = append(written, arg.Array)
			}
		}
		d, err := e.dispatch(p.Kernel, bufs, p.Groups)
		if err != nil {
			return fail(err)
		}
		cmds = append(cmds, d)
	}

	if err := e.submit(cmds, transient); err != nil {
		return err
	}
	for _, a := range written {
		a.markDeviceWritten()
	}
	return nil
}
