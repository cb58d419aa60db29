package engine

import (
	"fmt"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// Reduce folds every element of x with an associative operation into an
// array of shape [1] and the same type. Each pass folds 2*lanes elements per
// workgroup; passes repeat over the partial results until one remains, and
// all passes go out in a single submission.
func (e *Engine) Reduce(op kernel.Op, x *Array) (*Array, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	info, ok := kernel.Lookup(op)
	if !ok || info.Kind != kernel.KindReduce {
		return nil, fmt.Errorf("%v is not a reduction: %w", op, tensor.ErrType)
	}
	if x == nil {
		return nil, fmt.Errorf("%s of nil array: %w", info.Name, tensor.ErrShape)
	}
	if err := e.owns(x); err != nil {
		return nil, err
	}
	if x.custom {
		return nil, fmt.Errorf("%s of array with custom strides: %w", info.Name, tensor.ErrCapability)
	}
	if err := e.requireF16(x.dtype); err != nil {
		return nil, err
	}
	if err := x.Send(); err != nil {
		return nil, err
	}

	out, err := e.New(tensor.Shape{1}, WithDType(x.dtype))
	if err != nil {
		return nil, err
	}

	var transient []device.Buffer
	var cmds []device.Command
	fail := func(err error) (*Array, error) {
		releaseAll(transient)
		releaseBindSets(cmds)
		out.Release()
		return nil, err
	}

	src := x.buf
	n := x.NumElements()
	for {
		lanes := kernel.ReduceLanes(n)
		groups := kernel.ReduceGroups(n, lanes)
		k, err := kernel.Reduce(op, x.dtype, lanes)
		if err != nil {
			return fail(err)
		}

		dst := out.buf
		if groups > 1 {
			size := uint64(groups * x.dtype.Size()) //nolint:gosec // G115: positive size
			if dst, err = e.createBuffer(size, fmt.Sprintf("partial/%s/%d", out.id, len(cmds))); err != nil {
				return fail(err)
			}
			transient = append(transient, dst)
		}
		params, err := e.uint32Buffer([]uint32{uint32(n)}, "params/"+out.id.String()) //nolint:gosec // G115: n fits a buffer
		if err != nil {
			return fail(err)
		}
		transient = append(transient, params)

		d, err := e.dispatch(k, []device.Buffer{src, dst, params}, kernel.Groups(groups*lanes, lanes))
		if err != nil {
			return fail(err)
		}
		cmds = append(cmds, d)

		if groups == 1 {
			break
		}
		src, n = dst, groups
	}

	if err := e.submit(cmds, transient); err != nil {
		out.Release()
		return nil, err
	}
	out.markDeviceWritten()
	return out, nil
}

// ReduceSum returns the sum of all elements.
func (e *Engine) ReduceSum(x *Array) (*Array, error) { return e.Reduce(kernel.OpSum, x) }

// ReduceProduct returns the product of all elements.
func (e *Engine) ReduceProduct(x *Array) (*Array, error) { return e.Reduce(kernel.OpProduct, x) }

// ReduceMin returns the smallest element.
func (e *Engine) ReduceMin(x *Array) (*Array, error) { return e.Reduce(kernel.OpReduceMin, x) }

// ReduceMax returns the largest element.
func (e *Engine) ReduceMax(x *Array) (*Array, error) { return e.Reduce(kernel.OpReduceMax, x) }
