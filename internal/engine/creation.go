package engine

import (
	"fmt"
	"math"
	"runtime"

	"github.com/google/uuid"

	"github.com/born-ml/ndgpu/internal/tensor"
)

type arrayOptions struct {
	dtype   tensor.DataType
	strides []int
}

// Option configures array allocation.
type Option func(*arrayOptions)

// WithDType sets the element type. The default is Float32.
func WithDType(dt tensor.DataType) Option {
	return func(o *arrayOptions) {
		o.dtype = dt
	}
}

// WithStrides supplies custom strides in elements. Arrays with custom
// strides are views: they cannot be reshaped or used as outputs.
func WithStrides(strides ...int) Option {
	return func(o *arrayOptions) {
		o.strides = append([]int(nil), strides...)
	}
}

// New allocates a zero-filled array and its device buffer.
func (e *Engine) New(shape tensor.Shape, opts ...Option) (*Array, error) {
	o := arrayOptions{dtype: tensor.Float32}
	for _, opt := range opts {
		opt(&o)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if !o.dtype.Valid() {
		return nil, fmt.Errorf("array of type %s: %w", o.dtype, tensor.ErrType)
	}

	strides := shape.ContiguousStrides()
	custom := o.strides != nil
	if custom {
		if err := tensor.ValidateStrides(shape, o.strides); err != nil {
			return nil, err
		}
		strides = o.strides
	}

	n := tensor.Extent(shape, strides)
	id := uuid.New()
	bytes := n * o.dtype.Size()
	buf, err := e.createBuffer(uint64(bytes), "array/"+id.String()) //nolint:gosec // G115: positive size
	if err != nil {
		return nil, err
	}
	a := &Array{
		eng:     e,
		id:      id,
		shape:   shape.Clone(),
		strides: strides,
		custom:  custom,
		dtype:   o.dtype,
		host:    make([]byte, bytes),
		buf:     buf,
	}
	a.cleanup = runtime.AddCleanup(a, e.collect, buf)
	return a, nil
}

// Full returns an array with every element set to v.
func (e *Engine) Full(shape tensor.Shape, v float64, opts ...Option) (*Array, error) {
	a, err := e.New(shape, opts...)
	if err != nil {
		return nil, err
	}
	for i := range a.Size() {
		if err := encodeValue(a.host, i, a.dtype, v); err != nil {
			a.Release()
			return nil, err
		}
	}
	a.MarkHostDirty()
	return a, nil
}

// Zeros returns a zero-filled array.
func (e *Engine) Zeros(shape tensor.Shape, opts ...Option) (*Array, error) {
	return e.New(shape, opts...)
}

// Ones returns an array filled with ones.
func (e *Engine) Ones(shape tensor.Shape, opts ...Option) (*Array, error) {
	return e.Full(shape, 1, opts...)
}

// Arange returns the 1-D array start, start+step, ... up to but excluding stop.
func (e *Engine) Arange(start, stop, step float64, dt tensor.DataType) (*Array, error) {
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("arange step %v: %w", step, tensor.ErrShape)
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil, fmt.Errorf("arange(%v, %v, %v) is empty: %w", start, stop, step, tensor.ErrShape)
	}
	a, err := e.New(tensor.Shape{n}, WithDType(dt))
	if err != nil {
		return nil, err
	}
	for i := range n {
		if err := encodeValue(a.host, i, dt, start+float64(i)*step); err != nil {
			a.Release()
			return nil, err
		}
	}
	a.MarkHostDirty()
	return a, nil
}

// FromValues returns an array holding values in row-major order.
func (e *Engine) FromValues(shape tensor.Shape, dt tensor.DataType, values []float64) (*Array, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("%d values for shape %v (%d elements): %w",
			len(values), []int(shape), shape.NumElements(), tensor.ErrShape)
	}
	a, err := e.New(shape, WithDType(dt))
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := encodeValue(a.host, i, dt, v); err != nil {
			a.Release()
			return nil, err
		}
	}
	a.MarkHostDirty()
	return a, nil
}
