package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"github.com/x448/float16"
	"golang.org/x/sync/singleflight"

	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// Array is an n-dimensional array with a host copy and a device copy.
//
// hostDirty means the host copy is newer than the device copy; deviceDirty
// means the reverse. Reading one side first flushes the other, so both are
// never set at once. Arrays carry no locking for their contents: concurrent
// mutation of one array must be serialized by the caller. Concurrent Load
// calls share one readback.
type Array struct {
	eng     *Engine
	id      uuid.UUID
	shape   tensor.Shape
	strides []int
	custom  bool
	dtype   tensor.DataType

	host    []byte
	buf     device.Buffer
	cleanup runtime.Cleanup

	mu          sync.Mutex
	hostDirty   bool
	deviceDirty bool
	released    bool

	loads singleflight.Group
}

// Engine returns the engine that owns the array.
func (a *Array) Engine() *Engine { return a.eng }

// ID returns the array's identity, also used in device buffer labels.
func (a *Array) ID() uuid.UUID { return a.id }

// Shape returns the array's shape.
func (a *Array) Shape() tensor.Shape { return a.shape.Clone() }

// Strides returns the per-axis strides in elements.
func (a *Array) Strides() []int { return append([]int(nil), a.strides...) }

// CustomStrides reports whether the strides were supplied by the caller.
func (a *Array) CustomStrides() bool { return a.custom }

// DType returns the element type.
func (a *Array) DType() tensor.DataType { return a.dtype }

// NumElements returns the product of the shape.
func (a *Array) NumElements() int { return a.shape.NumElements() }

// Size returns the number of elements in the backing store. It equals
// NumElements unless the strides are custom.
func (a *Array) Size() int { return len(a.host) / a.dtype.Size() }

// HostDirty reports whether the host copy is newer than the device copy.
func (a *Array) HostDirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostDirty
}

// DeviceDirty reports whether the device copy is newer than the host copy.
func (a *Array) DeviceDirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceDirty
}

// String returns a short description of the array.
func (a *Array) String() string {
	return fmt.Sprintf("Array(%s, %v, %s)", a.id.String()[:8], []int(a.shape), a.dtype)
}

func (a *Array) usable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return fmt.Errorf("array %s: %w", a.id, device.ErrReleased)
	}
	return nil
}

// Send copies the host buffer to the device if the host copy is newer.
func (a *Array) Send() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return fmt.Errorf("array %s: %w", a.id, device.ErrReleased)
	}
	if !a.hostDirty {
		return nil
	}
	if err := a.eng.check(); err != nil {
		return err
	}
	if err := a.eng.dev.WriteBuffer(a.buf, 0, a.host); err != nil {
		return fmt.Errorf("engine: send %s: %w", a.buf.Label(), err)
	}
	a.hostDirty = false
	return nil
}

// Load copies the device buffer to the host if the device copy is newer.
// Calls made while a load is in flight wait for that load instead of
// issuing another readback.
func (a *Array) Load(ctx context.Context) error {
	_, err, _ := a.loads.Do("load", func() (any, error) {
		return nil, a.load(ctx)
	})
	return err
}

func (a *Array) load(ctx context.Context) error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return fmt.Errorf("array %s: %w", a.id, device.ErrReleased)
	}
	if !a.deviceDirty {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	data, err := a.eng.readBuffer(ctx, a.buf, uint64(len(a.host)))
	if err != nil {
		return err
	}

	a.mu.Lock()
	copy(a.host, data)
	a.deviceDirty = false
	a.mu.Unlock()
	return nil
}

// markDeviceWritten records that a kernel wrote the device buffer.
func (a *Array) markDeviceWritten() {
	a.mu.Lock()
	a.hostDirty = false
	a.deviceDirty = true
	a.mu.Unlock()
}

// MarkHostDirty records that the host buffer was written through a typed
// view and is now authoritative.
func (a *Array) MarkHostDirty() {
	a.mu.Lock()
	a.hostDirty = true
	a.deviceDirty = false
	a.mu.Unlock()
}

// Get returns the element at a full index tuple as float64.
func (a *Array) Get(ctx context.Context, index ...int) (float64, error) {
	if err := tensor.CheckIndex(index, a.shape); err != nil {
		return 0, err
	}
	if err := a.Load(ctx); err != nil {
		return 0, err
	}
	return decodeValue(a.host, tensor.Offset(index, a.strides), a.dtype), nil
}

// Set stores v at a full index tuple. The device copy is flushed to the
// host first so that the host copy becomes authoritative.
func (a *Array) Set(ctx context.Context, v float64, index ...int) error {
	if err := tensor.CheckIndex(index, a.shape); err != nil {
		return err
	}
	if err := a.Load(ctx); err != nil {
		return err
	}
	if err := encodeValue(a.host, tensor.Offset(index, a.strides), a.dtype, v); err != nil {
		return err
	}
	a.MarkHostDirty()
	return nil
}

// Values returns every element in row-major index order as float64.
func (a *Array) Values(ctx context.Context) ([]float64, error) {
	if err := a.Load(ctx); err != nil {
		return nil, err
	}
	out := make([]float64, 0, a.NumElements())
	a.each(func(off int) {
		out = append(out, decodeValue(a.host, off, a.dtype))
	})
	return out, nil
}

// each calls fn with the storage offset of every index in row-major order.
func (a *Array) each(fn func(off int)) {
	if tensor.IsContiguous(a.shape, a.strides) {
		for i := range a.NumElements() {
			fn(i)
		}
		return
	}
	rowMajor := a.shape.ContiguousStrides()
	for i := range a.NumElements() {
		fn(tensor.SourceOffset(i, rowMajor, a.strides))
	}
}

// Reshape changes the shape in place without touching storage. Arrays with
// custom strides cannot be reshaped.
func (a *Array) Reshape(shape ...int) error {
	if a.custom {
		return fmt.Errorf("reshape of array with custom strides: %w", tensor.ErrCapability)
	}
	s := tensor.Shape(shape)
	if err := s.Validate(); err != nil {
		return err
	}
	if s.NumElements() != a.NumElements() {
		return fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements): %w",
			[]int(a.shape), a.NumElements(), shape, s.NumElements(), tensor.ErrShape)
	}
	a.shape = s.Clone()
	a.strides = s.ContiguousStrides()
	return nil
}

// Release frees the device buffer. The array cannot be used afterwards.
// An array dropped without Release has its buffer freed after it is
// garbage collected.
func (a *Array) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	a.cleanup.Stop()
	a.buf.Release()
}

// AsInt32 interprets the host buffer as []int32.
// Panics if the array's dtype is not Int32.
func (a *Array) AsInt32() []int32 {
	if a.dtype != tensor.Int32 {
		panic(fmt.Sprintf("array dtype is %s, not int32", a.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by Size()
	return unsafe.Slice((*int32)(unsafe.Pointer(&a.host[0])), a.Size())
}

// AsUint32 interprets the host buffer as []uint32.
// Panics if the array's dtype is not Uint32.
func (a *Array) AsUint32() []uint32 {
	if a.dtype != tensor.Uint32 {
		panic(fmt.Sprintf("array dtype is %s, not uint32", a.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by Size()
	return unsafe.Slice((*uint32)(unsafe.Pointer(&a.host[0])), a.Size())
}

// AsFloat16 interprets the host buffer as []float16.Float16.
// Panics if the array's dtype is not Float16.
func (a *Array) AsFloat16() []float16.Float16 {
	if a.dtype != tensor.Float16 {
		panic(fmt.Sprintf("array dtype is %s, not float16", a.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by Size()
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&a.host[0])), a.Size())
}

// AsFloat32 interprets the host buffer as []float32.
// Panics if the array's dtype is not Float32.
func (a *Array) AsFloat32() []float32 {
	if a.dtype != tensor.Float32 {
		panic(fmt.Sprintf("array dtype is %s, not float32", a.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by Size()
	return unsafe.Slice((*float32)(unsafe.Pointer(&a.host[0])), a.Size())
}
