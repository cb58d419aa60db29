// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package array provides GPU-backed n-dimensional arrays.
//
// # Overview
//
// An Engine owns one compute device and the caches shared by its arrays:
//   - bind layouts keyed by binding access signature
//   - compiled programs keyed by generated WGSL source
//   - transient buffers released once the device reports work done
//
// Every Array keeps a host copy and a device buffer with dirty flags on
// both sides. Operations send host changes before use and leave their
// results on the device; reads load them back on demand.
//
// # Basic Usage
//
//	ctx := context.Background()
//	e, err := array.Open(ctx)
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	x, _ := e.FromValues(array.Shape{2, 3}, array.Float32, []float64{1, 2, 3, 4, 5, 6})
//	y, _ := e.Add(x, array.Scalar(1))  // [2 3 4 5 6 7]
//	s, _ := e.ReduceSum(y)             // [27]
//	v, _ := s.Get(ctx, 0)
//
// # Data Types
//
// Arrays hold int32, uint32, float16 or float32 elements. float16 requires
// a device with the shader-f16 feature.
//
// # Broadcasting
//
// Shapes are aligned from the trailing axis. Two sizes are compatible when
// they are equal or one of them is 1:
//
//	[2, 3] + [3]    → [2, 3]
//	[3, 1] * [1, 2] → [3, 2]
//	[2, 3] + [4]    → ErrShape
//
// # Type Promotion
//
// Equal types are kept; float32 wins over every other type, then float16.
// int32 and uint32 do not mix. Scalars are weakly typed: an integral scalar
// takes the array type, a fractional scalar with integer arrays promotes
// to float32.
//
// # Backends
//
// Open reads NDGPU_BACKEND ("auto", "wgpu" or "cpu"). "auto" tries WebGPU
// and falls back to the host device, which runs the same kernels on the CPU.
package array
