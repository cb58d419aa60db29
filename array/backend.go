// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package array

import (
	"github.com/born-ml/ndgpu/internal/device/wgpu"
)

// WGPUAvailable reports whether a WebGPU adapter can be acquired.
//
// It initializes and releases a throwaway instance, so it is useful for
// deciding between BackendWGPU and BackendCPU before calling OpenWithConfig
// rather than on a hot path.
func WGPUAvailable() bool {
	return wgpu.IsAvailable()
}
