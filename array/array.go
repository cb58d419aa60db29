// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package array

import (
	"context"

	"github.com/born-ml/ndgpu/internal/config"
	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/logger"
	"github.com/born-ml/ndgpu/internal/random"
	"github.com/born-ml/ndgpu/internal/tensor"
)

// Type aliases for public API

// Engine owns a device and the caches shared by every array created on it.
type Engine = engine.Engine

// Array is an n-dimensional array with a host copy and a device buffer.
type Array = engine.Array

// Operand is an Array or a Scalar.
type Operand = engine.Operand

// Scalar is a weakly typed constant operand.
type Scalar = engine.Scalar

// Option configures array creation.
type Option = engine.Option

// Stats reports engine cache and queue counters.
type Stats = engine.Stats

// Shape represents the dimensions of an array.
type Shape = tensor.Shape

// DataType is an element type.
type DataType = tensor.DataType

// Data type constants.
const (
	Int32   DataType = tensor.Int32
	Uint32  DataType = tensor.Uint32
	Float16 DataType = tensor.Float16
	Float32 DataType = tensor.Float32
)

// Op identifies an operation.
type Op = kernel.Op

// Operation constants.
const (
	OpAdd = kernel.OpAdd
	OpSub = kernel.OpSub
	OpMul = kernel.OpMul
	OpDiv = kernel.OpDiv
	OpMax = kernel.OpMax
	OpMin = kernel.OpMin
	OpPow = kernel.OpPow

	OpAbs         = kernel.OpAbs
	OpSign        = kernel.OpSign
	OpSqrt        = kernel.OpSqrt
	OpInverseSqrt = kernel.OpInverseSqrt
	OpExp         = kernel.OpExp
	OpExp2        = kernel.OpExp2
	OpLog         = kernel.OpLog
	OpLog2        = kernel.OpLog2
	OpSin         = kernel.OpSin
	OpCos         = kernel.OpCos
	OpTan         = kernel.OpTan
	OpAsin        = kernel.OpAsin
	OpAcos        = kernel.OpAcos
	OpAtan        = kernel.OpAtan
	OpSinh        = kernel.OpSinh
	OpCosh        = kernel.OpCosh
	OpTanh        = kernel.OpTanh
	OpCeil        = kernel.OpCeil
	OpFloor       = kernel.OpFloor
	OpRound       = kernel.OpRound
	OpTrunc       = kernel.OpTrunc
	OpFract       = kernel.OpFract

	OpWhere = kernel.OpWhere

	OpSum       = kernel.OpSum
	OpProduct   = kernel.OpProduct
	OpReduceMin = kernel.OpReduceMin
	OpReduceMax = kernel.OpReduceMax
)

// Generator produces random arrays.
type Generator = random.Generator

// GeneratorOption configures a Generator.
type GeneratorOption = random.Option

// Config selects and tunes the backend.
type Config = config.Config

// Backend names accepted by Config.Backend.
const (
	BackendAuto = config.BackendAuto
	BackendWGPU = config.BackendWGPU
	BackendCPU  = config.BackendCPU
)

// Errors.
var (
	ErrShape      = tensor.ErrShape
	ErrType       = tensor.ErrType
	ErrCapability = tensor.ErrCapability
	ErrIndex      = tensor.ErrIndex
	ErrDeviceLost = device.ErrDeviceLost
	ErrReleased   = device.ErrReleased
)

// WithDType sets the element type of a new array. The default is Float32.
func WithDType(dt DataType) Option { return engine.WithDType(dt) }

// WithStrides gives a new array custom strides over its backing store.
func WithStrides(strides ...int) Option { return engine.WithStrides(strides...) }

// WithSeed fixes a generator's seed.
func WithSeed(seed uint64) GeneratorOption { return random.WithSeed(seed) }

// DefaultConfig returns the defaults used by Open.
func DefaultConfig() Config { return config.Default() }

// Open creates an engine from the NDGPU_* environment over the defaults.
// The logger is taken from ctx.
func Open(ctx context.Context) (*Engine, error) {
	log := logger.FromContext(ctx)
	cfg := config.Default()
	cfg.ApplyEnv(log)
	return engine.Open(ctx, cfg, log)
}

// OpenWithConfig creates an engine from an explicit configuration.
func OpenWithConfig(ctx context.Context, cfg Config) (*Engine, error) {
	return engine.Open(ctx, cfg, logger.FromContext(ctx))
}

// LoadConfig reads a YAML configuration file. A missing file yields defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// NewGenerator creates a generator of size streams on e.
func NewGenerator(e *Engine, size int, opts ...GeneratorOption) (*Generator, error) {
	return random.New(e, size, opts...)
}

// ParseDataType resolves a type name such as "float32", "f16" or "u32".
func ParseDataType(name string) (DataType, error) { return tensor.ParseDataType(name) }
