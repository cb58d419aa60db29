package engine

import "github.com/born-ml/ndgpu/internal/kernel"

// Abs returns the elementwise absolute value.
func (e *Engine) Abs(x *Array) (*Array, error) { return e.Apply(kernel.OpAbs, nil, x) }

// Sign returns the elementwise sign: -1, 0 or 1.
func (e *Engine) Sign(x *Array) (*Array, error) { return e.Apply(kernel.OpSign, nil, x) }

// Sqrt returns the elementwise square root.
func (e *Engine) Sqrt(x *Array) (*Array, error) { return e.Apply(kernel.OpSqrt, nil, x) }

// InverseSqrt returns the elementwise reciprocal square root.
func (e *Engine) InverseSqrt(x *Array) (*Array, error) { return e.Apply(kernel.OpInverseSqrt, nil, x) }

// Exp returns the elementwise natural exponential.
func (e *Engine) Exp(x *Array) (*Array, error) { return e.Apply(kernel.OpExp, nil, x) }

// Exp2 returns the elementwise base-2 exponential.
func (e *Engine) Exp2(x *Array) (*Array, error) { return e.Apply(kernel.OpExp2, nil, x) }

// Log returns the elementwise natural logarithm.
func (e *Engine) Log(x *Array) (*Array, error) { return e.Apply(kernel.OpLog, nil, x) }

// Log2 returns the elementwise base-2 logarithm.
func (e *Engine) Log2(x *Array) (*Array, error) { return e.Apply(kernel.OpLog2, nil, x) }

// Sin returns the elementwise sine.
func (e *Engine) Sin(x *Array) (*Array, error) { return e.Apply(kernel.OpSin, nil, x) }

// Cos returns the elementwise cosine.
func (e *Engine) Cos(x *Array) (*Array, error) { return e.Apply(kernel.OpCos, nil, x) }

// Tan returns the elementwise tangent.
func (e *Engine) Tan(x *Array) (*Array, error) { return e.Apply(kernel.OpTan, nil, x) }

// Asin returns the elementwise arcsine.
func (e *Engine) Asin(x *Array) (*Array, error) { return e.Apply(kernel.OpAsin, nil, x) }

// Acos returns the elementwise arccosine.
func (e *Engine) Acos(x *Array) (*Array, error) { return e.Apply(kernel.OpAcos, nil, x) }

// Atan returns the elementwise arctangent.
func (e *Engine) Atan(x *Array) (*Array, error) { return e.Apply(kernel.OpAtan, nil, x) }

// Sinh returns the elementwise hyperbolic sine.
func (e *Engine) Sinh(x *Array) (*Array, error) { return e.Apply(kernel.OpSinh, nil, x) }

// Cosh returns the elementwise hyperbolic cosine.
func (e *Engine) Cosh(x *Array) (*Array, error) { return e.Apply(kernel.OpCosh, nil, x) }

// Tanh returns the elementwise hyperbolic tangent.
func (e *Engine) Tanh(x *Array) (*Array, error) { return e.Apply(kernel.OpTanh, nil, x) }

// Ceil returns the elementwise ceiling.
func (e *Engine) Ceil(x *Array) (*Array, error) { return e.Apply(kernel.OpCeil, nil, x) }

// Floor returns the elementwise floor.
func (e *Engine) Floor(x *Array) (*Array, error) { return e.Apply(kernel.OpFloor, nil, x) }

// Round returns the elementwise value rounded half to even.
func (e *Engine) Round(x *Array) (*Array, error) { return e.Apply(kernel.OpRound, nil, x) }

// Trunc returns the elementwise value truncated toward zero.
func (e *Engine) Trunc(x *Array) (*Array, error) { return e.Apply(kernel.OpTrunc, nil, x) }

// Fract returns the elementwise fractional part x - floor(x).
func (e *Engine) Fract(x *Array) (*Array, error) { return e.Apply(kernel.OpFract, nil, x) }
