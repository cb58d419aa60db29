package kernel

import (
	"fmt"

	"github.com/born-ml/ndgpu/internal/tensor"
)

// Op identifies a builtin operation.
type Op int

// Builtin operations.
const (
	OpInvalid Op = iota

	// Binary arithmetic.
	OpAdd
	OpSub
	OpMul
	OpDiv

	// Binary math functions.
	OpMax
	OpMin
	OpPow

	// Unary math functions.
	OpAbs
	OpSign
	OpSqrt
	OpInverseSqrt
	OpExp
	OpExp2
	OpLog
	OpLog2
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpSinh
	OpCosh
	OpTanh
	OpCeil
	OpFloor
	OpRound
	OpTrunc
	OpFract

	// Select.
	OpWhere

	// Reductions.
	OpSum
	OpProduct
	OpReduceMin
	OpReduceMax

	// PRNG.
	OpRandomSeed
	OpRandomNext
	OpRandomNormal
)

// OpInfo is the static description of an operation.
type OpInfo struct {
	Name        string
	Kind        Kind
	Arity       int
	Commutative bool

	// Symbol is the WGSL infix operator or builtin function name.
	Symbol string

	// Ints lists the integer types the WGSL builtin accepts. Integer inputs
	// outside this list are computed in float32.
	Ints []tensor.DataType

	// Identity is the reduction's neutral element name (see identity).
	Identity string
}

var allInts = []tensor.DataType{tensor.Int32, tensor.Uint32}

var registry = map[Op]OpInfo{
	OpAdd: {Name: "add", Kind: KindBinary, Arity: 2, Commutative: true, Symbol: "+", Ints: allInts},
	OpSub: {Name: "sub", Kind: KindBinary, Arity: 2, Symbol: "-", Ints: allInts},
	OpMul: {Name: "mul", Kind: KindBinary, Arity: 2, Commutative: true, Symbol: "*", Ints: allInts},
	OpDiv: {Name: "div", Kind: KindBinary, Arity: 2, Symbol: "/", Ints: allInts},

	OpMax: {Name: "max", Kind: KindBinaryFunc, Arity: 2, Commutative: true, Symbol: "max", Ints: allInts},
	OpMin: {Name: "min", Kind: KindBinaryFunc, Arity: 2, Commutative: true, Symbol: "min", Ints: allInts},
	OpPow: {Name: "pow", Kind: KindBinaryFunc, Arity: 2, Symbol: "pow"},

	OpAbs:         {Name: "abs", Kind: KindUnary, Arity: 1, Symbol: "abs", Ints: allInts},
	OpSign:        {Name: "sign", Kind: KindUnary, Arity: 1, Symbol: "sign", Ints: []tensor.DataType{tensor.Int32}},
	OpSqrt:        {Name: "sqrt", Kind: KindUnary, Arity: 1, Symbol: "sqrt"},
	OpInverseSqrt: {Name: "inverse_sqrt", Kind: KindUnary, Arity: 1, Symbol: "inverseSqrt"},
	OpExp:         {Name: "exp", Kind: KindUnary, Arity: 1, Symbol: "exp"},
	OpExp2:        {Name: "exp2", Kind: KindUnary, Arity: 1, Symbol: "exp2"},
	OpLog:         {Name: "log", Kind: KindUnary, Arity: 1, Symbol: "log"},
	OpLog2:        {Name: "log2", Kind: KindUnary, Arity: 1, Symbol: "log2"},
	OpSin:         {Name: "sin", Kind: KindUnary, Arity: 1, Symbol: "sin"},
	OpCos:         {Name: "cos", Kind: KindUnary, Arity: 1, Symbol: "cos"},
	OpTan:         {Name: "tan", Kind: KindUnary, Arity: 1, Symbol: "tan"},
	OpAsin:        {Name: "asin", Kind: KindUnary, Arity: 1, Symbol: "asin"},
	OpAcos:        {Name: "acos", Kind: KindUnary, Arity: 1, Symbol: "acos"},
	OpAtan:        {Name: "atan", Kind: KindUnary, Arity: 1, Symbol: "atan"},
	OpSinh:        {Name: "sinh", Kind: KindUnary, Arity: 1, Symbol: "sinh"},
	OpCosh:        {Name: "cosh", Kind: KindUnary, Arity: 1, Symbol: "cosh"},
	OpTanh:        {Name: "tanh", Kind: KindUnary, Arity: 1, Symbol: "tanh"},
	OpCeil:        {Name: "ceil", Kind: KindUnary, Arity: 1, Symbol: "ceil"},
	OpFloor:       {Name: "floor", Kind: KindUnary, Arity: 1, Symbol: "floor"},
	OpRound:       {Name: "round", Kind: KindUnary, Arity: 1, Symbol: "round"},
	OpTrunc:       {Name: "trunc", Kind: KindUnary, Arity: 1, Symbol: "trunc"},
	OpFract:       {Name: "fract", Kind: KindUnary, Arity: 1, Symbol: "fract"},

	OpWhere: {Name: "where", Kind: KindWhere, Arity: 3, Symbol: "select", Ints: allInts},

	OpSum:       {Name: "sum", Kind: KindReduce, Arity: 1, Commutative: true, Symbol: "+", Ints: allInts, Identity: "zero"},
	OpProduct:   {Name: "product", Kind: KindReduce, Arity: 1, Commutative: true, Symbol: "*", Ints: allInts, Identity: "one"},
	OpReduceMin: {Name: "reduce_min", Kind: KindReduce, Arity: 1, Commutative: true, Symbol: "min", Ints: allInts, Identity: "highest"},
	OpReduceMax: {Name: "reduce_max", Kind: KindReduce, Arity: 1, Commutative: true, Symbol: "max", Ints: allInts, Identity: "lowest"},

	OpRandomSeed:   {Name: "random_seed", Kind: KindRandomSeed, Arity: 0},
	OpRandomNext:   {Name: "random_next", Kind: KindRandomNext, Arity: 0},
	OpRandomNormal: {Name: "random_normal", Kind: KindRandomNormal, Arity: 0},
}

// Lookup returns the static description of op.
func Lookup(op Op) (OpInfo, bool) {
	info, ok := registry[op]
	return info, ok
}

// String returns the operation name.
func (op Op) String() string {
	if info, ok := registry[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// UnaryOps lists every unary math function in registry order.
var UnaryOps = []Op{
	OpAbs, OpSign, OpSqrt, OpInverseSqrt, OpExp, OpExp2, OpLog, OpLog2,
	OpSin, OpCos, OpTan, OpAsin, OpAcos, OpAtan, OpSinh, OpCosh, OpTanh,
	OpCeil, OpFloor, OpRound, OpTrunc, OpFract,
}

// IsInfix reports whether the op is written as a WGSL infix operator.
func (info OpInfo) IsInfix() bool {
	return info.Kind == KindBinary || (info.Kind == KindReduce && (info.Symbol == "+" || info.Symbol == "*"))
}

// Accepts reports whether the WGSL builtin is defined for dt without conversion.
func (info OpInfo) Accepts(dt tensor.DataType) bool {
	if dt.IsFloat() {
		return true
	}
	for _, t := range info.Ints {
		if t == dt {
			return true
		}
	}
	return false
}

// ComputeType returns the type an operation computes in for input type dt.
// Integer inputs to float-only builtins are computed in float32.
func (info OpInfo) ComputeType(dt tensor.DataType) tensor.DataType {
	if info.Accepts(dt) {
		return dt
	}
	return tensor.Float32
}

// Combine renders the expression combining x and y.
func (info OpInfo) Combine(x, y string) string {
	if info.IsInfix() {
		return fmt.Sprintf("%s %s %s", x, info.Symbol, y)
	}
	return fmt.Sprintf("%s(%s, %s)", info.Symbol, x, y)
}
