// Package tensor provides the element types, shapes and broadcast rules shared by
// the kernel generator and the execution engine.
package tensor

import (
	"fmt"
	"strings"
)

// DataType represents the runtime element type of an array.
type DataType int

// Supported data types. The zero value is Invalid.
const (
	Invalid DataType = iota
	Int32
	Uint32
	Float16
	Float32
)

// DataTypes lists every supported element type.
var DataTypes = []DataType{Int32, Uint32, Float16, Float32}

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Int32, Uint32, Float32:
		return 4
	case Float16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	default:
		return "invalid"
	}
}

// WGSL returns the shader scalar type name.
func (dt DataType) WGSL() string {
	switch dt {
	case Int32:
		return "i32"
	case Uint32:
		return "u32"
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	default:
		return ""
	}
}

// IsFloat reports whether dt is a floating-point type.
func (dt DataType) IsFloat() bool {
	return dt == Float16 || dt == Float32
}

// Valid reports whether dt is one of the supported types.
func (dt DataType) Valid() bool {
	return dt >= Int32 && dt <= Float32
}

// ParseDataType resolves a type name such as "float32", "f16" or "u32".
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int32", "i32":
		return Int32, nil
	case "uint32", "u32":
		return Uint32, nil
	case "float16", "f16", "half":
		return Float16, nil
	case "float32", "f32", "float":
		return Float32, nil
	}
	return Invalid, fmt.Errorf("unknown data type %q: %w", name, ErrType)
}

// PromoteTypes returns the element type produced by combining a and b.
//
// Equal types are kept. Otherwise float32 wins over everything, then float16.
// Two distinct integer types have no common type.
func PromoteTypes(a, b DataType) (DataType, error) {
	if !a.Valid() || !b.Valid() {
		return Invalid, fmt.Errorf("cannot promote %s and %s: %w", a, b, ErrType)
	}
	switch {
	case a == b:
		return a, nil
	case a == Float32 || b == Float32:
		return Float32, nil
	case a == Float16 || b == Float16:
		return Float16, nil
	default:
		return Invalid, fmt.Errorf("incompatible types %s and %s: %w", a, b, ErrType)
	}
}
