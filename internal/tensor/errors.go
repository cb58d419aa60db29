package tensor

import "errors"

// Validation error classes. Callers match them with errors.Is.
var (
	ErrShape      = errors.New("incompatible shape")
	ErrType       = errors.New("incompatible type")
	ErrCapability = errors.New("unsupported operation")
	ErrIndex      = errors.New("invalid index")
)
