package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeviceLost is matched by every error caused by a lost device.
var ErrDeviceLost = errors.New("device lost")

// ErrReleased is returned when a released device or buffer is used.
var ErrReleased = errors.New("device resource released")

// LostError records why a device was lost.
type LostError struct {
	Reason string
}

func (e *LostError) Error() string {
	if e.Reason == "" {
		return ErrDeviceLost.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDeviceLost, e.Reason)
}

// Is matches ErrDeviceLost.
func (e *LostError) Is(target error) bool {
	return target == ErrDeviceLost
}

// Severity classifies a compiler diagnostic.
type Severity int

// Diagnostic severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	Severity Severity
	Message  string
	Line     int
	Column   int
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", d.Severity, d.Line, d.Column, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// CompileError reports a program that failed to compile.
type CompileError struct {
	Label       string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			msgs = append(msgs, d.String())
		}
	}
	return fmt.Sprintf("compile %s: %s", e.Label, strings.Join(msgs, "; "))
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
