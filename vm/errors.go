package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel runtime faults, checked with errors.Is by callers that
// need to distinguish them (debuggers, tests). Grounded on
// KTStephano-GVM/vm/vm.go's errProgramFinished/errSegmentationFault
// style of package-level sentinel errors.
var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrDivByZero      = errors.New("division by 0")
	ErrModByZero      = errors.New("modulo by 0")
	ErrNoMain         = errors.New("function not found: main")
)

// DecodeError reports a malformed-bytecode failure at a specific byte
// offset, per spec.md §4.1/§7.2.
type DecodeError struct {
	Offset int
	cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%04X: %s", e.Offset, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func newDecodeError(offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: offset, cause: errors.Errorf(format, args...)}
}

// RuntimeError reports a failure raised while stepping the interpreter,
// per spec.md §4.5/§7.3. Errors from native callees are wrapped here
// carrying the native function's name.
type RuntimeError struct {
	cause error
}

func (e *RuntimeError) Error() string { return e.cause.Error() }

func (e *RuntimeError) Unwrap() error { return e.cause }

func runtimeErrorf(format string, args ...any) *RuntimeError {
	return &RuntimeError{cause: errors.Errorf(format, args...)}
}

// wrapNativeError wraps an error raised inside a native function body
// with the native's name, per spec.md §4.5: "Any exception from a
// native callee is wrapped as a runtime error bearing the native's
// name."
func wrapNativeError(name string, err error) *RuntimeError {
	return &RuntimeError{cause: errors.Wrapf(err, "error running native function %s", name)}
}
