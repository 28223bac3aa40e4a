package wasm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a module could not be loaded.
type ErrorKind int

const (
	// ErrorKindFormat is a structural problem with the binary: bad magic or version, truncation, section length or
	// order violations.
	ErrorKindFormat ErrorKind = iota
	// ErrorKindSemantic is a well-formed encoding with invalid meaning, such as an out-of-range index or a second
	// memory.
	ErrorKindSemantic
	// ErrorKindResource means a declared count exceeded what the engine is willing to reserve.
	ErrorKindResource
	// ErrorKindValidation is a function body that failed validation.
	ErrorKindValidation
	// ErrorKindUnsupported is valid WebAssembly that this implementation does not handle, such as tables.
	ErrorKindUnsupported
	// ErrorKindCompile is a failure of a backend to generate code for a validated function.
	ErrorKindCompile
	// ErrorKindLink is a failure resolving calls between compiled functions, or placing data at instantiation.
	ErrorKindLink
)

// String implements fmt.Stringer
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindFormat:
		return "format"
	case ErrorKindSemantic:
		return "semantic"
	case ErrorKindResource:
		return "resource"
	case ErrorKindValidation:
		return "validation"
	case ErrorKindUnsupported:
		return "unsupported"
	case ErrorKindCompile:
		return "compile"
	case ErrorKindLink:
		return "link"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the structured failure of parsing, validating, compiling or linking a module.
//
// Offset is the byte offset in the module buffer nearest to the problem, or -1 when there is none, for example when
// a backend fails after the body was already validated.
type Error struct {
	Kind   ErrorKind
	Offset int
	Msg    string
}

// Error implements error. Only the message is returned, so that the text matches what a host shows to its users.
func (e *Error) Error() string {
	return e.Msg
}

// Is allows errors.Is(err, &Error{Kind: ErrorKindUnsupported}) to match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError formats an *Error of the given kind at the given offset.
func NewError(kind ErrorKind, offset int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or false if there is none.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// All the errors are returned by an engine during the execution of Wasm functions,
// and they indicate that the Wasm virtual machine's state is unrecoverable.
var (
	// ErrRuntimeCallStackOverflow indicates that there are too many function calls,
	// and the engine terminated the execution.
	ErrRuntimeCallStackOverflow = errors.New("callstack overflow")
	// ErrRuntimeInvalidConversionToInteger indicates the Wasm function tries to
	// convert NaN floating point value to integers during trunc variant instructions.
	ErrRuntimeInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates that an integer arithmetic resulted in
	// overflow value. For example, when the program tried to truncate a float value
	// which doesn't fit in the range of target integer.
	ErrRuntimeIntegerOverflow = errors.New("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrRuntimeIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = errors.New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrRuntimeUnresolvedImport means an imported function was called, but the host never provided it.
	ErrRuntimeUnresolvedImport = errors.New("unresolved import")
)
