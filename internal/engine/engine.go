// Package engine defines the contracts between a compilation plan and the backends that turn validated function
// bodies into code.
package engine

import (
	"context"

	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// Code is the output of a Backend for one function.
type Code interface {
	// Entry returns the address of the first instruction. It doesn't change once the Code is created.
	Entry() uintptr

	// PatchCall points the call site at location, an UnlinkedCall.Location of this Code, to callee.
	PatchCall(location uint32, callee Code) error
}

// Invoker is implemented by Code that can run inside the Go runtime.
type Invoker interface {
	Code

	// Invoke calls the function with params, encoded as uint64, and memory as its linear memory, which may be nil
	// when the module has none.
	Invoke(ctx context.Context, memory *wasm.MemoryInstance, params ...uint64) ([]uint64, error)
}

// HostFunction implements a function import. Params and results are encoded as uint64 in signature order.
type HostFunction func(ctx context.Context, memory *wasm.MemoryInstance, params []uint64) ([]uint64, error)

// UnlinkedCall is a direct call whose target code wasn't known when the caller was compiled.
type UnlinkedCall struct {
	// Location is backend specific: an instruction index for the interpreter, a byte offset in native code.
	Location uint32
	// FunctionIndex is the callee in the function index space.
	FunctionIndex wasm.Index
}

// CompiledFunction is a function in the function index space, imported or defined, after compilation.
type CompiledFunction struct {
	Index     wasm.Index
	Signature *wasm.Signature
	Code      Code
	// EntryThunk adapts the calling convention of the host to Code, if the backend needs one.
	EntryThunk Code
	// UnlinkedCalls are the call sites Link patches.
	UnlinkedCalls []UnlinkedCall
	// Size is the size of Code in backend units: instructions for the interpreter, bytes for native code.
	Size int
}

// FunctionSource is what a Backend compiles for one defined function.
type FunctionSource struct {
	// Index is the function in the function index space.
	Index wasm.Index
	// Body is the locals and instructions of the function, sliced from the module buffer.
	Body []byte
	// Offset is where Body starts in the module buffer.
	Offset    int
	Signature *wasm.Signature
	// Module carries the signatures of call targets and the memory.
	Module *wasm.ModuleInformation
}

// Backend generates Code.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// CompileImportStub returns a callable stub for the function import at index.
	CompileImportStub(index wasm.Index, imp *wasm.Import) (*CompiledFunction, error)

	// CompileFunction compiles a validated function body. Calls to other functions are left unlinked.
	CompileFunction(src *FunctionSource) (*CompiledFunction, error)
}

// Validator checks a function body before it is compiled.
type Validator interface {
	Validate(src *FunctionSource) error
}

// ValidatorFunc is a convenience for defining a Validator inline.
type ValidatorFunc func(src *FunctionSource) error

// Validate implements Validator.Validate
func (f ValidatorFunc) Validate(src *FunctionSource) error {
	return f(src)
}

// NewValidator returns the default Validator, wasm.ValidateFunctionWithLimits.
func NewValidator(limits wasm.Limits) Validator {
	limits = limits.WithDefaults()
	return ValidatorFunc(func(src *FunctionSource) error {
		return wasm.ValidateFunctionWithLimits(src.Body, src.Offset, src.Signature, src.Module, limits)
	})
}
