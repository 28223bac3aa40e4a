// Package wasmplan compiles WebAssembly 1.0 (20191205) binary modules into linked functions, and instantiates those
// compiled by the interpreter backend.
//
// Ex.
//
//	compiled, _ := wasmplan.CompileModule(source, wasmplan.NewConfig())
//	instance, _ := compiled.Instantiate(ctx)
//	add, _ := instance.ExportedFunction("add")
//	results, _ := add.Call(ctx, 1, 2)
package wasmplan

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/plan"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

type (
	// Signature is the type of a function.
	Signature = wasm.Signature
	// Import is an import of a module, whose Desc is one of *wasm.FunctionImport or *wasm.MemoryImport.
	Import = wasm.Import
	// Export is an export of a module, whose Desc is one of *wasm.FunctionExport or *wasm.MemoryExport.
	Export = wasm.Export
	// MemoryType is the memory a module defines or imports.
	MemoryType = wasm.Memory
	// DataSegment initializes a memory range on instantiation.
	DataSegment = wasm.DataSegment
	// Memory is the linear memory of an Instance.
	Memory = wasm.MemoryInstance
	// FunctionRange is where a defined function's body is in the module source.
	FunctionRange = wasm.FunctionInformation
)

// Error is the error of CompileModule and Instantiate. Use errors.As to inspect its Kind.
type Error = wasm.Error

// ErrorKind classifies an Error.
type ErrorKind = wasm.ErrorKind

const (
	ErrorKindFormat      = wasm.ErrorKindFormat
	ErrorKindSemantic    = wasm.ErrorKindSemantic
	ErrorKindResource    = wasm.ErrorKindResource
	ErrorKindValidation  = wasm.ErrorKindValidation
	ErrorKindUnsupported = wasm.ErrorKindUnsupported
	ErrorKindCompile     = wasm.ErrorKindCompile
	ErrorKindLink        = wasm.ErrorKindLink
)

// CompiledModule is a parsed, validated, compiled and linked module.
//
// Note: In WebAssembly language, this is a decoded, validated, and possibly also compiled module. The name "Module"
// is avoided for both before and after instantiation as the name conflation has caused confusion.
type CompiledModule struct {
	config    *Config
	module    *wasm.ModuleInformation
	functions []*engine.CompiledFunction
}

// CompileModule compiles the WebAssembly 1.0 (20191205) binary source, or returns the first error, usually an *Error.
// source may be reused once this returns. A nil config is NewConfig.
func CompileModule(source []byte, config *Config) (*CompiledModule, error) {
	if config == nil {
		config = NewConfig()
	}
	if source == nil {
		return nil, errors.New("source == nil")
	}
	backend, err := config.newBackend()
	if err != nil {
		return nil, err
	}

	p := plan.New(source, backend,
		plan.WithOwnedCopy(),
		plan.WithLimits(config.limits),
		plan.WithLogger(config.logger))
	if err = p.Run(); err != nil {
		return nil, err
	}
	m, err := p.ModuleInformation()
	if err != nil {
		return nil, err
	}
	functions, err := p.CompiledFunctions()
	if err != nil {
		return nil, err
	}
	return &CompiledModule{config: config, module: m, functions: functions}, nil
}

// Backend returns the backend the module was compiled with.
func (m *CompiledModule) Backend() Backend {
	return m.config.backend
}

// Signatures returns the type section.
func (m *CompiledModule) Signatures() []*Signature {
	return m.module.Signatures
}

// Imports returns the imports in declaration order.
func (m *CompiledModule) Imports() []*Import {
	return m.module.Imports
}

// Exports returns the exports in declaration order.
func (m *CompiledModule) Exports() []*Export {
	return m.module.Exports
}

// Memory returns the memory the module defines or imports, or nil.
func (m *CompiledModule) Memory() *MemoryType {
	return m.module.Memory
}

// Data returns the data segments.
func (m *CompiledModule) Data() []*DataSegment {
	return m.module.Data
}

// StartFunction returns the index of the start function, if there is one.
func (m *CompiledModule) StartFunction() (uint32, bool) {
	if m.module.StartFunction == nil {
		return 0, false
	}
	return *m.module.StartFunction, true
}

// FunctionRanges returns the body ranges of the defined functions, whose index is after the imported functions.
func (m *CompiledModule) FunctionRanges() []*FunctionRange {
	return m.module.Functions
}

// FunctionCode describes the compiled code of one function in the function index space.
type FunctionCode struct {
	Index     uint32
	Signature *Signature
	// Imported is true for import stubs.
	Imported bool
	// Size is in instructions for the interpreter, in bytes for the compiler.
	Size int
	// Calls is the number of direct call sites, all linked.
	Calls int
	// HasEntryThunk is true when the backend generated an entry thunk for calls from the host.
	HasEntryThunk bool
}

// Code returns the compiled functions, imports first.
func (m *CompiledModule) Code() []FunctionCode {
	ret := make([]FunctionCode, len(m.functions))
	for i, f := range m.functions {
		ret[i] = FunctionCode{
			Index:         f.Index,
			Signature:     f.Signature,
			Imported:      i < m.module.NumImportFunctions(),
			Size:          f.Size,
			Calls:         len(f.UnlinkedCalls),
			HasEntryThunk: f.EntryThunk != nil,
		}
	}
	return ret
}

// Instance is an instantiated CompiledModule. Each Instance has its own memory.
type Instance struct {
	module *CompiledModule
	memory *wasm.MemoryInstance
}

// Instantiate allocates the memory, copies data segments into it and runs the start function, if any. ctx is passed
// to the start function. Only modules compiled with BackendInterpreter can be instantiated.
func (m *CompiledModule) Instantiate(ctx context.Context) (*Instance, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.config.backend != BackendInterpreter {
		return nil, fmt.Errorf("modules compiled with the %s backend can't be instantiated", m.config.backend)
	}

	instance := &Instance{module: m}
	if mem := m.module.Memory; mem != nil {
		memory, err := wasm.NewMemoryInstance(mem, m.config.memoryLimitPages)
		if err != nil {
			return nil, wasm.NewError(wasm.ErrorKindLink, -1, "%v", err)
		}
		instance.memory = memory
	}
	if err := instance.applyData(); err != nil {
		return nil, err
	}

	if index, ok := m.StartFunction(); ok {
		m.config.logger.Debug("running start function", zap.Uint32("index", index))
		f := instance.function(index, "")
		if _, err := f.Call(ctx); err != nil {
			return nil, fmt.Errorf("start function[%d] failed: %w", index, err)
		}
	}
	return instance, nil
}

// applyData copies every data segment after checking they all fit, so a failure leaves the memory untouched.
func (i *Instance) applyData() error {
	for idx, d := range i.module.module.Data {
		if i.memory == nil {
			return wasm.NewError(wasm.ErrorKindLink, -1, "data segment[%d] requires a memory", idx)
		}
		if uint64(d.Offset)+uint64(len(d.Init)) > uint64(i.memory.Size()) {
			return wasm.NewError(wasm.ErrorKindLink, -1, "data segment[%d] of %d bytes at %d is out of bounds of memory of %d bytes",
				idx, len(d.Init), d.Offset, i.memory.Size())
		}
	}
	for _, d := range i.module.module.Data {
		i.memory.Write(d.Offset, d.Init)
	}
	return nil
}

// Memory returns the memory of the instance, or nil if the module has none.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// ExportedFunction returns the function exported as name, or false if there is none.
func (i *Instance) ExportedFunction(name string) (*Function, bool) {
	index, ok := i.module.module.ExportedFunction(name)
	if !ok {
		return nil, false
	}
	return i.function(index, name), true
}

func (i *Instance) function(index wasm.Index, name string) *Function {
	return &Function{compiled: i.module.functions[index], memory: i.memory, name: name}
}

// Function is a function of an Instance.
type Function struct {
	compiled *engine.CompiledFunction
	memory   *wasm.MemoryInstance
	name     string
}

// Name returns the export name of the function, or empty for the start function.
func (f *Function) Name() string {
	return f.name
}

// Signature returns the type of the function.
func (f *Function) Signature() *Signature {
	return f.compiled.Signature
}

// Call invokes the function with params encoded as uint64, and returns its result, if any, encoded the same way.
//
// Traps, such as division by zero, are returned as errors whose message includes a backtrace.
func (f *Function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	invoker, ok := f.compiled.Code.(engine.Invoker)
	if !ok {
		return nil, fmt.Errorf("function[%d] can't be invoked", f.compiled.Index)
	}
	return invoker.Invoke(ctx, f.memory, params...)
}
