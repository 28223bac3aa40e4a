// Package compiler is an engine.Backend that emits amd64 machine code with golang-asm.
//
// Only straight-line bodies are supported: integer constants, locals, i32 and i64 add, sub, mul, and, or and xor,
// drop, nop, direct calls and return. Anything else fails with wasm.ErrorKindCompile, so that a plan using this
// backend reports which instruction it could not handle.
//
// The code is placed but never run by this module: it has no trampoline from Go into native code.
package compiler

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/platform"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// CodeAllocator places assembled code in memory and returns the placed copy.
type CodeAllocator func(code []byte) ([]byte, error)

// HeapAllocator places code in the Go heap, which isn't executable. It allows inspecting and linking code on any
// platform.
func HeapAllocator(code []byte) ([]byte, error) {
	return append([]byte(nil), code...), nil
}

// Option configures the backend returned by NewBackend.
type Option func(*backend)

// WithCodeAllocator overrides the default allocator: platform.MmapCodeSegment where platform.CompilerSupported,
// otherwise HeapAllocator.
func WithCodeAllocator(allocator CodeAllocator) Option {
	return func(b *backend) {
		b.allocate = allocator
	}
}

// WithLimits bounds the locals of a function. Zero fields keep wasm.DefaultLimits.
func WithLimits(limits wasm.Limits) Option {
	return func(b *backend) {
		b.limits = limits.WithDefaults()
	}
}

// WithLogger logs each compiled function at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(b *backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type backend struct {
	allocate CodeAllocator
	limits   wasm.Limits
	logger   *zap.Logger
}

// NewBackend returns the compiler backend.
func NewBackend(opts ...Option) engine.Backend {
	b := &backend{allocate: HeapAllocator, limits: wasm.DefaultLimits, logger: zap.NewNop()}
	if platform.CompilerSupported() {
		b.allocate = platform.MmapCodeSegment
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements engine.Backend.Name
func (b *backend) Name() string {
	return "compiler"
}

// CompileImportStub implements engine.Backend.CompileImportStub
func (b *backend) CompileImportStub(index wasm.Index, imp *wasm.Import) (*engine.CompiledFunction, error) {
	desc, ok := imp.Desc.(*wasm.FunctionImport)
	if !ok {
		return nil, wasm.NewError(wasm.ErrorKindCompile, -1, "import %s is not a function", imp)
	}
	code, err := b.place(index, compileImportStub)
	if err != nil {
		return nil, err
	}
	return &engine.CompiledFunction{Index: index, Signature: desc.Signature, Code: code, Size: len(code.segment)}, nil
}

// CompileFunction implements engine.Backend.CompileFunction
func (b *backend) CompileFunction(src *engine.FunctionSource) (*engine.CompiledFunction, error) {
	var calls []engine.UnlinkedCall
	code, err := b.place(src.Index, func(wasm.Index) ([]byte, error) {
		c, err := newAmd64Compiler(src)
		if err != nil {
			return nil, err
		}
		var code []byte
		code, calls, err = c.compile(b.limits.MaxFunctionLocals)
		return code, err
	})
	if err != nil {
		return nil, err
	}
	for _, call := range calls {
		code.callSites[call.Location] = struct{}{}
	}

	f := &engine.CompiledFunction{
		Index:         src.Index,
		Signature:     src.Signature,
		Code:          code,
		UnlinkedCalls: calls,
		Size:          len(code.segment),
	}
	if exported(src.Module, src.Index) {
		entry := code.Entry()
		thunk, err := b.place(src.Index, func(wasm.Index) ([]byte, error) {
			return compileEntryThunk(entry)
		})
		if err != nil {
			return nil, err
		}
		f.EntryThunk = thunk
	}
	b.logger.Debug("compiled function",
		zap.Uint32("index", src.Index),
		zap.Int("bytes", f.Size),
		zap.Int("calls", len(calls)),
		zap.Bool("entry_thunk", f.EntryThunk != nil))
	return f, nil
}

// place assembles the code of function index with compile and places it with the allocator.
func (b *backend) place(index wasm.Index, compile func(wasm.Index) ([]byte, error)) (*nativeCode, error) {
	assemblerMu.Lock()
	code, err := compile(index)
	assemblerMu.Unlock()
	if err != nil {
		if _, ok := wasm.KindOf(err); ok {
			return nil, err
		}
		return nil, wasm.NewError(wasm.ErrorKindCompile, -1, "failed to compile function[%d]: %v", index, err)
	}
	segment, err := b.allocate(code)
	if err != nil {
		return nil, wasm.NewError(wasm.ErrorKindCompile, -1, "failed to place code of function[%d]: %v", index, err)
	}
	return &nativeCode{segment: segment, callSites: map[uint32]struct{}{}}, nil
}

func exported(m *wasm.ModuleInformation, index wasm.Index) bool {
	for _, e := range m.Exports {
		if fe, ok := e.Desc.(*wasm.FunctionExport); ok && fe.FunctionIndex == index {
			return true
		}
	}
	return false
}

// nativeCode implements engine.Code.
type nativeCode struct {
	segment []byte
	// callSites are the offsets of the address immediates PatchCall may write.
	callSites map[uint32]struct{}
}

// Entry implements engine.Code.Entry
func (c *nativeCode) Entry() uintptr {
	return uintptr(unsafe.Pointer(&c.segment[0]))
}

// PatchCall implements engine.Code.PatchCall
func (c *nativeCode) PatchCall(location uint32, callee engine.Code) error {
	if _, ok := c.callSites[location]; !ok {
		return fmt.Errorf("no call at %d", location)
	}
	target, ok := callee.(*nativeCode)
	if !ok {
		return fmt.Errorf("callee is %T, not native code", callee)
	}
	binary.LittleEndian.PutUint64(c.segment[location:location+8], uint64(target.Entry()))
	return nil
}
