package compiler

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/testing/binaryencoding"
	"github.com/tetratelabs/wasmplan/internal/wasm"
	wasmbinary "github.com/tetratelabs/wasmplan/internal/wasm/binary"
)

var (
	v_v    = &wasm.Signature{Result: wasm.ValueTypeVoid}
	i64_v  = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI64}, Result: wasm.ValueTypeVoid}
	i32i32 = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Result: wasm.ValueTypeI32}
)

// compileModule compiles every function of m with the heap allocator, without linking.
func compileModule(t *testing.T, m *binaryencoding.Module, opts ...Option) []*engine.CompiledFunction {
	source := binaryencoding.EncodeModule(m)
	info, err := wasmbinary.DecodeModule(source)
	require.NoError(t, err)

	b := NewBackend(append([]Option{WithCodeAllocator(HeapAllocator)}, opts...)...)
	var functions []*engine.CompiledFunction
	for _, f := range info.ImportFunctions {
		compiled, err := b.CompileImportStub(f.FunctionIndex, &wasm.Import{Module: "env", Field: "f", Desc: f})
		require.NoError(t, err)
		functions = append(functions, compiled)
	}
	for i, fi := range info.Functions {
		src := &engine.FunctionSource{
			Index:     wasm.Index(info.NumImportFunctions() + i),
			Body:      info.FunctionBody(source, i),
			Offset:    fi.Start,
			Signature: fi.Signature,
			Module:    info,
		}
		require.NoError(t, engine.NewValidator(wasm.Limits{}).Validate(src))
		compiled, err := b.CompileFunction(src)
		require.NoError(t, err)
		functions = append(functions, compiled)
	}
	return functions
}

func segment(f *engine.CompiledFunction) []byte {
	return f.Code.(*nativeCode).segment
}

func TestVerifyOffsetValue(t *testing.T) {
	var ctx callContext
	require.Equal(t, int(unsafe.Offsetof(ctx.status)), callContextStatusOffset)
	require.Equal(t, int(unsafe.Offsetof(ctx.functionIndex)), callContextFunctionIndexOffset)
}

func TestBackend_Name(t *testing.T) {
	require.Equal(t, "compiler", NewBackend().Name())
}

func TestBackend_CompileFunction(t *testing.T) {
	functions := compileModule(t, &binaryencoding.Module{
		Types:     []*wasm.Signature{i32i32},
		Functions: []wasm.Index{0},
		Exports:   []*binaryencoding.Export{{Field: "add", Kind: wasm.ExternalKindFunction, Index: 0}},
		Code: []*binaryencoding.Code{{LocalTypes: []wasm.ValueType{wasm.ValueTypeI64}, Body: []byte{
			wasm.OpcodeNop,
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeI32Const, 0x7f, // -1
			wasm.OpcodeI32Xor,
			wasm.OpcodeI64Const, 2,
			wasm.OpcodeLocalTee, 2,
			wasm.OpcodeDrop,
			wasm.OpcodeEnd,
		}}},
	})

	f := functions[0]
	require.Equal(t, wasm.Index(0), f.Index)
	require.Equal(t, i32i32, f.Signature)
	require.Empty(t, f.UnlinkedCalls)
	require.Equal(t, len(segment(f)), f.Size)
	require.NotZero(t, f.Size)
	require.Equal(t, uintptr(unsafe.Pointer(&segment(f)[0])), f.Code.Entry())

	// Exported functions have an entry thunk, which calls the function directly.
	require.NotNil(t, f.EntryThunk)
	thunk := f.EntryThunk.(*nativeCode).segment
	var entry [8]byte
	binary.LittleEndian.PutUint64(entry[:], uint64(f.Code.Entry()))
	require.Contains(t, string(thunk), string(entry[:]))
}

func TestBackend_CompileFunction_NotExported(t *testing.T) {
	functions := compileModule(t, &binaryencoding.Module{
		Types:     []*wasm.Signature{v_v},
		Functions: []wasm.Index{0},
		Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeReturn, wasm.OpcodeEnd}}},
	})
	require.Nil(t, functions[0].EntryThunk)
}

func TestBackend_Calls(t *testing.T) {
	functions := compileModule(t, &binaryencoding.Module{
		Types:     []*wasm.Signature{v_v, i64_v},
		Imports:   []*binaryencoding.Import{{Module: "env", Field: "f", SignatureIndex: 1}},
		Functions: []wasm.Index{0, 0},
		Code: []*binaryencoding.Code{
			// Function 1 calls forward to function 2, then the import.
			{Body: []byte{
				wasm.OpcodeCall, 2,
				wasm.OpcodeI64Const, 42,
				wasm.OpcodeCall, 0,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{wasm.OpcodeEnd}},
		},
	})
	require.Equal(t, 3, len(functions))

	caller := functions[1]
	require.Equal(t, 2, len(caller.UnlinkedCalls))
	require.Equal(t, wasm.Index(2), caller.UnlinkedCalls[0].FunctionIndex)
	require.Equal(t, wasm.Index(0), caller.UnlinkedCalls[1].FunctionIndex)

	code := segment(caller)
	for _, call := range caller.UnlinkedCalls {
		require.Equal(t, uint64(placeholderAddress), binary.LittleEndian.Uint64(code[call.Location:]))
	}

	require.NoError(t, engine.Link(functions))
	for _, call := range caller.UnlinkedCalls {
		callee := functions[call.FunctionIndex]
		require.Equal(t, uint64(callee.Code.Entry()), binary.LittleEndian.Uint64(code[call.Location:]))
	}
}

func TestBackend_CompileImportStub(t *testing.T) {
	b := NewBackend(WithCodeAllocator(HeapAllocator))

	f, err := b.CompileImportStub(3, &wasm.Import{Module: "env", Field: "f", Desc: &wasm.FunctionImport{Signature: v_v}})
	require.NoError(t, err)
	require.Equal(t, wasm.Index(3), f.Index)
	require.Same(t, v_v, f.Signature)
	require.NotZero(t, f.Size)
	require.Nil(t, f.EntryThunk)

	_, err = b.CompileImportStub(0, &wasm.Import{Module: "env", Field: "mem", Desc: &wasm.MemoryImport{}})
	require.EqualError(t, err, "import env.mem (memory) is not a function")
}

func TestBackend_Errors(t *testing.T) {
	t.Run("unsupported instruction", func(t *testing.T) {
		_, err := NewBackend(WithCodeAllocator(HeapAllocator)).CompileFunction(&engine.FunctionSource{
			Body:      []byte{0, wasm.OpcodeBlock, wasm.ValueTypeVoid, wasm.OpcodeEnd, wasm.OpcodeEnd},
			Offset:    100,
			Signature: v_v,
			Module:    &wasm.ModuleInformation{},
		})
		require.EqualError(t, err, "block is not supported by the compiler")

		var e *wasm.Error
		require.True(t, errors.As(err, &e))
		require.Equal(t, wasm.ErrorKindCompile, e.Kind)
		require.Equal(t, 101, e.Offset)
	})

	t.Run("allocation fails", func(t *testing.T) {
		b := NewBackend(WithCodeAllocator(func([]byte) ([]byte, error) {
			return nil, errors.New("out of memory")
		}))
		_, err := b.CompileFunction(&engine.FunctionSource{
			Index:     7,
			Body:      []byte{0, wasm.OpcodeEnd},
			Signature: v_v,
			Module:    &wasm.ModuleInformation{},
		})
		require.EqualError(t, err, "failed to place code of function[7]: out of memory")
		require.ErrorIs(t, err, &wasm.Error{Kind: wasm.ErrorKindCompile})
	})

	t.Run("too many locals", func(t *testing.T) {
		b := NewBackend(WithCodeAllocator(HeapAllocator), WithLimits(wasm.Limits{MaxFunctionLocals: 1}))
		_, err := b.CompileFunction(&engine.FunctionSource{
			Body:      []byte{1, 2, wasm.ValueTypeI32, wasm.OpcodeEnd},
			Signature: v_v,
			Module:    &wasm.ModuleInformation{},
		})
		require.ErrorIs(t, err, &wasm.Error{Kind: wasm.ErrorKindResource})
	})
}

// otherCode is engine.Code of another backend.
type otherCode struct{}

func (otherCode) Entry() uintptr { return 0 }

func (otherCode) PatchCall(uint32, engine.Code) error { return nil }

func TestNativeCode_PatchCall(t *testing.T) {
	c := &nativeCode{segment: make([]byte, 16), callSites: map[uint32]struct{}{4: {}}}
	callee := &nativeCode{segment: make([]byte, 1)}

	require.EqualError(t, c.PatchCall(3, callee), "no call at 3")
	require.EqualError(t, c.PatchCall(4, otherCode{}), "callee is compiler.otherCode, not native code")

	require.NoError(t, c.PatchCall(4, callee))
	require.Equal(t, uint64(callee.Entry()), binary.LittleEndian.Uint64(c.segment[4:]))
}

func TestBackend_WithLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	compileModule(t, &binaryencoding.Module{
		Types:     []*wasm.Signature{v_v},
		Functions: []wasm.Index{0},
		Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
	}, WithLogger(zap.New(core)))

	compiled := logs.FilterMessage("compiled function").All()
	require.Equal(t, 1, len(compiled))
	fields := compiled[0].ContextMap()
	require.Equal(t, uint32(0), fields["index"])
	require.Equal(t, int64(1), fields["calls"])
	require.Equal(t, false, fields["entry_thunk"])
}
