package plan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/engine/interpreter"
	"github.com/tetratelabs/wasmplan/internal/testing/binaryencoding"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

var (
	v_v    = &wasm.Signature{Result: wasm.ValueTypeVoid}
	v_i32  = &wasm.Signature{Result: wasm.ValueTypeI32}
	i32_v  = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI32}, Result: wasm.ValueTypeVoid}
	i32i32 = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Result: wasm.ValueTypeI32}
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// addModule exports "add", which returns the sum of its two i32 params.
var addModule = &binaryencoding.Module{
	Types:     []*wasm.Signature{i32i32},
	Functions: []wasm.Index{0},
	Exports:   []*binaryencoding.Export{{Field: "add", Kind: wasm.ExternalKindFunction, Index: 0}},
	Code: []*binaryencoding.Code{{Body: []byte{
		wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
	}}},
}

// fakeCode is engine.Code which records its patches.
type fakeCode struct {
	entry   uintptr
	patched map[uint32]engine.Code
	err     error
}

func (c *fakeCode) Entry() uintptr { return c.entry }

func (c *fakeCode) PatchCall(location uint32, callee engine.Code) error {
	if c.err != nil {
		return c.err
	}
	c.patched[location] = callee
	return nil
}

// fakeBackend compiles every function into fakeCode with one unlinked call per call instruction target in calls.
type fakeBackend struct {
	stubs, compiled []wasm.Index
	calls           map[wasm.Index][]wasm.Index
	compileErr      error
	patchErr        error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) CompileImportStub(index wasm.Index, imp *wasm.Import) (*engine.CompiledFunction, error) {
	b.stubs = append(b.stubs, index)
	return &engine.CompiledFunction{Index: index, Signature: imp.Desc.(*wasm.FunctionImport).Signature, Code: b.newCode(index)}, nil
}

func (b *fakeBackend) CompileFunction(src *engine.FunctionSource) (*engine.CompiledFunction, error) {
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	b.compiled = append(b.compiled, src.Index)
	f := &engine.CompiledFunction{Index: src.Index, Signature: src.Signature, Code: b.newCode(src.Index)}
	for i, callee := range b.calls[src.Index] {
		f.UnlinkedCalls = append(f.UnlinkedCalls, engine.UnlinkedCall{Location: uint32(i), FunctionIndex: callee})
	}
	return f, nil
}

func (b *fakeBackend) newCode(index wasm.Index) *fakeCode {
	return &fakeCode{entry: uintptr(index) + 0x1000, patched: map[uint32]engine.Code{}, err: b.patchErr}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{state: StateCreated, expected: "created"},
		{state: StateParsing, expected: "parsing"},
		{state: StateCompiling, expected: "compiling"},
		{state: StateLinking, expected: "linking"},
		{state: StateSucceeded, expected: "succeeded"},
		{state: StateFailed, expected: "failed"},
		{state: State(100), expected: "State(100)"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.state.String())
		})
	}
}

func TestPlan_Run_EmptyModule(t *testing.T) {
	p := New(header, &fakeBackend{})
	require.Equal(t, StateCreated, p.State())
	require.NoError(t, p.Run())
	require.Equal(t, StateSucceeded, p.State())
	require.False(t, p.Failed())
	require.Empty(t, p.ErrorMessage())

	m, err := p.ModuleInformation()
	require.NoError(t, err)
	require.Empty(t, m.Signatures)
	require.Empty(t, m.Functions)
	require.Empty(t, m.Exports)

	functions, err := p.CompiledFunctions()
	require.NoError(t, err)
	require.Empty(t, functions)
}

func TestPlan_Run_Add(t *testing.T) {
	p := New(binaryencoding.EncodeModule(addModule), interpreter.NewBackend())
	require.NoError(t, p.Run())

	m, err := p.ModuleInformation()
	require.NoError(t, err)
	index, ok := m.ExportedFunction("add")
	require.True(t, ok)
	require.Equal(t, wasm.Index(0), index)

	functions, err := p.CompiledFunctions()
	require.NoError(t, err)
	require.Equal(t, 1, len(functions))

	results, err := functions[index].Code.(engine.Invoker).Invoke(testCtx, nil, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)
}

func TestPlan_Run_ForwardCall(t *testing.T) {
	source := binaryencoding.EncodeModule(&binaryencoding.Module{
		Types:     []*wasm.Signature{v_i32},
		Functions: []wasm.Index{0, 0},
		Code: []*binaryencoding.Code{
			{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 41, wasm.OpcodeEnd}},
		},
	})

	t.Run("interpreter", func(t *testing.T) {
		p := New(source, interpreter.NewBackend())
		require.NoError(t, p.Run())
		functions, err := p.CompiledFunctions()
		require.NoError(t, err)

		results, err := functions[0].Code.(engine.Invoker).Invoke(testCtx, nil)
		require.NoError(t, err)
		require.Equal(t, []uint64{42}, results)
	})

	t.Run("patches", func(t *testing.T) {
		b := &fakeBackend{calls: map[wasm.Index][]wasm.Index{0: {1}}}
		p := New(source, b)
		require.NoError(t, p.Run())
		functions, err := p.CompiledFunctions()
		require.NoError(t, err)

		require.Equal(t, []wasm.Index{0, 1}, b.compiled)
		require.Same(t, functions[1].Code, functions[0].Code.(*fakeCode).patched[0])
	})
}

func TestPlan_Run_ImportStubs(t *testing.T) {
	b := &fakeBackend{calls: map[wasm.Index][]wasm.Index{2: {0, 1}}}
	p := New(binaryencoding.EncodeModule(&binaryencoding.Module{
		Types: []*wasm.Signature{v_v, i32_v},
		Imports: []*binaryencoding.Import{
			{Module: "env", Field: "a", SignatureIndex: 0},
			{Module: "env", Field: "mem", Memory: &wasm.Memory{Initial: 1}},
			{Module: "env", Field: "b", SignatureIndex: 1},
		},
		Functions: []wasm.Index{0},
		Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeEnd}}},
	}), b)
	require.NoError(t, p.Run())

	require.Equal(t, []wasm.Index{0, 1}, b.stubs)
	require.Equal(t, []wasm.Index{2}, b.compiled)

	functions, err := p.CompiledFunctions()
	require.NoError(t, err)
	require.Equal(t, 3, len(functions))
	for i, f := range functions {
		require.Equal(t, wasm.Index(i), f.Index)
	}
	require.Equal(t, "(i32)->void", functions[1].Signature.String())

	patched := functions[2].Code.(*fakeCode).patched
	require.Same(t, functions[0].Code, patched[0])
	require.Same(t, functions[1].Code, patched[1])
}

func TestPlan_Run_Errors(t *testing.T) {
	tests := []struct {
		name        string
		source      []byte
		backend     *fakeBackend
		opts        []Option
		kind        wasm.ErrorKind
		expectedErr string
		// compiled is how many defined functions reached the backend.
		compiled int
	}{
		{
			name:        "too small",
			source:      header[:7],
			kind:        wasm.ErrorKindFormat,
			expectedErr: "expected a module of at least 8 bytes",
		},
		{
			name:        "invalid section order",
			source:      append(append([]byte{}, header...), 7, 1, 0, 1, 1, 0),
			kind:        wasm.ErrorKindFormat,
			expectedErr: "invalid section order, Export followed by Type",
		},
		{
			name: "start function with params",
			source: binaryencoding.EncodeModule(&binaryencoding.Module{
				Types:     []*wasm.Signature{i32_v},
				Functions: []wasm.Index{0},
				Start:     new(wasm.Index),
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeEnd}}},
			}),
			kind:        wasm.ErrorKindSemantic,
			expectedErr: "start function must take no arguments, but 0 takes (i32)->void",
		},
		{
			name: "reservation",
			source: binaryencoding.EncodeModule(&binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Imports:   []*binaryencoding.Import{{Module: "env", Field: "f"}},
				Functions: []wasm.Index{0},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeEnd}}},
			}),
			opts:        []Option{WithLimits(wasm.Limits{MaxFunctions: 1})},
			kind:        wasm.ErrorKindResource,
			expectedErr: "failed reserving 2 compiled functions: limit is 1",
		},
		{
			name: "validation stops compilation",
			source: binaryencoding.EncodeModule(&binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Functions: []wasm.Index{0, 0, 0},
				Code: []*binaryencoding.Code{
					{Body: []byte{wasm.OpcodeEnd}},
					{Body: []byte{wasm.OpcodeI32Add, wasm.OpcodeEnd}},
					{Body: []byte{wasm.OpcodeEnd}},
				},
			}),
			kind:     wasm.ErrorKindValidation,
			compiled: 1,
		},
		{
			name:        "compile",
			source:      binaryencoding.EncodeModule(addModule),
			backend:     &fakeBackend{compileErr: wasm.NewError(wasm.ErrorKindCompile, -1, "no")},
			kind:        wasm.ErrorKindCompile,
			expectedErr: "no",
		},
		{
			name:        "link",
			source:      binaryencoding.EncodeModule(addModule),
			backend:     &fakeBackend{calls: map[wasm.Index][]wasm.Index{0: {0}}, patchErr: errors.New("no room")},
			kind:        wasm.ErrorKindLink,
			expectedErr: "function[0] call to function[0] at 0: no room",
			compiled:    1,
		},
		{
			name:        "link to a missing function",
			source:      binaryencoding.EncodeModule(addModule),
			backend:     &fakeBackend{calls: map[wasm.Index][]wasm.Index{0: {5}}},
			kind:        wasm.ErrorKindLink,
			expectedErr: "function[0] calls function[5], but only 1 functions exist",
			compiled:    1,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			b := tc.backend
			if b == nil {
				b = &fakeBackend{}
			}
			p := New(tc.source, b, tc.opts...)
			err := p.Run()
			require.Error(t, err)
			require.Equal(t, err, p.Err())

			require.True(t, p.Failed())
			require.Equal(t, StateFailed, p.State())
			kind, ok := wasm.KindOf(err)
			require.True(t, ok)
			require.Equal(t, tc.kind, kind)
			if tc.expectedErr != "" {
				require.Equal(t, tc.expectedErr, p.ErrorMessage())
			}
			require.Equal(t, tc.compiled, len(b.compiled))

			// Nothing of a failed plan is usable.
			_, err = p.ModuleInformation()
			require.Equal(t, p.Err(), err)
			_, err = p.CompiledFunctions()
			require.Equal(t, p.Err(), err)
		})
	}
}

func TestPlan_Run_Once(t *testing.T) {
	b := &fakeBackend{}
	p := New(binaryencoding.EncodeModule(addModule), b)
	require.NoError(t, p.Run())
	require.NoError(t, p.Run())
	require.Equal(t, 1, len(b.compiled))

	failed := New(header[:4], b)
	err := failed.Run()
	require.Error(t, err)
	require.Equal(t, err, failed.Run())
}

func TestPlan_NotRun(t *testing.T) {
	p := New(header, &fakeBackend{})
	_, err := p.ModuleInformation()
	require.EqualError(t, err, "plan is created")
	_, err = p.CompiledFunctions()
	require.EqualError(t, err, "plan is created")
	require.False(t, p.Failed())
}

func TestPlan_WithValidator(t *testing.T) {
	var validated []wasm.Index
	p := New(binaryencoding.EncodeModule(addModule), &fakeBackend{}, WithValidator(engine.ValidatorFunc(
		func(src *engine.FunctionSource) error {
			validated = append(validated, src.Index)
			return fmt.Errorf("rejected function[%d]", src.Index)
		})))
	require.EqualError(t, p.Run(), "rejected function[0]")
	require.Equal(t, []wasm.Index{0}, validated)
}

func TestPlan_WithOwnedCopy(t *testing.T) {
	source := binaryencoding.EncodeModule(addModule)
	p := New(source, interpreter.NewBackend(), WithOwnedCopy())
	for i := range source {
		source[i] = 0
	}
	require.NoError(t, p.Run())
}

func TestPlan_WithLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := New(binaryencoding.EncodeModule(addModule), &fakeBackend{}, WithLogger(zap.New(core)))
	require.NoError(t, p.Run())

	var transitions []string
	for _, e := range logs.FilterMessage("plan state").All() {
		fields := e.ContextMap()
		require.Equal(t, "fake", fields["backend"])
		transitions = append(transitions, fmt.Sprintf("%s->%s", fields["from"], fields["to"]))
	}
	require.Equal(t, []string{
		"created->parsing",
		"parsing->compiling",
		"compiling->linking",
		"linking->succeeded",
	}, transitions)
	require.Equal(t, 1, logs.FilterMessage("compiled module").Len())
}
