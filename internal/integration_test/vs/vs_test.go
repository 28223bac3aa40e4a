package vs

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wasmplan"
	"github.com/tetratelabs/wasmplan/internal/testing/binaryencoding"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

var (
	i64_i64 = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI64}, Result: wasm.ValueTypeI64}
	i32_i32 = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI32}, Result: wasm.ValueTypeI32}
	i32i32  = &wasm.Signature{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Result: wasm.ValueTypeI32}
	v_v     = &wasm.Signature{Result: wasm.ValueTypeVoid}
)

// facWasm exports "fac", a recursive factorial of an i64 which wraps on overflow.
var facWasm = binaryencoding.EncodeModule(&binaryencoding.Module{
	Types:     []*wasm.Signature{i64_i64},
	Functions: []wasm.Index{0},
	Exports:   []*binaryencoding.Export{{Field: "fac", Kind: wasm.ExternalKindFunction, Index: 0}},
	Code: []*binaryencoding.Code{{Body: []byte{
		wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Const, 1, wasm.OpcodeI64LtS,
		wasm.OpcodeIf, wasm.ValueTypeI64,
		wasm.OpcodeI64Const, 1,
		wasm.OpcodeElse,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Const, 1, wasm.OpcodeI64Sub,
		wasm.OpcodeCall, 0,
		wasm.OpcodeI64Mul,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	}}},
})

// arithWasm exports functions which trap on some inputs, and a memory of one page whose word at 8 is 0x04030201.
var arithWasm = binaryencoding.EncodeModule(&binaryencoding.Module{
	Types:     []*wasm.Signature{i32i32, i32_i32, v_v},
	Functions: []wasm.Index{0, 0, 1, 2},
	Memory:    &wasm.Memory{Initial: 1},
	Exports: []*binaryencoding.Export{
		{Field: "div_s", Kind: wasm.ExternalKindFunction, Index: 0},
		{Field: "rem_u", Kind: wasm.ExternalKindFunction, Index: 1},
		{Field: "load", Kind: wasm.ExternalKindFunction, Index: 2},
		{Field: "unreachable", Kind: wasm.ExternalKindFunction, Index: 3},
	},
	Code: []*binaryencoding.Code{
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32DivS, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32RemU, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}},
	},
	Data: []*binaryencoding.Data{{Offset: 8, Init: []byte{1, 2, 3, 4}}},
})

func i32(v int32) uint64 {
	return uint64(uint32(v))
}

func TestFac(t *testing.T) {
	const in = 30
	expValue := uint64(0x865df5dd54000000)

	for _, name := range RuntimeNames() {
		rt := NewRuntime(name)
		t.Run(rt.Name(), func(t *testing.T) {
			m, err := rt.Instantiate(testCtx, facWasm)
			require.NoError(t, err)
			defer m.Close()

			for i := 0; i < 100; i++ {
				results, err := m.Call(testCtx, "fac", in)
				require.NoError(t, err)
				require.Equal(t, []uint64{expValue}, results)
			}
		})
	}
}

func TestCall(t *testing.T) {
	tests := []struct {
		name            string
		funcName        string
		params          []uint64
		expectedResults []uint64
		expectTrap      bool
	}{
		{name: "div_s", funcName: "div_s", params: []uint64{7, 2}, expectedResults: []uint64{3}},
		{name: "div_s negative", funcName: "div_s", params: []uint64{i32(-7), 2}, expectedResults: []uint64{i32(-3)}},
		{name: "div_s by zero", funcName: "div_s", params: []uint64{1, 0}, expectTrap: true},
		{name: "div_s overflow", funcName: "div_s", params: []uint64{i32(math.MinInt32), i32(-1)}, expectTrap: true},
		{name: "rem_u", funcName: "rem_u", params: []uint64{i32(-1), 10}, expectedResults: []uint64{5}},
		{name: "rem_u by zero", funcName: "rem_u", params: []uint64{1, 0}, expectTrap: true},
		{name: "load data", funcName: "load", params: []uint64{8}, expectedResults: []uint64{0x04030201}},
		{name: "load zeroed", funcName: "load", params: []uint64{0}, expectedResults: []uint64{0}},
		{name: "load last word", funcName: "load", params: []uint64{uint64(wasm.MemoryPageSize) - 4}, expectedResults: []uint64{0}},
		{name: "load out of bounds", funcName: "load", params: []uint64{uint64(wasm.MemoryPageSize) - 3}, expectTrap: true},
		{name: "unreachable", funcName: "unreachable", expectTrap: true},
	}

	for _, name := range RuntimeNames() {
		rt := NewRuntime(name)
		t.Run(rt.Name(), func(t *testing.T) {
			m, err := rt.Instantiate(testCtx, arithWasm)
			require.NoError(t, err)
			defer m.Close()

			for _, tt := range tests {
				tc := tt
				t.Run(tc.name, func(t *testing.T) {
					results, err := m.Call(testCtx, tc.funcName, tc.params...)
					if tc.expectTrap {
						require.Error(t, err)
						return
					}
					require.NoError(t, err)
					require.Equal(t, tc.expectedResults, results)
				})
			}
		})
	}
}

// TestValidate ensures wasmplan rejects exactly the modules the other validating runtimes reject.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		module  *binaryencoding.Module
		source  []byte
		invalid bool
	}{
		{name: "fac", source: facWasm},
		{name: "arith", source: arithWasm},
		{name: "empty", module: &binaryencoding.Module{}},
		{name: "bad magic", source: []byte("\x00wasm\x01\x00\x00\x00"), invalid: true},
		{name: "bad version", source: []byte("\x00asm\x02\x00\x00\x00"), invalid: true},
		{name: "truncated", source: facWasm[:len(facWasm)-1], invalid: true},
		{
			name: "result type mismatch",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i64_i64},
				Functions: []wasm.Index{0},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeI32Const, 0, wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "operand type mismatch",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i32_i32},
				Functions: []wasm.Index{0},
				Code: []*binaryencoding.Code{{Body: []byte{
					wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
				}}},
			},
			invalid: true,
		},
		{
			name: "unknown local",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i32_i32},
				Functions: []wasm.Index{0},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeLocalGet, 1, wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "declared locals",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i32_i32},
				Functions: []wasm.Index{0},
				Code: []*binaryencoding.Code{{
					LocalTypes: []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI32},
					Body:       []byte{wasm.OpcodeLocalGet, 2, wasm.OpcodeEnd},
				}},
			},
		},
		{
			name: "call unknown function",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Functions: []wasm.Index{0},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "load without memory",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i32_i32},
				Functions: []wasm.Index{0},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "unknown type",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Functions: []wasm.Index{1},
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "functions without bodies",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Functions: []wasm.Index{0},
			},
			invalid: true,
		},
		{
			name:    "memory minimum over maximum",
			module:  &binaryencoding.Module{Memory: &wasm.Memory{Initial: 2, Maximum: 1, HasMaximum: true}},
			invalid: true,
		},
		{
			name: "duplicate export",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{v_v},
				Functions: []wasm.Index{0},
				Exports: []*binaryencoding.Export{
					{Field: "f", Kind: wasm.ExternalKindFunction, Index: 0},
					{Field: "f", Kind: wasm.ExternalKindFunction, Index: 0},
				},
				Code: []*binaryencoding.Code{{Body: []byte{wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name: "export unknown function",
			module: &binaryencoding.Module{
				Exports: []*binaryencoding.Export{{Field: "f", Kind: wasm.ExternalKindFunction, Index: 0}},
			},
			invalid: true,
		},
		{
			name: "start with params",
			module: &binaryencoding.Module{
				Types:     []*wasm.Signature{i32_i32},
				Functions: []wasm.Index{0},
				Start:     new(wasm.Index),
				Code:      []*binaryencoding.Code{{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}}},
			},
			invalid: true,
		},
		{
			name:    "data without memory",
			module:  &binaryencoding.Module{Data: []*binaryencoding.Data{{Offset: 0, Init: []byte{1}}}},
			invalid: true,
		},
	}

	for _, tt := range tests {
		tc := tt
		source := tc.source
		if source == nil {
			source = binaryencoding.EncodeModule(tc.module)
		}
		t.Run(tc.name, func(t *testing.T) {
			for _, name := range RuntimeNames() {
				v, ok := NewRuntime(name).(Validator)
				if !ok {
					continue
				}
				err := v.Validate(source)
				if tc.invalid {
					require.Error(t, err, name)
				} else {
					require.NoError(t, err, name)
				}
			}
		})
	}
}

// TestValidate_Unsupported ensures modules wasmplan rejects as unsupported are otherwise valid.
func TestValidate_Unsupported(t *testing.T) {
	// A table of one funcref.
	tableSection := binaryencoding.EncodeSection(binaryencoding.SectionIDTable, []byte{1, 0x70, 0, 1})
	source := append(binaryencoding.Header(), tableSection...)

	for _, name := range RuntimeNames() {
		v, ok := NewRuntime(name).(Validator)
		if !ok {
			continue
		}
		err := v.Validate(source)
		if name == "wasmplan" {
			require.ErrorIs(t, err, &wasmplan.Error{Kind: wasmplan.ErrorKindUnsupported})
		} else {
			require.NoError(t, err, name)
		}
	}
}
