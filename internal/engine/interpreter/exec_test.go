package interpreter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wasmplan/internal/wasm"
)

func TestUnary(t *testing.T) {
	tests := []struct {
		kind     wasm.Opcode
		v        uint64
		expected uint64
	}{
		{kind: wasm.OpcodeI32Eqz, v: 0, expected: 1},
		{kind: wasm.OpcodeI32Eqz, v: 7, expected: 0},
		{kind: wasm.OpcodeI64Eqz, v: 1 << 40, expected: 0},
		{kind: wasm.OpcodeI32Clz, v: 1, expected: 31},
		{kind: wasm.OpcodeI32Clz, v: 0, expected: 32},
		{kind: wasm.OpcodeI32Ctz, v: 0x80000000, expected: 31},
		{kind: wasm.OpcodeI32Popcnt, v: 0xff, expected: 8},
		{kind: wasm.OpcodeI64Clz, v: 1, expected: 63},
		{kind: wasm.OpcodeI64Ctz, v: 0, expected: 64},
		{kind: wasm.OpcodeI64Popcnt, v: math.MaxUint64, expected: 64},
		{kind: wasm.OpcodeF32Abs, v: uint64(math.Float32bits(-1.5)), expected: uint64(math.Float32bits(1.5))},
		{kind: wasm.OpcodeF32Neg, v: uint64(math.Float32bits(1.5)), expected: uint64(math.Float32bits(-1.5))},
		{kind: wasm.OpcodeF32Nearest, v: uint64(math.Float32bits(2.5)), expected: uint64(math.Float32bits(2))},
		{kind: wasm.OpcodeF32Sqrt, v: uint64(math.Float32bits(16)), expected: uint64(math.Float32bits(4))},
		{kind: wasm.OpcodeF64Abs, v: math.Float64bits(-2), expected: math.Float64bits(2)},
		{kind: wasm.OpcodeF64Neg, v: math.Float64bits(0), expected: math.Float64bits(math.Copysign(0, -1))},
		{kind: wasm.OpcodeF64Ceil, v: math.Float64bits(1.1), expected: math.Float64bits(2)},
		{kind: wasm.OpcodeF64Floor, v: math.Float64bits(-1.1), expected: math.Float64bits(-2)},
		{kind: wasm.OpcodeF64Trunc, v: math.Float64bits(-1.9), expected: math.Float64bits(-1)},
		{kind: wasm.OpcodeF64Nearest, v: math.Float64bits(-4.5), expected: math.Float64bits(-4)},
		{kind: wasm.OpcodeI32WrapI64, v: 0x1_0000_0002, expected: 2},
		{kind: wasm.OpcodeI32TruncF64S, v: math.Float64bits(-1.9), expected: 0xffffffff},
		{kind: wasm.OpcodeI32TruncF64U, v: math.Float64bits(4294967295.5), expected: 0xffffffff},
		{kind: wasm.OpcodeI32TruncF32U, v: uint64(math.Float32bits(-0.5)), expected: 0},
		{kind: wasm.OpcodeI64ExtendI32S, v: 0xffffffff, expected: math.MaxUint64},
		{kind: wasm.OpcodeI64ExtendI32U, v: 0xffffffff, expected: 0xffffffff},
		{kind: wasm.OpcodeI64TruncF64S, v: math.Float64bits(-3.7), expected: 0xffff_ffff_ffff_fffd},
		{kind: wasm.OpcodeI64TruncF32U, v: uint64(math.Float32bits(1 << 40)), expected: 1 << 40},
		{kind: wasm.OpcodeF32ConvertI32S, v: 0xffffffff, expected: uint64(math.Float32bits(-1))},
		{kind: wasm.OpcodeF32ConvertI32U, v: 0xffffffff, expected: uint64(math.Float32bits(4294967296))},
		{kind: wasm.OpcodeF64ConvertI64S, v: math.MaxUint64, expected: math.Float64bits(-1)},
		{kind: wasm.OpcodeF64ConvertI32U, v: 0x80000000, expected: math.Float64bits(2147483648)},
		{kind: wasm.OpcodeF32DemoteF64, v: math.Float64bits(0.5), expected: uint64(math.Float32bits(0.5))},
		{kind: wasm.OpcodeF64PromoteF32, v: uint64(math.Float32bits(-0.25)), expected: math.Float64bits(-0.25)},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(wasm.InstructionName(tc.kind), func(t *testing.T) {
			require.Equal(t, tc.expected, unop(tc.kind, tc.v))
		})
	}
}

func TestBinary(t *testing.T) {
	tests := []struct {
		kind     wasm.Opcode
		v1, v2   uint64
		expected uint64
	}{
		{kind: wasm.OpcodeI32LtS, v1: 0xffffffff, v2: 0, expected: 1},
		{kind: wasm.OpcodeI32LtU, v1: 0xffffffff, v2: 0, expected: 0},
		{kind: wasm.OpcodeI32GeU, v1: 3, v2: 3, expected: 1},
		{kind: wasm.OpcodeI64GtS, v1: math.MaxUint64, v2: 1, expected: 0},
		{kind: wasm.OpcodeI64LeU, v1: 1, v2: math.MaxUint64, expected: 1},
		{kind: wasm.OpcodeF32Lt, v1: uint64(math.Float32bits(-1)), v2: uint64(math.Float32bits(1)), expected: 1},
		{kind: wasm.OpcodeF64Ne, v1: math.Float64bits(math.NaN()), v2: math.Float64bits(math.NaN()), expected: 1},
		{kind: wasm.OpcodeF64Eq, v1: math.Float64bits(math.NaN()), v2: math.Float64bits(math.NaN()), expected: 0},
		{kind: wasm.OpcodeF64Ge, v1: math.Float64bits(2), v2: math.Float64bits(2), expected: 1},
		{kind: wasm.OpcodeI32Sub, v1: 0, v2: 1, expected: 0xffffffff},
		{kind: wasm.OpcodeI32Mul, v1: 0x10000, v2: 0x10000, expected: 0},
		{kind: wasm.OpcodeI32DivS, v1: 0xfffffff9 /* -7 */, v2: 2, expected: 0xfffffffd},
		{kind: wasm.OpcodeI32RemS, v1: 0xfffffff9 /* -7 */, v2: 2, expected: 0xffffffff},
		{kind: wasm.OpcodeI32RemS, v1: 0x80000000, v2: 0xffffffff, expected: 0},
		{kind: wasm.OpcodeI32DivU, v1: 0xfffffff9, v2: 2, expected: 0x7ffffffc},
		{kind: wasm.OpcodeI32Shl, v1: 1, v2: 33, expected: 2},
		{kind: wasm.OpcodeI32ShrS, v1: 0x80000000, v2: 31, expected: 0xffffffff},
		{kind: wasm.OpcodeI32ShrU, v1: 0x80000000, v2: 31, expected: 1},
		{kind: wasm.OpcodeI32Rotl, v1: 0x80000000, v2: 1, expected: 1},
		{kind: wasm.OpcodeI32Rotr, v1: 1, v2: 1, expected: 0x80000000},
		{kind: wasm.OpcodeI64Add, v1: math.MaxUint64, v2: 2, expected: 1},
		{kind: wasm.OpcodeI64DivS, v1: math.MaxUint64 /* -1 */, v2: math.MaxUint64, expected: 1},
		{kind: wasm.OpcodeI64RemU, v1: 10, v2: 3, expected: 1},
		{kind: wasm.OpcodeI64Xor, v1: 0xff, v2: 0x0f, expected: 0xf0},
		{kind: wasm.OpcodeI64ShrS, v1: 1 << 63, v2: 127, expected: math.MaxUint64},
		{kind: wasm.OpcodeI64Rotr, v1: 1, v2: 1, expected: 1 << 63},
		{kind: wasm.OpcodeF32Add, v1: uint64(math.Float32bits(1.5)), v2: uint64(math.Float32bits(2)), expected: uint64(math.Float32bits(3.5))},
		{kind: wasm.OpcodeF32Max, v1: uint64(math.Float32bits(-1)), v2: uint64(math.Float32bits(1)), expected: uint64(math.Float32bits(1))},
		{kind: wasm.OpcodeF32Copysign, v1: uint64(math.Float32bits(2)), v2: uint64(math.Float32bits(-1)), expected: uint64(math.Float32bits(-2))},
		{kind: wasm.OpcodeF64Div, v1: math.Float64bits(1), v2: math.Float64bits(0), expected: math.Float64bits(math.Inf(1))},
		{kind: wasm.OpcodeF64Min, v1: math.Float64bits(0), v2: math.Float64bits(math.Copysign(0, -1)), expected: math.Float64bits(math.Copysign(0, -1))},
		{kind: wasm.OpcodeF64Copysign, v1: math.Float64bits(-3), v2: math.Float64bits(1), expected: math.Float64bits(3)},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(wasm.InstructionName(tc.kind), func(t *testing.T) {
			require.Equal(t, tc.expected, binop(tc.kind, tc.v1, tc.v2))
		})
	}

	t.Run("NaN operand of min", func(t *testing.T) {
		v := binop(wasm.OpcodeF32Min, uint64(math.Float32bits(float32(math.NaN()))), uint64(math.Float32bits(1)))
		require.True(t, math.IsNaN(float64(math.Float32frombits(uint32(v)))))
		require.Zero(t, v>>32)
	})
}

func TestNumericTraps(t *testing.T) {
	tests := []struct {
		name        string
		exec        func()
		expectedErr error
	}{
		{
			name:        "i64.div_u by zero",
			exec:        func() { binop(wasm.OpcodeI64DivU, 1, 0) },
			expectedErr: wasm.ErrRuntimeIntegerDivideByZero,
		},
		{
			name:        "i32.rem_u by zero",
			exec:        func() { binop(wasm.OpcodeI32RemU, 1, 0) },
			expectedErr: wasm.ErrRuntimeIntegerDivideByZero,
		},
		{
			name:        "i64.div_s overflow",
			exec:        func() { binop(wasm.OpcodeI64DivS, 1<<63, math.MaxUint64) },
			expectedErr: wasm.ErrRuntimeIntegerOverflow,
		},
		{
			name:        "i32.trunc_f64_s overflow",
			exec:        func() { unop(wasm.OpcodeI32TruncF64S, math.Float64bits(2147483648)) },
			expectedErr: wasm.ErrRuntimeIntegerOverflow,
		},
		{
			name:        "i32.trunc_f32_u negative",
			exec:        func() { unop(wasm.OpcodeI32TruncF32U, uint64(math.Float32bits(-1))) },
			expectedErr: wasm.ErrRuntimeIntegerOverflow,
		},
		{
			name:        "i64.trunc_f64_s max",
			exec:        func() { unop(wasm.OpcodeI64TruncF64S, math.Float64bits(math.MaxInt64)) },
			expectedErr: wasm.ErrRuntimeIntegerOverflow,
		},
		{
			name:        "i64.trunc_f64_u infinity",
			exec:        func() { unop(wasm.OpcodeI64TruncF64U, math.Float64bits(math.Inf(1))) },
			expectedErr: wasm.ErrRuntimeIntegerOverflow,
		},
		{
			name:        "i64.trunc_f32_s NaN",
			exec:        func() { unop(wasm.OpcodeI64TruncF32S, uint64(math.Float32bits(float32(math.NaN())))) },
			expectedErr: wasm.ErrRuntimeInvalidConversionToInteger,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.PanicsWithValue(t, tc.expectedErr, tc.exec)
		})
	}
}
