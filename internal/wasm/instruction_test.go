package wasm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wasmplan/internal/cursor"
)

func TestInstructionName(t *testing.T) {
	require.Equal(t, "i32.add", InstructionName(OpcodeI32Add))
	require.Equal(t, "f64.reinterpret_i64", InstructionName(OpcodeF64ReinterpretI64))
	require.Equal(t, "unknown(0xff)", InstructionName(0xff))
}

func TestDecodeInstruction(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected Instruction
	}{
		{
			name:     "nop",
			input:    []byte{OpcodeNop},
			expected: Instruction{Opcode: OpcodeNop},
		},
		{
			name:     "block",
			input:    []byte{OpcodeBlock, ValueTypeI64},
			expected: Instruction{Opcode: OpcodeBlock, BlockType: ValueTypeI64},
		},
		{
			name:     "call",
			input:    []byte{OpcodeCall, 0x80, 0x01},
			expected: Instruction{Opcode: OpcodeCall, Index: 128},
		},
		{
			name:     "br_table",
			input:    []byte{OpcodeBrTable, 0x02, 0x00, 0x01, 0x02},
			expected: Instruction{Opcode: OpcodeBrTable, Labels: []uint32{0, 1}, Default: 2},
		},
		{
			name:     "i32.const negative",
			input:    []byte{OpcodeI32Const, 0x7f},
			expected: Instruction{Opcode: OpcodeI32Const, Const: math.MaxUint64},
		},
		{
			name:     "i64.const",
			input:    []byte{OpcodeI64Const, 0x80, 0x01},
			expected: Instruction{Opcode: OpcodeI64Const, Const: 128},
		},
		{
			name:     "f32.const",
			input:    []byte{OpcodeF32Const, 0x00, 0x00, 0x80, 0x3f},
			expected: Instruction{Opcode: OpcodeF32Const, Const: uint64(math.Float32bits(1))},
		},
		{
			name:     "f64.const",
			input:    []byte{OpcodeF64Const, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f},
			expected: Instruction{Opcode: OpcodeF64Const, Const: math.Float64bits(1)},
		},
		{
			name:     "i64.load",
			input:    []byte{OpcodeI64Load, 0x03, 0x10},
			expected: Instruction{Opcode: OpcodeI64Load, Align: 3, MemOffset: 16},
		},
		{
			name:     "memory.grow",
			input:    []byte{OpcodeMemoryGrow, 0x00},
			expected: Instruction{Opcode: OpcodeMemoryGrow},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			c := cursor.New(tc.input)
			in, err := DecodeInstruction(c)
			require.NoError(t, err)
			require.Equal(t, tc.expected, in)
			require.True(t, c.AtEnd())
		})
	}
}

func TestDecodeInstruction_Errors(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		expectedErr string
	}{
		{name: "empty", input: nil, expectedErr: "unexpected end of function body"},
		{name: "reserved opcode", input: []byte{0x06}, expectedErr: "unsupported opcode 0x6"},
		{name: "br_table too many labels", input: []byte{OpcodeBrTable, 0x05, 0x00}, expectedErr: "br_table label count 5 exceeds the function body"},
		{name: "memory.size reserved byte", input: []byte{OpcodeMemorySize, 0x01}, expectedErr: "memory.size reserved byte must be zero"},
		{name: "truncated memarg", input: []byte{OpcodeI32Store, 0x02}, expectedErr: "couldn't read offset of i32.store"},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInstruction(cursor.New(tc.input))
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestDecodeLocals(t *testing.T) {
	c := cursor.New([]byte{0x02, 0x01, ValueTypeF32, 0x02, ValueTypeI32, OpcodeEnd})
	locals, err := DecodeLocals(c, 10)
	require.NoError(t, err)
	require.Equal(t, []ValueType{ValueTypeF32, ValueTypeI32, ValueTypeI32}, locals)
	require.Equal(t, 5, c.Offset())

	_, err = DecodeLocals(cursor.New([]byte{0x01, 0x01, ValueTypeVoid}), 10)
	require.EqualError(t, err, "invalid local type 0x40")
}

func TestMemoryAccessSize(t *testing.T) {
	require.Equal(t, uint32(1), MemoryAccessSize(OpcodeI64Load8U))
	require.Equal(t, uint32(2), MemoryAccessSize(OpcodeI32Store16))
	require.Equal(t, uint32(4), MemoryAccessSize(OpcodeF32Load))
	require.Equal(t, uint32(8), MemoryAccessSize(OpcodeF64Store))
	require.Equal(t, uint32(0), MemoryAccessSize(OpcodeI32Add))
}
