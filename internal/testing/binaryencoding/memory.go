package binaryencoding

import (
	"github.com/tetratelabs/wasmplan/internal/leb128"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// EncodeMemory returns the wasm.Memory limits encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func EncodeMemory(m *wasm.Memory) []byte {
	if !m.HasMaximum {
		return append([]byte{0x00}, leb128.EncodeUint32(m.Initial)...)
	}
	return append(append([]byte{0x01}, leb128.EncodeUint32(m.Initial)...), leb128.EncodeUint32(m.Maximum)...)
}

func encodeDataSegment(d *Data) (ret []byte) {
	ret = append(ret, 0x00) // memory index
	ret = append(ret, wasm.OpcodeI32Const)
	ret = append(ret, leb128.EncodeInt32(d.Offset)...)
	ret = append(ret, wasm.OpcodeEnd)
	ret = append(ret, leb128.EncodeUint32(uint32(len(d.Init)))...)
	return append(ret, d.Init...)
}
