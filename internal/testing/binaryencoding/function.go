package binaryencoding

import (
	"github.com/tetratelabs/wasmplan/internal/leb128"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// EncodeFunctionType returns the wasm.Signature encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// Note: Function types are encoded by the byte 0x60 followed by the respective vectors of parameter and result types.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A4
func EncodeFunctionType(t *wasm.Signature) []byte {
	data := append([]byte{0x60}, leb128.EncodeUint32(uint32(len(t.Params)))...)
	data = append(data, t.Params...)
	if t.Result == wasm.ValueTypeVoid {
		return append(data, 0)
	}
	return append(data, 1, t.Result)
}
