package binaryencoding

import (
	"github.com/tetratelabs/wasmplan/internal/leb128"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// EncodeCode returns the Code encoded in WebAssembly 1.0 (20191205) Binary Format, including its size prefix.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func EncodeCode(c *Code) []byte {
	code := append(EncodeLocals(c.LocalTypes), c.Body...)
	return append(leb128.EncodeUint32(uint32(len(code))), code...)
}

// EncodeLocals groups consecutive locals of the same type, preserving index order.
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
func EncodeLocals(localTypes []wasm.ValueType) []byte {
	var groups []byte
	count := uint32(0)
	for i := 0; i < len(localTypes); {
		vt := localTypes[i]
		run := 1
		for i+run < len(localTypes) && localTypes[i+run] == vt {
			run++
		}
		groups = append(groups, leb128.EncodeUint32(uint32(run))...)
		groups = append(groups, vt)
		count++
		i += run
	}
	return append(leb128.EncodeUint32(count), groups...)
}
