// Package binaryencoding builds modules in the WebAssembly 1.0 (20191205) Binary Format for tests.
package binaryencoding

import (
	"github.com/tetratelabs/wasmplan/internal/leb128"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// Magic is the 4 byte preamble (literally "\0asm") of the binary format
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// version is the binary format version, unchanged across WebAssembly releases
var version = []byte{0x01, 0x00, 0x00, 0x00}

// Header is Magic followed by the version.
func Header() []byte {
	return append(append([]byte{}, Magic...), version...)
}

// Section ids in canonical order.
const (
	SectionIDCustom byte = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// Import is a function import when Memory is nil, otherwise a memory import.
type Import struct {
	Module, Field  string
	SignatureIndex wasm.Index
	Memory         *wasm.Memory
}

// Export names a definition of Kind at Index.
type Export struct {
	Field string
	Kind  wasm.ExternalKind
	Index wasm.Index
}

// Code is a function body: its locals, in order, and its instructions, which must include the final end.
type Code struct {
	LocalTypes []wasm.ValueType
	Body       []byte
}

// Data is an active segment at an i32.const Offset.
type Data struct {
	Offset int32
	Init   []byte
}

// CustomSection is emitted before all other sections.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the source of EncodeModule. Sections with no entries are omitted.
type Module struct {
	CustomSections []*CustomSection
	Types          []*wasm.Signature
	Imports        []*Import
	Functions      []wasm.Index
	Memory         *wasm.Memory
	Exports        []*Export
	Start          *wasm.Index
	Code           []*Code
	Data           []*Data
}

// EncodeModule implements the WebAssembly 1.0 (20191205) Binary Format for Module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-module
func EncodeModule(m *Module) (bytes []byte) {
	bytes = Header()
	for _, c := range m.CustomSections {
		bytes = append(bytes, EncodeCustomSection(c.Name, c.Data)...)
	}
	if len(m.Types) > 0 {
		var entries [][]byte
		for _, t := range m.Types {
			entries = append(entries, EncodeFunctionType(t))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDType, entries)...)
	}
	if len(m.Imports) > 0 {
		var entries [][]byte
		for _, i := range m.Imports {
			entries = append(entries, encodeImport(i))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDImport, entries)...)
	}
	if len(m.Functions) > 0 {
		var entries [][]byte
		for _, idx := range m.Functions {
			entries = append(entries, leb128.EncodeUint32(idx))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDFunction, entries)...)
	}
	if m.Memory != nil {
		bytes = append(bytes, EncodeVectorSection(SectionIDMemory, [][]byte{EncodeMemory(m.Memory)})...)
	}
	if len(m.Exports) > 0 {
		var entries [][]byte
		for _, e := range m.Exports {
			entries = append(entries, encodeExport(e))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDExport, entries)...)
	}
	if m.Start != nil {
		bytes = append(bytes, EncodeSection(SectionIDStart, leb128.EncodeUint32(*m.Start))...)
	}
	if len(m.Code) > 0 {
		var entries [][]byte
		for _, c := range m.Code {
			entries = append(entries, EncodeCode(c))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDCode, entries)...)
	}
	if len(m.Data) > 0 {
		var entries [][]byte
		for _, d := range m.Data {
			entries = append(entries, encodeDataSegment(d))
		}
		bytes = append(bytes, EncodeVectorSection(SectionIDData, entries)...)
	}
	return
}

// EncodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func EncodeSection(sectionID byte, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

// EncodeVectorSection encodes a section whose contents are a count followed by entries.
func EncodeVectorSection(sectionID byte, entries [][]byte) []byte {
	contents := leb128.EncodeUint32(uint32(len(entries)))
	for _, e := range entries {
		contents = append(contents, e...)
	}
	return EncodeSection(sectionID, contents)
}

// EncodeCustomSection encodes a custom section with the given name.
func EncodeCustomSection(name string, data []byte) []byte {
	return EncodeSection(SectionIDCustom, append(encodeSizePrefixed([]byte(name)), data...))
}

func encodeImport(i *Import) []byte {
	data := append(encodeSizePrefixed([]byte(i.Module)), encodeSizePrefixed([]byte(i.Field))...)
	if i.Memory != nil {
		data = append(data, wasm.ExternalKindMemory)
		return append(data, EncodeMemory(i.Memory)...)
	}
	data = append(data, wasm.ExternalKindFunction)
	return append(data, leb128.EncodeUint32(i.SignatureIndex)...)
}

func encodeExport(e *Export) []byte {
	data := append(encodeSizePrefixed([]byte(e.Field)), e.Kind)
	return append(data, leb128.EncodeUint32(e.Index)...)
}

func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}
