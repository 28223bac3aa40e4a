package wasm

import "fmt"

// ImportDesc is the kind-specific part of an Import. The arms are *FunctionImport, *TableImport, *MemoryImport and
// *GlobalImport.
type ImportDesc interface {
	Kind() ExternalKind
	isImportDesc()
}

// FunctionImport is an imported function, which occupies FunctionIndex in the function index space.
type FunctionImport struct {
	SignatureIndex Index
	Signature      *Signature
	FunctionIndex  Index
}

// TableImport is recognized by kind only. Tables are not supported.
type TableImport struct{}

// MemoryImport carries the imported memory's limits.
type MemoryImport struct {
	Memory Memory
}

// GlobalImport is recognized by kind only. Globals are not supported.
type GlobalImport struct{}

func (*FunctionImport) Kind() ExternalKind { return ExternalKindFunction }
func (*TableImport) Kind() ExternalKind    { return ExternalKindTable }
func (*MemoryImport) Kind() ExternalKind   { return ExternalKindMemory }
func (*GlobalImport) Kind() ExternalKind   { return ExternalKindGlobal }

func (*FunctionImport) isImportDesc() {}
func (*TableImport) isImportDesc()    {}
func (*MemoryImport) isImportDesc()   {}
func (*GlobalImport) isImportDesc()   {}

// Import is the binary representation of an import indicated by Desc
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	// Module is the possibly empty primary namespace of this import
	Module string
	// Field is the possibly empty secondary namespace of this import
	Field string
	Desc  ImportDesc
}

// String implements fmt.Stringer, ex. "env.log (func)".
func (i *Import) String() string {
	return fmt.Sprintf("%s.%s (%s)", i.Module, i.Field, ExternalKindName(i.Desc.Kind()))
}

// ExportDesc is the kind-specific part of an Export. The arms are *FunctionExport, *TableExport, *MemoryExport and
// *GlobalExport.
type ExportDesc interface {
	Kind() ExternalKind
	isExportDesc()
}

// FunctionExport exports the function at FunctionIndex in the function index space.
type FunctionExport struct {
	FunctionIndex Index
}

// TableExport is recognized by kind only. Tables are not supported.
type TableExport struct{}

// MemoryExport exports the memory at MemoryIndex, which is always zero in a valid module.
type MemoryExport struct {
	MemoryIndex Index
}

// GlobalExport is recognized by kind only. Globals are not supported.
type GlobalExport struct{}

func (*FunctionExport) Kind() ExternalKind { return ExternalKindFunction }
func (*TableExport) Kind() ExternalKind    { return ExternalKindTable }
func (*MemoryExport) Kind() ExternalKind   { return ExternalKindMemory }
func (*GlobalExport) Kind() ExternalKind   { return ExternalKindGlobal }

func (*FunctionExport) isExportDesc() {}
func (*TableExport) isExportDesc()    {}
func (*MemoryExport) isExportDesc()   {}
func (*GlobalExport) isExportDesc()   {}

// Export is the binary representation of an export indicated by Desc
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	// Field is what the host refers to this definition as.
	Field string
	Desc  ExportDesc
}

// DataSegment is an active segment copied into memory index zero at Offset when a module is instantiated.
//
// Init is owned by the segment, it does not alias the module buffer.
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// FunctionInformation describes a function defined by the module.
//
// The function section declares it with a signature and a zero-length range. The code section later fills Start and
// End, which are offsets of the body, after its size prefix, in the module buffer.
type FunctionInformation struct {
	SignatureIndex Index
	Signature      *Signature
	Start, End     int
}

// Filled returns true once the code section recorded a body for this function.
func (f *FunctionInformation) Filled() bool {
	return f.End > f.Start
}

// ModuleInformation is what a module parser produces and a compilation plan consumes.
//
// Function bodies are not copied: FunctionInformation holds offsets into the buffer the module was parsed from, so
// that buffer must outlive the ModuleInformation.
type ModuleInformation struct {
	// Signatures is the type section, in declaration order.
	Signatures []*Signature

	// Imports is the import section, in declaration order.
	Imports []*Import

	// ImportFunctions holds only the function imports, in declaration order. Entry i is function index i.
	ImportFunctions []*FunctionImport

	// Functions holds the functions defined by this module, in declaration order. Entry i is function index
	// len(ImportFunctions)+i.
	Functions []*FunctionInformation

	// FunctionIndexSpace is the signature of every function, imported first.
	FunctionIndexSpace []*Signature

	// Memory is nil when the module neither imports nor defines a memory.
	Memory *Memory

	Exports []*Export

	Data []*DataSegment

	// StartFunction is nil unless the module has a start section.
	StartFunction *Index
}

// NumImportFunctions is the count of imported functions.
func (m *ModuleInformation) NumImportFunctions() int {
	return len(m.ImportFunctions)
}

// NumFunctions is the count of functions defined by the module, which excludes imports.
func (m *ModuleInformation) NumFunctions() int {
	return len(m.Functions)
}

// FunctionSignature returns the signature of the function at index in the function index space.
func (m *ModuleInformation) FunctionSignature(index Index) (*Signature, bool) {
	if uint64(index) >= uint64(len(m.FunctionIndexSpace)) {
		return nil, false
	}
	return m.FunctionIndexSpace[index], true
}

// FunctionBody returns the body of the i-th defined function as a sub-slice of source, which must be the buffer the
// module was parsed from.
func (m *ModuleInformation) FunctionBody(source []byte, i int) []byte {
	f := m.Functions[i]
	return source[f.Start:f.End:f.End]
}

// ExportedFunction returns the function index exported under name.
func (m *ModuleInformation) ExportedFunction(name string) (Index, bool) {
	for _, e := range m.Exports {
		if e.Field != name {
			continue
		}
		if fe, ok := e.Desc.(*FunctionExport); ok {
			return fe.FunctionIndex, true
		}
	}
	return 0, false
}
