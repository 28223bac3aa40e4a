package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota // don't add anything not in https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
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

	// sectionIDUnknown is any id this parser skips: custom sections and the ids above SectionIDData.
	sectionIDUnknown SectionID = 0xff
)

// SectionIDName returns the canonical name of a module section.
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDType:
		return "Type"
	case SectionIDImport:
		return "Import"
	case SectionIDFunction:
		return "Function"
	case SectionIDTable:
		return "Table"
	case SectionIDMemory:
		return "Memory"
	case SectionIDGlobal:
		return "Global"
	case SectionIDExport:
		return "Export"
	case SectionIDStart:
		return "Start"
	case SectionIDElement:
		return "Element"
	case SectionIDCode:
		return "Code"
	case SectionIDData:
		return "Data"
	}
	return "Unknown"
}

// sectionFromByte maps a section byte to a known section, or sectionIDUnknown for zero and ids with no meaning in
// WebAssembly 1.0 (20191205).
func sectionFromByte(b byte) SectionID {
	if b >= SectionIDType && b <= SectionIDData {
		return b
	}
	return sectionIDUnknown
}

// validateOrder returns true if next may follow previous, the last known section parsed. Known section ids are
// already in canonical order, so each must be strictly greater than the one before it. Unknown sections are allowed
// anywhere.
func validateOrder(previous, next SectionID) bool {
	if next == sectionIDUnknown || previous == sectionIDUnknown {
		return true
	}
	return next > previous
}

// decodeUnsupportedSection fails gracefully for sections that describe tables and globals.
func (p *Parser) decodeUnsupportedSection(id SectionID, offset int) error {
	return wasm.NewError(wasm.ErrorKindUnsupported, offset, "%s section is not supported", SectionIDName(id))
}

// decodeStartSection records the start function, which must take no arguments and return nothing.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-section%E2%91%A0
func (p *Parser) decodeStartSection() error {
	offset := p.c.Offset()
	index, ok := p.c.ParseVarUInt32()
	if !ok {
		return p.formatError(offset, "can't get Start section's function index")
	}
	sig, ok := p.m.FunctionSignature(index)
	if !ok {
		return p.semanticError(offset, "invalid start function index %d: function index space has %d functions",
			index, len(p.m.FunctionIndexSpace))
	}
	if len(sig.Params) != 0 {
		return p.semanticError(offset, "start function must take no arguments, but %d takes %s", index, sig)
	}
	if sig.Result != wasm.ValueTypeVoid {
		return p.semanticError(offset, "start function must not return a value, but %d returns %s",
			index, wasm.ValueTypeName(sig.Result))
	}
	p.m.StartFunction = &index
	return nil
}

func (p *Parser) formatError(offset int, format string, args ...interface{}) error {
	return wasm.NewError(wasm.ErrorKindFormat, offset, format, args...)
}

func (p *Parser) resourceError(offset int, format string, args ...interface{}) error {
	return wasm.NewError(wasm.ErrorKindResource, offset, format, args...)
}

func (p *Parser) semanticError(offset int, format string, args ...interface{}) error {
	return wasm.NewError(wasm.ErrorKindSemantic, offset, format, args...)
}

// reserve checks a declared count against its limit before anything is allocated for it, and returns the capacity to
// allocate: never more than one entry per remaining byte, as each entry takes at least one.
func (p *Parser) reserve(offset int, what string, count, limit uint32) (int, error) {
	if count == ^uint32(0) || count > limit {
		return 0, p.resourceError(offset, "failed reserving space for %d %s: limit is %d", count, what, limit)
	}
	if remaining := p.c.Remaining(); int64(count) > int64(remaining) {
		return remaining, nil
	}
	return int(count), nil
}

// decodeCount reads the leading entry count of a vector section.
func (p *Parser) decodeCount(id SectionID) (uint32, int, error) {
	offset := p.c.Offset()
	count, ok := p.c.ParseVarUInt32()
	if !ok {
		return 0, offset, p.formatError(offset, "can't get %s section's count", SectionIDName(id))
	}
	return count, offset, nil
}

// decodeName reads a length-prefixed UTF-8 string, described by what for errors.
func (p *Parser) decodeName(what string) (string, error) {
	offset := p.c.Offset()
	size, ok := p.c.ParseVarUInt32()
	if !ok {
		return "", p.formatError(offset, "can't get %s length", what)
	}
	if size > p.limits.MaxStringSize {
		return "", p.resourceError(offset, "%s of %d bytes exceeds limit of %d", what, size, p.limits.MaxStringSize)
	}
	name, ok := p.c.ConsumeUTF8String(size)
	if !ok {
		return "", p.formatError(p.c.Offset(), "can't get %s of %d bytes as UTF-8", what, size)
	}
	return name, nil
}
