package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// decodeExportSection decodes the exports of the module. Export names must be unique.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#export-section%E2%91%A0
func (p *Parser) decodeExportSection() error {
	count, offset, err := p.decodeCount(SectionIDExport)
	if err != nil {
		return err
	}
	capacity, err := p.reserve(offset, "exports", count, p.limits.MaxExports)
	if err != nil {
		return err
	}
	p.m.Exports = make([]*wasm.Export, 0, capacity)

	names := make(map[string]struct{}, capacity)
	for i := uint32(0); i < count; i++ {
		offset = p.c.Offset()
		exp, err := p.decodeExport(i)
		if err != nil {
			return err
		}
		if _, ok := names[exp.Field]; ok {
			return p.semanticError(offset, "export[%d] duplicates name %q", i, exp.Field)
		}
		names[exp.Field] = struct{}{}
		p.m.Exports = append(p.m.Exports, exp)
	}
	return nil
}

func (p *Parser) decodeExport(i uint32) (exp *wasm.Export, err error) {
	exp = &wasm.Export{}
	if exp.Field, err = p.decodeName("export name"); err != nil {
		return nil, err
	}

	offset := p.c.Offset()
	kind, ok := p.c.ConsumeByte()
	if !ok {
		return nil, p.formatError(offset, "can't get kind of export %d", i)
	}
	switch kind {
	case wasm.ExternalKindFunction, wasm.ExternalKindMemory:
	case wasm.ExternalKindTable, wasm.ExternalKindGlobal:
		return nil, wasm.NewError(wasm.ErrorKindUnsupported, offset, "%s export %q is not supported",
			wasm.ExternalKindName(kind), exp.Field)
	default:
		return nil, p.formatError(offset, "invalid kind %#x of export %d", kind, i)
	}

	offset = p.c.Offset()
	index, ok := p.c.ParseVarUInt32()
	if !ok {
		return nil, p.formatError(offset, "can't get index of export %d", i)
	}

	if kind == wasm.ExternalKindFunction {
		if uint64(index) >= uint64(len(p.m.FunctionIndexSpace)) {
			return nil, p.semanticError(offset, "invalid function index %d of export %q: function index space has %d functions",
				index, exp.Field, len(p.m.FunctionIndexSpace))
		}
		exp.Desc = &wasm.FunctionExport{FunctionIndex: index}
		return exp, nil
	}

	memoryCount := 0
	if p.m.Memory != nil {
		memoryCount = 1
	}
	if int64(index) >= int64(memoryCount) {
		return nil, p.semanticError(offset, "invalid memory index %d of export %q: module has %d memories",
			index, exp.Field, memoryCount)
	}
	exp.Desc = &wasm.MemoryExport{MemoryIndex: index}
	return exp, nil
}
