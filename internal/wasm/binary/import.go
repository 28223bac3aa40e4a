package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// decodeImportSection decodes the imports of the module. Function imports take the low indices of the function index
// space, in declaration order.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
func (p *Parser) decodeImportSection() error {
	count, offset, err := p.decodeCount(SectionIDImport)
	if err != nil {
		return err
	}
	capacity, err := p.reserve(offset, "imports", count, p.limits.MaxImports)
	if err != nil {
		return err
	}
	p.m.Imports = make([]*wasm.Import, 0, capacity)

	for i := uint32(0); i < count; i++ {
		imp, err := p.decodeImport(i)
		if err != nil {
			return err
		}
		p.m.Imports = append(p.m.Imports, imp)
	}
	return nil
}

func (p *Parser) decodeImport(i uint32) (imp *wasm.Import, err error) {
	imp = &wasm.Import{}
	if imp.Module, err = p.decodeName("import module name"); err != nil {
		return nil, err
	}
	if imp.Field, err = p.decodeName("import field name"); err != nil {
		return nil, err
	}

	offset := p.c.Offset()
	kind, ok := p.c.ConsumeByte()
	if !ok {
		return nil, p.formatError(offset, "can't get kind of import %d", i)
	}

	switch kind {
	case wasm.ExternalKindFunction:
		sigOffset := p.c.Offset()
		index, ok := p.c.ParseVarUInt32()
		if !ok {
			return nil, p.formatError(sigOffset, "can't get signature index of import %d", i)
		}
		if uint64(index) >= uint64(len(p.m.Signatures)) {
			return nil, p.semanticError(sigOffset, "invalid signature index %d of import %d: only %d signatures",
				index, i, len(p.m.Signatures))
		}
		fn := &wasm.FunctionImport{
			SignatureIndex: index,
			Signature:      p.m.Signatures[index],
			FunctionIndex:  wasm.Index(len(p.m.ImportFunctions)),
		}
		p.m.ImportFunctions = append(p.m.ImportFunctions, fn)
		p.m.FunctionIndexSpace = append(p.m.FunctionIndexSpace, fn.Signature)
		imp.Desc = fn
	case wasm.ExternalKindMemory:
		mem, err := p.decodeMemory(true)
		if err != nil {
			return nil, err
		}
		imp.Desc = &wasm.MemoryImport{Memory: *mem}
	case wasm.ExternalKindTable, wasm.ExternalKindGlobal:
		return nil, wasm.NewError(wasm.ErrorKindUnsupported, offset, "%s import %s.%s is not supported",
			wasm.ExternalKindName(kind), imp.Module, imp.Field)
	default:
		return nil, p.formatError(offset, "invalid kind %#x of import %d", kind, i)
	}
	return imp, nil
}
