package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// decodeMemorySection decodes the memory defined by the module, if any.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
func (p *Parser) decodeMemorySection() error {
	count, offset, err := p.decodeCount(SectionIDMemory)
	if err != nil {
		return err
	}
	switch count {
	case 0:
		return nil
	case 1:
		_, err = p.decodeMemory(false)
		return err
	}
	return wasm.NewError(wasm.ErrorKindUnsupported, offset, "at most one memory allowed in module, but read %d", count)
}

// decodeMemory decodes memory limits, from either the import or the memory section, and records them as the only
// memory of the module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func (p *Parser) decodeMemory(isImport bool) (*wasm.Memory, error) {
	offset := p.c.Offset()
	if p.m.Memory != nil {
		return nil, p.semanticError(offset, "memory redeclared: a module may import or define at most one memory")
	}

	flags, ok := p.c.ParseVarUInt1()
	if !ok {
		return nil, p.formatError(offset, "can't get memory flags: must be 0 or 1")
	}

	var err error
	mem := &wasm.Memory{IsImport: isImport}
	if mem.Initial, err = p.decodePageCount("initial"); err != nil {
		return nil, err
	}
	if flags == 1 {
		mem.HasMaximum = true
		if mem.Maximum, err = p.decodePageCount("maximum"); err != nil {
			return nil, err
		}
		if mem.Initial > mem.Maximum {
			return nil, p.semanticError(offset, "min %d pages (%s) > max %d pages (%s)",
				mem.Initial, wasm.PagesToUnitOfBytes(mem.Initial), mem.Maximum, wasm.PagesToUnitOfBytes(mem.Maximum))
		}
	}
	p.m.Memory = mem
	return mem, nil
}

func (p *Parser) decodePageCount(what string) (uint32, error) {
	offset := p.c.Offset()
	pages, ok := p.c.ParseVarUInt32()
	if !ok {
		return 0, p.formatError(offset, "can't get %s page count of memory", what)
	}
	if pages > wasm.MemoryLimitPages {
		return 0, p.semanticError(offset, "%s %d pages (%s) outside range of %d pages (%s)", what,
			pages, wasm.PagesToUnitOfBytes(pages), wasm.MemoryLimitPages, wasm.PagesToUnitOfBytes(wasm.MemoryLimitPages))
	}
	return pages, nil
}
