package binary

// decodeCodeSection fills the byte range of each function declared by the function section. Bodies are not decoded
// here, they are validated and compiled later.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
func (p *Parser) decodeCodeSection() error {
	count, offset, err := p.decodeCount(SectionIDCode)
	if err != nil {
		return err
	}
	if uint64(count) != uint64(len(p.m.Functions)) {
		return p.semanticError(offset, "Code section has %d bodies but Function section declared %d functions",
			count, len(p.m.Functions))
	}

	for i, f := range p.m.Functions {
		offset = p.c.Offset()
		size, ok := p.c.ParseVarUInt32()
		if !ok {
			return p.formatError(offset, "can't get size of function body %d", i)
		}
		if size > p.limits.MaxFunctionSize {
			return p.resourceError(offset, "function body %d of size %d exceeds limit of %d", i, size, p.limits.MaxFunctionSize)
		}
		if uint64(size) > uint64(p.c.Remaining()) {
			return p.formatError(offset, "function body %d of size %d would overflow Module's size", i, size)
		}
		if size == 0 {
			return p.formatError(offset, "function body %d is empty", i)
		}
		f.Start = p.c.Offset()
		f.End = f.Start + int(size)
		p.c.Skip(size)
	}
	p.codeDecoded = true
	return nil
}
