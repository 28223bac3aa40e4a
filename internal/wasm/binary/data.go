package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// decodeDataSection decodes segments copied into memory at instantiation. Only memory index zero and an offset of the
// form "i32.const N end" are supported.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
func (p *Parser) decodeDataSection() error {
	count, offset, err := p.decodeCount(SectionIDData)
	if err != nil {
		return err
	}
	capacity, err := p.reserve(offset, "data segments", count, p.limits.MaxDataSegments)
	if err != nil {
		return err
	}
	p.m.Data = make([]*wasm.DataSegment, 0, capacity)

	for i := uint32(0); i < count; i++ {
		d, err := p.decodeDataSegment(i)
		if err != nil {
			return err
		}
		p.m.Data = append(p.m.Data, d)
	}
	return nil
}

func (p *Parser) decodeDataSegment(i uint32) (*wasm.DataSegment, error) {
	offset := p.c.Offset()
	index, ok := p.c.ParseVarUInt32()
	if !ok {
		return nil, p.formatError(offset, "can't get memory index of data segment %d", i)
	}
	if index != 0 {
		return nil, p.semanticError(offset, "invalid memory index %d of data segment %d: must be 0", index, i)
	}
	if p.m.Memory == nil {
		return nil, p.semanticError(offset, "data segment %d requires a memory", i)
	}

	offset = p.c.Offset()
	if op, ok := p.c.ConsumeByte(); !ok || op != wasm.OpcodeI32Const {
		return nil, p.semanticError(offset, "offset of data segment %d must be an i32.const expression", i)
	}
	v, ok := p.c.ParseVarInt32()
	if !ok {
		return nil, p.formatError(p.c.Offset(), "can't get i32.const offset of data segment %d", i)
	}
	offset = p.c.Offset()
	if end, ok := p.c.ConsumeByte(); !ok || end != wasm.OpcodeEnd {
		return nil, p.semanticError(offset, "offset of data segment %d must end after i32.const", i)
	}

	offset = p.c.Offset()
	size, ok := p.c.ParseVarUInt32()
	if !ok {
		return nil, p.formatError(offset, "can't get size of data segment %d", i)
	}
	init, ok := p.c.ConsumeBytes(size)
	if !ok {
		return nil, p.formatError(offset, "data segment %d of size %d would overflow Module's size", i, size)
	}

	// Init must not alias the source buffer.
	return &wasm.DataSegment{Offset: uint32(v), Init: append([]byte(nil), init...)}, nil
}
