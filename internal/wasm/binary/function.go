package binary

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// funcForm is the type constructor of a function type, 0x60, read as a signed 7-bit integer.
const funcForm = -0x20

// decodeTypeSection decodes the function types of the module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#type-section%E2%91%A0
func (p *Parser) decodeTypeSection() error {
	count, offset, err := p.decodeCount(SectionIDType)
	if err != nil {
		return err
	}
	capacity, err := p.reserve(offset, "signatures", count, p.limits.MaxTypes)
	if err != nil {
		return err
	}
	p.m.Signatures = make([]*wasm.Signature, 0, capacity)

	for i := uint32(0); i < count; i++ {
		sig, err := p.decodeFunctionType(i)
		if err != nil {
			return err
		}
		p.m.Signatures = append(p.m.Signatures, sig)
	}
	return nil
}

// decodeFunctionType decodes the i-th signature of the type section.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-functype
func (p *Parser) decodeFunctionType(i uint32) (*wasm.Signature, error) {
	offset := p.c.Offset()
	form, ok := p.c.ParseInt7()
	if !ok {
		return nil, p.formatError(offset, "can't get form of signature %d", i)
	}
	if form != funcForm {
		return nil, p.formatError(offset, "invalid form %#x of signature %d: expected func", byte(form)&0x7f, i)
	}

	offset = p.c.Offset()
	paramCount, ok := p.c.ParseVarUInt32()
	if !ok {
		return nil, p.formatError(offset, "can't get parameter count of signature %d", i)
	}
	capacity, err := p.reserve(offset, "parameters", paramCount, p.limits.MaxFunctionParams)
	if err != nil {
		return nil, err
	}

	sig := &wasm.Signature{Params: make([]wasm.ValueType, 0, capacity)}
	for j := uint32(0); j < paramCount; j++ {
		t, err := p.decodeValueType("parameter", i)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, t)
	}

	offset = p.c.Offset()
	resultCount, ok := p.c.ParseVarUInt1()
	if !ok {
		return nil, p.formatError(offset, "can't get result count of signature %d: must be 0 or 1", i)
	}
	sig.Result = wasm.ValueTypeVoid
	if resultCount == 1 {
		if sig.Result, err = p.decodeValueType("result", i); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// decodeValueType reads a concrete value type of the i-th signature.
func (p *Parser) decodeValueType(what string, i uint32) (wasm.ValueType, error) {
	offset := p.c.Offset()
	t, ok := p.c.ConsumeByte()
	if !ok {
		return 0, p.formatError(offset, "can't get %s type of signature %d", what, i)
	}
	if !wasm.IsValueType(t) {
		return 0, p.semanticError(offset, "invalid %s type %#x of signature %d", what, t, i)
	}
	return t, nil
}

// decodeFunctionSection declares the functions defined by the module. Each is completed later by the code section.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
func (p *Parser) decodeFunctionSection() error {
	count, offset, err := p.decodeCount(SectionIDFunction)
	if err != nil {
		return err
	}
	capacity, err := p.reserve(offset, "functions", count, p.limits.MaxFunctions)
	if err != nil {
		return err
	}
	p.m.Functions = make([]*wasm.FunctionInformation, 0, capacity)

	for i := uint32(0); i < count; i++ {
		offset = p.c.Offset()
		index, ok := p.c.ParseVarUInt32()
		if !ok {
			return p.formatError(offset, "can't get signature index of function %d", i)
		}
		if uint64(index) >= uint64(len(p.m.Signatures)) {
			return p.semanticError(offset, "invalid signature index %d of function %d: only %d signatures",
				index, i, len(p.m.Signatures))
		}
		sig := p.m.Signatures[index]
		p.m.Functions = append(p.m.Functions, &wasm.FunctionInformation{SignatureIndex: index, Signature: sig})
		p.m.FunctionIndexSpace = append(p.m.FunctionIndexSpace, sig)
	}
	return nil
}
