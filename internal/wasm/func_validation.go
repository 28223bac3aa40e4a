package wasm

import (
	"github.com/tetratelabs/wasmplan/internal/cursor"
)

// valueTypeUnknown is the type of a value popped from an unreachable stack. It matches any type.
const valueTypeUnknown ValueType = 0

type controlFrame struct {
	opcode Opcode
	result ValueType
	// height is the length of the value stack when the frame was entered.
	height      int
	unreachable bool
}

// labelType is what a branch to this frame carries: nothing for a loop, else the block result.
func (f *controlFrame) labelType() ValueType {
	if f.opcode == OpcodeLoop {
		return ValueTypeVoid
	}
	return f.result
}

type funcValidator struct {
	m      *ModuleInformation
	locals []ValueType
	values []ValueType
	frames []controlFrame
	// offset is the position of the current instruction, for errors.
	offset int
}

// ValidateFunction type checks the body of a function with the given signature against m.
//
// body starts at the local declarations, and bodyOffset is its position in the module buffer so that errors point
// into the module. Errors are *Error of ErrorKindValidation, ErrorKindFormat for undecodable instructions and
// ErrorKindUnsupported for instructions that need tables or globals.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#algorithm-appendix
func ValidateFunction(body []byte, bodyOffset int, sig *Signature, m *ModuleInformation) error {
	return ValidateFunctionWithLimits(body, bodyOffset, sig, m, DefaultLimits)
}

// ValidateFunctionWithLimits is ValidateFunction with the local count bounded by limits.MaxFunctionLocals.
func ValidateFunctionWithLimits(body []byte, bodyOffset int, sig *Signature, m *ModuleInformation, limits Limits) error {
	c := cursor.New(body)
	v := &funcValidator{m: m}

	locals, err := DecodeLocals(c, limits.MaxFunctionLocals)
	if err != nil {
		return rebase(err, bodyOffset)
	}
	v.locals = append(append(make([]ValueType, 0, len(sig.Params)+len(locals)), sig.Params...), locals...)
	v.frames = append(v.frames, controlFrame{opcode: OpcodeBlock, result: sig.Result})

	for !c.AtEnd() {
		in, err := DecodeInstruction(c)
		if err != nil {
			return rebase(err, bodyOffset)
		}
		v.offset = bodyOffset + in.Offset
		if err = v.validate(&in); err != nil {
			return err
		}
		if len(v.frames) == 0 {
			if !c.AtEnd() {
				return NewError(ErrorKindValidation, bodyOffset+c.Offset(), "unexpected bytes after the end of the function body")
			}
			return nil
		}
	}
	return NewError(ErrorKindValidation, bodyOffset+len(body), "function body must end with end")
}

func rebase(err error, by int) error {
	if e, ok := err.(*Error); ok {
		e.Offset += by
	}
	return err
}

func (v *funcValidator) errorf(format string, args ...interface{}) error {
	return NewError(ErrorKindValidation, v.offset, format, args...)
}

func (v *funcValidator) validate(in *Instruction) error {
	op := in.Opcode
	switch {
	case op == OpcodeUnreachable:
		v.markUnreachable()
	case op == OpcodeNop:
	case op == OpcodeBlock || op == OpcodeLoop:
		v.pushFrame(op, in.BlockType)
	case op == OpcodeIf:
		if err := v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		v.pushFrame(op, in.BlockType)
	case op == OpcodeElse:
		f := v.top()
		if f.opcode != OpcodeIf {
			return v.errorf("else without a matching if")
		}
		if err := v.checkFrameEnd(f); err != nil {
			return err
		}
		v.values = v.values[:f.height]
		f.opcode = OpcodeElse
		f.unreachable = false
	case op == OpcodeEnd:
		f := v.top()
		if f.opcode == OpcodeIf && f.result != ValueTypeVoid {
			return v.errorf("type mismatch: if without else must not have a result")
		}
		if err := v.checkFrameEnd(f); err != nil {
			return err
		}
		v.values = v.values[:f.height]
		v.frames = v.frames[:len(v.frames)-1]
		v.push(f.result)
	case op == OpcodeBr:
		f, err := v.label(in.Index)
		if err != nil {
			return err
		}
		if err = v.popExpected(f.labelType()); err != nil {
			return err
		}
		v.markUnreachable()
	case op == OpcodeBrIf:
		if err := v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		f, err := v.label(in.Index)
		if err != nil {
			return err
		}
		t := f.labelType()
		if err = v.popExpected(t); err != nil {
			return err
		}
		v.push(t)
	case op == OpcodeBrTable:
		if err := v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		d, err := v.label(in.Default)
		if err != nil {
			return err
		}
		t := d.labelType()
		for _, l := range in.Labels {
			f, err := v.label(l)
			if err != nil {
				return err
			}
			if f.labelType() != t {
				return v.errorf("type mismatch: br_table targets must have the same type, %s != %s",
					ValueTypeName(f.labelType()), ValueTypeName(t))
			}
		}
		if err = v.popExpected(t); err != nil {
			return err
		}
		v.markUnreachable()
	case op == OpcodeReturn:
		if err := v.popExpected(v.frames[0].result); err != nil {
			return err
		}
		v.markUnreachable()
	case op == OpcodeCall:
		sig, ok := v.m.FunctionSignature(in.Index)
		if !ok {
			return v.errorf("invalid function index %d: function index space has %d functions",
				in.Index, len(v.m.FunctionIndexSpace))
		}
		for i := len(sig.Params) - 1; i >= 0; i-- {
			if err := v.popExpected(sig.Params[i]); err != nil {
				return err
			}
		}
		v.push(sig.Result)
	case op == OpcodeCallIndirect:
		return NewError(ErrorKindUnsupported, v.offset, "call_indirect requires a table, which is not supported")
	case op == OpcodeGlobalGet || op == OpcodeGlobalSet:
		return NewError(ErrorKindUnsupported, v.offset, "%s is not supported", InstructionName(op))
	case op == OpcodeDrop:
		if _, err := v.pop(); err != nil {
			return err
		}
	case op == OpcodeSelect:
		if err := v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.pop()
		if err != nil {
			return err
		}
		if t1 != t2 && t1 != valueTypeUnknown && t2 != valueTypeUnknown {
			return v.errorf("type mismatch: select operands %s and %s differ", ValueTypeName(t1), ValueTypeName(t2))
		}
		if t1 == valueTypeUnknown {
			t1 = t2
		}
		v.push(t1)
	case op == OpcodeLocalGet || op == OpcodeLocalSet || op == OpcodeLocalTee:
		if uint64(in.Index) >= uint64(len(v.locals)) {
			return v.errorf("invalid local index %d: function has %d locals", in.Index, len(v.locals))
		}
		t := v.locals[in.Index]
		if op != OpcodeLocalGet {
			if err := v.popExpected(t); err != nil {
				return err
			}
		}
		if op != OpcodeLocalSet {
			v.push(t)
		}
	case IsMemoryInstruction(op):
		return v.validateMemoryAccess(in)
	case op == OpcodeMemorySize || op == OpcodeMemoryGrow:
		if v.m.Memory == nil {
			return v.errorf("%s requires a memory", InstructionName(op))
		}
		if op == OpcodeMemoryGrow {
			if err := v.popExpected(ValueTypeI32); err != nil {
				return err
			}
		}
		v.push(ValueTypeI32)
	case op == OpcodeI32Const:
		v.push(ValueTypeI32)
	case op == OpcodeI64Const:
		v.push(ValueTypeI64)
	case op == OpcodeF32Const:
		v.push(ValueTypeF32)
	case op == OpcodeF64Const:
		v.push(ValueTypeF64)
	default:
		params, result, ok := NumericSignature(op)
		if !ok {
			return NewError(ErrorKindUnsupported, v.offset, "unsupported opcode %#x", op)
		}
		for i := len(params) - 1; i >= 0; i-- {
			if err := v.popExpected(params[i]); err != nil {
				return err
			}
		}
		v.push(result)
	}
	return nil
}

func (v *funcValidator) validateMemoryAccess(in *Instruction) error {
	op := in.Opcode
	if v.m.Memory == nil {
		return v.errorf("%s requires a memory", InstructionName(op))
	}
	if uint64(1)<<in.Align > uint64(MemoryAccessSize(op)) || in.Align >= 32 {
		return v.errorf("invalid memory alignment %d for %s", in.Align, InstructionName(op))
	}
	t := memoryValueType(op)
	if op >= OpcodeI32Store {
		if err := v.popExpected(t); err != nil {
			return err
		}
		return v.popExpected(ValueTypeI32)
	}
	if err := v.popExpected(ValueTypeI32); err != nil {
		return err
	}
	v.push(t)
	return nil
}

func memoryValueType(op Opcode) ValueType {
	switch op {
	case OpcodeI32Load, OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI32Store, OpcodeI32Store8, OpcodeI32Store16:
		return ValueTypeI32
	case OpcodeF32Load, OpcodeF32Store:
		return ValueTypeF32
	case OpcodeF64Load, OpcodeF64Store:
		return ValueTypeF64
	}
	return ValueTypeI64
}

var (
	i32i32 = []ValueType{ValueTypeI32, ValueTypeI32}
	i64i64 = []ValueType{ValueTypeI64, ValueTypeI64}
	f32f32 = []ValueType{ValueTypeF32, ValueTypeF32}
	f64f64 = []ValueType{ValueTypeF64, ValueTypeF64}
	i32    = []ValueType{ValueTypeI32}
	i64    = []ValueType{ValueTypeI64}
	f32    = []ValueType{ValueTypeF32}
	f64    = []ValueType{ValueTypeF64}
)

// NumericSignature returns the operand and result types of the numeric instructions, which have no immediates.
func NumericSignature(op Opcode) (params []ValueType, result ValueType, ok bool) {
	switch {
	case op == OpcodeI32Eqz:
		return i32, ValueTypeI32, true
	case op >= OpcodeI32Eq && op <= OpcodeI32GeU:
		return i32i32, ValueTypeI32, true
	case op == OpcodeI64Eqz:
		return i64, ValueTypeI32, true
	case op >= OpcodeI64Eq && op <= OpcodeI64GeU:
		return i64i64, ValueTypeI32, true
	case op >= OpcodeF32Eq && op <= OpcodeF32Ge:
		return f32f32, ValueTypeI32, true
	case op >= OpcodeF64Eq && op <= OpcodeF64Ge:
		return f64f64, ValueTypeI32, true
	case op >= OpcodeI32Clz && op <= OpcodeI32Popcnt:
		return i32, ValueTypeI32, true
	case op >= OpcodeI32Add && op <= OpcodeI32Rotr:
		return i32i32, ValueTypeI32, true
	case op >= OpcodeI64Clz && op <= OpcodeI64Popcnt:
		return i64, ValueTypeI64, true
	case op >= OpcodeI64Add && op <= OpcodeI64Rotr:
		return i64i64, ValueTypeI64, true
	case op >= OpcodeF32Abs && op <= OpcodeF32Sqrt:
		return f32, ValueTypeF32, true
	case op >= OpcodeF32Add && op <= OpcodeF32Copysign:
		return f32f32, ValueTypeF32, true
	case op >= OpcodeF64Abs && op <= OpcodeF64Sqrt:
		return f64, ValueTypeF64, true
	case op >= OpcodeF64Add && op <= OpcodeF64Copysign:
		return f64f64, ValueTypeF64, true
	}

	switch op {
	case OpcodeI32WrapI64:
		return i64, ValueTypeI32, true
	case OpcodeI32TruncF32S, OpcodeI32TruncF32U, OpcodeI32ReinterpretF32:
		return f32, ValueTypeI32, true
	case OpcodeI32TruncF64S, OpcodeI32TruncF64U:
		return f64, ValueTypeI32, true
	case OpcodeI64ExtendI32S, OpcodeI64ExtendI32U:
		return i32, ValueTypeI64, true
	case OpcodeI64TruncF32S, OpcodeI64TruncF32U:
		return f32, ValueTypeI64, true
	case OpcodeI64TruncF64S, OpcodeI64TruncF64U, OpcodeI64ReinterpretF64:
		return f64, ValueTypeI64, true
	case OpcodeF32ConvertI32S, OpcodeF32ConvertI32U, OpcodeF32ReinterpretI32:
		return i32, ValueTypeF32, true
	case OpcodeF32ConvertI64S, OpcodeF32ConvertI64U:
		return i64, ValueTypeF32, true
	case OpcodeF32DemoteF64:
		return f64, ValueTypeF32, true
	case OpcodeF64ConvertI32S, OpcodeF64ConvertI32U:
		return i32, ValueTypeF64, true
	case OpcodeF64ConvertI64S, OpcodeF64ConvertI64U, OpcodeF64ReinterpretI64:
		return i64, ValueTypeF64, true
	case OpcodeF64PromoteF32:
		return f32, ValueTypeF64, true
	}
	return nil, 0, false
}

func (v *funcValidator) top() *controlFrame {
	return &v.frames[len(v.frames)-1]
}

func (v *funcValidator) label(depth uint32) (*controlFrame, error) {
	if uint64(depth) >= uint64(len(v.frames)) {
		return nil, v.errorf("invalid label %d: only %d enclosing blocks", depth, len(v.frames))
	}
	return &v.frames[len(v.frames)-1-int(depth)], nil
}

func (v *funcValidator) pushFrame(op Opcode, result ValueType) {
	v.frames = append(v.frames, controlFrame{opcode: op, result: result, height: len(v.values)})
}

// checkFrameEnd requires the stack of f to hold exactly its result.
func (v *funcValidator) checkFrameEnd(f *controlFrame) error {
	if err := v.popExpected(f.result); err != nil {
		return err
	}
	if len(v.values) != f.height {
		return v.errorf("type mismatch: %d values left on the stack at the end of %s",
			len(v.values)-f.height, InstructionName(f.opcode))
	}
	return nil
}

func (v *funcValidator) markUnreachable() {
	f := v.top()
	v.values = v.values[:f.height]
	f.unreachable = true
}

func (v *funcValidator) push(t ValueType) {
	if t != ValueTypeVoid {
		v.values = append(v.values, t)
	}
}

func (v *funcValidator) pop() (ValueType, error) {
	f := v.top()
	if len(v.values) == f.height {
		if f.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, v.errorf("type mismatch: stack underflow")
	}
	t := v.values[len(v.values)-1]
	v.values = v.values[:len(v.values)-1]
	return t, nil
}

// popExpected pops a value of type expected, doing nothing for ValueTypeVoid.
func (v *funcValidator) popExpected(expected ValueType) error {
	if expected == ValueTypeVoid {
		return nil
	}
	actual, err := v.pop()
	if err != nil {
		return err
	}
	if actual != expected && actual != valueTypeUnknown {
		return v.errorf("type mismatch: expected %s, but was %s", ValueTypeName(expected), ValueTypeName(actual))
	}
	return nil
}
