package compiler

// This file compiles straight-line function bodies for amd64.
//
// Every value lives in memory: slot i of the current frame is at 8*i(R14), with the params first, then the locals,
// then the operand stack. Operands are loaded into AX and CX only for the duration of one instruction, so no register
// survives a call, except R13 and R14 which callees preserve.
//
// A call moves R14 up to the slot of the callee's first param, so the callee's frame starts where the caller pushed
// its arguments, and its result is written back to its slot 0.

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tetratelabs/wasmplan/internal/cursor"
	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

const (
	// reservedRegisterForCallContext holds the *callContext of the running call.
	reservedRegisterForCallContext = x86.REG_R13
	// reservedRegisterForStackBasePointer holds the address of slot 0 of the current frame.
	reservedRegisterForStackBasePointer = x86.REG_R14
)

const slotSize = 8

// callStatus is written to callContext.status by native code before it returns to the host.
type callStatus uint64

const (
	callStatusReturned callStatus = iota
	// callStatusCallHostFunction asks the host to run the function import at callContext.functionIndex.
	callStatusCallHostFunction
)

// callContext is shared between native code and the host.
type callContext struct {
	status        callStatus
	functionIndex uint64
}

// Offsets of callContext fields, as accessed by native code.
const (
	callContextStatusOffset        = 0
	callContextFunctionIndexOffset = 8
)

// i32Arithmetic and i64Arithmetic are the binary instructions the compiler supports, with memory source operands.
var (
	i32Arithmetic = map[wasm.Opcode]obj.As{
		wasm.OpcodeI32Add: x86.AADDL,
		wasm.OpcodeI32Sub: x86.ASUBL,
		wasm.OpcodeI32Mul: x86.AIMULL,
		wasm.OpcodeI32And: x86.AANDL,
		wasm.OpcodeI32Or:  x86.AORL,
		wasm.OpcodeI32Xor: x86.AXORL,
	}
	i64Arithmetic = map[wasm.Opcode]obj.As{
		wasm.OpcodeI64Add: x86.AADDQ,
		wasm.OpcodeI64Sub: x86.ASUBQ,
		wasm.OpcodeI64Mul: x86.AIMULQ,
		wasm.OpcodeI64And: x86.AANDQ,
		wasm.OpcodeI64Or:  x86.AORQ,
		wasm.OpcodeI64Xor: x86.AXORQ,
	}
)

type amd64Compiler struct {
	src *engine.FunctionSource
	a   *amd64Assembler
	// localCount includes the params.
	localCount int
	height     int
	calls      []unlinkedCallProg
}

// unlinkedCallProg is a call whose address immediate is only known after assembly.
type unlinkedCallProg struct {
	mov   *obj.Prog
	index wasm.Index
}

func newAmd64Compiler(src *engine.FunctionSource) (*amd64Compiler, error) {
	a, err := newAmd64Assembler()
	if err != nil {
		return nil, err
	}
	return &amd64Compiler{src: src, a: a}, nil
}

// compile returns the code of the function and its unlinked calls, whose locations are offsets in the code.
func (c *amd64Compiler) compile(maxLocals uint32) ([]byte, []engine.UnlinkedCall, error) {
	cur := cursor.New(c.src.Body)
	locals, err := wasm.DecodeLocals(cur, maxLocals)
	if err != nil {
		return nil, nil, err
	}
	params := len(c.src.Signature.Params)
	c.localCount = params + len(locals)
	for i := params; i < c.localCount; i++ {
		c.a.constToMemory(x86.AMOVQ, 0, reservedRegisterForStackBasePointer, c.slot(i))
	}

	for {
		in, err := wasm.DecodeInstruction(cur)
		if err != nil {
			return nil, nil, err
		}
		done, err := c.compileInstruction(&in)
		if err != nil {
			return nil, nil, err
		}
		if done {
			// Anything after is unreachable, and was already validated.
			break
		}
	}

	code, err := c.a.assemble()
	if err != nil {
		return nil, nil, err
	}
	calls := make([]engine.UnlinkedCall, len(c.calls))
	for i, call := range c.calls {
		calls[i] = engine.UnlinkedCall{Location: uint32(call.mov.Pc) + movImm64Prefix, FunctionIndex: call.index}
	}
	return code, calls, nil
}

func (c *amd64Compiler) slot(i int) int64 {
	return int64(i * slotSize)
}

// top is the offset of the operand depth values below the top of the operand stack, starting at 1.
func (c *amd64Compiler) top(depth int) int64 {
	return c.slot(c.localCount + c.height - depth)
}

func (c *amd64Compiler) push(reg int16) {
	c.height++
	c.a.registerToMemory(x86.AMOVQ, reg, reservedRegisterForStackBasePointer, c.top(1))
}

func (c *amd64Compiler) compileInstruction(in *wasm.Instruction) (done bool, err error) {
	base := int16(reservedRegisterForStackBasePointer)
	switch op := in.Opcode; op {
	case wasm.OpcodeNop:
	case wasm.OpcodeDrop:
		c.height--
	case wasm.OpcodeLocalGet:
		c.a.memoryToRegister(x86.AMOVQ, base, c.slot(int(in.Index)), x86.REG_AX)
		c.push(x86.REG_AX)
	case wasm.OpcodeLocalSet:
		c.a.memoryToRegister(x86.AMOVQ, base, c.top(1), x86.REG_AX)
		c.a.registerToMemory(x86.AMOVQ, x86.REG_AX, base, c.slot(int(in.Index)))
		c.height--
	case wasm.OpcodeLocalTee:
		c.a.memoryToRegister(x86.AMOVQ, base, c.top(1), x86.REG_AX)
		c.a.registerToMemory(x86.AMOVQ, x86.REG_AX, base, c.slot(int(in.Index)))
	case wasm.OpcodeI32Const:
		// i32 values are kept zero-extended.
		c.a.constToRegister(x86.AMOVQ, int64(uint32(in.Const)), x86.REG_AX)
		c.push(x86.REG_AX)
	case wasm.OpcodeI64Const:
		c.a.constToRegister(x86.AMOVQ, int64(in.Const), x86.REG_AX)
		c.push(x86.REG_AX)
	case wasm.OpcodeCall:
		c.compileCall(in.Index)
	case wasm.OpcodeReturn, wasm.OpcodeEnd:
		// A validated body only reaches an end at depth zero here, as blocks are rejected.
		c.compileReturn()
		return true, nil
	default:
		inst, ok := i32Arithmetic[op]
		if !ok {
			inst, ok = i64Arithmetic[op]
		}
		if !ok {
			return false, wasm.NewError(wasm.ErrorKindCompile, c.src.Offset+in.Offset,
				"%s is not supported by the compiler", wasm.InstructionName(op))
		}
		c.a.memoryToRegister(x86.AMOVQ, base, c.top(2), x86.REG_AX)
		c.a.memoryToRegister(inst, base, c.top(1), x86.REG_AX)
		c.height -= 2
		c.push(x86.REG_AX)
	}
	return false, nil
}

func (c *amd64Compiler) compileCall(index wasm.Index) {
	sig, _ := c.src.Module.FunctionSignature(index)
	c.height -= len(sig.Params)
	// The callee's frame starts at the first argument.
	frame := c.top(0)
	c.a.constToRegister(x86.AADDQ, frame, reservedRegisterForStackBasePointer)
	mov := c.a.callAddress(placeholderAddress)
	c.calls = append(c.calls, unlinkedCallProg{mov: mov, index: index})
	c.a.constToRegister(x86.ASUBQ, frame, reservedRegisterForStackBasePointer)
	c.height += sig.ResultCount()
}

func (c *amd64Compiler) compileReturn() {
	if c.src.Signature.ResultCount() == 1 {
		c.a.memoryToRegister(x86.AMOVQ, reservedRegisterForStackBasePointer, c.top(1), x86.REG_AX)
		c.a.registerToMemory(x86.AMOVQ, x86.REG_AX, reservedRegisterForStackBasePointer, c.slot(0))
	}
	c.a.ret()
}

// compileImportStub asks the host to call the function import at index, then returns.
func compileImportStub(index wasm.Index) ([]byte, error) {
	a, err := newAmd64Assembler()
	if err != nil {
		return nil, err
	}
	a.constToMemory(x86.AMOVQ, int64(callStatusCallHostFunction), reservedRegisterForCallContext, callContextStatusOffset)
	a.constToMemory(x86.AMOVQ, int64(index), reservedRegisterForCallContext, callContextFunctionIndexOffset)
	a.ret()
	return a.assemble()
}

// compileEntryThunk adapts the ABI0 arguments (ctx *callContext, stack *uint64) of a host call to the registers the
// function at entry expects.
func compileEntryThunk(entry uintptr) ([]byte, error) {
	a, err := newAmd64Assembler()
	if err != nil {
		return nil, err
	}
	a.memoryToRegister(x86.AMOVQ, x86.REG_SP, 8, reservedRegisterForCallContext)
	a.memoryToRegister(x86.AMOVQ, x86.REG_SP, 16, reservedRegisterForStackBasePointer)
	a.callAddress(int64(entry))
	a.constToMemory(x86.AMOVQ, int64(callStatusReturned), reservedRegisterForCallContext, callContextStatusOffset)
	a.ret()
	return a.assemble()
}
