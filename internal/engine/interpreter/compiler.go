package interpreter

import (
	"github.com/tetratelabs/wasmplan/internal/cursor"
	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// op is one lowered instruction. kind is the wasm.Opcode it came from: block, loop, end and nop are removed, and
// branches carry resolved targets instead of label depths.
type op struct {
	kind wasm.Opcode
	// us holds the immediates:
	//   - br, br_if: the branch target as (pc, height, arity)
	//   - br_table: one target per label, then the default one
	//   - if: the pc to continue at when the condition is false
	//   - call: the callee index
	//   - local.*: the local index
	//   - loads and stores: the static offset
	//   - consts: the value
	us []uint64
	// f is the callee of call, set by function.PatchCall.
	f *function
}

// ctrlFrame is a block, loop or if being lowered. The function body is the outermost frame.
type ctrlFrame struct {
	opcode wasm.Opcode
	// height is the operand stack height when the frame was entered.
	height int
	arity  int
	// loopStart is the pc a branch to a loop continues at.
	loopStart uint64
	// ifOp is the index of the if op whose false target is the else or end of this frame, or -1.
	ifOp int
	// forwardBranches are the ops and us slots to fill with the pc of the end of this frame.
	forwardBranches [][2]int
}

type compiler struct {
	src    *engine.FunctionSource
	ops    []op
	frames []*ctrlFrame
	calls  []engine.UnlinkedCall
	height int

	// unreachable is set after an unconditional branch, until the end or else of the current frame.
	unreachable bool
	deadDepth   int
}

// compile lowers a validated function body.
func compile(src *engine.FunctionSource, limits wasm.Limits) (*function, []engine.UnlinkedCall, error) {
	c := cursor.New(src.Body)
	locals, err := wasm.DecodeLocals(c, limits.MaxFunctionLocals)
	if err != nil {
		return nil, nil, err
	}

	comp := &compiler{src: src}
	comp.frames = append(comp.frames, &ctrlFrame{opcode: wasm.OpcodeBlock, arity: src.Signature.ResultCount(), ifOp: -1})
	for len(comp.frames) > 0 {
		in, err := wasm.DecodeInstruction(c)
		if err != nil {
			return nil, nil, err
		}
		if err = comp.lower(&in); err != nil {
			return nil, nil, err
		}
	}

	f := &function{
		index:     src.Index,
		name:      functionName(src.Index),
		sig:       src.Signature,
		numLocals: len(locals),
		body:      comp.ops,
	}
	return f, comp.calls, nil
}

func (c *compiler) lower(in *wasm.Instruction) error {
	if c.unreachable {
		switch in.Opcode {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			c.deadDepth++
			return nil
		case wasm.OpcodeElse, wasm.OpcodeEnd:
			if c.deadDepth > 0 {
				if in.Opcode == wasm.OpcodeEnd {
					c.deadDepth--
				}
				return nil
			}
		default:
			return nil
		}
	}

	switch opcode := in.Opcode; opcode {
	case wasm.OpcodeUnreachable:
		c.emit(opcode)
		c.unreachable = true
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock:
		c.pushFrame(opcode, in.BlockType)
	case wasm.OpcodeLoop:
		c.pushFrame(opcode, in.BlockType)
		c.top().loopStart = uint64(len(c.ops))
	case wasm.OpcodeIf:
		c.height--
		c.emit(opcode, 0)
		c.pushFrame(opcode, in.BlockType)
		c.top().ifOp = len(c.ops) - 1
	case wasm.OpcodeElse:
		f := c.top()
		if !c.unreachable {
			c.emitBranch(wasm.OpcodeBr, 0)
		}
		c.ops[f.ifOp].us[0] = uint64(len(c.ops))
		f.ifOp = -1
		c.height = f.height
		c.unreachable = false
	case wasm.OpcodeEnd:
		f := c.top()
		end := uint64(len(c.ops))
		if f.ifOp >= 0 {
			c.ops[f.ifOp].us[0] = end
		}
		for _, b := range f.forwardBranches {
			c.ops[b[0]].us[b[1]] = end
		}
		c.frames = c.frames[:len(c.frames)-1]
		c.height = f.height + f.arity
		c.unreachable = false
	case wasm.OpcodeBr:
		c.emitBranch(opcode, in.Index)
		c.unreachable = true
	case wasm.OpcodeBrIf:
		c.height--
		c.emitBranch(opcode, in.Index)
	case wasm.OpcodeBrTable:
		c.height--
		c.emitBranch(opcode, append(in.Labels, in.Default)...)
		c.unreachable = true
	case wasm.OpcodeReturn:
		c.emitBranch(wasm.OpcodeBr, uint32(len(c.frames)-1))
		c.unreachable = true
	case wasm.OpcodeCall:
		sig, ok := c.src.Module.FunctionSignature(in.Index)
		if !ok {
			return wasm.NewError(wasm.ErrorKindCompile, c.src.Offset+in.Offset, "invalid function index %d", in.Index)
		}
		c.emit(opcode, uint64(in.Index))
		c.calls = append(c.calls, engine.UnlinkedCall{Location: uint32(len(c.ops) - 1), FunctionIndex: in.Index})
		c.height += sig.ResultCount() - len(sig.Params)
	case wasm.OpcodeDrop:
		c.height--
		c.emit(opcode)
	case wasm.OpcodeSelect:
		c.height -= 2
		c.emit(opcode)
	case wasm.OpcodeLocalGet:
		c.height++
		c.emit(opcode, uint64(in.Index))
	case wasm.OpcodeLocalSet:
		c.height--
		c.emit(opcode, uint64(in.Index))
	case wasm.OpcodeLocalTee:
		c.emit(opcode, uint64(in.Index))
	case wasm.OpcodeMemorySize:
		c.height++
		c.emit(opcode)
	case wasm.OpcodeMemoryGrow:
		c.emit(opcode)
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		c.height++
		v := in.Const
		if opcode == wasm.OpcodeI32Const {
			v = uint64(uint32(v))
		}
		c.emit(opcode, v)
	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// Values are untyped bits on the stack, so reinterpretation does nothing.
	default:
		switch {
		case wasm.IsMemoryInstruction(opcode):
			if opcode >= wasm.OpcodeI32Store {
				c.height -= 2
			}
			c.emit(opcode, uint64(in.MemOffset))
		default:
			params, _, ok := wasm.NumericSignature(opcode)
			if !ok {
				return wasm.NewError(wasm.ErrorKindCompile, c.src.Offset+in.Offset,
					"%s is not supported by the interpreter", wasm.InstructionName(opcode))
			}
			c.height += 1 - len(params)
			c.emit(opcode)
		}
	}
	return nil
}

func (c *compiler) top() *ctrlFrame {
	return c.frames[len(c.frames)-1]
}

func (c *compiler) pushFrame(opcode wasm.Opcode, blockType wasm.ValueType) {
	arity := 0
	if blockType != wasm.ValueTypeVoid {
		arity = 1
	}
	c.frames = append(c.frames, &ctrlFrame{opcode: opcode, height: c.height, arity: arity, ifOp: -1})
}

func (c *compiler) emit(kind wasm.Opcode, us ...uint64) {
	c.ops = append(c.ops, op{kind: kind, us: us})
}

// emitBranch emits kind with one (pc, height, arity) target per label depth. Targets past the end of their frame
// are filled in when the frame ends.
func (c *compiler) emitBranch(kind wasm.Opcode, depths ...uint32) {
	index := len(c.ops)
	us := make([]uint64, 0, 3*len(depths))
	for i, depth := range depths {
		f := c.frames[len(c.frames)-1-int(depth)]
		if f.opcode == wasm.OpcodeLoop {
			// A branch to a loop restarts it, carrying no values.
			us = append(us, f.loopStart, uint64(f.height), 0)
			continue
		}
		f.forwardBranches = append(f.forwardBranches, [2]int{index, 3 * i})
		us = append(us, 0, uint64(f.height), uint64(f.arity))
	}
	c.ops = append(c.ops, op{kind: kind, us: us})
}
