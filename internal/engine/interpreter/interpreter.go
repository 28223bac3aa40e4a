// Package interpreter is an engine.Backend whose code runs inside the Go runtime.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// callStackCeiling is the maximum number of nested calls, host calls included.
const callStackCeiling = 10000

// HostModules binds function imports by module, then field name.
type HostModules map[string]map[string]engine.HostFunction

// Option configures the backend returned by NewBackend.
type Option func(*backend)

// WithHostModules binds the imports the module may call.
func WithHostModules(hosts HostModules) Option {
	return func(b *backend) {
		b.hosts = hosts
	}
}

// WithLimits bounds the locals of a function. Zero fields keep wasm.DefaultLimits.
func WithLimits(limits wasm.Limits) Option {
	return func(b *backend) {
		b.limits = limits.WithDefaults()
	}
}

// WithLogger logs each compiled function at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(b *backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// backend implements engine.Backend.
type backend struct {
	hosts  HostModules
	limits wasm.Limits
	logger *zap.Logger
}

// NewBackend returns the interpreter backend.
func NewBackend(opts ...Option) engine.Backend {
	b := &backend{limits: wasm.DefaultLimits, logger: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements engine.Backend.Name
func (b *backend) Name() string {
	return "interpreter"
}

// CompileImportStub implements engine.Backend.CompileImportStub
//
// The stub calls the host function bound to the import. An unbound import traps when called, not when compiled, so
// that modules can be inspected without providing their imports.
func (b *backend) CompileImportStub(index wasm.Index, imp *wasm.Import) (*engine.CompiledFunction, error) {
	desc, ok := imp.Desc.(*wasm.FunctionImport)
	if !ok {
		return nil, wasm.NewError(wasm.ErrorKindCompile, -1, "import %s is not a function", imp)
	}
	f := &function{
		index:    index,
		name:     imp.Module + "." + imp.Field,
		sig:      desc.Signature,
		isImport: true,
		host:     b.hosts[imp.Module][imp.Field],
	}
	if f.host == nil {
		b.logger.Debug("unbound import", zap.String("import", f.name))
	}
	return &engine.CompiledFunction{Index: index, Signature: desc.Signature, Code: f}, nil
}

// CompileFunction implements engine.Backend.CompileFunction
func (b *backend) CompileFunction(src *engine.FunctionSource) (*engine.CompiledFunction, error) {
	f, calls, err := compile(src, b.limits)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("compiled function",
		zap.Uint32("index", src.Index),
		zap.Int("ops", len(f.body)),
		zap.Int("calls", len(calls)))
	return &engine.CompiledFunction{
		Index:         src.Index,
		Signature:     src.Signature,
		Code:          f,
		UnlinkedCalls: calls,
		Size:          len(f.body),
	}, nil
}

func functionName(index wasm.Index) string {
	return fmt.Sprintf("function[%d]", index)
}

// function implements engine.Invoker.
type function struct {
	index wasm.Index
	name  string
	sig   *wasm.Signature
	// numLocals excludes the parameters.
	numLocals int
	body      []op

	isImport bool
	// host is nil for an unbound import.
	host engine.HostFunction
}

// Entry implements engine.Code.Entry
func (f *function) Entry() uintptr {
	return uintptr(unsafe.Pointer(f))
}

// PatchCall implements engine.Code.PatchCall
func (f *function) PatchCall(location uint32, callee engine.Code) error {
	if uint64(location) >= uint64(len(f.body)) || f.body[location].kind != wasm.OpcodeCall {
		return fmt.Errorf("no call at %d", location)
	}
	target, ok := callee.(*function)
	if !ok {
		return fmt.Errorf("callee is %T, not interpreter code", callee)
	}
	f.body[location].f = target
	return nil
}

// Invoke implements engine.Invoker.Invoke
func (f *function) Invoke(ctx context.Context, memory *wasm.MemoryInstance, params ...uint64) (results []uint64, err error) {
	if len(params) != len(f.sig.Params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(f.sig.Params), len(params))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ce := &callEngine{ctx: ctx, memory: memory}

	defer func() {
		if v := recover(); v != nil {
			traces := make([]string, 0, len(ce.frames))
			for i := len(ce.frames) - 1; i >= 0; i-- {
				traces = append(traces, fmt.Sprintf("\t%d: %s", len(ce.frames)-1-i, ce.frames[i].f.name))
			}
			if e, ok := v.(error); ok {
				err = fmt.Errorf("wasm runtime error: %w", e)
			} else {
				err = fmt.Errorf("wasm runtime error: %v", v)
			}
			if len(traces) > 0 {
				err = fmt.Errorf("%w\nwasm backtrace:\n%s", err, strings.Join(traces, "\n"))
			}
			results = nil
		}
	}()

	for i, p := range params {
		ce.push(canonicalize(f.sig.Params[i], p))
	}
	ce.call(f)

	results = make([]uint64, f.sig.ResultCount())
	copy(results, ce.stack[len(ce.stack)-len(results):])
	return results, nil
}

// canonicalize clears the high bits of 32-bit values, which every op relies on.
func canonicalize(t wasm.ValueType, v uint64) uint64 {
	if t == wasm.ValueTypeI32 || t == wasm.ValueTypeF32 {
		return uint64(uint32(v))
	}
	return v
}

// callEngine holds the stacks of one Invoke.
type callEngine struct {
	ctx    context.Context
	memory *wasm.MemoryInstance
	// stack holds the locals and operands of every frame, as uint64.
	stack  []uint64
	frames []*callFrame
}

type callFrame struct {
	// pc is the position in f.body.
	pc uint64
	f  *function
	// base is the position of the first local in the stack.
	base int
}

func (ce *callEngine) push(v uint64) {
	ce.stack = append(ce.stack, v)
}

func (ce *callEngine) pop() (v uint64) {
	// No need to check stack bound as function bodies are validated before they are compiled.
	v = ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return
}

func (ce *callEngine) pushFrame(frame *callFrame) {
	if len(ce.frames) >= callStackCeiling {
		panic(wasm.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, frame)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

func (ce *callEngine) call(f *function) {
	ce.checkDone()
	if f.isImport {
		ce.callHostFunc(f)
	} else {
		ce.callNativeFunc(f)
	}
}

func (ce *callEngine) callHostFunc(f *function) {
	ce.pushFrame(&callFrame{f: f})
	if f.host == nil {
		panic(fmt.Errorf("%w: %s", wasm.ErrRuntimeUnresolvedImport, f.name))
	}

	params := make([]uint64, len(f.sig.Params))
	copy(params, ce.stack[len(ce.stack)-len(params):])
	ce.stack = ce.stack[:len(ce.stack)-len(params)]

	results, err := f.host(ce.ctx, ce.memory, params)
	if err != nil {
		panic(err)
	}
	if len(results) != f.sig.ResultCount() {
		panic(fmt.Errorf("%s returned %d results, but its signature %s has %d",
			f.name, len(results), f.sig, f.sig.ResultCount()))
	}
	for i, r := range results {
		ce.push(canonicalize(f.sig.Results()[i], r))
	}
	ce.popFrame()
}

// checkDone stops execution with the error of ce.ctx once it is done. It is checked on each call and each backward
// branch, so that a non-terminating function can still be cancelled.
func (ce *callEngine) checkDone() {
	select {
	case <-ce.ctx.Done():
		panic(ce.ctx.Err())
	default:
	}
}

// branch moves the top arity values down to height, above the locals of the frame, and continues at target.
func (ce *callEngine) branch(frame *callFrame, operandBase int, target []uint64) {
	if target[0] <= frame.pc {
		ce.checkDone()
	}
	to := operandBase + int(target[1])
	arity := int(target[2])
	if arity == 1 {
		ce.stack[to] = ce.stack[len(ce.stack)-1]
	}
	ce.stack = ce.stack[:to+arity]
	frame.pc = target[0]
}

// errUnlinkedCall is raised by a call op PatchCall was never applied to.
var errUnlinkedCall = errors.New("BUG: unlinked call")

func (ce *callEngine) callNativeFunc(f *function) {
	frame := &callFrame{f: f, base: len(ce.stack) - len(f.sig.Params)}
	ce.pushFrame(frame)
	for i := 0; i < f.numLocals; i++ {
		ce.push(0)
	}
	operandBase := frame.base + len(f.sig.Params) + f.numLocals
	memory := ce.memory

	body := f.body
	for frame.pc < uint64(len(body)) {
		op := &body[frame.pc]
		switch op.kind {
		case wasm.OpcodeUnreachable:
			panic(wasm.ErrRuntimeUnreachable)
		case wasm.OpcodeBr:
			ce.branch(frame, operandBase, op.us)
			continue
		case wasm.OpcodeBrIf:
			if uint32(ce.pop()) != 0 {
				ce.branch(frame, operandBase, op.us)
				continue
			}
		case wasm.OpcodeBrTable:
			i := uint64(uint32(ce.pop()))
			if last := uint64(len(op.us)/3 - 1); i > last {
				i = last
			}
			ce.branch(frame, operandBase, op.us[3*i:3*i+3])
			continue
		case wasm.OpcodeIf:
			if uint32(ce.pop()) == 0 {
				frame.pc = op.us[0]
				continue
			}
		case wasm.OpcodeCall:
			if op.f == nil {
				panic(fmt.Errorf("%w to function[%d]", errUnlinkedCall, op.us[0]))
			}
			ce.call(op.f)
		case wasm.OpcodeDrop:
			ce.stack = ce.stack[:len(ce.stack)-1]
		case wasm.OpcodeSelect:
			c := uint32(ce.pop())
			v2 := ce.pop()
			if c == 0 {
				ce.stack[len(ce.stack)-1] = v2
			}
		case wasm.OpcodeLocalGet:
			ce.push(ce.stack[frame.base+int(op.us[0])])
		case wasm.OpcodeLocalSet:
			ce.stack[frame.base+int(op.us[0])] = ce.pop()
		case wasm.OpcodeLocalTee:
			ce.stack[frame.base+int(op.us[0])] = ce.stack[len(ce.stack)-1]
		case wasm.OpcodeMemorySize:
			ce.push(uint64(memory.PageSize()))
		case wasm.OpcodeMemoryGrow:
			n := uint32(ce.pop())
			if previous, ok := memory.Grow(n); ok {
				ce.push(uint64(previous))
			} else {
				ce.push(0xffffffff) // -1 as i32
			}
		case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
			ce.push(op.us[0])
		default:
			if wasm.IsMemoryInstruction(op.kind) {
				ce.execMemory(op)
			} else {
				ce.execNumeric(op.kind)
			}
		}
		frame.pc++
	}

	// The results are on top of the operands: move them over the params and locals.
	n := f.sig.ResultCount()
	copy(ce.stack[frame.base:], ce.stack[len(ce.stack)-n:])
	ce.stack = ce.stack[:frame.base+n]
	ce.popFrame()
}
