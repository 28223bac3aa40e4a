// Package plan turns a module buffer into a linked set of compiled functions.
//
// A Plan parses the module, compiles an import stub per function import, then validates and compiles each defined
// function in index order, and finally patches every direct call site. The first failure is terminal.
package plan

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/wasm"
	"github.com/tetratelabs/wasmplan/internal/wasm/binary"
)

// State is the phase a Plan is in.
type State int

const (
	StateCreated State = iota
	StateParsing
	StateCompiling
	StateLinking
	StateSucceeded
	StateFailed
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateParsing:
		return "parsing"
	case StateCompiling:
		return "compiling"
	case StateLinking:
		return "linking"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Plan.
type Option func(*Plan)

// WithValidator replaces the default validator, engine.NewValidator.
func WithValidator(v engine.Validator) Option {
	return func(p *Plan) {
		p.validator = v
	}
}

// WithLimits bounds what the module may declare. Zero fields keep wasm.DefaultLimits.
func WithLimits(limits wasm.Limits) Option {
	return func(p *Plan) {
		p.limits = limits.WithDefaults()
	}
}

// WithLogger logs state transitions, and is passed to the parser.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Plan) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOwnedCopy makes the Plan copy the source, so the caller may reuse its buffer once New returns.
func WithOwnedCopy() Option {
	return func(p *Plan) {
		p.source = append([]byte(nil), p.source...)
	}
}

// Plan compiles one module. It is not safe for concurrent use, but independent Plans are.
type Plan struct {
	source    []byte
	backend   engine.Backend
	validator engine.Validator
	limits    wasm.Limits
	logger    *zap.Logger

	state     State
	err       error
	module    *wasm.ModuleInformation
	functions []*engine.CompiledFunction
}

// New returns a Plan compiling source with backend. source must not be modified while the Plan is in use, unless
// WithOwnedCopy is given.
func New(source []byte, backend engine.Backend, opts ...Option) *Plan {
	p := &Plan{source: source, backend: backend, limits: wasm.DefaultLimits, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	if p.validator == nil {
		p.validator = engine.NewValidator(p.limits)
	}
	p.logger = p.logger.With(zap.String("backend", backend.Name()))
	return p
}

// State returns the current phase.
func (p *Plan) State() State {
	return p.state
}

// Failed returns true if Run stopped on an error.
func (p *Plan) Failed() bool {
	return p.state == StateFailed
}

// Err returns the first error of Run, usually a *wasm.Error, or nil.
func (p *Plan) Err() error {
	return p.err
}

// ErrorMessage returns the message of the first error of Run, or an empty string.
func (p *Plan) ErrorMessage() string {
	if p.err == nil {
		return ""
	}
	return p.err.Error()
}

// ModuleInformation returns what the parser decoded. It is only available once Run succeeded.
func (p *Plan) ModuleInformation() (*wasm.ModuleInformation, error) {
	if err := p.requireSucceeded(); err != nil {
		return nil, err
	}
	return p.module, nil
}

// CompiledFunctions returns the linked function index space: import stubs first, then defined functions.
func (p *Plan) CompiledFunctions() ([]*engine.CompiledFunction, error) {
	if err := p.requireSucceeded(); err != nil {
		return nil, err
	}
	return p.functions, nil
}

func (p *Plan) requireSucceeded() error {
	switch p.state {
	case StateSucceeded:
		return nil
	case StateFailed:
		return p.err
	}
	return fmt.Errorf("plan is %s", p.state)
}

// Run parses, compiles and links the module. It returns the same error as Err, and does nothing when called again.
func (p *Plan) Run() error {
	if p.state != StateCreated {
		return p.err
	}

	p.transition(StateParsing)
	parser := binary.NewParser(p.source, binary.WithLimits(p.limits), binary.WithLogger(p.logger))
	if err := parser.Parse(); err != nil {
		return p.fail(err)
	}
	m, err := parser.ModuleInformation()
	if err != nil {
		return p.fail(err)
	}
	p.module = m

	p.transition(StateCompiling)
	if err := p.compile(); err != nil {
		return p.fail(err)
	}

	p.transition(StateLinking)
	if err := engine.Link(p.functions); err != nil {
		return p.fail(err)
	}

	p.transition(StateSucceeded)
	return nil
}

func (p *Plan) compile() error {
	m := p.module
	total := uint64(m.NumImportFunctions()) + uint64(len(m.Functions))
	if total > uint64(p.limits.MaxFunctions) {
		return wasm.NewError(wasm.ErrorKindResource, -1, "failed reserving %d compiled functions: limit is %d",
			total, p.limits.MaxFunctions)
	}
	p.functions = make([]*engine.CompiledFunction, 0, total)

	for _, imp := range m.Imports {
		switch desc := imp.Desc.(type) {
		case *wasm.FunctionImport:
			f, err := p.backend.CompileImportStub(desc.FunctionIndex, imp)
			if err != nil {
				return err
			}
			p.functions = append(p.functions, f)
		case *wasm.MemoryImport:
			// Memory is allocated by the host on instantiation.
		default:
			return wasm.NewError(wasm.ErrorKindUnsupported, -1, "import %s is not supported", imp)
		}
	}
	if len(p.functions) != m.NumImportFunctions() {
		return fmt.Errorf("compiled %d import stubs, but the module imports %d functions", len(p.functions), m.NumImportFunctions())
	}

	for i, fi := range m.Functions {
		if !fi.Filled() {
			return wasm.NewError(wasm.ErrorKindFormat, -1, "function[%d] has no body", i)
		}
		src := &engine.FunctionSource{
			Index:     wasm.Index(m.NumImportFunctions() + i),
			Body:      m.FunctionBody(p.source, i),
			Offset:    fi.Start,
			Signature: fi.Signature,
			Module:    m,
		}
		if err := p.validator.Validate(src); err != nil {
			return err
		}
		f, err := p.backend.CompileFunction(src)
		if err != nil {
			return err
		}
		p.functions = append(p.functions, f)
	}
	if uint64(len(p.functions)) != total {
		return fmt.Errorf("compiled %d functions, but the module has %d", len(p.functions), total)
	}

	p.logger.Debug("compiled module", zap.Int("functions", len(p.functions)))
	return nil
}

func (p *Plan) transition(to State) {
	p.logger.Debug("plan state", zap.Stringer("from", p.state), zap.Stringer("to", to))
	p.state = to
}

func (p *Plan) fail(err error) error {
	p.logger.Debug("plan failed", zap.Stringer("state", p.state), zap.Error(err))
	p.err = err
	p.state = StateFailed
	return err
}
