package wasmplan

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/engine"
	"github.com/tetratelabs/wasmplan/internal/engine/compiler"
	"github.com/tetratelabs/wasmplan/internal/engine/interpreter"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// Backend selects what a compiled module's functions are compiled into.
type Backend int

const (
	// BackendInterpreter compiles functions into code run by an interpreter inside the Go runtime. This is the
	// default, and the only backend whose modules can be instantiated.
	BackendInterpreter Backend = iota
	// BackendCompiler compiles functions into amd64 machine code. Only straight-line functions are supported, and the
	// code can be inspected but not invoked.
	BackendCompiler
)

// String implements fmt.Stringer
func (b Backend) String() string {
	switch b {
	case BackendInterpreter:
		return "interpreter"
	case BackendCompiler:
		return "compiler"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ParseBackend returns the Backend named by String.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "interpreter":
		return BackendInterpreter, nil
	case "compiler":
		return BackendCompiler, nil
	}
	return 0, fmt.Errorf("unknown backend %q: expected interpreter or compiler", name)
}

// Limits bound the counts a module may declare. Zero fields keep the defaults.
type Limits = wasm.Limits

// HostFunction implements a function import. Params and results are encoded as uint64 in signature order: i32 and f32
// values in the low 32 bits, floats as their IEEE 754 bits.
type HostFunction = engine.HostFunction

// Config controls how modules are compiled and instantiated, with the default implementation as NewConfig.
//
// Config is immutable: each With method returns a copy.
type Config struct {
	backend          Backend
	logger           *zap.Logger
	memoryLimitPages uint32
	limits           Limits
	// hosts binds function imports by module, then field name.
	hosts interpreter.HostModules
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &Config{
	backend:          BackendInterpreter,
	logger:           zap.NewNop(),
	memoryLimitPages: wasm.MemoryLimitPages,
	limits:           wasm.DefaultLimits,
}

// NewConfig returns a Config using the interpreter, with no host functions and a disabled logger.
func NewConfig() *Config {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if nil.
func (c *Config) clone() *Config {
	hosts := make(interpreter.HostModules, len(c.hosts))
	for module, fields := range c.hosts {
		hosts[module] = make(map[string]engine.HostFunction, len(fields))
		for field, fn := range fields {
			hosts[module][field] = fn
		}
	}
	return &Config{
		backend:          c.backend,
		logger:           c.logger,
		memoryLimitPages: c.memoryLimitPages,
		limits:           c.limits,
		hosts:            hosts,
	}
}

// WithBackend selects the Backend. Defaults to BackendInterpreter.
func (c *Config) WithBackend(backend Backend) *Config {
	ret := c.clone()
	ret.backend = backend
	return ret
}

// WithLogger logs compilation at debug level. Defaults to zap.NewNop if nil.
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithMemoryLimitPages reduces the maximum number of pages a memory can have from 65536 pages (4GiB) to a lower value.
//
// Notes:
// * If a module defines no memory max limit, Instantiate caps the memory at this value.
// * If a module defines a memory whose initial size is larger than this amount, Instantiate fails.
// * Any "memory.grow" instruction that results in a larger value than this fails with -1.
// * A value above 65536 is treated as 65536.
func (c *Config) WithMemoryLimitPages(pages uint32) *Config {
	if pages > wasm.MemoryLimitPages {
		pages = wasm.MemoryLimitPages
	}
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}

// WithLimits bounds the counts a module may declare, which CompileModule rejects before reserving anything.
func (c *Config) WithLimits(limits Limits) *Config {
	ret := c.clone()
	ret.limits = limits.WithDefaults()
	return ret
}

// WithHostFunction binds the function import module.field to fn. Imports with no binding fail when called.
func (c *Config) WithHostFunction(module, field string, fn HostFunction) *Config {
	ret := c.clone()
	fields, ok := ret.hosts[module]
	if !ok {
		fields = map[string]engine.HostFunction{}
		ret.hosts[module] = fields
	}
	fields[field] = fn
	return ret
}

// newBackend returns the engine.Backend selected by this Config.
func (c *Config) newBackend() (engine.Backend, error) {
	switch c.backend {
	case BackendInterpreter:
		return interpreter.NewBackend(
			interpreter.WithHostModules(c.hosts),
			interpreter.WithLimits(c.limits),
			interpreter.WithLogger(c.logger),
		), nil
	case BackendCompiler:
		return compiler.NewBackend(
			compiler.WithLimits(c.limits),
			compiler.WithLogger(c.logger),
		), nil
	}
	return nil, fmt.Errorf("unknown backend %s", c.backend)
}
