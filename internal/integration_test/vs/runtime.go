// Package vs runs the same modules in wasmplan and other runtimes, to compare what they accept and compute.
package vs

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wasmplan"
)

// Runtime instantiates modules. Values are encoded as in wasmplan.Function Call.
type Runtime interface {
	Name() string
	Instantiate(ctx context.Context, wasm []byte) (Module, error)
}

// Validator is implemented by runtimes which validate a whole module before instantiating it.
type Validator interface {
	// Validate returns an error if the runtime rejects the module.
	Validate(wasm []byte) error
}

type Module interface {
	// Call returns the results of the exported function funcName, or an error if it trapped.
	Call(ctx context.Context, funcName string, params ...uint64) ([]uint64, error)
	Close() error
}

// runtimes are the constructors of each Runtime by name. Runtimes requiring cgo add themselves in init.
var runtimes = map[string]func() Runtime{
	"wasmplan": NewWasmplanRuntime,
}

// RuntimeNames returns the name of each available runtime, sorted.
func RuntimeNames() []string {
	names := make([]string, 0, len(runtimes))
	for name := range runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRuntime returns the Runtime of name, or nil if it isn't available on this platform.
func NewRuntime(name string) Runtime {
	if newRuntime, ok := runtimes[name]; ok {
		return newRuntime()
	}
	return nil
}

func NewWasmplanRuntime() Runtime {
	return &wasmplanRuntime{config: wasmplan.NewConfig()}
}

type wasmplanRuntime struct {
	config *wasmplan.Config
}

type wasmplanModule struct {
	instance *wasmplan.Instance
}

func (r *wasmplanRuntime) Name() string {
	return "wasmplan"
}

func (r *wasmplanRuntime) Validate(wasm []byte) error {
	_, err := wasmplan.CompileModule(wasm, r.config)
	return err
}

func (r *wasmplanRuntime) Instantiate(ctx context.Context, wasm []byte) (Module, error) {
	compiled, err := wasmplan.CompileModule(wasm, r.config)
	if err != nil {
		return nil, err
	}
	instance, err := compiled.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	return &wasmplanModule{instance: instance}, nil
}

func (m *wasmplanModule) Call(ctx context.Context, funcName string, params ...uint64) ([]uint64, error) {
	fn, ok := m.instance.ExportedFunction(funcName)
	if !ok {
		return nil, fmt.Errorf("%s is not an exported function", funcName)
	}
	return fn.Call(ctx, params...)
}

func (m *wasmplanModule) Close() error {
	return nil
}
