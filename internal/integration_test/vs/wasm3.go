//go:build amd64 && cgo && !windows

package vs

import (
	"context"
	"fmt"

	"github.com/birros/go-wasm3"
)

func init() {
	runtimes["wasm3"] = newWasm3Runtime
}

// newWasm3Runtime returns a Runtime which isn't a Validator: wasm3 compiles bodies lazily, on first call.
func newWasm3Runtime() Runtime {
	return &wasm3Runtime{}
}

type wasm3Runtime struct{}

type wasm3Module struct {
	runtime *wasm3.Runtime
}

func (r *wasm3Runtime) Name() string {
	return "wasm3"
}

func (r *wasm3Runtime) Instantiate(_ context.Context, wasm []byte) (Module, error) {
	// A module can only be loaded once, so each instance has its own runtime.
	runtime := wasm3.NewRuntime(&wasm3.Config{
		Environment: wasm3.NewEnvironment(),
		StackSize:   64 * 1024,
	})
	module, err := runtime.ParseModule(wasm)
	if err != nil {
		runtime.Destroy()
		return nil, err
	}
	if _, err = runtime.LoadModule(module); err != nil {
		runtime.Destroy()
		return nil, err
	}
	return &wasm3Module{runtime: runtime}, nil
}

func (m *wasm3Module) Call(_ context.Context, funcName string, params ...uint64) ([]uint64, error) {
	fn, err := m.runtime.FindFunction(funcName)
	if err != nil {
		return nil, err
	} else if fn == nil {
		return nil, fmt.Errorf("%s is not an exported function", funcName)
	}

	// go-wasm3 only maps int params, converting them to the param type.
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = int(p)
	}
	results, err := fn(args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return encodeResult(results[0])
}

func (m *wasm3Module) Close() error {
	m.runtime.Destroy()
	return nil
}
