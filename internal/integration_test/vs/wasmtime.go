//go:build amd64 && cgo && !windows

package vs

import (
	"context"
	"fmt"
	"math"

	"github.com/bytecodealliance/wasmtime-go"
)

func init() {
	runtimes["wasmtime"] = newWasmtimeRuntime
}

func newWasmtimeRuntime() Runtime {
	return &wasmtimeRuntime{engine: wasmtime.NewEngine()}
}

type wasmtimeRuntime struct {
	engine *wasmtime.Engine
}

type wasmtimeModule struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
}

func (r *wasmtimeRuntime) Name() string {
	return "wasmtime"
}

func (r *wasmtimeRuntime) Validate(wasm []byte) error {
	return wasmtime.ModuleValidate(r.engine, wasm)
}

func (r *wasmtimeRuntime) Instantiate(_ context.Context, wasm []byte) (Module, error) {
	// A store per instance, as stores never release their instances.
	store := wasmtime.NewStore(r.engine)
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, err
	}
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, err
	}
	return &wasmtimeModule{store: store, instance: instance}, nil
}

func (m *wasmtimeModule) Call(_ context.Context, funcName string, params ...uint64) ([]uint64, error) {
	fn := m.instance.GetFunc(m.store, funcName)
	if fn == nil {
		return nil, fmt.Errorf("%s is not an exported function", funcName)
	}

	paramTypes := fn.Type(m.store).Params()
	if len(paramTypes) != len(params) {
		return nil, fmt.Errorf("%s expects %d params, but got %d", funcName, len(paramTypes), len(params))
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmtime.KindI32:
			args[i] = int32(p)
		case wasmtime.KindI64:
			args[i] = int64(p)
		case wasmtime.KindF32:
			args[i] = math.Float32frombits(uint32(p))
		case wasmtime.KindF64:
			args[i] = math.Float64frombits(p)
		default:
			return nil, fmt.Errorf("unsupported param type %s", paramTypes[i])
		}
	}

	result, err := fn.Call(m.store, args...)
	if err != nil {
		return nil, err
	}
	return encodeResult(result)
}

func (m *wasmtimeModule) Close() error {
	return nil
}

// encodeResult encodes the result of a function with at most one result, as returned by cgo runtimes.
func encodeResult(result interface{}) ([]uint64, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil
	case int32:
		return []uint64{uint64(uint32(r))}, nil
	case int64:
		return []uint64{uint64(r)}, nil
	case float32:
		return []uint64{uint64(math.Float32bits(r))}, nil
	case float64:
		return []uint64{math.Float64bits(r)}, nil
	}
	return nil, fmt.Errorf("unsupported result %v", result)
}
