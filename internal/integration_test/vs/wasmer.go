//go:build amd64 && cgo && !windows

package vs

import (
	"context"
	"fmt"
	"math"

	"github.com/wasmerio/wasmer-go/wasmer"
)

func init() {
	runtimes["wasmer"] = newWasmerRuntime
}

func newWasmerRuntime() Runtime {
	return &wasmerRuntime{engine: wasmer.NewEngine()}
}

type wasmerRuntime struct {
	engine *wasmer.Engine
}

type wasmerModule struct {
	store    *wasmer.Store
	module   *wasmer.Module
	instance *wasmer.Instance
}

func (r *wasmerRuntime) Name() string {
	return "wasmer"
}

func (r *wasmerRuntime) Validate(wasm []byte) error {
	store := wasmer.NewStore(r.engine)
	defer store.Close()
	return wasmer.ValidateModule(store, wasm)
}

func (r *wasmerRuntime) Instantiate(_ context.Context, wasm []byte) (Module, error) {
	// We can't reuse a store: re-instantiating too many times leads to:
	// >> resource limit exceeded: instance count too high at 10001
	store := wasmer.NewStore(r.engine)
	module, err := wasmer.NewModule(store, wasm)
	if err != nil {
		store.Close()
		return nil, err
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		module.Close()
		store.Close()
		return nil, err
	}
	return &wasmerModule{store: store, module: module, instance: instance}, nil
}

func (m *wasmerModule) Call(_ context.Context, funcName string, params ...uint64) ([]uint64, error) {
	fn, err := m.instance.Exports.GetRawFunction(funcName)
	if err != nil {
		return nil, err
	}

	paramTypes := fn.Type().Params()
	if len(paramTypes) != len(params) {
		return nil, fmt.Errorf("%s expects %d params, but got %d", funcName, len(paramTypes), len(params))
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmer.I32:
			args[i] = int32(p)
		case wasmer.I64:
			args[i] = int64(p)
		case wasmer.F32:
			args[i] = math.Float32frombits(uint32(p))
		case wasmer.F64:
			args[i] = math.Float64frombits(p)
		default:
			return nil, fmt.Errorf("unsupported param type %s", paramTypes[i].Kind())
		}
	}

	result, err := fn.Call(args...)
	if err != nil {
		return nil, err
	}
	return encodeResult(result)
}

func (m *wasmerModule) Close() error {
	m.instance.Close()
	m.module.Close()
	m.store.Close()
	return nil
}
