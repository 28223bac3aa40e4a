package engine

import (
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// Link patches every unlinked call of functions to the entry of its callee. functions must be the whole function
// index space, so forward calls are only resolved once every function is compiled.
func Link(functions []*CompiledFunction) error {
	for _, f := range functions {
		for _, call := range f.UnlinkedCalls {
			if uint64(call.FunctionIndex) >= uint64(len(functions)) {
				return wasm.NewError(wasm.ErrorKindLink, -1, "function[%d] calls function[%d], but only %d functions exist",
					f.Index, call.FunctionIndex, len(functions))
			}
			callee := functions[call.FunctionIndex]
			if err := f.Code.PatchCall(call.Location, callee.Code); err != nil {
				return wasm.NewError(wasm.ErrorKindLink, -1, "function[%d] call to function[%d] at %d: %v",
					f.Index, call.FunctionIndex, call.Location, err)
			}
		}
	}
	return nil
}
