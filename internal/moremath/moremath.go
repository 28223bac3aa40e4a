// Package moremath holds float operations whose WebAssembly semantics differ from package math.
package moremath

import "math"

// WasmCompatMin is math.Min, except a NaN operand always wins, even over -Inf.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#op-fmin
func WasmCompatMin(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	return math.Min(x, y)
}

// WasmCompatMax is math.Max, except a NaN operand always wins, even over +Inf.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#op-fmax
func WasmCompatMax(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	return math.Max(x, y)
}

// WasmCompatNearestF32 rounds to the nearest integer, ties to even. The sign of zero is preserved.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#op-fnearest
func WasmCompatNearestF32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 is WasmCompatNearestF32 for float64.
func WasmCompatNearestF64(f float64) float64 {
	return math.RoundToEven(f)
}
