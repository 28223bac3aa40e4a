package interpreter

import (
	"math"
	"math/bits"

	"github.com/tetratelabs/wasmplan/internal/moremath"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// address pops the base address of a load or store and adds its static offset. It can't overflow as both are 32-bit.
func (ce *callEngine) address(op *op) uint64 {
	return uint64(uint32(ce.pop())) + op.us[0]
}

func (ce *callEngine) execMemory(op *op) {
	m := ce.memory
	var ok bool
	switch op.kind {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		var v uint32
		if v, ok = m.ReadUint32Le(ce.address(op)); ok {
			ce.push(uint64(v))
		}
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		var v uint64
		if v, ok = m.ReadUint64Le(ce.address(op)); ok {
			ce.push(v)
		}
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U:
		var v byte
		if v, ok = m.ReadByte(ce.address(op)); ok {
			switch op.kind {
			case wasm.OpcodeI32Load8S:
				ce.push(uint64(uint32(int8(v))))
			case wasm.OpcodeI64Load8S:
				ce.push(uint64(int8(v)))
			default:
				ce.push(uint64(v))
			}
		}
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U:
		var v uint16
		if v, ok = m.ReadUint16Le(ce.address(op)); ok {
			switch op.kind {
			case wasm.OpcodeI32Load16S:
				ce.push(uint64(uint32(int16(v))))
			case wasm.OpcodeI64Load16S:
				ce.push(uint64(int16(v)))
			default:
				ce.push(uint64(v))
			}
		}
	case wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		var v uint32
		if v, ok = m.ReadUint32Le(ce.address(op)); ok {
			if op.kind == wasm.OpcodeI64Load32S {
				ce.push(uint64(int32(v)))
			} else {
				ce.push(uint64(v))
			}
		}
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
		v := ce.pop()
		ok = m.WriteUint32Le(ce.address(op), uint32(v))
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		v := ce.pop()
		ok = m.WriteUint64Le(ce.address(op), v)
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		v := ce.pop()
		ok = m.WriteByte(ce.address(op), byte(v))
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		v := ce.pop()
		ok = m.WriteUint16Le(ce.address(op), uint16(v))
	}
	if !ok {
		panic(wasm.ErrRuntimeOutOfBoundsMemoryAccess)
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

func f64(v uint64) float64 {
	return math.Float64frombits(v)
}

func fromF32(f float32) uint64 {
	return uint64(math.Float32bits(f))
}

// execNumeric runs the instructions with no immediates listed by wasm.NumericSignature.
func (ce *callEngine) execNumeric(kind wasm.Opcode) {
	params, _, _ := wasm.NumericSignature(kind)
	if len(params) == 1 {
		ce.push(unop(kind, ce.pop()))
		return
	}
	v2 := ce.pop()
	v1 := ce.pop()
	ce.push(binop(kind, v1, v2))
}

func unop(kind wasm.Opcode, v uint64) uint64 {
	switch kind {
	case wasm.OpcodeI32Eqz:
		return b2u(uint32(v) == 0)
	case wasm.OpcodeI64Eqz:
		return b2u(v == 0)
	case wasm.OpcodeI32Clz:
		return uint64(bits.LeadingZeros32(uint32(v)))
	case wasm.OpcodeI32Ctz:
		return uint64(bits.TrailingZeros32(uint32(v)))
	case wasm.OpcodeI32Popcnt:
		return uint64(bits.OnesCount32(uint32(v)))
	case wasm.OpcodeI64Clz:
		return uint64(bits.LeadingZeros64(v))
	case wasm.OpcodeI64Ctz:
		return uint64(bits.TrailingZeros64(v))
	case wasm.OpcodeI64Popcnt:
		return uint64(bits.OnesCount64(v))

	case wasm.OpcodeF32Abs:
		return v &^ (1 << 31)
	case wasm.OpcodeF32Neg:
		return v ^ (1 << 31)
	case wasm.OpcodeF32Ceil:
		return fromF32(float32(math.Ceil(float64(f32(v)))))
	case wasm.OpcodeF32Floor:
		return fromF32(float32(math.Floor(float64(f32(v)))))
	case wasm.OpcodeF32Trunc:
		return fromF32(float32(math.Trunc(float64(f32(v)))))
	case wasm.OpcodeF32Nearest:
		return fromF32(moremath.WasmCompatNearestF32(f32(v)))
	case wasm.OpcodeF32Sqrt:
		return fromF32(float32(math.Sqrt(float64(f32(v)))))
	case wasm.OpcodeF64Abs:
		return v &^ (1 << 63)
	case wasm.OpcodeF64Neg:
		return v ^ (1 << 63)
	case wasm.OpcodeF64Ceil:
		return math.Float64bits(math.Ceil(f64(v)))
	case wasm.OpcodeF64Floor:
		return math.Float64bits(math.Floor(f64(v)))
	case wasm.OpcodeF64Trunc:
		return math.Float64bits(math.Trunc(f64(v)))
	case wasm.OpcodeF64Nearest:
		return math.Float64bits(moremath.WasmCompatNearestF64(f64(v)))
	case wasm.OpcodeF64Sqrt:
		return math.Float64bits(math.Sqrt(f64(v)))

	case wasm.OpcodeI32WrapI64:
		return uint64(uint32(v))
	case wasm.OpcodeI32TruncF32S:
		return i32TruncS(float64(f32(v)))
	case wasm.OpcodeI32TruncF32U:
		return i32TruncU(float64(f32(v)))
	case wasm.OpcodeI32TruncF64S:
		return i32TruncS(f64(v))
	case wasm.OpcodeI32TruncF64U:
		return i32TruncU(f64(v))
	case wasm.OpcodeI64ExtendI32S:
		return uint64(int32(v))
	case wasm.OpcodeI64ExtendI32U:
		return uint64(uint32(v))
	case wasm.OpcodeI64TruncF32S:
		return i64TruncS(float64(f32(v)))
	case wasm.OpcodeI64TruncF32U:
		return i64TruncU(float64(f32(v)))
	case wasm.OpcodeI64TruncF64S:
		return i64TruncS(f64(v))
	case wasm.OpcodeI64TruncF64U:
		return i64TruncU(f64(v))
	case wasm.OpcodeF32ConvertI32S:
		return fromF32(float32(int32(v)))
	case wasm.OpcodeF32ConvertI32U:
		return fromF32(float32(uint32(v)))
	case wasm.OpcodeF32ConvertI64S:
		return fromF32(float32(int64(v)))
	case wasm.OpcodeF32ConvertI64U:
		return fromF32(float32(v))
	case wasm.OpcodeF32DemoteF64:
		return fromF32(float32(f64(v)))
	case wasm.OpcodeF64ConvertI32S:
		return math.Float64bits(float64(int32(v)))
	case wasm.OpcodeF64ConvertI32U:
		return math.Float64bits(float64(uint32(v)))
	case wasm.OpcodeF64ConvertI64S:
		return math.Float64bits(float64(int64(v)))
	case wasm.OpcodeF64ConvertI64U:
		return math.Float64bits(float64(v))
	case wasm.OpcodeF64PromoteF32:
		return math.Float64bits(float64(f32(v)))
	}
	panic("BUG: " + wasm.InstructionName(kind) + " is not a unary instruction")
}

func binop(kind wasm.Opcode, v1, v2 uint64) uint64 {
	switch {
	case kind >= wasm.OpcodeI32Eq && kind <= wasm.OpcodeI32GeU:
		return i32Compare(kind, uint32(v1), uint32(v2))
	case kind >= wasm.OpcodeI64Eq && kind <= wasm.OpcodeI64GeU:
		return i64Compare(kind, v1, v2)
	case kind >= wasm.OpcodeF32Eq && kind <= wasm.OpcodeF32Ge:
		return fCompare(kind-wasm.OpcodeF32Eq, float64(f32(v1)), float64(f32(v2)))
	case kind >= wasm.OpcodeF64Eq && kind <= wasm.OpcodeF64Ge:
		return fCompare(kind-wasm.OpcodeF64Eq, f64(v1), f64(v2))
	case kind >= wasm.OpcodeI32Add && kind <= wasm.OpcodeI32Rotr:
		return uint64(i32Arith(kind, uint32(v1), uint32(v2)))
	case kind >= wasm.OpcodeI64Add && kind <= wasm.OpcodeI64Rotr:
		return i64Arith(kind, v1, v2)
	case kind >= wasm.OpcodeF32Add && kind <= wasm.OpcodeF32Copysign:
		return f32Arith(kind, v1, v2)
	case kind >= wasm.OpcodeF64Add && kind <= wasm.OpcodeF64Copysign:
		return f64Arith(kind, v1, v2)
	}
	panic("BUG: " + wasm.InstructionName(kind) + " is not a binary instruction")
}

func i32Compare(kind wasm.Opcode, v1, v2 uint32) uint64 {
	switch kind {
	case wasm.OpcodeI32Eq:
		return b2u(v1 == v2)
	case wasm.OpcodeI32Ne:
		return b2u(v1 != v2)
	case wasm.OpcodeI32LtS:
		return b2u(int32(v1) < int32(v2))
	case wasm.OpcodeI32LtU:
		return b2u(v1 < v2)
	case wasm.OpcodeI32GtS:
		return b2u(int32(v1) > int32(v2))
	case wasm.OpcodeI32GtU:
		return b2u(v1 > v2)
	case wasm.OpcodeI32LeS:
		return b2u(int32(v1) <= int32(v2))
	case wasm.OpcodeI32LeU:
		return b2u(v1 <= v2)
	case wasm.OpcodeI32GeS:
		return b2u(int32(v1) >= int32(v2))
	}
	return b2u(v1 >= v2) // i32.ge_u
}

func i64Compare(kind wasm.Opcode, v1, v2 uint64) uint64 {
	switch kind {
	case wasm.OpcodeI64Eq:
		return b2u(v1 == v2)
	case wasm.OpcodeI64Ne:
		return b2u(v1 != v2)
	case wasm.OpcodeI64LtS:
		return b2u(int64(v1) < int64(v2))
	case wasm.OpcodeI64LtU:
		return b2u(v1 < v2)
	case wasm.OpcodeI64GtS:
		return b2u(int64(v1) > int64(v2))
	case wasm.OpcodeI64GtU:
		return b2u(v1 > v2)
	case wasm.OpcodeI64LeS:
		return b2u(int64(v1) <= int64(v2))
	case wasm.OpcodeI64LeU:
		return b2u(v1 <= v2)
	case wasm.OpcodeI64GeS:
		return b2u(int64(v1) >= int64(v2))
	}
	return b2u(v1 >= v2) // i64.ge_u
}

// fCompare compares floats in the order eq, ne, lt, gt, le, ge shared by f32 and f64.
func fCompare(i wasm.Opcode, v1, v2 float64) uint64 {
	switch i {
	case 0:
		return b2u(v1 == v2)
	case 1:
		return b2u(v1 != v2)
	case 2:
		return b2u(v1 < v2)
	case 3:
		return b2u(v1 > v2)
	case 4:
		return b2u(v1 <= v2)
	}
	return b2u(v1 >= v2)
}

func i32Arith(kind wasm.Opcode, v1, v2 uint32) uint32 {
	switch kind {
	case wasm.OpcodeI32Add:
		return v1 + v2
	case wasm.OpcodeI32Sub:
		return v1 - v2
	case wasm.OpcodeI32Mul:
		return v1 * v2
	case wasm.OpcodeI32DivS:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		if int32(v1) == math.MinInt32 && int32(v2) == -1 {
			panic(wasm.ErrRuntimeIntegerOverflow)
		}
		return uint32(int32(v1) / int32(v2))
	case wasm.OpcodeI32DivU:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return v1 / v2
	case wasm.OpcodeI32RemS:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return uint32(int32(v1) % int32(v2))
	case wasm.OpcodeI32RemU:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return v1 % v2
	case wasm.OpcodeI32And:
		return v1 & v2
	case wasm.OpcodeI32Or:
		return v1 | v2
	case wasm.OpcodeI32Xor:
		return v1 ^ v2
	case wasm.OpcodeI32Shl:
		return v1 << (v2 % 32)
	case wasm.OpcodeI32ShrS:
		return uint32(int32(v1) >> (v2 % 32))
	case wasm.OpcodeI32ShrU:
		return v1 >> (v2 % 32)
	case wasm.OpcodeI32Rotl:
		return bits.RotateLeft32(v1, int(v2%32))
	}
	return bits.RotateLeft32(v1, -int(v2%32)) // i32.rotr
}

func i64Arith(kind wasm.Opcode, v1, v2 uint64) uint64 {
	switch kind {
	case wasm.OpcodeI64Add:
		return v1 + v2
	case wasm.OpcodeI64Sub:
		return v1 - v2
	case wasm.OpcodeI64Mul:
		return v1 * v2
	case wasm.OpcodeI64DivS:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		if int64(v1) == math.MinInt64 && int64(v2) == -1 {
			panic(wasm.ErrRuntimeIntegerOverflow)
		}
		return uint64(int64(v1) / int64(v2))
	case wasm.OpcodeI64DivU:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return v1 / v2
	case wasm.OpcodeI64RemS:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(int64(v1) % int64(v2))
	case wasm.OpcodeI64RemU:
		if v2 == 0 {
			panic(wasm.ErrRuntimeIntegerDivideByZero)
		}
		return v1 % v2
	case wasm.OpcodeI64And:
		return v1 & v2
	case wasm.OpcodeI64Or:
		return v1 | v2
	case wasm.OpcodeI64Xor:
		return v1 ^ v2
	case wasm.OpcodeI64Shl:
		return v1 << (v2 % 64)
	case wasm.OpcodeI64ShrS:
		return uint64(int64(v1) >> (v2 % 64))
	case wasm.OpcodeI64ShrU:
		return v1 >> (v2 % 64)
	case wasm.OpcodeI64Rotl:
		return bits.RotateLeft64(v1, int(v2%64))
	}
	return bits.RotateLeft64(v1, -int(v2%64)) // i64.rotr
}

func f32Arith(kind wasm.Opcode, v1, v2 uint64) uint64 {
	a, b := f32(v1), f32(v2)
	switch kind {
	case wasm.OpcodeF32Add:
		return fromF32(a + b)
	case wasm.OpcodeF32Sub:
		return fromF32(a - b)
	case wasm.OpcodeF32Mul:
		return fromF32(a * b)
	case wasm.OpcodeF32Div:
		return fromF32(a / b)
	case wasm.OpcodeF32Min:
		return fromF32(float32(moremath.WasmCompatMin(float64(a), float64(b))))
	case wasm.OpcodeF32Max:
		return fromF32(float32(moremath.WasmCompatMax(float64(a), float64(b))))
	}
	const signbit = 1 << 31 // f32.copysign
	return v1&^signbit | v2&signbit
}

func f64Arith(kind wasm.Opcode, v1, v2 uint64) uint64 {
	a, b := f64(v1), f64(v2)
	switch kind {
	case wasm.OpcodeF64Add:
		return math.Float64bits(a + b)
	case wasm.OpcodeF64Sub:
		return math.Float64bits(a - b)
	case wasm.OpcodeF64Mul:
		return math.Float64bits(a * b)
	case wasm.OpcodeF64Div:
		return math.Float64bits(a / b)
	case wasm.OpcodeF64Min:
		return math.Float64bits(moremath.WasmCompatMin(a, b))
	case wasm.OpcodeF64Max:
		return math.Float64bits(moremath.WasmCompatMax(a, b))
	}
	const signbit = 1 << 63 // f64.copysign
	return v1&^signbit | v2&signbit
}

func i32TruncS(f float64) uint64 {
	f = math.Trunc(f)
	if math.IsNaN(f) { // NaN cannot be compared with themselves, so we have to use IsNaN
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if f < math.MinInt32 || f > math.MaxInt32 {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return uint64(uint32(int32(f)))
}

func i32TruncU(f float64) uint64 {
	f = math.Trunc(f)
	if math.IsNaN(f) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if f < 0 || f > math.MaxUint32 {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return uint64(uint32(f))
}

func i64TruncS(f float64) uint64 {
	f = math.Trunc(f)
	if math.IsNaN(f) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if f < math.MinInt64 || f >= math.MaxInt64 {
		// Note: math.MaxInt64 is rounded up to math.MaxInt64+1 in 64-bit float representation,
		// and that's why we use '>=' not '>' to check overflow.
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return uint64(int64(f))
}

func i64TruncU(f float64) uint64 {
	f = math.Trunc(f)
	if math.IsNaN(f) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if f < 0 || f >= math.MaxUint64 {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return uint64(f)
}
