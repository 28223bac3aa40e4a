package wasm

import (
	"fmt"
	"strings"
)

// Index is the offset in an index space, such as the function index space.
type Index = uint32

// ValueType is the binary encoding of a type such as i32
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeVoid is the empty block type, also used as the result of a Signature that returns nothing.
	ValueTypeVoid ValueType = 0x40
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeVoid:
		return "void"
	}
	return fmt.Sprintf("unknown(%#x)", t)
}

// IsValueType returns true for the concrete value types, which excludes ValueTypeVoid.
func IsValueType(t ValueType) bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

// Signature is a function type: ordered parameter types plus one result type, or ValueTypeVoid.
//
// Signatures are owned by ModuleInformation.Signatures and referenced by pointer elsewhere. They are immutable after
// parsing.
type Signature struct {
	Params []ValueType
	Result ValueType

	// string is cached as it is used both for String and key
	string string
}

// ResultCount is zero for a void signature, otherwise one.
func (s *Signature) ResultCount() int {
	if s.Result == ValueTypeVoid {
		return 0
	}
	return 1
}

// Results returns the result types as a slice, empty for a void signature.
func (s *Signature) Results() []ValueType {
	if s.Result == ValueTypeVoid {
		return nil
	}
	return []ValueType{s.Result}
}

// String implements fmt.Stringer, ex. "(i32,i32)->i32".
func (s *Signature) String() string {
	if s.string != "" {
		return s.string
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ValueTypeName(p))
	}
	b.WriteString(")->")
	b.WriteString(ValueTypeName(s.Result))
	s.string = b.String()
	return s.string
}

// ExternalKind is the kind of an import or export.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternalKind = byte

const (
	ExternalKindFunction ExternalKind = 0x00
	ExternalKindTable    ExternalKind = 0x01
	ExternalKindMemory   ExternalKind = 0x02
	ExternalKindGlobal   ExternalKind = 0x03
)

// ExternalKindName returns the name of the kind as used in the text format.
func ExternalKindName(k ExternalKind) string {
	switch k {
	case ExternalKindFunction:
		return "func"
	case ExternalKindTable:
		return "table"
	case ExternalKindMemory:
		return "memory"
	case ExternalKindGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", k)
}
