package ir

import (
	"math"
)

// Name identifies a function, import, export, signature, or label.
// Names are stable across mutations; binary indices are recomputed
// from positions at emission time.
type Name string

// IsSet reports whether the name is non-empty.
func (n Name) IsSet() bool { return n != "" }

// Index is a local variable index within a function. Parameters come
// first in declared order, then additional locals.
type Index = uint32

// Type is a WebAssembly value type, or TypeNone for the absence of a value.
type Type uint8

// Value types. The numeric values match the version-11 binary encoding.
const (
	TypeNone Type = 0
	TypeI32  Type = 1
	TypeI64  Type = 2
	TypeF32  Type = 3
	TypeF64  Type = 4
)

// IsConcrete reports whether the type carries a value.
func (t Type) IsConcrete() bool { return t != TypeNone }

// IsFloat reports whether the type is f32 or f64.
func (t Type) IsFloat() bool { return t == TypeF32 || t == TypeF64 }

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// Literal is a typed scalar constant. Floating-point values are stored
// by bit pattern so NaN payloads survive round-trips.
type Literal struct {
	Kind Type
	bits uint64
}

// LiteralI32 returns an i32 literal.
func LiteralI32(v int32) Literal { return Literal{Kind: TypeI32, bits: uint64(uint32(v))} }

// LiteralI64 returns an i64 literal.
func LiteralI64(v int64) Literal { return Literal{Kind: TypeI64, bits: uint64(v)} }

// LiteralF32 returns an f32 literal.
func LiteralF32(v float32) Literal {
	return Literal{Kind: TypeF32, bits: uint64(math.Float32bits(v))}
}

// LiteralF64 returns an f64 literal.
func LiteralF64(v float64) Literal {
	return Literal{Kind: TypeF64, bits: math.Float64bits(v)}
}

// LiteralF32Bits returns an f32 literal from a raw bit pattern.
func LiteralF32Bits(bits uint32) Literal { return Literal{Kind: TypeF32, bits: uint64(bits)} }

// LiteralF64Bits returns an f64 literal from a raw bit pattern.
func LiteralF64Bits(bits uint64) Literal { return Literal{Kind: TypeF64, bits: bits} }

// I32 returns the i32 value.
func (l Literal) I32() int32 { return int32(uint32(l.bits)) }

// I64 returns the i64 value.
func (l Literal) I64() int64 { return int64(l.bits) }

// F32 returns the f32 value.
func (l Literal) F32() float32 { return math.Float32frombits(uint32(l.bits)) }

// F64 returns the f64 value.
func (l Literal) F64() float64 { return math.Float64frombits(l.bits) }

// Bits32 returns the low 32 bits of the stored pattern.
func (l Literal) Bits32() uint32 { return uint32(l.bits) }

// Bits64 returns the stored bit pattern.
func (l Literal) Bits64() uint64 { return l.bits }
