package dc

import "bytes"

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindBool
	KindUint
	KindInt
	KindFloat
	KindString
	KindBlob
	KindTuple
	KindList
	KindDict
)

// Value is a dynamically typed field argument. Composite kinds hold
// children in Items; Dict keeps Keys and Items parallel.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Uint  uint64
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	Items []Value
	Keys  []Value
}

// None returns the empty value.
func None() Value { return Value{Kind: KindNone} }

// BoolV wraps a bool.
func BoolV(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// UintV wraps an unsigned integer.
func UintV(v uint64) Value { return Value{Kind: KindUint, Uint: v} }

// IntV wraps a signed integer.
func IntV(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatV wraps a float.
func FloatV(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// StringV wraps a string.
func StringV(s string) Value { return Value{Kind: KindString, Str: s} }

// BlobV wraps raw bytes.
func BlobV(b []byte) Value { return Value{Kind: KindBlob, Bytes: b} }

// TupleV builds a fixed-arity composite.
func TupleV(items ...Value) Value { return Value{Kind: KindTuple, Items: items} }

// ListV builds a variable-length composite.
func ListV(items ...Value) Value { return Value{Kind: KindList, Items: items} }

// DictV builds a key/value composite from parallel slices.
func DictV(keys, items []Value) Value { return Value{Kind: KindDict, Keys: keys, Items: items} }

// AsUint reads the value as an unsigned integer, converting from the
// signed variant when non-negative.
func (v Value) AsUint() (uint64, bool) {
	switch v.Kind {
	case KindUint:
		return v.Uint, true
	case KindInt:
		if v.Int >= 0 {
			return uint64(v.Int), true
		}
	}
	return 0, false
}

// AsInt reads the value as a signed integer.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		return int64(v.Uint), true
	}
	return 0, false
}

// Equal reports deep equality.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNone:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindUint:
		return a.Uint == b.Uint
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindBlob:
		return bytes.Equal(a.Bytes, b.Bytes)
	case KindTuple, KindList:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(a.Keys) != len(b.Keys) || len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Keys {
			if !Equal(a.Keys[i], b.Keys[i]) || !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}
