package dc

import (
	"fmt"

	"github.com/udisondev/otpgo/internal/protocol"
)

// Flags are field attribute keywords.
type Flags uint16

const (
	Required Flags = 1 << iota
	Db
	Ram
	Broadcast
	Ownsend
	Clsend
	Ownrecv
	Airecv
)

// Has reports whether all bits of x are set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// FieldKind distinguishes how a field carries its arguments.
type FieldKind uint8

const (
	// Atomic fields carry a fixed list of typed arguments; values are
	// tuples with one item per argument.
	Atomic FieldKind = iota
	// Parameter fields carry exactly one argument; values are bare.
	Parameter
	// Molecular fields bundle several atomic fields; values are tuples
	// with one item per bundled atomic.
	Molecular
)

// Type is the wire type of one field argument.
type Type uint8

const (
	TypeUint8 Type = iota
	TypeUint16
	TypeUint32
	TypeUint64
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeString
	TypeBlob
	// TypeUint32Array is a uint16 byte-size prefix followed by packed
	// uint32 elements.
	TypeUint32Array
	// TypeFriendPairArray is a uint16 byte-size prefix followed by
	// (uint32 doId, uint8 flags) elements.
	TypeFriendPairArray
)

// Field is one declared field of a distributed class.
type Field struct {
	Name    string
	Number  uint16
	Kind    FieldKind
	Flags   Flags
	Args    []Type   // Atomic: per argument; Parameter: single element
	Atomics []*Field // Molecular only
	Class   *Class

	// defaultValue overrides the per-type zero default when set.
	defaultValue *Value
}

// Default returns the field's default value: an explicit override if one
// was declared, otherwise the zero value of each argument type.
func (f *Field) Default() Value {
	if f.defaultValue != nil {
		return *f.defaultValue
	}
	switch f.Kind {
	case Parameter:
		return typeDefault(f.Args[0])
	case Molecular:
		items := make([]Value, len(f.Atomics))
		for i, a := range f.Atomics {
			items[i] = a.Default()
		}
		return TupleV(items...)
	default:
		items := make([]Value, len(f.Args))
		for i, t := range f.Args {
			items[i] = typeDefault(t)
		}
		return TupleV(items...)
	}
}

func typeDefault(t Type) Value {
	switch t {
	case TypeFloat64:
		return FloatV(0)
	case TypeString:
		return StringV("")
	case TypeBlob:
		return BlobV(nil)
	case TypeUint32Array, TypeFriendPairArray:
		return ListV()
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return IntV(0)
	default:
		return UintV(0)
	}
}

// PackArgs encodes v onto w. Atomic and molecular fields take a tuple
// (a bare value is accepted for single-argument atomics); parameter
// fields take the bare value.
func (f *Field) PackArgs(w *protocol.Writer, v Value) error {
	switch f.Kind {
	case Parameter:
		return packType(w, f.Args[0], v)
	case Molecular:
		items, err := f.tupleItems(v, len(f.Atomics))
		if err != nil {
			return err
		}
		for i, a := range f.Atomics {
			if err := a.PackArgs(w, items[i]); err != nil {
				return fmt.Errorf("%s.%s: %w", f.Name, a.Name, err)
			}
		}
		return nil
	default:
		items, err := f.tupleItems(v, len(f.Args))
		if err != nil {
			return err
		}
		for i, t := range f.Args {
			if err := packType(w, t, items[i]); err != nil {
				return fmt.Errorf("%s arg %d: %w", f.Name, i, err)
			}
		}
		return nil
	}
}

func (f *Field) tupleItems(v Value, want int) ([]Value, error) {
	if v.Kind != KindTuple {
		if want == 1 {
			return []Value{v}, nil
		}
		return nil, fmt.Errorf("%s: want %d-tuple, got kind %d", f.Name, want, v.Kind)
	}
	if len(v.Items) != want {
		return nil, fmt.Errorf("%s: want %d args, got %d", f.Name, want, len(v.Items))
	}
	return v.Items, nil
}

// PackDefault encodes the field's default value onto w.
func (f *Field) PackDefault(w *protocol.Writer) {
	// Defaults are always schema-legal.
	_ = f.PackArgs(w, f.Default())
}

// UnpackArgs decodes one field value from r. Atomic and molecular fields
// return a tuple; parameter fields return the bare value.
func (f *Field) UnpackArgs(r *protocol.Reader) (Value, error) {
	switch f.Kind {
	case Parameter:
		return unpackType(r, f.Args[0])
	case Molecular:
		items := make([]Value, len(f.Atomics))
		for i, a := range f.Atomics {
			v, err := a.UnpackArgs(r)
			if err != nil {
				return None(), fmt.Errorf("%s.%s: %w", f.Name, a.Name, err)
			}
			items[i] = v
		}
		return TupleV(items...), nil
	default:
		items := make([]Value, len(f.Args))
		for i, t := range f.Args {
			v, err := unpackType(r, t)
			if err != nil {
				return None(), fmt.Errorf("%s arg %d: %w", f.Name, i, err)
			}
			items[i] = v
		}
		return TupleV(items...), nil
	}
}

func packType(w *protocol.Writer, t Type, v Value) error {
	switch t {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		u, ok := v.AsUint()
		if !ok {
			return fmt.Errorf("want unsigned, got kind %d", v.Kind)
		}
		switch t {
		case TypeUint8:
			w.WriteUint8(uint8(u))
		case TypeUint16:
			w.WriteUint16(uint16(u))
		case TypeUint32:
			w.WriteUint32(uint32(u))
		default:
			w.WriteUint64(u)
		}
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		i, ok := v.AsInt()
		if !ok {
			return fmt.Errorf("want signed, got kind %d", v.Kind)
		}
		switch t {
		case TypeInt8:
			w.WriteInt8(int8(i))
		case TypeInt16:
			w.WriteInt16(int16(i))
		case TypeInt32:
			w.WriteInt32(int32(i))
		default:
			w.WriteInt64(i)
		}
	case TypeFloat64:
		if v.Kind != KindFloat {
			return fmt.Errorf("want float, got kind %d", v.Kind)
		}
		w.WriteFloat64(v.Float)
	case TypeString:
		if v.Kind != KindString {
			return fmt.Errorf("want string, got kind %d", v.Kind)
		}
		w.WriteString(v.Str)
	case TypeBlob:
		if v.Kind != KindBlob {
			return fmt.Errorf("want blob, got kind %d", v.Kind)
		}
		w.WriteBlob(v.Bytes)
	case TypeUint32Array:
		if v.Kind != KindList && v.Kind != KindTuple {
			return fmt.Errorf("want list, got kind %d", v.Kind)
		}
		w.WriteUint16(uint16(len(v.Items) * 4))
		for _, it := range v.Items {
			u, ok := it.AsUint()
			if !ok {
				return fmt.Errorf("array element: want unsigned, got kind %d", it.Kind)
			}
			w.WriteUint32(uint32(u))
		}
	case TypeFriendPairArray:
		if v.Kind != KindList && v.Kind != KindTuple {
			return fmt.Errorf("want list, got kind %d", v.Kind)
		}
		w.WriteUint16(uint16(len(v.Items) * 5))
		for _, it := range v.Items {
			if it.Kind != KindTuple || len(it.Items) != 2 {
				return fmt.Errorf("friend pair: want 2-tuple, got kind %d", it.Kind)
			}
			id, ok := it.Items[0].AsUint()
			if !ok {
				return fmt.Errorf("friend pair id: want unsigned")
			}
			fl, ok := it.Items[1].AsUint()
			if !ok {
				return fmt.Errorf("friend pair flags: want unsigned")
			}
			w.WriteUint32(uint32(id))
			w.WriteUint8(uint8(fl))
		}
	default:
		return fmt.Errorf("unknown arg type %d", t)
	}
	return nil
}

func unpackType(r *protocol.Reader, t Type) (Value, error) {
	switch t {
	case TypeUint8:
		v, err := r.ReadUint8()
		return UintV(uint64(v)), err
	case TypeUint16:
		v, err := r.ReadUint16()
		return UintV(uint64(v)), err
	case TypeUint32:
		v, err := r.ReadUint32()
		return UintV(uint64(v)), err
	case TypeUint64:
		v, err := r.ReadUint64()
		return UintV(v), err
	case TypeInt8:
		v, err := r.ReadInt8()
		return IntV(int64(v)), err
	case TypeInt16:
		v, err := r.ReadInt16()
		return IntV(int64(v)), err
	case TypeInt32:
		v, err := r.ReadInt32()
		return IntV(int64(v)), err
	case TypeInt64:
		v, err := r.ReadInt64()
		return IntV(v), err
	case TypeFloat64:
		v, err := r.ReadFloat64()
		return FloatV(v), err
	case TypeString:
		v, err := r.ReadString()
		return StringV(v), err
	case TypeBlob:
		v, err := r.ReadBlob()
		return BlobV(v), err
	case TypeUint32Array:
		size, err := r.ReadUint16()
		if err != nil {
			return None(), err
		}
		if size%4 != 0 {
			return None(), fmt.Errorf("uint32 array size %d not divisible by 4", size)
		}
		items := make([]Value, 0, size/4)
		for i := 0; i < int(size)/4; i++ {
			u, err := r.ReadUint32()
			if err != nil {
				return None(), err
			}
			items = append(items, UintV(uint64(u)))
		}
		return ListV(items...), nil
	case TypeFriendPairArray:
		size, err := r.ReadUint16()
		if err != nil {
			return None(), err
		}
		if size%5 != 0 {
			return None(), fmt.Errorf("friend pair array size %d not divisible by 5", size)
		}
		items := make([]Value, 0, size/5)
		for i := 0; i < int(size)/5; i++ {
			id, err := r.ReadUint32()
			if err != nil {
				return None(), err
			}
			fl, err := r.ReadUint8()
			if err != nil {
				return None(), err
			}
			items = append(items, TupleV(UintV(uint64(id)), UintV(uint64(fl))))
		}
		return ListV(items...), nil
	}
	return None(), fmt.Errorf("unknown arg type %d", t)
}
