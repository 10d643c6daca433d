package database

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/udisondev/otpgo/internal/dc"
)

// Tagged-union encoding for field values stored in BLOB columns.
// Layout: a uint8 tag, then for scalars the fixed-width LE value, for
// string32/blob32 a uint32 length and the bytes, for composites a
// uint32 child count and the recursively encoded children (dicts
// alternate key, value).
const (
	tagNone uint8 = iota
	tagBool
	tagUint64
	tagInt64
	tagFloat64
	tagString32
	tagBlob32
	tagTuple
	tagList
	tagDict
)

// EncodeValue serialises v into the tagged-union form.
func EncodeValue(v dc.Value) ([]byte, error) {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v dc.Value) ([]byte, error) {
	switch v.Kind {
	case dc.KindNone:
		return append(buf, tagNone), nil
	case dc.KindBool:
		buf = append(buf, tagBool)
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case dc.KindUint:
		buf = append(buf, tagUint64)
		return binary.LittleEndian.AppendUint64(buf, v.Uint), nil
	case dc.KindInt:
		buf = append(buf, tagInt64)
		return binary.LittleEndian.AppendUint64(buf, uint64(v.Int)), nil
	case dc.KindFloat:
		buf = append(buf, tagFloat64)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float)), nil
	case dc.KindString:
		buf = append(buf, tagString32)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...), nil
	case dc.KindBlob:
		buf = append(buf, tagBlob32)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		return append(buf, v.Bytes...), nil
	case dc.KindTuple, dc.KindList:
		if v.Kind == dc.KindTuple {
			buf = append(buf, tagTuple)
		} else {
			buf = append(buf, tagList)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Items)))
		var err error
		for _, it := range v.Items {
			if buf, err = appendValue(buf, it); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case dc.KindDict:
		buf = append(buf, tagDict)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Keys)))
		var err error
		for i := range v.Keys {
			if buf, err = appendValue(buf, v.Keys[i]); err != nil {
				return nil, err
			}
			if buf, err = appendValue(buf, v.Items[i]); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// DecodeValue deserialises one tagged-union value, requiring the full
// buffer to be consumed.
func DecodeValue(data []byte) (dc.Value, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return dc.None(), err
	}
	if len(rest) != 0 {
		return dc.None(), fmt.Errorf("trailing %d bytes after value", len(rest))
	}
	return v, nil
}

func decodeValue(data []byte) (dc.Value, []byte, error) {
	if len(data) < 1 {
		return dc.None(), nil, fmt.Errorf("empty value buffer")
	}
	tag, data := data[0], data[1:]
	switch tag {
	case tagNone:
		return dc.None(), data, nil
	case tagBool:
		if len(data) < 1 {
			return dc.None(), nil, fmt.Errorf("truncated bool")
		}
		return dc.BoolV(data[0] != 0), data[1:], nil
	case tagUint64:
		if len(data) < 8 {
			return dc.None(), nil, fmt.Errorf("truncated uint64")
		}
		return dc.UintV(binary.LittleEndian.Uint64(data)), data[8:], nil
	case tagInt64:
		if len(data) < 8 {
			return dc.None(), nil, fmt.Errorf("truncated int64")
		}
		return dc.IntV(int64(binary.LittleEndian.Uint64(data))), data[8:], nil
	case tagFloat64:
		if len(data) < 8 {
			return dc.None(), nil, fmt.Errorf("truncated float64")
		}
		return dc.FloatV(math.Float64frombits(binary.LittleEndian.Uint64(data))), data[8:], nil
	case tagString32, tagBlob32:
		if len(data) < 4 {
			return dc.None(), nil, fmt.Errorf("truncated length")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < n {
			return dc.None(), nil, fmt.Errorf("truncated payload: want %d, have %d", n, len(data))
		}
		if tag == tagString32 {
			return dc.StringV(string(data[:n])), data[n:], nil
		}
		b := make([]byte, n)
		copy(b, data[:n])
		return dc.BlobV(b), data[n:], nil
	case tagTuple, tagList:
		if len(data) < 4 {
			return dc.None(), nil, fmt.Errorf("truncated count")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		out := make([]dc.Value, 0, n)
		for i := uint32(0); i < n; i++ {
			var (
				v   dc.Value
				err error
			)
			if v, data, err = decodeValue(data); err != nil {
				return dc.None(), nil, err
			}
			out = append(out, v)
		}
		if tag == tagTuple {
			return dc.TupleV(out...), data, nil
		}
		return dc.ListV(out...), data, nil
	case tagDict:
		if len(data) < 4 {
			return dc.None(), nil, fmt.Errorf("truncated count")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		keys := make([]dc.Value, 0, n)
		vals := make([]dc.Value, 0, n)
		for i := uint32(0); i < n; i++ {
			var (
				k, v dc.Value
				err  error
			)
			if k, data, err = decodeValue(data); err != nil {
				return dc.None(), nil, err
			}
			if v, data, err = decodeValue(data); err != nil {
				return dc.None(), nil, err
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		return dc.DictV(keys, vals), data, nil
	}
	return dc.None(), nil, fmt.Errorf("unknown value tag %d", tag)
}
