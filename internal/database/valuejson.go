package database

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/udisondev/otpgo/internal/dc"
)

// jsonValue is the textual serialisation of a field value used by the
// plain-text backend. Integers ride as strings so 64-bit values survive
// JSON number parsing.
type jsonValue struct {
	Bool  *bool        `json:"bool,omitempty"`
	Uint  *string      `json:"uint,omitempty"`
	Int   *string      `json:"int,omitempty"`
	Float *float64     `json:"float,omitempty"`
	Str   *string      `json:"str,omitempty"`
	Blob  *string      `json:"blob,omitempty"`
	Tuple []jsonValue  `json:"tuple,omitempty"`
	List  []jsonValue  `json:"list,omitempty"`
	Dict  [][2]jsonValue `json:"dict,omitempty"`

	// Empty composites need explicit markers since omitempty hides them.
	EmptyTuple bool `json:"emptyTuple,omitempty"`
	EmptyList  bool `json:"emptyList,omitempty"`
	EmptyDict  bool `json:"emptyDict,omitempty"`
}

func toJSONValue(v dc.Value) (jsonValue, error) {
	switch v.Kind {
	case dc.KindNone:
		return jsonValue{}, nil
	case dc.KindBool:
		return jsonValue{Bool: &v.Bool}, nil
	case dc.KindUint:
		s := strconv.FormatUint(v.Uint, 10)
		return jsonValue{Uint: &s}, nil
	case dc.KindInt:
		s := strconv.FormatInt(v.Int, 10)
		return jsonValue{Int: &s}, nil
	case dc.KindFloat:
		return jsonValue{Float: &v.Float}, nil
	case dc.KindString:
		return jsonValue{Str: &v.Str}, nil
	case dc.KindBlob:
		s := base64.StdEncoding.EncodeToString(v.Bytes)
		return jsonValue{Blob: &s}, nil
	case dc.KindTuple, dc.KindList:
		items := make([]jsonValue, len(v.Items))
		for i, it := range v.Items {
			jv, err := toJSONValue(it)
			if err != nil {
				return jsonValue{}, err
			}
			items[i] = jv
		}
		if v.Kind == dc.KindTuple {
			if len(items) == 0 {
				return jsonValue{EmptyTuple: true}, nil
			}
			return jsonValue{Tuple: items}, nil
		}
		if len(items) == 0 {
			return jsonValue{EmptyList: true}, nil
		}
		return jsonValue{List: items}, nil
	case dc.KindDict:
		if len(v.Keys) == 0 {
			return jsonValue{EmptyDict: true}, nil
		}
		pairs := make([][2]jsonValue, len(v.Keys))
		for i := range v.Keys {
			k, err := toJSONValue(v.Keys[i])
			if err != nil {
				return jsonValue{}, err
			}
			val, err := toJSONValue(v.Items[i])
			if err != nil {
				return jsonValue{}, err
			}
			pairs[i] = [2]jsonValue{k, val}
		}
		return jsonValue{Dict: pairs}, nil
	}
	return jsonValue{}, fmt.Errorf("unknown value kind %d", v.Kind)
}

func fromJSONValue(jv jsonValue) (dc.Value, error) {
	switch {
	case jv.Bool != nil:
		return dc.BoolV(*jv.Bool), nil
	case jv.Uint != nil:
		u, err := strconv.ParseUint(*jv.Uint, 10, 64)
		if err != nil {
			return dc.None(), fmt.Errorf("bad uint %q: %w", *jv.Uint, err)
		}
		return dc.UintV(u), nil
	case jv.Int != nil:
		i, err := strconv.ParseInt(*jv.Int, 10, 64)
		if err != nil {
			return dc.None(), fmt.Errorf("bad int %q: %w", *jv.Int, err)
		}
		return dc.IntV(i), nil
	case jv.Float != nil:
		return dc.FloatV(*jv.Float), nil
	case jv.Str != nil:
		return dc.StringV(*jv.Str), nil
	case jv.Blob != nil:
		b, err := base64.StdEncoding.DecodeString(*jv.Blob)
		if err != nil {
			return dc.None(), fmt.Errorf("bad blob: %w", err)
		}
		return dc.BlobV(b), nil
	case jv.Tuple != nil || jv.EmptyTuple:
		items := make([]dc.Value, len(jv.Tuple))
		for i, it := range jv.Tuple {
			v, err := fromJSONValue(it)
			if err != nil {
				return dc.None(), err
			}
			items[i] = v
		}
		return dc.TupleV(items...), nil
	case jv.List != nil || jv.EmptyList:
		items := make([]dc.Value, len(jv.List))
		for i, it := range jv.List {
			v, err := fromJSONValue(it)
			if err != nil {
				return dc.None(), err
			}
			items[i] = v
		}
		return dc.ListV(items...), nil
	case jv.Dict != nil || jv.EmptyDict:
		keys := make([]dc.Value, len(jv.Dict))
		vals := make([]dc.Value, len(jv.Dict))
		for i, pair := range jv.Dict {
			k, err := fromJSONValue(pair[0])
			if err != nil {
				return dc.None(), err
			}
			v, err := fromJSONValue(pair[1])
			if err != nil {
				return dc.None(), err
			}
			keys[i], vals[i] = k, v
		}
		return dc.DictV(keys, vals), nil
	}
	return dc.None(), nil
}

// rawDocument is the plain-text file body following the header line.
type rawDocument struct {
	ClassName string               `json:"className"`
	Version   [3]uint8             `json:"version"`
	DoId      uint32               `json:"doId"`
	UuId      string               `json:"uuId"`
	Fields    map[string]jsonValue `json:"fields"`
}

func marshalRawDocument(o *Object) ([]byte, error) {
	doc := rawDocument{
		ClassName: o.Class.Name,
		Version:   Version,
		DoId:      o.DoId,
		UuId:      o.UuId.String(),
		Fields:    make(map[string]jsonValue, len(o.Fields)),
	}
	for name, v := range o.Fields {
		jv, err := toJSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		doc.Fields[name] = jv
	}
	return json.MarshalIndent(doc, "", "  ")
}
