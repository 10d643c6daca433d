package stateserver

import (
	"fmt"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// Object is one live distributed object: a class, a location and the
// current field values.
type Object struct {
	DoId     uint32
	Class    *dc.Class
	ParentId uint32
	ZoneId   uint32
	Fields   map[string]dc.Value
}

// NewObject creates an object with no field values set.
func NewObject(doId uint32, class *dc.Class, parentId, zoneId uint32) *Object {
	return &Object{
		DoId:     doId,
		Class:    class,
		ParentId: parentId,
		ZoneId:   zoneId,
		Fields:   make(map[string]dc.Value),
	}
}

// PackRequired packs every inherited required field in declaration
// order, using the stored value or the field default.
func (o *Object) PackRequired(w *protocol.Writer) {
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Required) {
			continue
		}
		o.packFieldOrDefault(w, f)
	}
}

// PackRequiredBroadcast packs the required fields that are also
// broadcast, in declaration order.
func (o *Object) PackRequiredBroadcast(w *protocol.Writer) {
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Required | dc.Broadcast) {
			continue
		}
		o.packFieldOrDefault(w, f)
	}
}

func (o *Object) packFieldOrDefault(w *protocol.Writer, f *dc.Field) {
	if v, ok := o.Fields[f.Name]; ok {
		if err := f.PackArgs(w, v); err == nil {
			return
		}
	}
	f.PackDefault(w)
}

// PackOther packs a uint16 count followed by (fieldNumber, args) for
// every present db, non-required field.
func (o *Object) PackOther(w *protocol.Writer) {
	body := protocol.GetWriter()
	defer body.Put()

	var count uint16
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Db) || f.Flags.Has(dc.Required) {
			continue
		}
		v, ok := o.Fields[f.Name]
		if !ok {
			continue
		}
		entry := protocol.GetWriter()
		if err := f.PackArgs(entry, v); err != nil {
			entry.Put()
			continue
		}
		body.WriteUint16(f.Number)
		body.WriteBytes(entry.Bytes())
		entry.Put()
		count++
	}
	w.WriteUint16(count)
	w.WriteBytes(body.Bytes())
}

// UnpackRequired reads the required-field block produced by
// PackRequired into the field map.
func (o *Object) UnpackRequired(r *protocol.Reader) error {
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Required) {
			continue
		}
		v, err := f.UnpackArgs(r)
		if err != nil {
			return fmt.Errorf("required field %s: %w", f.Name, err)
		}
		o.Fields[f.Name] = v
	}
	return nil
}

// UnpackOther reads the count-prefixed other-field block produced by
// PackOther into the field map.
func (o *Object) UnpackOther(r *protocol.Reader, schema *dc.Schema) error {
	count, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("other count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		num, err := r.ReadUint16()
		if err != nil {
			return fmt.Errorf("other field %d: %w", i, err)
		}
		f := schema.FieldByNumber(num)
		if f == nil {
			return fmt.Errorf("other field %d: unknown field number %d", i, num)
		}
		v, err := f.UnpackArgs(r)
		if err != nil {
			return fmt.Errorf("other field %s: %w", f.Name, err)
		}
		o.Fields[f.Name] = v
	}
	return nil
}

// ReceiveField unpacks one inbound field update. Molecular updates are
// exploded into their atomics. Returns the applied name/value pairs.
func (o *Object) ReceiveField(f *dc.Field, r *protocol.Reader) (map[string]dc.Value, error) {
	applied := make(map[string]dc.Value)
	if f.Kind == dc.Molecular {
		for _, a := range f.Atomics {
			v, err := a.UnpackArgs(r)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, a.Name, err)
			}
			o.Fields[a.Name] = v
			applied[a.Name] = v
		}
		return applied, nil
	}
	v, err := f.UnpackArgs(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	o.Fields[f.Name] = v
	applied[f.Name] = v
	return applied, nil
}
