package database

import (
	"crypto/md5"
	"fmt"

	"github.com/google/uuid"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// Storage format version. Loads accept [MinVersion, Version]; anything
// outside the window fails the load so fields are never silently
// truncated.
var (
	Version    = [3]uint8{1, 0, 0}
	MinVersion = [3]uint8{1, 0, 0}
)

// CheckVersion gates a stored version triple.
func CheckVersion(v [3]uint8) error {
	if versionLess(v, MinVersion) || versionLess(Version, v) {
		return fmt.Errorf("stored object version %d.%d.%d outside supported %d.%d.%d..%d.%d.%d",
			v[0], v[1], v[2],
			MinVersion[0], MinVersion[1], MinVersion[2],
			Version[0], Version[1], Version[2])
	}
	return nil
}

func versionLess(a, b [3]uint8) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MintUuId derives the stable unique id of a persistent object from its
// class name and doId: the md5 of "ClassName-doId" reinterpreted as a
// version-4 UUID.
func MintUuId(className string, doId uint32) uuid.UUID {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%d", className, doId)))
	u := uuid.UUID(sum)
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u
}

// Object is a persistent distributed object: a doId, a stable uuId and
// the stored field values.
type Object struct {
	DoId   uint32
	UuId   uuid.UUID
	Class  *dc.Class
	Fields map[string]dc.Value
}

// NewObject creates an empty persistent object.
func NewObject(doId uint32, uuId uuid.UUID, class *dc.Class) *Object {
	return &Object{
		DoId:   doId,
		UuId:   uuId,
		Class:  class,
		Fields: make(map[string]dc.Value),
	}
}

// PackRequired packs every inherited required field in declaration
// order, stored value or default.
func (o *Object) PackRequired(w *protocol.Writer) {
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Required) {
			continue
		}
		if v, ok := o.Fields[f.Name]; ok {
			if err := f.PackArgs(w, v); err == nil {
				continue
			}
		}
		f.PackDefault(w)
	}
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

// PackField packs one stored field value into the schema wire form.
func (o *Object) PackField(name string, v dc.Value) ([]byte, error) {
	f := o.Class.FieldByName(name)
	if f == nil {
		return nil, fmt.Errorf("class %s has no field %q", o.Class.Name, name)
	}
	w := protocol.NewWriter(64)
	if err := f.PackArgs(w, v); err != nil {
		return nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return w.Bytes(), nil
}

// UnpackField decodes one field value from its schema wire form.
func (o *Object) UnpackField(name string, data []byte) (dc.Value, error) {
	f := o.Class.FieldByName(name)
	if f == nil {
		return dc.None(), fmt.Errorf("class %s has no field %q", o.Class.Name, name)
	}
	r := protocol.NewReader(data)
	v, err := f.UnpackArgs(r)
	if err != nil {
		return dc.None(), fmt.Errorf("unpack %s: %w", name, err)
	}
	return v, nil
}

// ReceiveField unpacks one inbound field update, exploding moleculars,
// and stores the db components. Returns whether anything was stored.
func (o *Object) ReceiveField(f *dc.Field, r *protocol.Reader) (bool, error) {
	stored := false
	if f.Kind == dc.Molecular {
		for _, a := range f.Atomics {
			v, err := a.UnpackArgs(r)
			if err != nil {
				return stored, fmt.Errorf("%s.%s: %w", f.Name, a.Name, err)
			}
			if a.Flags.Has(dc.Db) {
				o.Fields[a.Name] = v
				stored = true
			}
		}
		return stored, nil
	}
	v, err := f.UnpackArgs(r)
	if err != nil {
		return false, fmt.Errorf("%s: %w", f.Name, err)
	}
	if f.Flags.Has(dc.Db) {
		o.Fields[f.Name] = v
		stored = true
	}
	return stored, nil
}
