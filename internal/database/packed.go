package database

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// PackedBackend stores one binary file per object: three version bytes,
// className, doId, uuId, then (fieldName, packedArgs) records until
// EOF, db fields only.
type PackedBackend struct {
	*fileBackend
	schema *dc.Schema
}

// NewPackedBackend opens (creating if needed) a packed-binary store
// rooted at dir.
func NewPackedBackend(schema *dc.Schema, dir, ext, storage string) (*PackedBackend, error) {
	fb, err := newFileBackend(dir, ext, storage)
	if err != nil {
		return nil, err
	}
	return &PackedBackend{fileBackend: fb, schema: schema}, nil
}

func (b *PackedBackend) Load(_ context.Context, doId uint32) (*Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.objectPath(doId))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %d: %w", doId, err)
	}

	r := protocol.NewReader(data)
	var version [3]uint8
	for i := range version {
		if version[i], err = r.ReadUint8(); err != nil {
			return nil, fmt.Errorf("object %d: version: %w", doId, err)
		}
	}
	if err := CheckVersion(version); err != nil {
		return nil, fmt.Errorf("object %d: %w", doId, err)
	}

	className, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("object %d: class name: %w", doId, err)
	}
	class := b.schema.ClassByName(className)
	if class == nil {
		return nil, fmt.Errorf("object %d: unknown class %q", doId, className)
	}
	storedDoId, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("object %d: doId: %w", doId, err)
	}
	uuIdStr, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("object %d: uuId: %w", doId, err)
	}
	uuId, err := uuid.Parse(uuIdStr)
	if err != nil {
		return nil, fmt.Errorf("object %d: bad uuId: %w", doId, err)
	}

	o := NewObject(storedDoId, uuId, class)
	for r.Remaining() > 0 {
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("object %d: field name: %w", doId, err)
		}
		f := class.FieldByName(name)
		if f == nil {
			return nil, fmt.Errorf("object %d: unknown field %q", doId, name)
		}
		v, err := f.UnpackArgs(r)
		if err != nil {
			return nil, fmt.Errorf("object %d: field %s: %w", doId, name, err)
		}
		o.Fields[name] = v
	}
	return o, nil
}

func (b *PackedBackend) encode(o *Object) ([]byte, error) {
	w := protocol.NewWriter(256)
	w.WriteUint8(Version[0])
	w.WriteUint8(Version[1])
	w.WriteUint8(Version[2])
	w.WriteString(o.Class.Name)
	w.WriteUint32(o.DoId)
	w.WriteString(o.UuId.String())

	// Stable field order keeps files diffable.
	for _, f := range o.Class.InheritedFields() {
		if !f.Flags.Has(dc.Db) {
			continue
		}
		v, ok := o.Fields[f.Name]
		if !ok {
			continue
		}
		entry := protocol.GetWriter()
		if err := f.PackArgs(entry, v); err != nil {
			entry.Put()
			return nil, fmt.Errorf("object %d: pack field %s: %w", o.DoId, f.Name, err)
		}
		w.WriteString(f.Name)
		w.WriteBytes(entry.Bytes())
		entry.Put()
	}
	return w.Bytes(), nil
}

func (b *PackedBackend) Save(_ context.Context, o *Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.encode(o)
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.objectPath(o.DoId), data, 0o644); err != nil {
		return fmt.Errorf("write object %d: %w", o.DoId, err)
	}
	return nil
}

func (b *PackedBackend) Create(_ context.Context, o *Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.encode(o)
	if err != nil {
		return err
	}
	return b.writeExclusive(o.DoId, data)
}
