package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/udisondev/otpgo/internal/dc"
)

// rawHeader opens every plain-text object file.
var rawHeader = []byte("# DatabaseObject\n")

// RawBackend stores one readable text file per object: the header line
// followed by the JSON serialisation of (className, version, doId,
// uuId, fields).
type RawBackend struct {
	*fileBackend
	schema *dc.Schema
}

// NewRawBackend opens (creating if needed) a plain-text store rooted at
// dir.
func NewRawBackend(schema *dc.Schema, dir, ext, storage string) (*RawBackend, error) {
	fb, err := newFileBackend(dir, ext, storage)
	if err != nil {
		return nil, err
	}
	return &RawBackend{fileBackend: fb, schema: schema}, nil
}

func (b *RawBackend) Load(_ context.Context, doId uint32) (*Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.objectPath(doId))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %d: %w", doId, err)
	}
	if !bytes.HasPrefix(data, rawHeader) {
		return nil, fmt.Errorf("object %d: invalid database object header", doId)
	}

	var doc rawDocument
	if err := json.Unmarshal(bytes.TrimPrefix(data, rawHeader), &doc); err != nil {
		return nil, fmt.Errorf("object %d: decode: %w", doId, err)
	}
	if err := CheckVersion(doc.Version); err != nil {
		return nil, fmt.Errorf("object %d: %w", doId, err)
	}
	class := b.schema.ClassByName(doc.ClassName)
	if class == nil {
		return nil, fmt.Errorf("object %d: unknown class %q", doId, doc.ClassName)
	}
	uuId, err := uuid.Parse(doc.UuId)
	if err != nil {
		return nil, fmt.Errorf("object %d: bad uuId: %w", doId, err)
	}

	o := NewObject(doc.DoId, uuId, class)
	for name, jv := range doc.Fields {
		if class.FieldByName(name) == nil {
			continue
		}
		v, err := fromJSONValue(jv)
		if err != nil {
			return nil, fmt.Errorf("object %d: field %s: %w", doId, name, err)
		}
		o.Fields[name] = v
	}
	return o, nil
}

func (b *RawBackend) encode(o *Object) ([]byte, error) {
	body, err := marshalRawDocument(o)
	if err != nil {
		return nil, fmt.Errorf("encode object %d: %w", o.DoId, err)
	}
	return append(append([]byte{}, rawHeader...), body...), nil
}

func (b *RawBackend) Save(_ context.Context, o *Object) error {
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

func (b *RawBackend) Create(_ context.Context, o *Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.encode(o)
	if err != nil {
		return err
	}
	return b.writeExclusive(o.DoId, data)
}
