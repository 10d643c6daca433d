package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/udisondev/otpgo/internal/dc"
)

// Manager fronts a Backend with an in-memory cache. Once an object has
// been loaded or created, the cached copy is the source of truth for
// the rest of the process lifetime; the backend only sees explicit
// saves.
type Manager struct {
	schema  *dc.Schema
	backend Backend
	log     *slog.Logger

	mu    sync.Mutex
	cache map[uint32]*Object
}

// NewManager wraps a backend.
func NewManager(schema *dc.Schema, backend Backend, log *slog.Logger) *Manager {
	return &Manager{
		schema:  schema,
		backend: backend,
		log:     log.With("component", "database"),
		cache:   make(map[uint32]*Object),
	}
}

// Cached returns the in-memory object for doId without touching the
// backend.
func (m *Manager) Cached(doId uint32) (*Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.cache[doId]
	return o, ok
}

// LoadObject returns the cached object or loads and caches it from the
// backend. ErrNotFound when the id has never been stored.
func (m *Manager) LoadObject(ctx context.Context, doId uint32) (*Object, error) {
	m.mu.Lock()
	if o, ok := m.cache[doId]; ok {
		m.mu.Unlock()
		return o, nil
	}
	m.mu.Unlock()

	o, err := m.backend.Load(ctx, doId)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent load may have won; keep the first copy so every
	// caller shares one object.
	if cached, ok := m.cache[doId]; ok {
		return cached, nil
	}
	m.cache[doId] = o
	return o, nil
}

// SaveObject persists the object and keeps it cached.
func (m *Manager) SaveObject(ctx context.Context, o *Object) error {
	if err := m.backend.Save(ctx, o); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[o.DoId] = o
	m.mu.Unlock()
	return nil
}

// CreateObject allocates a doId and creates a persistent object of the
// given object type. Every db field starts at its default, the object
// type field records the type number, and overrides replace defaults
// before the first save.
func (m *Manager) CreateObject(ctx context.Context, objectType uint16, overrides map[string]dc.Value) (*Object, error) {
	class := m.schema.ObjectType(objectType)
	if class == nil {
		return nil, fmt.Errorf("unknown object type %d", objectType)
	}
	return m.create(ctx, class, objectType, overrides)
}

// CreateObjectFromName is CreateObject keyed by class name.
func (m *Manager) CreateObjectFromName(ctx context.Context, className string, overrides map[string]dc.Value) (*Object, error) {
	objectType := m.schema.ObjectTypeByName(className)
	if objectType == 0 {
		return nil, fmt.Errorf("class %q is not persistable", className)
	}
	return m.create(ctx, m.schema.ClassByName(className), objectType, overrides)
}

// createAttempts bounds doId reallocation when concurrent creations
// race for the same id.
const createAttempts = 8

func (m *Manager) create(ctx context.Context, class *dc.Class, objectType uint16, overrides map[string]dc.Value) (*Object, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		doId, err := m.backend.NextDoId(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate doId for %s: %w", class.Name, err)
		}

		o := NewObject(doId, MintUuId(class.Name, doId), class)
		for _, f := range class.InheritedFields() {
			if !f.Flags.Has(dc.Db) || f.Kind == dc.Molecular {
				continue
			}
			o.Fields[f.Name] = f.Default()
		}
		o.Fields["DcObjectType"] = dc.UintV(uint64(objectType))
		for name, v := range overrides {
			if class.FieldByName(name) == nil {
				return nil, fmt.Errorf("create %s: unknown field %q", class.Name, name)
			}
			o.Fields[name] = v
		}

		err = m.backend.Create(ctx, o)
		if errors.Is(err, ErrExists) {
			// Lost the id to a concurrent creation; allocate again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s %d: %w", class.Name, doId, err)
		}

		m.mu.Lock()
		m.cache[doId] = o
		m.mu.Unlock()
		m.log.Info("created database object", "class", class.Name, "doId", doId, "uuId", o.UuId)
		return o, nil
	}
	return nil, fmt.Errorf("create %s: could not claim a free doId", class.Name)
}

// Hydrate registers an object in the cache without saving it, used when
// a stored id must present as an existing object of a known class. It
// never replaces a cached or stored object.
func (m *Manager) Hydrate(ctx context.Context, doId uint32, class *dc.Class) (*Object, bool, error) {
	m.mu.Lock()
	if o, ok := m.cache[doId]; ok {
		m.mu.Unlock()
		return o, false, nil
	}
	m.mu.Unlock()

	exists, err := m.backend.Exists(ctx, doId)
	if err != nil {
		return nil, false, err
	}
	if exists {
		o, err := m.LoadObject(ctx, doId)
		return o, false, err
	}

	objectType := m.schema.ObjectTypeByName(class.Name)
	if objectType == 0 {
		return nil, false, fmt.Errorf("class %q is not persistable", class.Name)
	}
	o := NewObject(doId, MintUuId(class.Name, doId), class)
	for _, f := range class.InheritedFields() {
		if !f.Flags.Has(dc.Db) || f.Kind == dc.Molecular {
			continue
		}
		o.Fields[f.Name] = f.Default()
	}
	o.Fields["DcObjectType"] = dc.UintV(uint64(objectType))

	m.mu.Lock()
	m.cache[doId] = o
	m.mu.Unlock()
	return o, true, nil
}

// GetAccount resolves an account name to its Account doId.
func (m *Manager) GetAccount(ctx context.Context, name string) (uint32, bool, error) {
	return m.backend.GetAccount(ctx, name)
}

// SetAccount records the account-name directory entry.
func (m *Manager) SetAccount(ctx context.Context, name string, doId uint32) error {
	return m.backend.SetAccount(ctx, name, doId)
}

// LoadOrNotFound adapts a load so callers can branch on existence
// without inspecting error identity twice.
func (m *Manager) LoadOrNotFound(ctx context.Context, doId uint32) (*Object, bool, error) {
	o, err := m.LoadObject(ctx, doId)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// Close releases the underlying backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
