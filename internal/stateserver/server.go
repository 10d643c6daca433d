package stateserver

import (
	"log/slog"
	"sync"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// Announcer is how the state server asks the client agent to fan out
// object lifecycle events. It is bound after construction to break the
// construction cycle between the two components.
type Announcer interface {
	AnnounceCreate(obj *Object, sender uint64)
	AnnounceDelete(obj *Object, sender uint64)
	AnnounceMove(obj *Object, prevParentId, prevZoneId uint32, sender uint64)
	AnnounceUpdate(obj *Object, sender uint64, field *dc.Field, payload []byte)
}

// Server keeps the live object registries and reacts to lifecycle
// messages from the bus.
type Server struct {
	schema *dc.Schema
	log    *slog.Logger

	mu        sync.RWMutex
	objects   map[uint32]*Object
	dbObjects map[uint32]*Object

	announcer Announcer
}

// NewServer creates an empty state server over the given schema.
func NewServer(schema *dc.Schema, log *slog.Logger) *Server {
	return &Server{
		schema:    schema,
		log:       log.With("component", "stateserver"),
		objects:   make(map[uint32]*Object),
		dbObjects: make(map[uint32]*Object),
	}
}

// SetAnnouncer binds the client agent. Must be called before the bus
// starts delivering messages.
func (s *Server) SetAnnouncer(a Announcer) { s.announcer = a }

// Lookup resolves a doId in either registry; the hydrated database
// registry wins when both hold the id.
func (s *Server) Lookup(doId uint32) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.dbObjects[doId]; ok {
		return o, true
	}
	o, ok := s.objects[doId]
	return o, ok
}

// InsertDbObject registers a hydrated placeholder for a persistent
// object, unless the id is already known to either registry.
func (s *Server) InsertDbObject(obj *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[obj.DoId]; ok {
		return
	}
	if _, ok := s.dbObjects[obj.DoId]; ok {
		return
	}
	s.dbObjects[obj.DoId] = obj
}

// IsDbObject reports whether doId lives in the hydrated registry.
func (s *Server) IsDbObject(doId uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dbObjects[doId]
	return ok
}

// ObjectsAt snapshots every ephemeral object at the given location.
func (s *Server) ObjectsAt(parentId, zoneId uint32) []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Object
	for _, o := range s.objects {
		if o.ParentId == parentId && o.ZoneId == zoneId {
			out = append(out, o)
		}
	}
	return out
}

// AllObjects snapshots both registries, ephemeral objects first.
func (s *Server) AllObjects() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Object, 0, len(s.objects)+len(s.dbObjects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	for _, o := range s.dbObjects {
		out = append(out, o)
	}
	return out
}

// HandleMessage dispatches bus messages: generates on the state server
// channel, lifecycle and field messages on per-object channels.
func (s *Server) HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte) {
	for _, ch := range channels {
		if ch == protocol.ChannelStateServer {
			if code == protocol.StateServerObjectGenerateWithRequiredOther {
				s.handleGenerate(sender, payload)
			}
			continue
		}
		doId := uint32(ch)
		if uint64(doId) != ch {
			continue
		}
		obj, ok := s.Lookup(doId)
		if !ok {
			continue
		}
		switch code {
		case protocol.StateServerObjectUpdateField:
			s.handleUpdateField(obj, sender, payload)
		case protocol.StateServerObjectSetZone:
			s.handleSetZone(obj, sender, payload)
		case protocol.StateServerObjectDeleteRAM:
			s.handleDeleteRAM(obj, sender, payload)
		}
	}
}

func (s *Server) handleGenerate(sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	parentId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("bad generate", "error", err)
		return
	}
	zoneId, _ := r.ReadUint32()
	classNumber, _ := r.ReadUint16()
	doId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("bad generate", "error", err)
		return
	}
	class := s.schema.ClassByNumber(classNumber)
	if class == nil {
		s.log.Warn("generate for unknown class", "class", classNumber, "doId", doId)
		return
	}

	obj := NewObject(doId, class, parentId, zoneId)
	if err := obj.UnpackRequired(r); err != nil {
		s.log.Warn("bad generate required block", "doId", doId, "error", err)
		return
	}
	if r.Remaining() > 0 {
		if err := obj.UnpackOther(r, s.schema); err != nil {
			s.log.Warn("bad generate other block", "doId", doId, "error", err)
			return
		}
	}

	s.mu.Lock()
	s.objects[doId] = obj
	// A generate supersedes any hydrated placeholder.
	delete(s.dbObjects, doId)
	s.mu.Unlock()

	s.log.Debug("object generated", "doId", doId, "class", class.Name, "parent", parentId, "zone", zoneId)
	if s.announcer != nil {
		s.announcer.AnnounceCreate(obj, sender)
	}
}

func (s *Server) handleUpdateField(obj *Object, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("bad field update", "error", err)
		return
	}
	if doId != obj.DoId {
		s.log.Warn("field update doId mismatch", "doId", doId, "object", obj.DoId)
		return
	}
	fieldId, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("bad field update", "doId", doId, "error", err)
		return
	}
	field := s.schema.FieldByNumber(fieldId)
	if field == nil {
		s.log.Warn("field update for unknown field", "doId", doId, "field", fieldId)
		return
	}
	args := r.ReadRemaining()
	if _, err := obj.ReceiveField(field, protocol.NewReader(args)); err != nil {
		s.log.Warn("field update unpack failed", "doId", doId, "field", field.Name, "error", err)
		return
	}
	if s.announcer != nil {
		s.announcer.AnnounceUpdate(obj, sender, field, args)
	}
}

func (s *Server) handleSetZone(obj *Object, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil || doId != obj.DoId {
		s.log.Warn("bad set zone", "error", err)
		return
	}
	parentId, _ := r.ReadUint32()
	zoneId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("bad set zone", "doId", doId, "error", err)
		return
	}

	s.mu.Lock()
	prevParent, prevZone := obj.ParentId, obj.ZoneId
	obj.ParentId, obj.ZoneId = parentId, zoneId
	s.mu.Unlock()

	s.log.Debug("object moved", "doId", doId, "parent", parentId, "zone", zoneId)
	if s.announcer != nil {
		s.announcer.AnnounceMove(obj, prevParent, prevZone, sender)
	}
}

func (s *Server) handleDeleteRAM(obj *Object, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil || doId != obj.DoId {
		s.log.Warn("bad delete ram", "error", err)
		return
	}

	s.mu.Lock()
	delete(s.objects, doId)
	s.mu.Unlock()

	s.log.Debug("object deleted", "doId", doId)
	if s.announcer != nil {
		s.announcer.AnnounceDelete(obj, sender)
	}
}
