package dbserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
	"github.com/udisondev/otpgo/internal/stateserver"
)

// Bus is the outbound side of the message director.
type Bus interface {
	Send(channels []uint64, sender uint64, code uint16, payload []byte)
}

// Server answers database requests on the database service channel and
// applies field updates addressed to cached persistent objects.
type Server struct {
	schema  *dc.Schema
	manager *database.Manager
	state   *stateserver.Server
	bus     Bus
	log     *slog.Logger

	// Secret friend codes, persisted next to the object store.
	secretMu   sync.Mutex
	secretPath string
	rngSeed    int64
	secrets    map[uint32][]secretCode
}

// NewServer creates the database server. databaseDir is where the
// secret-code file lives.
func NewServer(schema *dc.Schema, manager *database.Manager, state *stateserver.Server, bus Bus, databaseDir string, log *slog.Logger) *Server {
	s := &Server{
		schema:     schema,
		manager:    manager,
		state:      state,
		bus:        bus,
		log:        log.With("component", "dbserver"),
		secretPath: secretCodePath(databaseDir),
		secrets:    make(map[uint32][]secretCode),
	}
	if err := s.loadSecretCodes(); err != nil {
		s.log.Warn("could not load secret friend codes", "error", err)
	}
	return s
}

// HandleMessage dispatches bus messages: requests on the database
// channel, state-server field updates on cached object channels.
func (s *Server) HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte) {
	ctx := context.Background()
	for _, ch := range channels {
		if ch == protocol.ChannelDBServer {
			s.handleRequest(ctx, sender, code, payload)
		}
		if ch > 0xFFFFFFFF {
			continue
		}
		if do, ok := s.manager.Cached(uint32(ch)); ok && code == protocol.StateServerObjectUpdateField {
			s.applyFieldUpdate(ctx, do, payload)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, sender uint64, code uint16, payload []byte) {
	switch code {
	case protocol.DBServerGetStoredValues:
		s.getStoredValues(ctx, sender, payload)
	case protocol.DBServerSetStoredValues:
		s.setStoredValues(ctx, sender, payload)
	case protocol.DBServerCreateStoredObject:
		s.createStoredObject(ctx, sender, payload)
	case protocol.DBServerGetEstate:
		s.getEstate(ctx, sender, payload)
	case protocol.DBServerMakeFriends:
		s.makeFriends(ctx, sender, payload)
	case protocol.DBServerRequestSecret:
		s.requestSecret(sender, payload)
	case protocol.DBServerSubmitSecret:
		s.submitSecret(sender, payload)
	default:
		s.log.Warn("unknown message on database channel", "code", code)
	}
}

// reply sends a response back to the requesting channel on behalf of
// the state server channel.
func (s *Server) reply(sender uint64, code uint16, payload []byte) {
	s.bus.Send([]uint64{sender}, protocol.ChannelStateServer, code, payload)
}

// applyFieldUpdate applies a state-server field update to a cached
// persistent object, storing any db components.
func (s *Server) applyFieldUpdate(ctx context.Context, do *database.Object, payload []byte) {
	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed field update", "error", err)
		return
	}
	if doId != do.DoId {
		s.log.Warn("field update doId does not match channel", "doId", doId, "channel", do.DoId)
		return
	}
	fieldId, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("malformed field update", "doId", doId, "error", err)
		return
	}
	field := s.schema.FieldByNumber(fieldId)
	if field == nil || do.Class.FieldByName(field.Name) == nil {
		s.log.Warn("field update for unknown field", "doId", doId, "field", fieldId)
		return
	}

	stored, err := do.ReceiveField(field, r)
	if err != nil {
		s.log.Warn("could not apply field update", "doId", doId, "field", field.Name, "error", err)
		return
	}
	if !stored {
		return
	}
	if err := s.manager.SaveObject(ctx, do); err != nil {
		s.log.Error("could not persist field update", "doId", doId, "field", field.Name, "error", err)
	}
}

// getStoredValues answers a field query: the response echoes the field
// names, then carries a response code, the packed values and a found
// flag per field. Querying a persistent object also hydrates it into
// the state server so interest operations can see it.
func (s *Server) getStoredValues(ctx context.Context, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	w := protocol.GetWriter()
	defer w.Put()

	context32, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed get-stored-values", "error", err)
		return
	}
	doId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed get-stored-values", "error", err)
		return
	}
	numFields, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("malformed get-stored-values", "doId", doId, "error", err)
		return
	}
	names := make([]string, 0, numFields)
	for i := uint16(0); i < numFields; i++ {
		name, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed get-stored-values", "doId", doId, "error", err)
			return
		}
		names = append(names, name)
	}

	w.WriteUint32(context32)
	w.WriteUint32(doId)
	w.WriteUint16(uint16(len(names)))
	for _, name := range names {
		w.WriteString(name)
	}

	// Missing and unloadable objects answer alike; the requester is
	// owed a reply either way.
	do, ok, err := s.manager.LoadOrNotFound(ctx, doId)
	if err != nil {
		s.log.Error("could not load object", "doId", doId, "error", err)
		ok = false
	}
	if !ok {
		w.WriteUint8(1)
		s.reply(sender, protocol.DBServerGetStoredValuesResp, w.Bytes())
		return
	}
	w.WriteUint8(0)

	values := make([][]byte, len(names))
	found := make([]bool, len(names))
	for i, name := range names {
		v, ok := do.Fields[name]
		if !ok {
			values[i] = []byte("DEADBEEF")
			continue
		}
		packed, err := do.PackField(name, v)
		if err != nil {
			s.log.Warn("could not pack field", "doId", doId, "field", name, "error", err)
			values[i] = []byte("DEADBEEF")
			continue
		}
		values[i] = packed
		found[i] = true
	}
	for _, v := range values {
		w.WriteBlob(v)
	}
	for _, f := range found {
		if f {
			w.WriteUint8(1)
		} else {
			w.WriteUint8(0)
		}
	}
	s.reply(sender, protocol.DBServerGetStoredValuesResp, w.Bytes())

	s.hydrate(do)
}

// hydrate registers the persistent object with the state server as a
// database-backed placeholder, unless it is already live.
func (s *Server) hydrate(do *database.Object) {
	if s.state == nil {
		return
	}
	if s.schema.ObjectTypeByName(do.Class.Name) == 0 {
		return
	}
	s.state.InsertDbObject(stateserver.NewObject(do.DoId, do.Class, 0, 0))
}

// setStoredValues overwrites stored fields with packed values. Unknown
// fields and undecodable values are skipped; the rest are persisted.
func (s *Server) setStoredValues(ctx context.Context, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)

	doId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed set-stored-values", "error", err)
		return
	}
	numFields, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed set-stored-values", "doId", doId, "error", err)
		return
	}
	names := make([]string, 0, numFields)
	for i := uint32(0); i < numFields; i++ {
		name, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed set-stored-values", "doId", doId, "error", err)
			return
		}
		names = append(names, name)
	}
	values := make([][]byte, 0, numFields)
	for i := uint32(0); i < numFields; i++ {
		value, err := r.ReadBlob()
		if err != nil {
			s.log.Warn("malformed set-stored-values", "doId", doId, "error", err)
			return
		}
		values = append(values, value)
	}

	do, ok, err := s.manager.LoadOrNotFound(ctx, doId)
	if err != nil {
		s.log.Error("could not load object", "doId", doId, "error", err)
		return
	}
	if !ok {
		return
	}

	for i, name := range names {
		if do.Class.FieldByName(name) == nil {
			continue
		}
		v, err := do.UnpackField(name, values[i])
		if err != nil {
			s.log.Warn("could not unpack field", "doId", doId, "field", name, "error", err)
			continue
		}
		do.Fields[name] = v
	}

	if err := s.manager.SaveObject(ctx, do); err != nil {
		s.log.Error("could not save object", "doId", doId, "error", err)
	}
}

// createStoredObject creates a persistent object of the requested
// object type, applies the initial field values and reports the new
// doId.
func (s *Server) createStoredObject(ctx context.Context, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)

	context32, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed create-stored-object", "error", err)
		return
	}
	// An unused name slot precedes the object type.
	if _, err := r.ReadString(); err != nil {
		s.log.Warn("malformed create-stored-object", "error", err)
		return
	}
	objectType, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("malformed create-stored-object", "error", err)
		return
	}
	numFields, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("malformed create-stored-object", "error", err)
		return
	}
	names := make([]string, 0, numFields)
	for i := uint16(0); i < numFields; i++ {
		name, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed create-stored-object", "error", err)
			return
		}
		names = append(names, name)
	}
	values := make([][]byte, 0, numFields)
	for i := uint16(0); i < numFields; i++ {
		value, err := r.ReadBlob()
		if err != nil {
			s.log.Warn("malformed create-stored-object", "error", err)
			return
		}
		values = append(values, value)
	}

	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint32(context32)

	class := s.schema.ObjectType(objectType)
	if class == nil {
		s.log.Error("create with invalid object type", "objectType", objectType)
		w.WriteUint8(1)
		s.reply(sender, protocol.DBServerCreateStoredObjectResp, w.Bytes())
		return
	}

	overrides := make(map[string]dc.Value)
	probe := database.NewObject(0, uuid.Nil, class)
	for i, name := range names {
		if class.FieldByName(name) == nil {
			continue
		}
		v, err := probe.UnpackField(name, values[i])
		if err != nil {
			s.log.Warn("could not unpack initial field", "class", class.Name, "field", name, "error", err)
			continue
		}
		overrides[name] = v
	}

	do, err := s.manager.CreateObject(ctx, objectType, overrides)
	if err != nil {
		s.log.Error("could not create object", "objectType", objectType, "error", err)
		w.WriteUint8(1)
		s.reply(sender, protocol.DBServerCreateStoredObjectResp, w.Bytes())
		return
	}

	w.WriteUint8(0)
	w.WriteUint32(do.DoId)
	s.reply(sender, protocol.DBServerCreateStoredObjectResp, w.Bytes())
}
