package clientagent

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/otpgo/internal/config"
	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
	"github.com/udisondev/otpgo/internal/stateserver"
)

// Bus is the message director surface the agent needs.
type Bus interface {
	Send(channels []uint64, sender uint64, code uint16, payload []byte)
}

type nameEntry struct {
	category int16
	name     string
}

// Agent owns the client-facing listener and one Client per connection.
// It implements stateserver.Announcer for the world→client fan-out and
// md.Handler for puppet-channel traffic.
type Agent struct {
	cfg     config.ClientAgentConfig
	schema  *dc.Schema
	state   *stateserver.Server
	manager *database.Manager
	bus     Bus
	log     *slog.Logger

	visgroups      map[uint32][]uint32
	nameDictionary map[int16]nameEntry
	setTalkField   uint16

	mu      sync.RWMutex
	clients []*Client
}

// NewAgent loads the visgroup table and the name dictionary and caches
// the chat field number. Missing data files leave the respective table
// empty.
func NewAgent(
	cfg config.ClientAgentConfig,
	schema *dc.Schema,
	state *stateserver.Server,
	manager *database.Manager,
	bus Bus,
	nameMasterFile string,
	log *slog.Logger,
) (*Agent, error) {
	a := &Agent{
		cfg:            cfg,
		schema:         schema,
		state:          state,
		manager:        manager,
		bus:            bus,
		log:            log.With("component", "clientagent"),
		visgroups:      make(map[uint32][]uint32),
		nameDictionary: make(map[int16]nameEntry),
	}

	talkPath := schema.ClassByName("TalkPath_owner")
	if talkPath == nil {
		return nil, fmt.Errorf("schema has no TalkPath_owner class")
	}
	talk := talkPath.FieldByName("setTalk")
	if talk == nil {
		return nil, fmt.Errorf("TalkPath_owner has no setTalk field")
	}
	a.setTalkField = talk.Number

	if err := a.loadVisgroups(cfg.VisgroupsFile); err != nil {
		return nil, err
	}
	if err := a.loadNameMaster(nameMasterFile); err != nil {
		return nil, err
	}
	return a, nil
}

// loadVisgroups reads the YAML zone-visibility table. Keys are
// canonical zone ids; values list the zones visible from them.
func (a *Agent) loadVisgroups(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			a.log.Warn("visgroups file missing, interest expansion disabled", "path", path)
			return nil
		}
		return fmt.Errorf("reading visgroups %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &a.visgroups); err != nil {
		return fmt.Errorf("parsing visgroups %s: %w", path, err)
	}
	a.log.Info("visgroups loaded", "zones", len(a.visgroups))
	return nil
}

// loadNameMaster reads the pattern-name dictionary: one
// id*category*name entry per line, # starts a comment.
func (a *Agent) loadNameMaster(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			a.log.Warn("name master missing, pattern names disabled", "path", path)
			return nil
		}
		return fmt.Errorf("opening name master %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "*", 3)
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 16)
		if err != nil {
			continue
		}
		category, err := strconv.ParseInt(parts[1], 10, 16)
		if err != nil {
			continue
		}
		a.nameDictionary[int16(id)] = nameEntry{
			category: int16(category),
			name:     strings.TrimSpace(parts[2]),
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading name master %s: %w", path, err)
	}
	a.log.Info("name master loaded", "entries", len(a.nameDictionary))
	return nil
}

// Run accepts client connections until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("client agent listen %s: %w", a.cfg.Addr(), err)
	}
	a.log.Info("client agent listening", "addr", a.cfg.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
		for _, c := range a.snapshot() {
			c.close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client agent accept: %w", err)
		}
		c := a.newClient(conn)
		a.addClient(c)
		go c.run()
	}
}

func (a *Agent) newClient(conn net.Conn) *Client {
	var limiter *rate.Limiter
	if a.cfg.FloodProtection {
		limiter = rate.NewLimiter(rate.Limit(a.cfg.MessagesPerSecond), a.cfg.MessageBurst)
	}
	return &Client{
		agent:           a,
		conn:            conn,
		limiter:         limiter,
		log:             a.log.With("addr", conn.RemoteAddr().String()),
		interests:       make(map[uint16]interest),
		interestCache:   make(map[uint64]struct{}),
		clsendOverrides: make(map[uint32]map[uint16]struct{}),
	}
}

func (a *Agent) addClient(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients = append(a.clients, c)
}

func (a *Agent) removeClient(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, have := range a.clients {
		if have == c {
			a.clients = append(a.clients[:i], a.clients[i+1:]...)
			return
		}
	}
}

func (a *Agent) snapshot() []*Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Client, len(a.clients))
	copy(out, a.clients)
	return out
}

// AnnounceCreate fans a freshly generated object out to every client
// that owns it or holds interest in its location, except the sender.
func (a *Agent) AnnounceCreate(obj *stateserver.Object, sender uint64) {
	w := protocol.NewWriter(256)
	w.WriteUint32(obj.ParentId)
	w.WriteUint32(obj.ZoneId)
	w.WriteUint16(obj.Class.Number)
	w.WriteUint32(obj.DoId)
	obj.PackRequiredBroadcast(w)
	obj.PackOther(w)
	payload := w.Bytes()

	for _, c := range a.snapshot() {
		avatarId := c.AvatarId()
		if uint64(avatarId) == sender {
			continue
		}
		if c.hasInterest(obj.ParentId, obj.ZoneId) || obj.DoId == avatarId {
			c.sendMessage(protocol.ClientCreateObjectRequiredOther, payload)
		}
	}
}

// AnnounceDelete disables a deleted object for interested clients. The
// owner instead loses its session: the avatar is gone.
func (a *Agent) AnnounceDelete(obj *stateserver.Object, sender uint64) {
	w := protocol.NewWriter(8)
	w.WriteUint32(obj.DoId)
	payload := w.Bytes()

	for _, c := range a.snapshot() {
		avatarId := c.AvatarId()
		if uint64(avatarId) == sender {
			continue
		}
		if obj.DoId == avatarId {
			c.onAvatarDelete()
		} else if c.hasInterest(obj.ParentId, obj.ZoneId) {
			c.sendMessage(protocol.ClientObjectDisable, payload)
		}
	}
}

// AnnounceMove translates a location change per client: owners and
// doubly interested clients follow the object, clients losing sight
// disable it, clients gaining sight receive a create.
func (a *Agent) AnnounceMove(obj *stateserver.Object, prevParentId, prevZoneId uint32, sender uint64) {
	disable := protocol.NewWriter(8)
	disable.WriteUint32(obj.DoId)

	location := protocol.NewWriter(16)
	location.WriteUint32(obj.DoId)
	location.WriteUint32(obj.ParentId)
	location.WriteUint32(obj.ZoneId)

	create := protocol.NewWriter(256)
	create.WriteUint32(obj.ParentId)
	create.WriteUint32(obj.ZoneId)
	create.WriteUint16(obj.Class.Number)
	create.WriteUint32(obj.DoId)
	obj.PackRequiredBroadcast(create)
	obj.PackOther(create)

	for _, c := range a.snapshot() {
		avatarId := c.AvatarId()
		if uint64(avatarId) == sender {
			continue
		}
		switch {
		case avatarId == obj.DoId:
			c.sendMessage(protocol.ClientObjectLocation, location.Bytes())
		case c.hasInterest(prevParentId, prevZoneId):
			if c.hasInterest(obj.ParentId, obj.ZoneId) {
				c.sendMessage(protocol.ClientObjectLocation, location.Bytes())
			} else {
				c.sendMessage(protocol.ClientObjectDisable, disable.Bytes())
			}
		case c.hasInterest(obj.ParentId, obj.ZoneId):
			c.sendMessage(protocol.ClientCreateObjectRequiredOther, create.Bytes())
		}
	}
}

// AnnounceUpdate forwards a field update to the clients allowed to see
// it. Non-broadcast and ownrecv fields reach only the owner.
func (a *Agent) AnnounceUpdate(obj *stateserver.Object, sender uint64, field *dc.Field, args []byte) {
	if !field.Flags.Has(dc.Ownrecv) && !field.Flags.Has(dc.Broadcast) {
		return
	}

	w := protocol.NewWriter(64)
	w.WriteUint32(obj.DoId)
	w.WriteUint16(field.Number)
	w.WriteBytes(args)
	payload := w.Bytes()

	ownerOnly := field.Flags.Has(dc.Ownrecv) || !field.Flags.Has(dc.Broadcast)

	for _, c := range a.snapshot() {
		avatarId := c.AvatarId()
		if uint64(avatarId) == sender {
			continue
		}
		if ownerOnly && avatarId != obj.DoId {
			continue
		}
		if c.hasInterest(obj.ParentId, obj.ZoneId) || avatarId == obj.DoId {
			c.sendMessage(protocol.ClientObjectUpdateField, payload)
		}
	}
}

// HandleMessage routes bus traffic addressed to a puppet channel to the
// session owning that avatar.
func (a *Agent) HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte) {
	for _, ch := range channels {
		doId, ok := protocol.PuppetDoId(ch)
		if !ok || doId == 0 {
			continue
		}
		for _, c := range a.snapshot() {
			if c.AvatarId() != doId {
				continue
			}
			switch code {
			case protocol.StateServerObjectUpdateField:
				c.sendMessage(protocol.ClientObjectUpdateField, payload)
			case protocol.ClientSetFieldSendable:
				a.handleSetFieldSendable(c, payload)
			default:
				a.log.Warn("unexpected message on puppet channel", "code", code, "avatarId", doId)
			}
		}
	}
}

func (a *Agent) handleSetFieldSendable(c *Client, payload []byte) {
	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil {
		a.log.Warn("bad set field sendable", "error", err)
		return
	}
	var fields []uint16
	for r.Remaining() >= 2 {
		f, _ := r.ReadUint16()
		fields = append(fields, f)
	}
	c.setClsendFields(doId, fields)
}
