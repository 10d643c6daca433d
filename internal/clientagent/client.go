package clientagent

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

type interest struct {
	parentId uint32
	zones    map[uint32]struct{}
}

// Client is one external connection's protocol state machine. Session
// state lives behind mu; conn writes behind writeMu. Methods never hold
// mu across a bus send, since dispatch fans back into hasInterest.
type Client struct {
	agent   *Agent
	conn    net.Conn
	limiter *rate.Limiter
	log     *slog.Logger

	writeMu sync.Mutex

	mu              sync.RWMutex
	authorized      bool
	account         *database.Object
	avatarId        uint32
	interests       map[uint16]interest
	interestCache   map[uint64]struct{}
	clsendOverrides map[uint32]map[uint16]struct{}
	closed          bool
}

// AvatarId returns the session's live avatar, 0 when none is set.
func (c *Client) AvatarId() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avatarId
}

func cacheKey(parentId, zoneId uint32) uint64 {
	return uint64(parentId)<<32 | uint64(zoneId)
}

// hasInterest consults the derived interest cache.
func (c *Client) hasInterest(parentId, zoneId uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.interestCache[cacheKey(parentId, zoneId)]
	return ok
}

// updateInterestCacheLocked rebuilds the cache from the interest map.
// Caller holds mu.
func (c *Client) updateInterestCacheLocked() {
	clear(c.interestCache)
	for _, in := range c.interests {
		for zoneId := range in.zones {
			c.interestCache[cacheKey(in.parentId, zoneId)] = struct{}{}
		}
	}
}

func (c *Client) setClsendFields(doId uint32, fields []uint16) {
	set := make(map[uint16]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clsendOverrides[doId] = set
}

// run pumps frames off the socket until the peer goes away or the
// session is torn down.
func (c *Client) run() {
	defer c.onLost()

	for {
		raw, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() {
				c.log.Warn("client read failed", "error", err)
			}
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.log.Warn("dropping datagram, client is flooding")
			continue
		}
		c.handleDatagram(raw)
		if c.isClosed() {
			return
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) handleDatagram(raw []byte) {
	r := protocol.NewReader(raw)
	code, err := r.ReadUint16()
	if err != nil {
		c.log.Warn("truncated client datagram")
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}

	// Heartbeats echo the whole inbound datagram back.
	if code == protocol.ClientHeartbeat {
		c.sendMessage(protocol.ClientHeartbeat, raw)
		return
	}

	switch code {
	case protocol.ClientDisconnect:
		c.disconnect(0, "")
	case protocol.ClientLogin2:
		c.handleLogin2(r)
	case protocol.ClientLoginToontown:
		c.handleLoginToontown(r)
	default:
		if !c.isAuthorized() {
			c.log.Warn("unexpected message before login", "code", code)
			c.disconnect(protocol.DisconnectUnexpected, "")
			return
		}
		c.handleAuthenticated(code, r)
	}
}

func (c *Client) isAuthorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized
}

func (c *Client) handleAuthenticated(code uint16, r *protocol.Reader) {
	switch code {
	case protocol.ClientCreateAvatar:
		c.handleCreateAvatar(r)
	case protocol.ClientSetNamePattern:
		c.handleSetNamePattern(r)
	case protocol.ClientSetWishname:
		c.handleSetWishname(r)
	case protocol.ClientDeleteAvatar:
		c.handleDeleteAvatar(r)
	case protocol.ClientGetAvatars:
		c.handleGetAvatars()
	case protocol.ClientSetAvatar:
		c.handleSetAvatar(r)
	case protocol.ClientAddInterest:
		c.handleAddInterest(r)
	case protocol.ClientRemoveInterest:
		c.handleRemoveInterest(r)
	case protocol.ClientObjectUpdateField:
		c.handleObjectUpdateField(r)
	case protocol.ClientObjectLocation:
		c.handleObjectLocation(r)
	case protocol.ClientRemoveFriend:
		c.handleRemoveFriend(r)
	case protocol.ClientGetFriendList:
		c.handleGetFriendList(false)
	case protocol.ClientGetFriendListExtended:
		c.handleGetFriendList(true)
	case protocol.ClientGetAvatarDetails:
		c.handleGetDetails(r, "DistributedToon", protocol.ClientGetAvatarDetailsResp)
	case protocol.ClientGetPetDetails:
		c.handleGetDetails(r, "DistributedPet", protocol.ClientGetPetDetailsResp)
	default:
		c.log.Warn("unknown client message", "code", code)
		c.disconnect(protocol.DisconnectMalformed, "")
	}
}

// sendMessage frames code+payload and writes it to the socket.
func (c *Client) sendMessage(code uint16, payload []byte) {
	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint16(code)
	w.WriteBytes(payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.conn, w.Bytes()); err != nil {
		c.log.Debug("client write failed", "error", err)
	}
}

// disconnect emits CLIENT_GO_GET_LOST (when a reason code is supplied)
// and tears the session down.
func (c *Client) disconnect(reason uint16, message string) {
	if reason != 0 {
		w := protocol.NewWriter(32)
		w.WriteUint16(reason)
		w.WriteString(message)
		c.sendMessage(protocol.ClientGoGetLost, w.Bytes())
	} else {
		c.sendMessage(protocol.ClientGoGetLost, nil)
	}
	c.close()
	c.onLost()
}

// close marks the session dead and closes the socket. Safe to call more
// than once.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.authorized = false
	c.mu.Unlock()
	c.conn.Close()
}

// onLost releases the session: the avatar leaves the world and the
// agent forgets the client.
func (c *Client) onLost() {
	c.close()

	c.mu.Lock()
	avatarId := c.avatarId
	c.mu.Unlock()
	if avatarId != 0 {
		c.removeAvatar()
	}

	c.agent.removeClient(c)
}

// onAvatarDelete handles the avatar object being deleted out from
// under the session.
func (c *Client) onAvatarDelete() {
	c.mu.Lock()
	c.avatarId = 0
	c.mu.Unlock()
	c.disconnect(protocol.DisconnectAvatarDeleted, "Lost connection.")
}

// fieldOf returns the stored value of a named field.
func fieldOf(do *database.Object, name string) (dc.Value, bool) {
	v, ok := do.Fields[name]
	return v, ok
}

// fieldString extracts the single string argument of a stored atomic
// field value.
func fieldString(v dc.Value, ok bool) (string, bool) {
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return "", false
	}
	if v.Items[0].Kind != dc.KindString {
		return "", false
	}
	return v.Items[0].Str, true
}

// fieldBlob extracts the single blob argument of a stored atomic field
// value.
func fieldBlob(v dc.Value, ok bool) ([]byte, bool) {
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return nil, false
	}
	if v.Items[0].Kind != dc.KindBlob {
		return nil, false
	}
	return v.Items[0].Bytes, true
}

// fieldUint extracts the single uint argument of a stored atomic field
// value.
func fieldUint(v dc.Value, ok bool) (uint32, bool) {
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return 0, false
	}
	u, ok := v.Items[0].AsUint()
	return uint32(u), ok
}

// avatarSlots reads the six ACCOUNT_AV_SET slots.
func avatarSlots(account *database.Object) []uint32 {
	v, ok := fieldOf(account, "ACCOUNT_AV_SET")
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return nil
	}
	list := v.Items[0]
	if list.Kind != dc.KindList && list.Kind != dc.KindTuple {
		return nil
	}
	out := make([]uint32, 0, len(list.Items))
	for _, item := range list.Items {
		u, _ := item.AsUint()
		out = append(out, uint32(u))
	}
	return out
}

func slotsValue(ids []uint32) dc.Value {
	items := make([]dc.Value, len(ids))
	for i, id := range ids {
		items[i] = dc.UintV(uint64(id))
	}
	return dc.TupleV(dc.ListV(items...))
}
