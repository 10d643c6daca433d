package clientagent

import (
	"context"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// friendList reads the stored (doId, flags) pairs off an avatar.
func friendList(do *database.Object) [][2]uint32 {
	v, ok := fieldOf(do, "setFriendsList")
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return nil
	}
	list := v.Items[0]
	out := make([][2]uint32, 0, len(list.Items))
	for _, pair := range list.Items {
		if len(pair.Items) < 2 {
			continue
		}
		id, _ := pair.Items[0].AsUint()
		flags, _ := pair.Items[1].AsUint()
		out = append(out, [2]uint32{uint32(id), uint32(flags)})
	}
	return out
}

func friendListValue(pairs [][2]uint32) dc.Value {
	items := make([]dc.Value, len(pairs))
	for i, p := range pairs {
		items[i] = dc.TupleV(dc.UintV(uint64(p[0])), dc.UintV(uint64(p[1])))
	}
	return dc.TupleV(dc.ListV(items...))
}

// dropFriend removes the first pair referencing friendId from the
// avatar's list, reporting whether anything changed.
func dropFriend(do *database.Object, friendId uint32) bool {
	if _, ok := fieldOf(do, "setFriendsList"); !ok {
		return false
	}
	pairs := friendList(do)
	for i, p := range pairs {
		if p[0] == friendId {
			pairs = append(pairs[:i], pairs[i+1:]...)
			do.Fields["setFriendsList"] = friendListValue(pairs)
			return true
		}
	}
	return false
}

// handleRemoveFriend unfriends in both directions. There is no
// response; the client updates its own panel optimistically.
func (c *Client) handleRemoveFriend(r *protocol.Reader) {
	doId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed remove-friend", "error", err)
		return
	}
	avatarId := c.AvatarId()
	ctx := context.Background()

	if target, ok, err := c.agent.manager.LoadOrNotFound(ctx, doId); err == nil && ok {
		dropFriend(target, avatarId)
		if err := c.agent.manager.SaveObject(ctx, target); err != nil {
			c.log.Error("friend save failed", "doId", doId, "error", err)
		}
	}
	if avatar, ok, err := c.agent.manager.LoadOrNotFound(ctx, avatarId); err == nil && ok {
		dropFriend(avatar, doId)
		if err := c.agent.manager.SaveObject(ctx, avatar); err != nil {
			c.log.Error("avatar save failed", "doId", avatarId, "error", err)
		}
	}
}

// handleGetFriendList answers both roster variants. The basic variant
// skips friends missing a name or DNA; the extended variant fills in
// blanks instead.
func (c *Client) handleGetFriendList(extended bool) {
	respCode := protocol.ClientGetFriendListResp
	if extended {
		respCode = protocol.ClientGetFriendListExtendedResp
	}

	avatarId := c.AvatarId()
	if avatarId == 0 {
		return
	}

	ctx := context.Background()
	avatar, ok, err := c.agent.manager.LoadOrNotFound(ctx, avatarId)
	if err != nil || !ok {
		return
	}

	if _, ok := fieldOf(avatar, "setFriendsList"); !ok {
		w := protocol.NewWriter(4)
		w.WriteUint8(1)
		c.sendMessage(respCode, w.Bytes())
		return
	}

	type friendInfo struct {
		doId  uint32
		name  string
		dna   []byte
		petId uint32
	}
	var friends []friendInfo

	for _, pair := range friendList(avatar) {
		friend, ok, err := c.agent.manager.LoadOrNotFound(ctx, pair[0])
		if err != nil || !ok {
			c.log.Warn("friend has no stored object", "doId", pair[0], "avatarId", avatarId)
			continue
		}

		name, hasName := fieldString(fieldOf(friend, "setName"))
		dna, hasDna := fieldBlob(fieldOf(friend, "setDNAString"))
		if !extended && (!hasName || !hasDna) {
			c.log.Warn("friend is missing roster fields", "doId", pair[0], "avatarId", avatarId)
			continue
		}
		petId, _ := fieldUint(fieldOf(friend, "setPetId"))

		friends = append(friends, friendInfo{doId: friend.DoId, name: name, dna: dna, petId: petId})
	}

	w := protocol.NewWriter(256)
	w.WriteUint8(0)
	w.WriteUint16(uint16(len(friends)))
	for _, f := range friends {
		w.WriteUint32(f.doId)
		w.WriteString(f.name)
		w.WriteBlob(f.dna)
		w.WriteUint32(f.petId)
	}
	c.sendMessage(respCode, w.Bytes())
}
