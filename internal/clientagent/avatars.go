package clientagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

const avatarSlotCount = 6

// Account returns the session's account object, nil before login.
func (c *Client) Account() *database.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// writeAvatarList appends the avatar roster: a count then per avatar
// the doId, name, three reserved wish-name strings, DNA, slot and a
// names-pending flag.
func (c *Client) writeAvatarList(ctx context.Context, w *protocol.Writer, account *database.Object) {
	slots := avatarSlots(account)

	var total uint16
	for _, avId := range slots {
		if avId != 0 {
			total++
		}
	}
	w.WriteUint16(total)

	for pos, avId := range slots {
		if avId == 0 {
			continue
		}
		avatar, err := c.agent.manager.LoadObject(ctx, avId)
		if err != nil {
			c.log.Error("avatar load failed", "doId", avId, "error", err)
			continue
		}
		name, _ := fieldString(fieldOf(avatar, "setName"))
		dna, _ := fieldBlob(fieldOf(avatar, "setDNAString"))

		w.WriteUint32(avatar.DoId)
		w.WriteString(name)
		w.WriteString("")
		w.WriteString("")
		w.WriteString("")
		w.WriteBlob(dna)
		w.WriteUint8(uint8(pos))
		w.WriteUint8(0)
	}
}

func (c *Client) handleGetAvatars() {
	account := c.Account()
	if account == nil {
		c.log.Warn("avatar list requested with no account")
		return
	}

	w := protocol.NewWriter(256)
	w.WriteUint8(0)
	c.writeAvatarList(context.Background(), w, account)
	c.sendMessage(protocol.ClientGetAvatarsResp, w.Bytes())
}

func (c *Client) handleCreateAvatar(r *protocol.Reader) {
	contextId, err := r.ReadUint16()
	if err != nil {
		c.log.Warn("malformed create-avatar", "error", err)
		return
	}
	dna, err := r.ReadBlob()
	if err != nil {
		c.log.Warn("malformed create-avatar", "error", err)
		return
	}
	position, err := r.ReadUint8()
	if err != nil {
		c.log.Warn("malformed create-avatar", "error", err)
		return
	}
	if position >= avatarSlotCount {
		c.log.Warn("create-avatar with invalid slot", "slot", position)
		return
	}

	account := c.Account()
	slots := avatarSlots(account)
	if int(position) >= len(slots) || slots[position] != 0 {
		c.log.Warn("create-avatar would overwrite a slot", "slot", position)
		return
	}

	ctx := context.Background()
	avatar, err := c.agent.manager.CreateObjectFromName(ctx, "DistributedToon", map[string]dc.Value{
		"OwningAccount":  dc.TupleV(dc.UintV(uint64(account.DoId))),
		"setAccountName": dc.TupleV(dc.StringV(fmt.Sprintf("internal_0x%x", account.DoId))),
		"setDISLname":    dc.TupleV(dc.StringV("unknown")),
		"setDISLid":      dc.TupleV(dc.UintV(uint64(account.DoId))),
		"setDNAString":   dc.TupleV(dc.BlobV(dna)),
		"setPosIndex":    dc.TupleV(dc.UintV(uint64(position))),
	})
	if err != nil {
		c.log.Error("avatar create failed", "error", err)
		return
	}

	slots[position] = avatar.DoId
	account.Fields["ACCOUNT_AV_SET"] = slotsValue(slots)
	if err := c.agent.manager.SaveObject(ctx, account); err != nil {
		c.log.Error("account save failed", "doId", account.DoId, "error", err)
	}

	c.log.Info("avatar created", "doId", avatar.DoId, "account", account.DoId, "slot", position)

	w := protocol.NewWriter(16)
	w.WriteUint16(contextId)
	w.WriteUint8(0)
	w.WriteUint32(avatar.DoId)
	c.sendMessage(protocol.ClientCreateAvatarResp, w.Bytes())
}

// capitalize upper-cases the first byte and lower-cases the rest, the
// way the pattern-name dictionary expects.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func (c *Client) handleSetNamePattern(r *protocol.Reader) {
	account := c.Account()
	if account == nil {
		c.log.Warn("name pattern with no account")
		return
	}

	avId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed name pattern", "error", err)
		return
	}
	if !containsSlot(avatarSlots(account), avId) {
		c.log.Warn("client named a toon it does not own", "doId", avId)
		return
	}

	var name strings.Builder
	for index := 0; index < 4; index++ {
		indice, err := r.ReadInt16()
		if err != nil {
			c.log.Warn("malformed name pattern", "error", err)
			return
		}
		flag, err := r.ReadInt16()
		if err != nil {
			c.log.Warn("malformed name pattern", "error", err)
			return
		}
		if indice == -1 {
			continue
		}
		entry, ok := c.agent.nameDictionary[indice]
		if !ok {
			c.log.Warn("name pattern with unknown index", "index", indice)
			return
		}
		part := entry.name
		if flag != 0 {
			part = capitalize(part)
		}
		// "%s %s %s%s": the last part glues to the third.
		if index != 3 {
			name.WriteString(" ")
		}
		name.WriteString(part)
	}

	ctx := context.Background()
	avatar, ok, err := c.agent.manager.LoadOrNotFound(ctx, avId)
	if err != nil || !ok {
		c.log.Warn("name pattern for missing avatar", "doId", avId, "error", err)
		return
	}
	avatar.Fields["setName"] = dc.TupleV(dc.StringV(strings.TrimSpace(name.String())))
	if err := c.agent.manager.SaveObject(ctx, avatar); err != nil {
		c.log.Error("avatar save failed", "doId", avId, "error", err)
	}

	w := protocol.NewWriter(8)
	w.WriteUint32(avatar.DoId)
	w.WriteUint8(0)
	c.sendMessage(protocol.ClientSetNamePatternAnswer, w.Bytes())
}

func (c *Client) handleSetWishname(r *protocol.Reader) {
	account := c.Account()
	if account == nil {
		c.log.Warn("wishname with no account")
		return
	}

	avId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed wishname", "error", err)
		return
	}
	if avId != 0 && !containsSlot(avatarSlots(account), avId) {
		c.log.Warn("client wishnamed a toon it does not own", "doId", avId)
		return
	}
	name, err := r.ReadString()
	if err != nil {
		c.log.Warn("malformed wishname", "error", err)
		return
	}

	// avId 0 is a pre-creation probe: the name comes back approved
	// without touching any object.
	if avId != 0 {
		ctx := context.Background()
		avatar, ok, err := c.agent.manager.LoadOrNotFound(ctx, avId)
		if err != nil || !ok {
			return
		}
		avatar.Fields["setName"] = dc.TupleV(dc.StringV(name))
		if err := c.agent.manager.SaveObject(ctx, avatar); err != nil {
			c.log.Error("avatar save failed", "doId", avId, "error", err)
		}
	}

	w := protocol.NewWriter(64)
	w.WriteUint32(avId)
	w.WriteUint16(0)
	w.WriteString("")
	w.WriteString(name)
	w.WriteString("")
	c.sendMessage(protocol.ClientSetWishnameResp, w.Bytes())
}

func (c *Client) handleDeleteAvatar(r *protocol.Reader) {
	avId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed delete-avatar", "error", err)
		return
	}

	account := c.Account()
	slots := avatarSlots(account)
	slot := -1
	for i, id := range slots {
		if id == avId {
			slot = i
			break
		}
	}
	if slot < 0 {
		c.log.Warn("client deleted a toon it does not own", "doId", avId)
		return
	}

	ctx := context.Background()
	slots[slot] = 0
	account.Fields["ACCOUNT_AV_SET"] = slotsValue(slots)
	if err := c.agent.manager.SaveObject(ctx, account); err != nil {
		c.log.Error("account save failed", "doId", account.DoId, "error", err)
	}
	c.log.Info("avatar deleted", "doId", avId, "account", account.DoId)

	w := protocol.NewWriter(256)
	w.WriteUint8(0)
	c.writeAvatarList(ctx, w, account)
	c.sendMessage(protocol.ClientDeleteAvatarResp, w.Bytes())
}

func containsSlot(slots []uint32, avId uint32) bool {
	for _, id := range slots {
		if id == avId {
			return true
		}
	}
	return false
}

func (c *Client) handleSetAvatar(r *protocol.Reader) {
	avId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed set-avatar", "error", err)
		return
	}

	// avId 0 means the client is dropping its avatar; a new choice
	// first retires the current one.
	if avId == 0 {
		c.removeAvatar()
		return
	}
	if c.AvatarId() != 0 {
		c.removeAvatar()
	}
	c.setAvatar(avId)
}

func (c *Client) setAvatar(avId uint32) {
	account := c.Account()
	if account == nil || !containsSlot(avatarSlots(account), avId) {
		c.log.Warn("client picked a toon it does not own", "doId", avId)
		return
	}

	ctx := context.Background()
	avatar, err := c.agent.manager.LoadObject(ctx, avId)
	if err != nil {
		c.log.Error("avatar load failed", "doId", avId, "error", err)
		return
	}

	// Avatars created before ownership tracking lack the backlink.
	if _, ok := fieldOf(avatar, "OwningAccount"); !ok {
		avatar.Fields["OwningAccount"] = dc.TupleV(dc.UintV(uint64(account.DoId)))
		if err := c.agent.manager.SaveObject(ctx, avatar); err != nil {
			c.log.Error("avatar save failed", "doId", avId, "error", err)
		}
	}

	c.mu.Lock()
	c.avatarId = avatar.DoId
	c.mu.Unlock()

	w := protocol.NewWriter(512)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.WriteUint16(avatar.Class.Number)
	w.WriteUint32(avatar.DoId)
	avatar.PackRequired(w)
	avatar.PackOther(w)
	c.agent.bus.Send([]uint64{protocol.ChannelStateServer}, uint64(avatar.DoId),
		protocol.StateServerObjectGenerateWithRequiredOther, w.Bytes())

	details := protocol.NewWriter(512)
	details.WriteUint32(avatar.DoId)
	details.WriteUint8(0)
	avatar.PackRequired(details)
	c.sendMessage(protocol.ClientGetAvatarDetailsResp, details.Bytes())

	c.notifyFriends(avatar, protocol.ClientFriendOnline)
	c.log.Info("avatar entered", "doId", avatar.DoId, "account", account.DoId)
}

func (c *Client) removeAvatar() {
	avatarId := c.AvatarId()
	if avatarId == 0 {
		c.log.Warn("client removed an avatar it does not have")
		return
	}

	ctx := context.Background()
	if avatar, ok, err := c.agent.manager.LoadOrNotFound(ctx, avatarId); err == nil && ok {
		c.notifyFriends(avatar, protocol.ClientFriendOffline)
	}

	w := protocol.NewWriter(8)
	w.WriteUint32(avatarId)
	c.agent.bus.Send([]uint64{uint64(avatarId)}, uint64(avatarId),
		protocol.StateServerObjectDeleteRAM, w.Bytes())

	c.mu.Lock()
	c.avatarId = 0
	c.mu.Unlock()
}

// notifyFriends tells every online friend this avatar came or went.
func (c *Client) notifyFriends(avatar *database.Object, code uint16) {
	pairs, ok := fieldOf(avatar, "setFriendsList")
	if !ok {
		return
	}
	friendIds := make(map[uint32]struct{})
	if pairs.Kind == dc.KindTuple && len(pairs.Items) > 0 {
		for _, pair := range pairs.Items[0].Items {
			if len(pair.Items) > 0 {
				if id, ok := pair.Items[0].AsUint(); ok {
					friendIds[uint32(id)] = struct{}{}
				}
			}
		}
	}
	if len(friendIds) == 0 {
		return
	}

	w := protocol.NewWriter(8)
	w.WriteUint32(avatar.DoId)
	payload := w.Bytes()

	for _, other := range c.agent.snapshot() {
		if other == c {
			continue
		}
		if _, ok := friendIds[other.AvatarId()]; ok {
			other.sendMessage(code, payload)
		}
	}
}

// packDetails packs every required non-molecular field of the class in
// declaration order, falling back to defaults for absent values.
func packDetails(w *protocol.Writer, class *dc.Class, do *database.Object) {
	for _, f := range class.InheritedFields() {
		if !f.Flags.Has(dc.Required) || f.Kind == dc.Molecular {
			continue
		}
		if v, ok := do.Fields[f.Name]; ok {
			if err := f.PackArgs(w, v); err == nil {
				continue
			}
		}
		f.PackDefault(w)
	}
}

func (c *Client) handleGetDetails(r *protocol.Reader, className string, respCode uint16) {
	doId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed details request", "error", err)
		return
	}

	class := c.agent.schema.ClassByName(className)
	if class == nil {
		return
	}

	ctx := context.Background()
	do, ok, err := c.agent.manager.LoadOrNotFound(ctx, doId)
	if err != nil || !ok {
		return
	}

	w := protocol.NewWriter(512)
	w.WriteUint32(doId)
	w.WriteUint8(0)
	packDetails(w, class, do)
	c.sendMessage(respCode, w.Bytes())
}
