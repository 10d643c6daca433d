package clientagent

import (
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// mayUpdate applies the send-permission rules: clsend fields are open
// to everyone, ownsend fields to the object's owner, and a per-object
// override set installed over the bus widens the allowance.
func (c *Client) mayUpdate(doId uint32, field *dc.Field, avatarId uint32) bool {
	c.mu.RLock()
	overrides, hasOverrides := c.clsendOverrides[doId]
	c.mu.RUnlock()

	if hasOverrides {
		if _, ok := overrides[field.Number]; ok {
			return true
		}
	}
	return field.Flags.Has(dc.Clsend) || (field.Flags.Has(dc.Ownsend) && doId == avatarId)
}

func (c *Client) handleObjectUpdateField(r *protocol.Reader) {
	doId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed field update", "error", err)
		return
	}
	fieldId, err := r.ReadUint16()
	if err != nil {
		c.log.Warn("malformed field update", "error", err)
		return
	}
	args := r.ReadRemaining()

	do, ok := c.agent.state.Lookup(doId)
	if !ok {
		c.log.Warn("field update for unknown object", "doId", doId, "field", fieldId)
		return
	}
	field := c.agent.schema.FieldByNumber(fieldId)
	if field == nil || do.Class.FieldByName(field.Name) == nil {
		c.log.Warn("field update for unknown field", "doId", doId, "field", fieldId)
		return
	}

	avatarId := c.AvatarId()
	if !c.mayUpdate(doId, field, avatarId) {
		c.log.Warn("field update without send rights",
			"avatarId", avatarId, "doId", doId, "field", field.Name)
		return
	}

	w := protocol.NewWriter(64)
	w.WriteUint32(doId)
	w.WriteUint16(fieldId)
	w.WriteBytes(args)

	// Chat on the own avatar goes out under the chat-manager channel:
	// setTalk is broadcast, and a sender equal to the speaking avatar
	// would suppress the very clients that should hear it.
	sender := uint64(avatarId)
	if doId == avatarId && fieldId == c.agent.setTalkField {
		sender = protocol.ChannelChatRewrite
	}
	c.agent.bus.Send([]uint64{uint64(doId)}, sender, protocol.StateServerObjectUpdateField, w.Bytes())
}

func (c *Client) handleObjectLocation(r *protocol.Reader) {
	doId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed object location", "error", err)
		return
	}
	parentId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed object location", "error", err)
		return
	}
	zoneId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed object location", "error", err)
		return
	}

	avatarId := c.AvatarId()
	if doId != avatarId {
		c.log.Warn("client moved an object it does not own", "doId", doId, "avatarId", avatarId)
		return
	}

	w := protocol.NewWriter(16)
	w.WriteUint32(doId)
	w.WriteUint32(parentId)
	w.WriteUint32(zoneId)
	c.agent.bus.Send([]uint64{uint64(doId)}, uint64(avatarId), protocol.StateServerObjectSetZone, w.Bytes())
}
