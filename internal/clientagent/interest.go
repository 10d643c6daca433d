package clientagent

import (
	"sort"

	"github.com/udisondev/otpgo/internal/protocol"
	"github.com/udisondev/otpgo/internal/stateserver"
)

// expandZones applies the visibility expansion to a requested zone:
// the zone itself, every visgroup neighbour (mapped back into the
// requested zone's instance block) and the block origin. The quiet
// zone is dropped outright.
func (c *Client) expandZones(zones map[uint32]struct{}, zoneId uint32) {
	if zoneId == 1 {
		return
	}
	zones[zoneId] = struct{}{}

	visibles, ok := c.agent.visgroups[canonicalZoneId(zoneId)]
	if !ok {
		return
	}
	for _, vis := range visibles {
		zones[trueZoneId(vis, zoneId)] = struct{}{}
	}
	// The street's own hood zone, 2200 for 2205 and the like.
	zones[zoneId-zoneId%100] = struct{}{}
}

func (c *Client) handleAddInterest(r *protocol.Reader) {
	handle, err := r.ReadUint16()
	if err != nil {
		c.log.Warn("malformed add-interest", "error", err)
		return
	}
	contextId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed add-interest", "error", err)
		return
	}
	parentId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed add-interest", "error", err)
		return
	}

	zones := make(map[uint32]struct{})
	for r.Remaining() >= 4 {
		zoneId, _ := r.ReadUint32()
		c.expandZones(zones, zoneId)
	}

	all := c.agent.state.AllObjects()

	c.mu.Lock()
	oldZones := map[uint32]struct{}{}
	if prev, ok := c.interests[handle]; ok {
		// Replacing an interest. Same parent: disable what the new zone
		// set no longer covers. Different parent: disable everything
		// under the old interest and treat it as brand new.
		delete(c.interests, handle)
		c.updateInterestCacheLocked()

		if prev.parentId == parentId {
			oldZones = prev.zones
			for _, do := range all {
				if do.ParentId != parentId {
					continue
				}
				if _, inOld := prev.zones[do.ZoneId]; !inOld {
					continue
				}
				if _, inNew := zones[do.ZoneId]; inNew {
					continue
				}
				if _, covered := c.interestCache[cacheKey(do.ParentId, do.ZoneId)]; covered {
					continue
				}
				c.sendDisable(do.DoId)
			}
		} else {
			for _, do := range all {
				if do.ParentId != prev.parentId {
					continue
				}
				if _, inOld := prev.zones[do.ZoneId]; !inOld {
					continue
				}
				if _, covered := c.interestCache[cacheKey(do.ParentId, do.ZoneId)]; covered {
					continue
				}
				c.sendDisable(do.DoId)
			}
		}
	}

	// Zones that actually become visible now.
	newZones := make(map[uint32]struct{})
	for zoneId := range zones {
		if _, inOld := oldZones[zoneId]; inOld {
			continue
		}
		if _, covered := c.interestCache[cacheKey(parentId, zoneId)]; covered {
			continue
		}
		newZones[zoneId] = struct{}{}
	}
	avatarId := c.avatarId
	c.mu.Unlock()

	c.sendObjects(all, parentId, newZones, avatarId)

	c.mu.Lock()
	c.interests[handle] = interest{parentId: parentId, zones: zones}
	c.updateInterestCacheLocked()
	c.mu.Unlock()

	c.sendDoneInterest(handle, contextId)
}

func (c *Client) handleRemoveInterest(r *protocol.Reader) {
	handle, err := r.ReadUint16()
	if err != nil {
		c.log.Warn("malformed remove-interest", "error", err)
		return
	}
	contextId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed remove-interest", "error", err)
		return
	}

	all := c.agent.state.AllObjects()

	c.mu.Lock()
	prev, ok := c.interests[handle]
	if !ok {
		c.mu.Unlock()
		c.log.Warn("remove of unknown interest", "handle", handle)
		return
	}
	delete(c.interests, handle)
	c.updateInterestCacheLocked()

	for _, do := range all {
		if do.ParentId != prev.parentId {
			continue
		}
		if _, inOld := prev.zones[do.ZoneId]; !inOld {
			continue
		}
		if _, covered := c.interestCache[cacheKey(do.ParentId, do.ZoneId)]; covered {
			continue
		}
		c.sendDisable(do.DoId)
	}
	c.mu.Unlock()

	c.sendDoneInterest(handle, contextId)
}

func (c *Client) sendDisable(doId uint32) {
	w := protocol.NewWriter(8)
	w.WriteUint32(doId)
	c.sendMessage(protocol.ClientObjectDisable, w.Bytes())
}

func (c *Client) sendDoneInterest(handle uint16, contextId uint32) {
	w := protocol.NewWriter(8)
	w.WriteUint16(handle)
	w.WriteUint32(contextId)
	c.sendMessage(protocol.ClientDoneInterestResp, w.Bytes())
}

// sendObjects creates every object under the newly visible zones for
// the client, lowest class number first so dependent classes follow
// their prerequisites.
func (c *Client) sendObjects(all []*stateserver.Object, parentId uint32, zones map[uint32]struct{}, avatarId uint32) {
	var matched []*stateserver.Object
	for _, do := range all {
		if do.DoId == avatarId {
			continue
		}
		if do.ParentId != parentId {
			continue
		}
		if _, ok := zones[do.ZoneId]; !ok {
			continue
		}
		matched = append(matched, do)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Class.Number != matched[j].Class.Number {
			return matched[i].Class.Number < matched[j].Class.Number
		}
		return matched[i].DoId < matched[j].DoId
	})

	for _, do := range matched {
		w := protocol.NewWriter(256)
		w.WriteUint32(do.ParentId)
		w.WriteUint32(do.ZoneId)
		w.WriteUint16(do.Class.Number)
		w.WriteUint32(do.DoId)
		do.PackRequiredBroadcast(w)
		do.PackOther(w)
		c.sendMessage(protocol.ClientCreateObjectRequiredOther, w.Bytes())
	}
}
