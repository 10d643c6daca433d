package dbserver

import (
	"context"
	"fmt"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

const estateHouseSlots = 6

// firstUint extracts the single uint argument of a stored atomic field
// value.
func firstUint(v dc.Value, ok bool) (uint32, bool) {
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return 0, false
	}
	u, ok := v.Items[0].AsUint()
	return uint32(u), ok
}

// uintSlots extracts a stored uint-array field value as a slice.
func uintSlots(v dc.Value, ok bool) []uint32 {
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

// presentFields lists the object's stored fields in declaration order,
// keeping the wire layout deterministic.
func presentFields(do *database.Object) []string {
	var names []string
	for _, f := range do.Class.InheritedFields() {
		if f.Kind == dc.Molecular {
			continue
		}
		if _, ok := do.Fields[f.Name]; ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// getEstate resolves the avatar's account, lazily creates the estate
// and its six houses, syncs house ownership to the account's avatar
// slots and returns the whole block in one response.
func (s *Server) getEstate(ctx context.Context, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	w := protocol.GetWriter()
	defer w.Put()

	context32, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed get-estate", "error", err)
		return
	}
	avatarId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed get-estate", "error", err)
		return
	}

	w.WriteUint32(context32)

	fail := func(reason string, err error) {
		s.log.Warn("get-estate failed", "avatarId", avatarId, "reason", reason, "error", err)
		w.WriteUint8(1)
		s.reply(sender, protocol.DBServerGetEstateResp, w.Bytes())
	}

	avatar, ok, err := s.manager.LoadOrNotFound(ctx, avatarId)
	if err != nil || !ok {
		fail("no avatar", err)
		return
	}
	accountId, ok := firstUint(fieldOf(avatar, "setDISLid"))
	if !ok {
		fail("avatar has no account", nil)
		return
	}
	account, ok, err := s.manager.LoadOrNotFound(ctx, accountId)
	if err != nil || !ok {
		fail("no account", err)
		return
	}

	estate, houseIds, err := s.ensureEstate(ctx, account)
	if err != nil {
		fail("estate", err)
		return
	}

	houses, err := s.ensureHouses(ctx, houseIds)
	if err != nil {
		fail("houses", err)
		return
	}

	pets, err := s.syncAvatarHouses(ctx, account, houseIds, houses)
	if err != nil {
		fail("avatar houses", err)
		return
	}

	account.Fields["HOUSE_ID_SET"] = slotsValue(houseIds)
	if err := s.manager.SaveObject(ctx, account); err != nil {
		fail("save account", err)
		return
	}

	w.WriteUint8(0)
	w.WriteUint32(estate.DoId)

	estateFields := presentFields(estate)
	w.WriteUint16(uint16(len(estateFields)))
	for _, name := range estateFields {
		packed, err := estate.PackField(name, estate.Fields[name])
		if err != nil {
			w.WriteString("DEADBEEF")
			w.WriteString("DEADBEEF")
			w.WriteUint8(0)
			continue
		}
		w.WriteString(name)
		w.WriteBlob(packed)
		w.WriteUint8(1)
	}

	houseLen := uint16(len(houses))
	w.WriteUint16(houseLen)
	for _, house := range houses {
		w.WriteUint32(house.DoId)
	}

	// Field matrix keyed on the first house's stored fields. Every house
	// shares the layout because they are created and synced together.
	houseKeys := presentFields(houses[0])
	w.WriteUint16(uint16(len(houseKeys)))
	for _, name := range houseKeys {
		w.WriteString(name)
	}
	w.WriteUint16(uint16(len(houseKeys)))
	for _, name := range houseKeys {
		w.WriteUint16(houseLen)
		for _, house := range houses {
			v, ok := house.Fields[name]
			if !ok {
				continue
			}
			packed, err := house.PackField(name, v)
			if err != nil {
				continue
			}
			w.WriteBlob(packed)
		}
	}

	// Legacy tail the client skips over: a found count and a per-key
	// success matrix.
	w.WriteUint16(houseLen)
	for range houseKeys {
		w.WriteUint16(0)
		for i := uint16(0); i < houseLen; i++ {
			w.WriteUint8(1)
		}
	}

	w.WriteUint16(uint16(len(pets)))
	for _, pet := range pets {
		w.WriteUint32(pet.DoId)
	}

	s.reply(sender, protocol.DBServerGetEstateResp, w.Bytes())
}

func fieldOf(do *database.Object, name string) (dc.Value, bool) {
	v, ok := do.Fields[name]
	return v, ok
}

// ensureEstate loads the account's estate, creating it (and zeroed
// house slots) on first access.
func (s *Server) ensureEstate(ctx context.Context, account *database.Object) (*database.Object, []uint32, error) {
	estateId, _ := firstUint(fieldOf(account, "ESTATE_ID"))
	if estateId == 0 {
		estate, err := s.manager.CreateObjectFromName(ctx, "DistributedEstate", nil)
		if err != nil {
			return nil, nil, fmt.Errorf("create estate: %w", err)
		}
		houseIds := make([]uint32, estateHouseSlots)
		account.Fields["ESTATE_ID"] = dc.TupleV(dc.UintV(uint64(estate.DoId)))
		account.Fields["HOUSE_ID_SET"] = slotsValue(houseIds)
		s.hydrate(estate)
		return estate, houseIds, nil
	}

	estate, err := s.manager.LoadObject(ctx, estateId)
	if err != nil {
		return nil, nil, fmt.Errorf("load estate %d: %w", estateId, err)
	}
	houseIds := uintSlots(fieldOf(account, "HOUSE_ID_SET"))
	for len(houseIds) < estateHouseSlots {
		houseIds = append(houseIds, 0)
	}
	s.hydrate(estate)
	return estate, houseIds, nil
}

// ensureHouses fills every empty slot with a fresh house and refreshes
// the colour of existing ones to match the slot index.
func (s *Server) ensureHouses(ctx context.Context, houseIds []uint32) ([]*database.Object, error) {
	houses := make([]*database.Object, 0, len(houseIds))
	for i := range houseIds {
		if houseIds[i] == 0 {
			house, err := s.manager.CreateObjectFromName(ctx, "DistributedHouse", map[string]dc.Value{
				"setName":     dc.TupleV(dc.StringV("")),
				"setAvatarId": dc.TupleV(dc.UintV(0)),
				"setColor":    dc.TupleV(dc.UintV(uint64(i))),
			})
			if err != nil {
				return nil, fmt.Errorf("create house %d: %w", i, err)
			}
			houseIds[i] = house.DoId
			s.hydrate(house)
			houses = append(houses, house)
			continue
		}
		house, err := s.manager.LoadObject(ctx, houseIds[i])
		if err != nil {
			return nil, fmt.Errorf("load house %d: %w", houseIds[i], err)
		}
		house.Fields["setColor"] = dc.TupleV(dc.UintV(uint64(i)))
		if err := s.manager.SaveObject(ctx, house); err != nil {
			return nil, fmt.Errorf("save house %d: %w", house.DoId, err)
		}
		s.hydrate(house)
		houses = append(houses, house)
	}
	return houses, nil
}

// syncAvatarHouses stamps each avatar's name onto the house at its
// position slot and collects the avatars' pets.
func (s *Server) syncAvatarHouses(ctx context.Context, account *database.Object, houseIds []uint32, houses []*database.Object) ([]*database.Object, error) {
	var pets []*database.Object

	for _, avDoId := range uintSlots(fieldOf(account, "ACCOUNT_AV_SET")) {
		if avDoId == 0 {
			continue
		}
		avatar, ok, err := s.manager.LoadOrNotFound(ctx, avDoId)
		if err != nil {
			return nil, fmt.Errorf("load avatar %d: %w", avDoId, err)
		}
		if !ok {
			continue
		}

		if petId, ok := firstUint(fieldOf(avatar, "setPetId")); ok && petId != 0 {
			pet, err := s.manager.LoadObject(ctx, petId)
			if err != nil {
				return nil, fmt.Errorf("load pet %d: %w", petId, err)
			}
			s.hydrate(pet)
			pets = append(pets, pet)
		}

		posIndex, ok := firstUint(fieldOf(avatar, "setPosIndex"))
		if !ok || int(posIndex) >= len(houseIds) {
			continue
		}
		house := houses[posIndex]
		if name, ok := fieldOf(avatar, "setName"); ok {
			house.Fields["setName"] = name
		}
		house.Fields["setAvatarId"] = dc.TupleV(dc.UintV(uint64(avDoId)))
		house.Fields["setColor"] = dc.TupleV(dc.UintV(uint64(posIndex)))
		if err := s.manager.SaveObject(ctx, house); err != nil {
			return nil, fmt.Errorf("save house %d: %w", house.DoId, err)
		}
	}
	return pets, nil
}
