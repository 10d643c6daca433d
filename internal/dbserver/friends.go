package dbserver

import (
	"context"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// friendPairs extracts a stored setFriendsList value as (doId, flags)
// pairs.
func friendPairs(v dc.Value, ok bool) [][2]uint32 {
	if !ok || v.Kind != dc.KindTuple || len(v.Items) == 0 {
		return nil
	}
	list := v.Items[0]
	out := make([][2]uint32, 0, len(list.Items))
	for _, item := range list.Items {
		if len(item.Items) != 2 {
			continue
		}
		id, _ := item.Items[0].AsUint()
		flags, _ := item.Items[1].AsUint()
		out = append(out, [2]uint32{uint32(id), uint32(flags)})
	}
	return out
}

func friendPairsValue(pairs [][2]uint32) dc.Value {
	items := make([]dc.Value, len(pairs))
	for i, p := range pairs {
		items[i] = dc.TupleV(dc.UintV(uint64(p[0])), dc.UintV(uint64(p[1])))
	}
	return dc.TupleV(dc.ListV(items...))
}

// upsertFriend adds friendId with the given flags to the list, or
// refreshes the flags when the entry already exists.
func upsertFriend(pairs [][2]uint32, friendId uint32, flags uint8) [][2]uint32 {
	for i := range pairs {
		if pairs[i][0] == friendId {
			pairs[i][1] = uint32(flags)
			return pairs
		}
	}
	return append(pairs, [2]uint32{friendId, uint32(flags)})
}

// makeFriends records the friendship in both avatars' friend lists. The
// response carries a success flag and the caller's context.
func (s *Server) makeFriends(ctx context.Context, sender uint64, payload []byte) {
	r := protocol.NewReader(payload)

	friendIdA, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed make-friends", "error", err)
		return
	}
	friendIdB, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed make-friends", "error", err)
		return
	}
	flags, err := r.ReadUint8()
	if err != nil {
		s.log.Warn("malformed make-friends", "error", err)
		return
	}
	context32, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed make-friends", "error", err)
		return
	}

	w := protocol.GetWriter()
	defer w.Put()

	refuse := func() {
		w.WriteUint8(0)
		w.WriteUint32(context32)
		s.reply(sender, protocol.DBServerMakeFriendsResp, w.Bytes())
	}

	friendA, okA, err := s.manager.LoadOrNotFound(ctx, friendIdA)
	if err != nil {
		s.log.Error("could not load avatar", "doId", friendIdA, "error", err)
	}
	friendB, okB, err := s.manager.LoadOrNotFound(ctx, friendIdB)
	if err != nil {
		s.log.Error("could not load avatar", "doId", friendIdB, "error", err)
	}
	if !okA || !okB {
		refuse()
		return
	}
	if friendA.Class.FieldByName("setFriendsList") == nil ||
		friendB.Class.FieldByName("setFriendsList") == nil {
		refuse()
		return
	}

	addFriend(friendA, friendIdB, flags)
	addFriend(friendB, friendIdA, flags)

	w.WriteUint8(1)
	w.WriteUint32(context32)
	s.reply(sender, protocol.DBServerMakeFriendsResp, w.Bytes())

	if err := s.manager.SaveObject(ctx, friendA); err != nil {
		s.log.Error("could not save avatar", "doId", friendIdA, "error", err)
	}
	if err := s.manager.SaveObject(ctx, friendB); err != nil {
		s.log.Error("could not save avatar", "doId", friendIdB, "error", err)
	}
}

func addFriend(do *database.Object, friendId uint32, flags uint8) {
	pairs := friendPairs(fieldOf(do, "setFriendsList"))
	do.Fields["setFriendsList"] = friendPairsValue(upsertFriend(pairs, friendId, flags))
}
