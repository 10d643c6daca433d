package dc

import "sync"

var (
	gameOnce   sync.Once
	gameSchema *Schema
)

// GameSchema returns the compiled class set the server operates on.
// Declaration order fixes both the dclass numbers and the persistence
// object types (Account=1, DistributedToon=2, DistributedEstate=3,
// DistributedHouse=4, DistributedPet=5).
func GameSchema() *Schema {
	gameOnce.Do(func() {
		gameSchema = buildGameSchema()
	})
	return gameSchema
}

func buildGameSchema() *Schema {
	s := NewSchema()

	sixSlots := ListV(UintV(0), UintV(0), UintV(0), UintV(0), UintV(0), UintV(0))

	s.MustAddClass("Account", nil,
		ParamField("DcObjectType", Db, TypeUint16),
		AtomicField("ACCOUNT_AV_SET", Required|Db|Airecv, TypeUint32Array).
			WithDefault(TupleV(sixSlots)),
		AtomicField("ESTATE_ID", Db|Airecv, TypeUint32),
		AtomicField("HOUSE_ID_SET", Db|Airecv, TypeUint32Array),
		AtomicField("CREATED", Db, TypeString),
		AtomicField("LAST_LOGIN", Db, TypeString),
	)

	s.MustAddClass("DistributedObject", nil)

	// The chat path lives on its own class so the agent can resolve the
	// talk field without knowing which avatar class carries it.
	s.MustAddClass("TalkPath_owner", nil,
		AtomicField("setTalk", Ownsend|Broadcast|Airecv,
			TypeUint32, TypeUint64, TypeString, TypeString),
	)

	s.MustAddClass("DistributedToon", []string{"DistributedObject", "TalkPath_owner"},
		ParamField("DcObjectType", Db, TypeUint16),
		AtomicField("setName", Required|Db|Broadcast|Ownrecv, TypeString),
		AtomicField("setDNAString", Required|Db|Broadcast|Ownrecv, TypeBlob),
		AtomicField("setMaxHp", Required|Db|Broadcast|Ownrecv, TypeInt16).
			WithDefault(TupleV(IntV(15))),
		AtomicField("setHp", Required|Db|Broadcast|Ownrecv, TypeInt16).
			WithDefault(TupleV(IntV(15))),
		AtomicField("setAccountName", Required|Db|Airecv, TypeString),
		AtomicField("setDISLname", Required|Db|Airecv, TypeString),
		AtomicField("setDISLid", Required|Db|Ownrecv, TypeUint32),
		AtomicField("setPosIndex", Required|Db, TypeUint8),
		AtomicField("OwningAccount", Db|Airecv, TypeUint32),
		AtomicField("setFriendsList", Db|Ownrecv, TypeFriendPairArray),
		AtomicField("setPetId", Db|Ownrecv, TypeUint32),
		AtomicField("WishName", Db, TypeString),
		AtomicField("WishNameState", Db|Ownrecv, TypeString),
		AtomicField("setX", Broadcast|Ram|Ownsend, TypeFloat64),
		AtomicField("setY", Broadcast|Ram|Ownsend, TypeFloat64),
		AtomicField("setZ", Broadcast|Ram|Ownsend, TypeFloat64),
		AtomicField("setH", Broadcast|Ram|Ownsend, TypeFloat64),
		MolecularField("setXYZH", "setX", "setY", "setZ", "setH"),
	)

	s.MustAddClass("DistributedEstate", []string{"DistributedObject"},
		ParamField("DcObjectType", Db, TypeUint16),
		AtomicField("setEstateType", Required|Db, TypeUint8),
		AtomicField("setDawnTime", Db, TypeUint32),
		AtomicField("setDecorData", Db, TypeBlob),
	)

	s.MustAddClass("DistributedHouse", []string{"DistributedObject"},
		ParamField("DcObjectType", Db, TypeUint16),
		AtomicField("setName", Required|Db|Broadcast, TypeString),
		AtomicField("setAvatarId", Required|Db|Broadcast, TypeUint32),
		AtomicField("setColor", Required|Db|Broadcast, TypeUint8),
		AtomicField("setHouseType", Db, TypeUint8),
	)

	s.MustAddClass("DistributedPet", []string{"DistributedObject"},
		ParamField("DcObjectType", Db, TypeUint16),
		AtomicField("setPetName", Required|Db|Broadcast, TypeString),
		AtomicField("setOwnerId", Required|Db, TypeUint32),
		AtomicField("setTraitSeed", Db, TypeUint32),
	)

	s.MustAddClass("CentralLogger", []string{"DistributedObject"},
		AtomicField("sendMessage", Clsend|Airecv,
			TypeString, TypeString, TypeUint32, TypeUint32),
	)

	return s
}
