package protocol

// Client-facing message codes. These numbers are fixed by the legacy
// client and must not change.
const (
	ClientLogin2                     uint16 = 16
	ClientLogin2Resp                 uint16 = 17
	ClientLoginToontown              uint16 = 125
	ClientLoginToontownResp          uint16 = 126
	ClientGoGetLost                  uint16 = 4
	ClientGetAvatars                 uint16 = 3
	ClientGetAvatarsResp             uint16 = 5
	ClientCreateAvatar               uint16 = 6
	ClientCreateAvatarResp           uint16 = 7
	ClientGetFriendList              uint16 = 10
	ClientGetFriendListResp          uint16 = 11
	ClientGetAvatarDetails           uint16 = 14
	ClientGetAvatarDetailsResp       uint16 = 15
	ClientObjectUpdateField          uint16 = 24
	ClientObjectDisable              uint16 = 25
	ClientSetAvatar                  uint16 = 32
	ClientCreateObjectRequired       uint16 = 34
	ClientCreateObjectRequiredOther  uint16 = 35
	ClientDisconnect                 uint16 = 37
	ClientDoneInterestResp           uint16 = 48
	ClientDeleteAvatar               uint16 = 49
	ClientDeleteAvatarResp           uint16 = 5
	ClientHeartbeat                  uint16 = 52
	ClientFriendOnline               uint16 = 53
	ClientFriendOffline              uint16 = 54
	ClientRemoveFriend               uint16 = 56
	ClientSetNamePattern             uint16 = 67
	ClientSetNamePatternAnswer       uint16 = 68
	ClientSetWishname                uint16 = 70
	ClientSetWishnameResp            uint16 = 71
	ClientGetPetDetails              uint16 = 81
	ClientGetPetDetailsResp          uint16 = 82
	ClientGetFriendListExtended      uint16 = 86
	ClientGetFriendListExtendedResp  uint16 = 87
	ClientAddInterest                uint16 = 97
	ClientRemoveInterest             uint16 = 99
	ClientObjectLocation             uint16 = 102
	ClientSetFieldSendable           uint16 = 120
)

// Play-token types carried in the login messages.
const (
	TokenLogin2Green     = 1
	TokenLogin2PlayToken = 2
	TokenLogin2Blue      = 3
	TokenLogin3DISL      = 4
)

// Message director control codes. Only honoured on ChannelControl.
const (
	ControlSetChannel      uint16 = 2001
	ControlRemoveChannel   uint16 = 2002
	ControlAddPostRemove   uint16 = 2010
	ControlClearPostRemove uint16 = 2011
)

// State server codes.
const (
	StateServerObjectGenerateWithRequiredOther uint16 = 2003
	StateServerObjectUpdateField               uint16 = 2004
	StateServerObjectDeleteRAM                 uint16 = 2007
	StateServerObjectSetZone                   uint16 = 2008
)

// Database server codes.
const (
	DBServerCreateStoredObject     uint16 = 1003
	DBServerCreateStoredObjectResp uint16 = 1004
	DBServerGetStoredValues        uint16 = 1012
	DBServerGetStoredValuesResp    uint16 = 1013
	DBServerSetStoredValues        uint16 = 1014
	DBServerMakeFriends            uint16 = 1017
	DBServerMakeFriendsResp        uint16 = 1031
	DBServerRequestSecret          uint16 = 1025
	DBServerRequestSecretResp      uint16 = 1026
	DBServerSubmitSecret           uint16 = 1027
	DBServerSubmitSecretResp       uint16 = 1028
	DBServerGetEstate              uint16 = 1040
	DBServerGetEstateResp          uint16 = 1041
)

// Disconnect reason codes sent in ClientGoGetLost.
const (
	DisconnectMalformed     uint16 = 200
	DisconnectUnexpected    uint16 = 220
	DisconnectAvatarDeleted uint16 = 153
	DisconnectTokenParse    uint16 = 103
	DisconnectTokenExpired  uint16 = 105
	DisconnectTokenType     uint16 = 106
	DisconnectTokenDecrypt  uint16 = 122
	DisconnectLoginMode     uint16 = 123
)
