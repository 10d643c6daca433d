package protocol

// Well-known channels on the message director.
const (
	// ChannelControl carries subscription control messages; it is never
	// subscribed to and never forwarded.
	ChannelControl uint64 = 1

	// ChannelDBServer is the database server's service channel.
	ChannelDBServer uint64 = 4003

	// ChannelChatRewrite replaces the sender on setTalk updates so chat
	// flows through the filter path.
	ChannelChatRewrite uint64 = 4681

	// ChannelStateServer receives object generate messages.
	ChannelStateServer uint64 = 20100000
)

// CentralLoggerDoId is the fixed doId of the CentralLogger object every
// client may send game events to.
const CentralLoggerDoId uint32 = 4688

// PuppetChannel returns the client-control channel for an avatar. The
// client agent listens here for messages directed at a specific session.
func PuppetChannel(doId uint32) uint64 {
	return uint64(doId) + (1 << 32)
}

// PuppetDoId recovers the avatar doId from a puppet channel, reporting
// whether ch is in the puppet range at all.
func PuppetDoId(ch uint64) (uint32, bool) {
	if ch < (1<<32) || ch >= (2<<32) {
		return 0, false
	}
	return uint32(ch - (1 << 32)), true
}
