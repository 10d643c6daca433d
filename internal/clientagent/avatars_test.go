package clientagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/protocol"
)

// createAvatar drives the create message and returns the new doId.
func createAvatar(t *testing.T, tc *testClient, dna []byte, pos uint8) uint32 {
	t.Helper()

	tc.send(protocol.ClientCreateAvatar, func(w *protocol.Writer) {
		w.WriteUint16(7)
		w.WriteBlob(dna)
		w.WriteUint8(pos)
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientCreateAvatarResp, code)
	contextId, err := r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 7, contextId)
	rc, err := r.ReadUint8()
	require.NoError(t, err)
	require.EqualValues(t, 0, rc)
	doId, err := r.ReadUint32()
	require.NoError(t, err)
	require.NotZero(t, doId)
	return doId
}

func TestCreateAvatar(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	dna := []byte{0x01, 0x02, 0x03}
	doId := createAvatar(t, tc, dna, 2)

	slots := avatarSlots(tc.Account())
	require.Len(t, slots, avatarSlotCount)
	assert.Equal(t, doId, slots[2])

	avatar, err := a.manager.LoadObject(context.Background(), doId)
	require.NoError(t, err)
	stored, ok := fieldBlob(fieldOf(avatar, "setDNAString"))
	require.True(t, ok)
	assert.Equal(t, dna, stored)
	owner, ok := fieldUint(fieldOf(avatar, "OwningAccount"))
	require.True(t, ok)
	assert.Equal(t, tc.Account().DoId, owner)
}

func TestCreateAvatarRejectsOccupiedSlot(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	createAvatar(t, tc, []byte{0x01}, 2)

	tc.send(protocol.ClientCreateAvatar, func(w *protocol.Writer) {
		w.WriteUint16(8)
		w.WriteBlob([]byte{0x02})
		w.WriteUint8(2)
	})
	tc.expectNoFrame(t)
}

func TestCreateAvatarRejectsBadSlot(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	tc.send(protocol.ClientCreateAvatar, func(w *protocol.Writer) {
		w.WriteUint16(8)
		w.WriteBlob([]byte{0x02})
		w.WriteUint8(avatarSlotCount)
	})
	tc.expectNoFrame(t)
}

func TestGetAvatars(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	dna := []byte{0x0A, 0x0B}
	doId := createAvatar(t, tc, dna, 1)

	tc.send(protocol.ClientGetAvatars, nil)

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientGetAvatarsResp, code)
	rc, err := r.ReadUint8()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rc)
	count, err := r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	gotDoId, _ := r.ReadUint32()
	assert.Equal(t, doId, gotDoId)
	r.ReadString() // name
	r.ReadString() // wish name slots
	r.ReadString()
	r.ReadString()
	gotDna, err := r.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, dna, gotDna)
	pos, _ := r.ReadUint8()
	assert.EqualValues(t, 1, pos)
}

func TestSetAvatarEntersWorld(t *testing.T) {
	a, bus := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 0)
	bus.Reset()

	tc.send(protocol.ClientSetAvatar, func(w *protocol.Writer) {
		w.WriteUint32(doId)
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientGetAvatarDetailsResp, code)
	gotDoId, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, doId, gotDoId)
	assert.Equal(t, doId, tc.AvatarId())

	messages := bus.Messages()
	require.Len(t, messages, 1)
	gen := messages[0]
	assert.Equal(t, []uint64{protocol.ChannelStateServer}, gen.Channels)
	assert.Equal(t, uint64(doId), gen.Sender)
	assert.Equal(t, protocol.StateServerObjectGenerateWithRequiredOther, gen.Code)
}

func TestSetAvatarZeroLeavesWorld(t *testing.T) {
	a, bus := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 0)

	tc.send(protocol.ClientSetAvatar, func(w *protocol.Writer) {
		w.WriteUint32(doId)
	})
	tc.nextFrame(t) // avatar details
	bus.Reset()

	tc.send(protocol.ClientSetAvatar, func(w *protocol.Writer) {
		w.WriteUint32(0)
	})

	assert.Zero(t, tc.AvatarId())
	messages := bus.Messages()
	require.Len(t, messages, 1)
	del := messages[0]
	assert.Equal(t, []uint64{uint64(doId)}, del.Channels)
	assert.Equal(t, protocol.StateServerObjectDeleteRAM, del.Code)
}

func TestSetAvatarRejectsForeignToon(t *testing.T) {
	a, bus := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	bus.Reset()

	tc.send(protocol.ClientSetAvatar, func(w *protocol.Writer) {
		w.WriteUint32(100000099)
	})

	tc.expectNoFrame(t)
	assert.Zero(t, tc.AvatarId())
	assert.Empty(t, bus.Messages())
}

func TestSetNamePattern(t *testing.T) {
	a, _ := newTestAgent(t)
	a.nameDictionary[1] = nameEntry{category: 0, name: "silly"}
	a.nameDictionary[2] = nameEntry{category: 1, name: "mc"}
	a.nameDictionary[3] = nameEntry{category: 2, name: "snooter"}

	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 0)

	tc.send(protocol.ClientSetNamePattern, func(w *protocol.Writer) {
		w.WriteUint32(doId)
		w.WriteInt16(1)
		w.WriteInt16(1)
		w.WriteInt16(-1)
		w.WriteInt16(0)
		w.WriteInt16(2)
		w.WriteInt16(0)
		w.WriteInt16(3)
		w.WriteInt16(1)
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientSetNamePatternAnswer, code)
	gotDoId, _ := r.ReadUint32()
	assert.Equal(t, doId, gotDoId)
	rc, _ := r.ReadUint8()
	assert.EqualValues(t, 0, rc)

	avatar, err := a.manager.LoadObject(context.Background(), doId)
	require.NoError(t, err)
	name, ok := fieldString(fieldOf(avatar, "setName"))
	require.True(t, ok)
	assert.Equal(t, "Silly mcSnooter", name)
}

func TestSetNamePatternRejectsUnknownIndex(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 0)

	tc.send(protocol.ClientSetNamePattern, func(w *protocol.Writer) {
		w.WriteUint32(doId)
		for i := 0; i < 4; i++ {
			w.WriteInt16(42)
			w.WriteInt16(0)
		}
	})
	tc.expectNoFrame(t)
}

func TestSetWishnameProbe(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	tc.send(protocol.ClientSetWishname, func(w *protocol.Writer) {
		w.WriteUint32(0)
		w.WriteString("Duke Fizzlepop")
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientSetWishnameResp, code)
	avId, _ := r.ReadUint32()
	assert.Zero(t, avId)
	status, _ := r.ReadUint16()
	assert.EqualValues(t, 0, status)
	r.ReadString() // pending
	approved, _ := r.ReadString()
	assert.Equal(t, "Duke Fizzlepop", approved)
}

func TestSetWishnameRenames(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 0)

	tc.send(protocol.ClientSetWishname, func(w *protocol.Writer) {
		w.WriteUint32(doId)
		w.WriteString("Duke Fizzlepop")
	})
	tc.nextFrame(t)

	avatar, err := a.manager.LoadObject(context.Background(), doId)
	require.NoError(t, err)
	name, ok := fieldString(fieldOf(avatar, "setName"))
	require.True(t, ok)
	assert.Equal(t, "Duke Fizzlepop", name)
}

func TestDeleteAvatar(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	doId := createAvatar(t, tc, []byte{0x01}, 3)

	tc.send(protocol.ClientDeleteAvatar, func(w *protocol.Writer) {
		w.WriteUint32(doId)
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientDeleteAvatarResp, code)
	rc, _ := r.ReadUint8()
	assert.EqualValues(t, 0, rc)
	count, _ := r.ReadUint16()
	assert.EqualValues(t, 0, count)

	for _, slot := range avatarSlots(tc.Account()) {
		assert.Zero(t, slot)
	}
}

func TestDeleteAvatarRejectsForeignToon(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	tc.send(protocol.ClientDeleteAvatar, func(w *protocol.Writer) {
		w.WriteUint32(100000099)
	})
	tc.expectNoFrame(t)
}
