package clientagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/protocol"
)

// generateObject places an ephemeral DistributedObject into the world.
func generateObject(t *testing.T, a *Agent, doId, parentId, zoneId uint32) {
	t.Helper()
	class := a.schema.ClassByName("DistributedObject")
	require.NotNil(t, class)

	w := protocol.NewWriter(32)
	w.WriteUint32(parentId)
	w.WriteUint32(zoneId)
	w.WriteUint16(class.Number)
	w.WriteUint32(doId)
	a.state.HandleMessage([]uint64{protocol.ChannelStateServer}, 0,
		protocol.StateServerObjectGenerateWithRequiredOther, w.Bytes())
}

func addInterest(tc *testClient, handle uint16, contextId, parentId uint32, zones ...uint32) {
	tc.send(protocol.ClientAddInterest, func(w *protocol.Writer) {
		w.WriteUint16(handle)
		w.WriteUint32(contextId)
		w.WriteUint32(parentId)
		for _, z := range zones {
			w.WriteUint32(z)
		}
	})
}

// readCreates collects create frames until the done-interest arrives,
// returning the created doIds in order.
func readCreates(t *testing.T, tc *testClient, handle uint16, contextId uint32) []uint32 {
	t.Helper()
	var created []uint32
	for {
		code, r := tc.nextFrame(t)
		switch code {
		case protocol.ClientCreateObjectRequiredOther:
			r.ReadUint32() // parent
			r.ReadUint32() // zone
			r.ReadUint16() // class
			doId, err := r.ReadUint32()
			require.NoError(t, err)
			created = append(created, doId)
		case protocol.ClientDoneInterestResp:
			gotHandle, _ := r.ReadUint16()
			gotContext, _ := r.ReadUint32()
			assert.Equal(t, handle, gotHandle)
			assert.Equal(t, contextId, gotContext)
			return created
		default:
			t.Fatalf("unexpected frame with code %d", code)
		}
	}
}

func TestAddInterestSendsVisibleObjects(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 602, 4000, 5001)
	generateObject(t, a, 601, 4000, 5000)
	generateObject(t, a, 603, 4000, 6000)
	generateObject(t, a, 604, 4001, 5000)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	addInterest(tc, 1, 11, 4000, 5000, 5001)
	created := readCreates(t, tc, 1, 11)

	assert.Equal(t, []uint32{601, 602}, created, "creates are ordered by doId within a class")
	assert.True(t, tc.hasInterest(4000, 5000))
	assert.True(t, tc.hasInterest(4000, 5001))
	assert.False(t, tc.hasInterest(4000, 6000))
}

func TestAddInterestReplaceSameParent(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 601, 4000, 5000)
	generateObject(t, a, 603, 4000, 6000)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	addInterest(tc, 1, 11, 4000, 5000)
	require.Equal(t, []uint32{601}, readCreates(t, tc, 1, 11))

	// Same handle, new zone set: the out-of-sight object is disabled,
	// the newly visible one created.
	addInterest(tc, 1, 12, 4000, 6000)

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientObjectDisable, code)
	disabled, err := r.ReadUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 601, disabled)

	created := readCreates(t, tc, 1, 12)
	assert.Equal(t, []uint32{603}, created)
	assert.False(t, tc.hasInterest(4000, 5000))
	assert.True(t, tc.hasInterest(4000, 6000))
}

func TestAddInterestKeptZoneNotResent(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 601, 4000, 5000)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	addInterest(tc, 1, 11, 4000, 5000)
	require.Equal(t, []uint32{601}, readCreates(t, tc, 1, 11))

	addInterest(tc, 1, 12, 4000, 5000, 5001)
	created := readCreates(t, tc, 1, 12)
	assert.Empty(t, created, "objects in a kept zone are not created twice")
}

func TestAddInterestCoveredByOtherHandle(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 601, 4000, 5000)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	addInterest(tc, 1, 11, 4000, 5000)
	require.Equal(t, []uint32{601}, readCreates(t, tc, 1, 11))

	// A second handle over the same zone adds nothing.
	addInterest(tc, 2, 12, 4000, 5000)
	require.Empty(t, readCreates(t, tc, 2, 12))

	// Dropping the second handle must not disable the zone: the first
	// handle still covers it.
	tc.send(protocol.ClientRemoveInterest, func(w *protocol.Writer) {
		w.WriteUint16(2)
		w.WriteUint32(13)
	})
	code, _ := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientDoneInterestResp, code)
	assert.True(t, tc.hasInterest(4000, 5000))
}

func TestRemoveInterestDisablesObjects(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 601, 4000, 5000)
	generateObject(t, a, 602, 4000, 5001)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	addInterest(tc, 1, 11, 4000, 5000, 5001)
	readCreates(t, tc, 1, 11)

	tc.send(protocol.ClientRemoveInterest, func(w *protocol.Writer) {
		w.WriteUint16(1)
		w.WriteUint32(12)
	})

	disabled := make(map[uint32]struct{})
	for {
		code, r := tc.nextFrame(t)
		if code == protocol.ClientDoneInterestResp {
			break
		}
		require.Equal(t, protocol.ClientObjectDisable, code)
		doId, err := r.ReadUint32()
		require.NoError(t, err)
		disabled[doId] = struct{}{}
	}
	assert.Equal(t, map[uint32]struct{}{601: {}, 602: {}}, disabled)
	assert.False(t, tc.hasInterest(4000, 5000))
}

func TestRemoveUnknownInterestIgnored(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	tc.send(protocol.ClientRemoveInterest, func(w *protocol.Writer) {
		w.WriteUint16(9)
		w.WriteUint32(12)
	})
	tc.expectNoFrame(t)
}

func TestInterestNeverSendsOwnAvatar(t *testing.T) {
	a, _ := newTestAgent(t)
	generateObject(t, a, 601, 4000, 5000)
	generateObject(t, a, 602, 4000, 5000)

	tc := newTestClient(t, a)
	tc.login(t, "flippy")
	tc.mu.Lock()
	tc.avatarId = 601
	tc.mu.Unlock()

	addInterest(tc, 1, 11, 4000, 5000)
	created := readCreates(t, tc, 1, 11)
	assert.Equal(t, []uint32{602}, created)
}
