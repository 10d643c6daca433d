package md

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/protocol"
)

type recorded struct {
	channels []uint64
	sender   uint64
	code     uint16
	payload  []byte
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
}

func controlFrame(code uint16, args func(w *protocol.Writer)) []byte {
	w := protocol.NewWriter(32)
	w.WriteUint8(1)
	w.WriteUint64(protocol.ChannelControl)
	w.WriteUint16(code)
	if args != nil {
		args(w)
	}
	return w.Bytes()
}

func dataFrame(channels []uint64, sender uint64, code uint16, payload []byte) []byte {
	w := protocol.NewWriter(64)
	w.WriteUint8(uint8(len(channels)))
	for _, ch := range channels {
		w.WriteUint64(ch)
	}
	w.WriteUint64(sender)
	w.WriteUint16(code)
	w.WriteBytes(payload)
	return w.Bytes()
}

func TestLocalDispatch(t *testing.T) {
	d := NewDirector(discardLogger())

	var got []recorded
	d.RegisterLocal(HandlerFunc(func(channels []uint64, sender uint64, code uint16, payload []byte) {
		got = append(got, recorded{channels, sender, code, payload})
	}))

	d.Send([]uint64{4003}, 42, 1012, []byte{1, 2})

	require.Len(t, got, 1)
	assert.Equal(t, []uint64{4003}, got[0].channels)
	assert.Equal(t, uint64(42), got[0].sender)
	assert.Equal(t, uint16(1012), got[0].code)
	assert.Equal(t, []byte{1, 2}, got[0].payload)
}

func TestReentrantSendKeepsOrder(t *testing.T) {
	d := NewDirector(discardLogger())

	var order []uint16
	d.RegisterLocal(HandlerFunc(func(_ []uint64, _ uint64, code uint16, _ []byte) {
		order = append(order, code)
		if code == 1 {
			// Respond from inside the handler.
			d.Send([]uint64{9}, 0, 2, nil)
		}
	}))

	d.Send([]uint64{9}, 0, 1, nil)

	assert.Equal(t, []uint16{1, 2}, order)
}

func TestPeerSubscribeAndForward(t *testing.T) {
	d := NewDirector(discardLogger())

	connA, _ := net.Pipe()
	connB, remoteB := net.Pipe()
	peerA := newPeer(connA)
	peerB := newPeer(connB)

	require.NoError(t, d.dispatchRaw(peerB, controlFrame(protocol.ControlSetChannel, func(w *protocol.Writer) {
		w.WriteUint64(1000)
	})))

	frames := make(chan []byte, 1)
	go func() {
		raw, err := protocol.ReadFrame(remoteB)
		if err == nil {
			frames <- raw
		}
	}()

	require.NoError(t, d.dispatchRaw(peerA, dataFrame([]uint64{1000}, 77, 2004, []byte{0xAB})))

	select {
	case raw := <-frames:
		assert.Equal(t, dataFrame([]uint64{1000}, 77, 2004, []byte{0xAB}), raw)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive forwarded message")
	}

	// Unsubscribe stops delivery without erroring.
	require.NoError(t, d.dispatchRaw(peerB, controlFrame(protocol.ControlRemoveChannel, func(w *protocol.Writer) {
		w.WriteUint64(1000)
	})))
	require.NoError(t, d.dispatchRaw(peerA, dataFrame([]uint64{1000}, 77, 2004, nil)))
}

func TestSenderNeverReceivesOwnMessage(t *testing.T) {
	d := NewDirector(discardLogger())

	connA, _ := net.Pipe()
	peerA := newPeer(connA)

	require.NoError(t, d.dispatchRaw(peerA, controlFrame(protocol.ControlSetChannel, func(w *protocol.Writer) {
		w.WriteUint64(500)
	})))

	// A write back to peerA would block forever on the unread pipe; the
	// dispatch finishing proves no copy was reflected.
	done := make(chan struct{})
	go func() {
		_ = d.dispatchRaw(peerA, dataFrame([]uint64{500}, 1, 1, nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked reflecting message to its sender")
	}
}

func TestPostRemoveFlushOnDrop(t *testing.T) {
	d := NewDirector(discardLogger())

	var got []recorded
	d.RegisterLocal(HandlerFunc(func(channels []uint64, sender uint64, code uint16, payload []byte) {
		got = append(got, recorded{channels, sender, code, payload})
	}))

	conn, _ := net.Pipe()
	peer := newPeer(conn)

	stored := dataFrame([]uint64{4003}, 9, 1014, []byte{0x01})
	require.NoError(t, d.dispatchRaw(peer, controlFrame(protocol.ControlAddPostRemove, func(w *protocol.Writer) {
		w.WriteBytes(stored)
	})))

	d.dropPeer(peer)

	require.Len(t, got, 1)
	assert.Equal(t, uint16(1014), got[0].code)
	assert.Equal(t, []uint64{4003}, got[0].channels)
}

func TestClearPostRemove(t *testing.T) {
	d := NewDirector(discardLogger())

	var count int
	d.RegisterLocal(HandlerFunc(func([]uint64, uint64, uint16, []byte) { count++ }))

	conn, _ := net.Pipe()
	peer := newPeer(conn)

	require.NoError(t, d.dispatchRaw(peer, controlFrame(protocol.ControlAddPostRemove, func(w *protocol.Writer) {
		w.WriteBytes(dataFrame([]uint64{4003}, 9, 1014, nil))
	})))
	require.NoError(t, d.dispatchRaw(peer, controlFrame(protocol.ControlClearPostRemove, nil)))

	d.dropPeer(peer)
	assert.Zero(t, count)
}
