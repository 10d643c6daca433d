package clientagent

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/config"
	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
	"github.com/udisondev/otpgo/internal/stateserver"
	"github.com/udisondev/otpgo/internal/testutil"
)

const testServerVersion = "sv1.0.47.38"

func newTestAgent(t *testing.T) (*Agent, *testutil.RecordingBus) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	schema := dc.GameSchema()

	backend, err := database.NewRawBackend(schema, t.TempDir(), ".txt", "accounts.db")
	require.NoError(t, err)
	manager := database.NewManager(schema, backend, log)
	t.Cleanup(func() { manager.Close() })

	state := stateserver.NewServer(schema, log)

	missing := t.TempDir()
	cfg := config.ClientAgentConfig{
		ServerVersion: testServerVersion,
		TokenPassword: testTokenPassword,
		VisgroupsFile: filepath.Join(missing, "visgroups.yml"),
	}

	bus := testutil.NewRecordingBus()
	a, err := NewAgent(cfg, schema, state, manager, bus,
		filepath.Join(missing, "NameMasterEnglish.txt"), log)
	require.NoError(t, err)
	state.SetAnnouncer(a)
	return a, bus
}

// testClient wraps a Client over an in-memory pipe, collecting every
// frame the server writes.
type testClient struct {
	*Client
	peer   net.Conn
	frames chan []byte
}

func newTestClient(t *testing.T, a *Agent) *testClient {
	t.Helper()

	peer, serverSide := testutil.PipeConn(t)
	c := a.newClient(serverSide)
	a.addClient(c)

	tc := &testClient{Client: c, peer: peer, frames: make(chan []byte, 64)}
	go func() {
		for {
			raw, err := protocol.ReadFrame(peer)
			if err != nil {
				close(tc.frames)
				return
			}
			tc.frames <- raw
		}
	}()
	return tc
}

// send frames a datagram the way the wire would and runs it through the
// state machine.
func (tc *testClient) send(code uint16, body func(w *protocol.Writer)) {
	w := protocol.NewWriter(64)
	w.WriteUint16(code)
	if body != nil {
		body(w)
	}
	tc.handleDatagram(w.Bytes())
}

func (tc *testClient) nextFrame(t *testing.T) (uint16, *protocol.Reader) {
	t.Helper()
	select {
	case raw, ok := <-tc.frames:
		require.True(t, ok, "connection closed while waiting for a frame")
		r := protocol.NewReader(raw)
		code, err := r.ReadUint16()
		require.NoError(t, err)
		return code, r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return 0, nil
	}
}

func (tc *testClient) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case raw, ok := <-tc.frames:
		if ok {
			r := protocol.NewReader(raw)
			code, _ := r.ReadUint16()
			t.Fatalf("unexpected frame with code %d", code)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// login drives a full legacy login and swallows the response frame.
func (tc *testClient) login(t *testing.T, userName string) {
	t.Helper()
	token := `PlayToken name="` + userName + `" expires="Mon, 02 Jan 2034 15:04:05 GMT" paid="YES" chat="YES"`
	tc.send(protocol.ClientLoginToontown, func(w *protocol.Writer) {
		w.WriteString(token)
		w.WriteString(testServerVersion)
		w.WriteUint32(0)
		w.WriteInt32(protocol.TokenLogin2PlayToken)
		w.WriteString("")
	})
	code, _ := tc.nextFrame(t)
	require.Equal(t, protocol.ClientLoginToontownResp, code)
	require.True(t, tc.isAuthorized())
}

func TestHeartbeatEchoesDatagram(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	tc.send(protocol.ClientHeartbeat, func(w *protocol.Writer) {
		w.WriteUint32(0xDEADBEEF)
	})

	code, r := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientHeartbeat, code)

	// The echo carries the whole inbound datagram, code included.
	echoed := protocol.NewReader(r.ReadRemaining())
	innerCode, err := echoed.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientHeartbeat, innerCode)
	val, err := echoed.ReadUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, val)
}

func TestRejectsGameMessagesBeforeLogin(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	tc.send(protocol.ClientGetAvatars, nil)

	code, r := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientGoGetLost, code)
	reason, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, protocol.DisconnectUnexpected, reason)
	assert.True(t, tc.isClosed())
}

func TestTruncatedDatagramDisconnects(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	tc.handleDatagram([]byte{0x01})

	code, r := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientGoGetLost, code)
	reason, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, protocol.DisconnectMalformed, reason)
}

func TestClientDisconnectMessage(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	tc.send(protocol.ClientDisconnect, nil)

	code, r := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientGoGetLost, code)
	assert.Zero(t, r.Remaining(), "voluntary disconnect carries no reason")
	assert.True(t, tc.isClosed())
}

func TestLoginToontown(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	token := `PlayToken name="flippy" expires="Mon, 02 Jan 2034 15:04:05 GMT" paid="YES" chat="YES"`
	tc.send(protocol.ClientLoginToontown, func(w *protocol.Writer) {
		w.WriteString(token)
		w.WriteString(testServerVersion)
		w.WriteUint32(0)
		w.WriteInt32(protocol.TokenLogin2PlayToken)
		w.WriteString("")
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientLoginToontownResp, code)

	rc, err := r.ReadInt8()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rc)
	respStr, _ := r.ReadString()
	assert.Empty(t, respStr)
	accountDoId, _ := r.ReadUint32()
	assert.NotZero(t, accountDoId)
	accountName, _ := r.ReadString()
	assert.Equal(t, "flippy", accountName)
	approved, _ := r.ReadUint8()
	assert.EqualValues(t, 1, approved)
	openChat, _ := r.ReadString()
	assert.Equal(t, "NO", openChat)
	friendsWithChat, _ := r.ReadString()
	assert.Equal(t, "CODE", friendsWithChat)
	creationRule, _ := r.ReadString()
	assert.Equal(t, "PARENT", creationRule)
	r.ReadUint32() // sec
	r.ReadUint32() // usec
	paid, _ := r.ReadString()
	assert.Equal(t, "FULL", paid)
	whitelist, _ := r.ReadString()
	assert.Equal(t, "YES", whitelist)
	r.ReadString() // last login
	accountDays, _ := r.ReadInt32()
	assert.EqualValues(t, 0, accountDays)
	parent, _ := r.ReadString()
	assert.Equal(t, "NO_PARENT_ACCOUNT", parent)
	userName, _ := r.ReadString()
	assert.Equal(t, "flippy", userName)

	assert.True(t, tc.isAuthorized())
	require.NotNil(t, tc.Account())
	assert.Equal(t, accountDoId, tc.Account().DoId)
}

func TestLoginCreatesAccountOnce(t *testing.T) {
	a, _ := newTestAgent(t)

	first := newTestClient(t, a)
	first.login(t, "flippy")
	firstDoId := first.Account().DoId

	second := newTestClient(t, a)
	second.login(t, "flippy")
	assert.Equal(t, firstDoId, second.Account().DoId)
}

func TestLogin2(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	token := `PlayToken name="flippy" expires="Mon, 02 Jan 2034 15:04:05 GMT" paid="NO" chat="YES"`
	tc.send(protocol.ClientLogin2, func(w *protocol.Writer) {
		w.WriteString(token)
		w.WriteString(testServerVersion)
		w.WriteUint32(0)
		w.WriteUint32(protocol.TokenLogin2PlayToken)
		w.WriteString("")
		w.WriteString("")
	})

	code, r := tc.nextFrame(t)
	require.Equal(t, protocol.ClientLogin2Resp, code)

	rc, err := r.ReadInt8()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rc)
	r.ReadString() // resp string
	userName, _ := r.ReadString()
	assert.Equal(t, "flippy", userName)
	openChat, _ := r.ReadUint8()
	assert.EqualValues(t, 0, openChat)
	r.ReadUint32() // sec
	r.ReadUint32() // usec
	paid, _ := r.ReadUint8()
	assert.EqualValues(t, 0, paid)
	minutes, _ := r.ReadInt32()
	assert.EqualValues(t, 1000*60*60, minutes)

	assert.True(t, tc.isAuthorized())
}

func TestLoginRejectsBadTokenType(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)

	tc.send(protocol.ClientLoginToontown, func(w *protocol.Writer) {
		w.WriteString("whatever")
		w.WriteString(testServerVersion)
		w.WriteUint32(0)
		w.WriteInt32(protocol.TokenLogin2Green)
		w.WriteString("")
	})

	code, r := tc.nextFrame(t)
	assert.Equal(t, protocol.ClientGoGetLost, code)
	reason, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, protocol.DisconnectTokenType, reason)
	assert.False(t, tc.isAuthorized())
	assert.True(t, tc.isClosed())
}

func TestSetFieldSendableOverride(t *testing.T) {
	a, _ := newTestAgent(t)
	tc := newTestClient(t, a)
	tc.login(t, "flippy")

	tc.mu.Lock()
	tc.avatarId = 100000001
	tc.mu.Unlock()

	w := protocol.NewWriter(16)
	w.WriteUint32(200)
	w.WriteUint16(7)
	w.WriteUint16(9)
	a.HandleMessage([]uint64{protocol.PuppetChannel(100000001)}, 0,
		protocol.ClientSetFieldSendable, w.Bytes())

	tc.mu.RLock()
	defer tc.mu.RUnlock()
	set := tc.clsendOverrides[200]
	require.NotNil(t, set)
	assert.Contains(t, set, uint16(7))
	assert.Contains(t, set, uint16(9))
}
