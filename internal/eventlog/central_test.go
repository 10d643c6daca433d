package eventlog

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

func newCentralLogger(t *testing.T) (*CentralLogger, string) {
	t.Helper()
	s, dir := newTestServer(t)
	schema := dc.GameSchema()
	cl, err := NewCentralLogger(schema, s, slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)})))
	require.NoError(t, err)
	return cl, dir
}

func logReport(t *testing.T, doId uint32, fieldId uint16) []byte {
	t.Helper()
	w := protocol.NewWriter(64)
	w.WriteUint32(doId)
	w.WriteUint16(fieldId)
	w.WriteString("chat")
	w.WriteString("said hello")
	w.WriteUint32(700)
	w.WriteUint32(100000001)
	return w.Bytes()
}

func TestCentralLoggerWritesReport(t *testing.T) {
	cl, dir := newCentralLogger(t)

	cl.HandleMessage([]uint64{uint64(protocol.CentralLoggerDoId)}, 100000002,
		protocol.StateServerObjectUpdateField, logReport(t, protocol.CentralLoggerDoId, cl.fieldId))

	assert.Equal(t, "100000002|chat|said hello|700|100000001\n", readLog(t, dir))
}

func TestCentralLoggerIgnoresOtherChannels(t *testing.T) {
	cl, dir := newCentralLogger(t)

	cl.HandleMessage([]uint64{100000005}, 100000002,
		protocol.StateServerObjectUpdateField, logReport(t, 100000005, cl.fieldId))
	cl.HandleMessage([]uint64{uint64(protocol.CentralLoggerDoId)}, 100000002,
		protocol.StateServerObjectSetZone, logReport(t, protocol.CentralLoggerDoId, cl.fieldId))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCentralLoggerIgnoresOtherFields(t *testing.T) {
	cl, dir := newCentralLogger(t)

	cl.HandleMessage([]uint64{uint64(protocol.CentralLoggerDoId)}, 100000002,
		protocol.StateServerObjectUpdateField, logReport(t, protocol.CentralLoggerDoId, cl.fieldId+1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCentralLoggerRequiresSchemaClass(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := NewCentralLogger(&dc.Schema{}, s, slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)})))
	assert.Error(t, err)
}
