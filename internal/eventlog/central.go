package eventlog

import (
	"fmt"
	"log/slog"

	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

// CentralLogger relays in-game log reports to the event log. Clients
// address field updates at the well-known CentralLogger object; this
// handler watches that channel on the bus and writes each report as a
// pipe-delimited line.
type CentralLogger struct {
	server  *Server
	fieldId uint16
	log     *slog.Logger
}

func NewCentralLogger(schema *dc.Schema, server *Server, log *slog.Logger) (*CentralLogger, error) {
	class := schema.ClassByName("CentralLogger")
	if class == nil {
		return nil, fmt.Errorf("schema has no CentralLogger class")
	}
	field := class.FieldByName("sendMessage")
	if field == nil {
		return nil, fmt.Errorf("CentralLogger has no sendMessage field")
	}
	return &CentralLogger{
		server:  server,
		fieldId: field.Number,
		log:     log.With("component", "centrallogger"),
	}, nil
}

// HandleMessage picks field updates addressed to the CentralLogger
// object off the bus.
func (c *CentralLogger) HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte) {
	if code != protocol.StateServerObjectUpdateField {
		return
	}
	addressed := false
	for _, ch := range channels {
		if ch == uint64(protocol.CentralLoggerDoId) {
			addressed = true
			break
		}
	}
	if !addressed {
		return
	}

	r := protocol.NewReader(payload)
	doId, err := r.ReadUint32()
	if err != nil || doId != protocol.CentralLoggerDoId {
		return
	}
	fieldId, err := r.ReadUint16()
	if err != nil || fieldId != c.fieldId {
		return
	}

	category, err := r.ReadString()
	if err != nil {
		c.log.Warn("malformed log report", "error", err)
		return
	}
	event, err := r.ReadString()
	if err != nil {
		c.log.Warn("malformed log report", "error", err)
		return
	}
	targetDISLId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed log report", "error", err)
		return
	}
	targetAvId, err := r.ReadUint32()
	if err != nil {
		c.log.Warn("malformed log report", "error", err)
		return
	}

	c.server.WriteLine(fmt.Sprintf("%d|%s|%s|%d|%d\n", sender, category, event, targetDISLId, targetAvId))
}
