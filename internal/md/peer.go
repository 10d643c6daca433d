package md

import (
	"fmt"
	"net"
	"sync"

	"github.com/udisondev/otpgo/internal/protocol"
)

// Peer is one framed TCP connection to the message director. A peer
// subscribes to channels with control messages and exchanges data
// messages on its subscriptions.
type Peer struct {
	conn net.Conn

	writeMu sync.Mutex

	postMu      sync.Mutex
	postRemoves [][]byte
}

func newPeer(conn net.Conn) *Peer {
	return &Peer{conn: conn}
}

// RemoteAddr returns the peer's remote address for logging.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// writeData frames and sends one data message to the peer.
func (p *Peer) writeData(channels []uint64, sender uint64, code uint16, payload []byte) error {
	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint8(uint8(len(channels)))
	for _, ch := range channels {
		w.WriteUint64(ch)
	}
	w.WriteUint64(sender)
	w.WriteUint16(code)
	w.WriteBytes(payload)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.WriteFrame(p.conn, w.Bytes())
}

func (p *Peer) addPostRemove(raw []byte) {
	p.postMu.Lock()
	p.postRemoves = append(p.postRemoves, raw)
	p.postMu.Unlock()
}

func (p *Peer) clearPostRemoves() {
	p.postMu.Lock()
	p.postRemoves = nil
	p.postMu.Unlock()
}

func (p *Peer) takePostRemoves() [][]byte {
	p.postMu.Lock()
	out := p.postRemoves
	p.postRemoves = nil
	p.postMu.Unlock()
	return out
}

// dispatchRaw parses one framed message from p and routes it. Control
// messages carry the control channel alone and no sender; everything
// else is a data message forwarded to its channel list.
func (d *Director) dispatchRaw(p *Peer, raw []byte) error {
	r := protocol.NewReader(raw)
	numChannels, err := r.ReadUint8()
	if err != nil {
		return fmt.Errorf("channel count: %w", err)
	}
	channels := make([]uint64, numChannels)
	for i := range channels {
		if channels[i], err = r.ReadUint64(); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
	}

	if numChannels == 1 && channels[0] == protocol.ChannelControl {
		return d.handleControl(p, r)
	}

	sender, err := r.ReadUint64()
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	code, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("code: %w", err)
	}
	d.sendFrom(p, channels, sender, code, r.ReadRemaining())
	return nil
}

func (d *Director) handleControl(p *Peer, r *protocol.Reader) error {
	code, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("control code: %w", err)
	}
	switch code {
	case protocol.ControlSetChannel:
		ch, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("set channel: %w", err)
		}
		d.subscribe(p, ch)
	case protocol.ControlRemoveChannel:
		ch, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("remove channel: %w", err)
		}
		d.unsubscribe(p, ch)
	case protocol.ControlAddPostRemove:
		// Keep a copy: the remainder aliases the read buffer.
		rest := r.ReadRemaining()
		stored := make([]byte, len(rest))
		copy(stored, rest)
		p.addPostRemove(stored)
	case protocol.ControlClearPostRemove:
		p.clearPostRemoves()
	default:
		return fmt.Errorf("unknown control code %d", code)
	}
	return nil
}
