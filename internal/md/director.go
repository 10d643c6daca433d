package md

import (
	"log/slog"
	"sync"
)

// Handler observes every message dispatched through the director. The
// in-process components (state server, client agent, database server)
// register one each and filter by channel themselves.
type Handler interface {
	HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(channels []uint64, sender uint64, code uint16, payload []byte)

func (f HandlerFunc) HandleMessage(channels []uint64, sender uint64, code uint16, payload []byte) {
	f(channels, sender, code, payload)
}

type message struct {
	origin   *Peer
	channels []uint64
	sender   uint64
	code     uint16
	payload  []byte
}

// Director is the star-topology message bus. Dispatch is serialised: the
// local handlers and peer forwards for one message complete before the
// next queued message is delivered, so handler re-entry (a handler
// sending its response) cannot deadlock or reorder.
type Director struct {
	log *slog.Logger

	subMu sync.RWMutex
	subs  map[uint64]map[*Peer]struct{}

	localMu sync.RWMutex
	locals  []Handler

	dispatchMu  sync.Mutex
	dispatching bool
	queue       []message
}

// NewDirector creates an empty bus.
func NewDirector(log *slog.Logger) *Director {
	return &Director{
		log:  log.With("component", "md"),
		subs: make(map[uint64]map[*Peer]struct{}),
	}
}

// RegisterLocal adds an in-process handler. Handlers observe every
// dispatched message in registration order.
func (d *Director) RegisterLocal(h Handler) {
	d.localMu.Lock()
	d.locals = append(d.locals, h)
	d.localMu.Unlock()
}

// Send dispatches a message originating from an in-process component.
func (d *Director) Send(channels []uint64, sender uint64, code uint16, payload []byte) {
	d.enqueue(message{channels: channels, sender: sender, code: code, payload: payload})
}

// sendFrom dispatches a message received from a peer connection. The
// originating peer never receives its own message back.
func (d *Director) sendFrom(origin *Peer, channels []uint64, sender uint64, code uint16, payload []byte) {
	d.enqueue(message{origin: origin, channels: channels, sender: sender, code: code, payload: payload})
}

func (d *Director) enqueue(m message) {
	d.dispatchMu.Lock()
	d.queue = append(d.queue, m)
	if d.dispatching {
		d.dispatchMu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.dispatchMu.Unlock()
		d.deliver(next)
		d.dispatchMu.Lock()
	}
	d.dispatching = false
	d.dispatchMu.Unlock()
}

func (d *Director) deliver(m message) {
	// Forward one copy per subscribed peer, never back to the origin.
	seen := make(map[*Peer]struct{})
	d.subMu.RLock()
	for _, ch := range m.channels {
		for p := range d.subs[ch] {
			if p == m.origin {
				continue
			}
			seen[p] = struct{}{}
		}
	}
	d.subMu.RUnlock()
	for p := range seen {
		if err := p.writeData(m.channels, m.sender, m.code, m.payload); err != nil {
			d.log.Warn("peer write failed", "peer", p.RemoteAddr(), "error", err)
		}
	}

	d.localMu.RLock()
	locals := d.locals
	d.localMu.RUnlock()
	for _, h := range locals {
		h.HandleMessage(m.channels, m.sender, m.code, m.payload)
	}
}

func (d *Director) subscribe(p *Peer, ch uint64) {
	d.subMu.Lock()
	set := d.subs[ch]
	if set == nil {
		set = make(map[*Peer]struct{})
		d.subs[ch] = set
	}
	set[p] = struct{}{}
	d.subMu.Unlock()
}

func (d *Director) unsubscribe(p *Peer, ch uint64) {
	d.subMu.Lock()
	if set := d.subs[ch]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(d.subs, ch)
		}
	}
	d.subMu.Unlock()
}

// dropPeer releases every subscription of p and flushes its post-remove
// queue, dispatching each stored message as if p had sent it.
func (d *Director) dropPeer(p *Peer) {
	d.subMu.Lock()
	for ch, set := range d.subs {
		delete(set, p)
		if len(set) == 0 {
			delete(d.subs, ch)
		}
	}
	d.subMu.Unlock()

	for _, raw := range p.takePostRemoves() {
		if err := d.dispatchRaw(p, raw); err != nil {
			d.log.Warn("post-remove dispatch failed", "peer", p.RemoteAddr(), "error", err)
		}
	}
}
