package testutil

import "sync"

// BusMessage is one message captured by RecordingBus.
type BusMessage struct {
	Channels []uint64
	Sender   uint64
	Code     uint16
	Payload  []byte
}

// RecordingBus captures messages instead of routing them, for tests
// that drive a component without a message director.
type RecordingBus struct {
	mu       sync.Mutex
	messages []BusMessage
}

func NewRecordingBus() *RecordingBus {
	return &RecordingBus{}
}

func (b *RecordingBus) Send(channels []uint64, sender uint64, code uint16, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, BusMessage{
		Channels: append([]uint64(nil), channels...),
		Sender:   sender,
		Code:     code,
		Payload:  append([]byte(nil), payload...),
	})
}

// Messages returns a copy of everything sent so far.
func (b *RecordingBus) Messages() []BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BusMessage(nil), b.messages...)
}

// Reset drops the captured messages.
func (b *RecordingBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}
