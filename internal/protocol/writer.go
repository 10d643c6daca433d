package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// Writer provides methods for writing datagram data.
// Uses Little-Endian byte order for all multi-byte values.
type Writer struct {
	buf *bytes.Buffer
}

// writerPool reduces allocations by reusing Writers.
var writerPool = sync.Pool{
	New: func() any {
		return &Writer{
			buf: bytes.NewBuffer(make([]byte, 0, 512)),
		}
	},
}

// GetWriter returns a Writer from the pool (already Reset).
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns a Writer to the pool for reuse.
// Do not use the Writer after calling Put.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a new datagram writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		buf: bytes.NewBuffer(make([]byte, 0, capacity)),
	}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(b uint8) {
	w.buf.WriteByte(b)
}

// WriteInt8 writes a signed byte.
func (w *Writer) WriteInt8(v int8) {
	w.buf.WriteByte(byte(v))
}

// WriteUint16 writes a uint16 (2 bytes, LE).
func (w *Writer) WriteUint16(val uint16) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
}

// WriteInt16 writes an int16 (2 bytes, LE).
func (w *Writer) WriteInt16(val int16) {
	w.WriteUint16(uint16(val))
}

// WriteUint32 writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint32(val uint32) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
	w.buf.WriteByte(byte(val >> 16))
	w.buf.WriteByte(byte(val >> 24))
}

// WriteInt32 writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt32(val int32) {
	w.WriteUint32(uint32(val))
}

// WriteUint64 writes a uint64 (8 bytes, LE).
func (w *Writer) WriteUint64(val uint64) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
	w.buf.WriteByte(byte(val >> 16))
	w.buf.WriteByte(byte(val >> 24))
	w.buf.WriteByte(byte(val >> 32))
	w.buf.WriteByte(byte(val >> 40))
	w.buf.WriteByte(byte(val >> 48))
	w.buf.WriteByte(byte(val >> 56))
}

// WriteInt64 writes an int64 (8 bytes, LE).
func (w *Writer) WriteInt64(val int64) {
	w.WriteUint64(uint64(val))
}

// WriteFloat64 writes a float64 (8 bytes, LE, IEEE 754).
func (w *Writer) WriteFloat64(val float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(val))
	w.buf.Write(tmp[:])
}

// WriteString writes a uint16 length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteUint16(uint16(len(s)))
	w.buf.WriteString(s)
}

// WriteBlob writes a uint16 length-prefixed byte blob.
func (w *Writer) WriteBlob(data []byte) {
	w.WriteUint16(uint16(len(data)))
	w.buf.Write(data)
}

// WriteBytes writes raw bytes with no prefix.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// Bytes returns the accumulated datagram data.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the current length of the datagram.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}
