package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader provides methods for reading datagram data.
// Uses Little-Endian byte order for all multi-byte values.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new datagram reader.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadUint8: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadInt8 reads a signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.ReadUint8()
	return int8(b), err
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ReadUint16: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return val, nil
}

// ReadInt16 reads an int16 (2 bytes, LE).
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadInt32 reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a uint64 (8 bytes, LE).
func (r *Reader) ReadUint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadUint64: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return val, nil
}

// ReadInt64 reads an int64 (8 bytes, LE).
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat64 reads a float64 (8 bytes, LE, IEEE 754).
func (r *Reader) ReadFloat64() (float64, error) {
	bits, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// ReadString reads a uint16 length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	return string(b), nil
}

// ReadBlob reads a uint16 length-prefixed byte blob.
// The returned slice is a copy and safe to retain.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("ReadBlob: %w", err)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("ReadBlob: %w", err)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadBytes reads n bytes without copying; the result aliases the
// internal buffer, so the caller must not modify it.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ReadBytes: negative count %d", n)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadBytes: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadRemaining consumes and returns all unread bytes (zero-copy).
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}
