// Package syncbuf provides a cursor-based byte buffer for serializing
// simulation state. Values are read back in exactly the order and width they
// were written; the encoding is not self-describing, so producer and consumer
// must agree on the schema.
package syncbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Common errors returned by the syncbuf package.
var (
	// ErrBufferExhausted is returned when a read advances past the end of
	// the buffer.
	ErrBufferExhausted = errors.New("sync buffer exhausted")
)

// Buffer is an ordered byte container with independent read and write cursors.
// The zero value is an empty buffer ready for writing.
type Buffer struct {
	data []byte
	pos  int
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// FromBytes creates a Buffer whose read cursor starts at the beginning of data.
// The buffer takes ownership of the slice.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the full written contents of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the total number of bytes written to the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.pos
}

// Reset clears the buffer and rewinds the read cursor.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// take advances the read cursor by n bytes and returns the consumed slice.
func (b *Buffer) take(n int) ([]byte, error) {
	if b.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferExhausted, n, b.Remaining())
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.data = append(b.data, v)
}

// ReadUint8 reads a single byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	raw, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// WriteBool appends a bool as one byte (0 or 1).
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

// ReadBool reads a bool written by WriteBool.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	raw, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

// WriteUint64 appends a big-endian uint64.
func (b *Buffer) WriteUint64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	raw, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// WriteInt64 appends a big-endian int64.
func (b *Buffer) WriteInt64(v int64) {
	b.WriteUint64(uint64(v))
}

// ReadInt64 reads a big-endian int64.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// WriteFloat64 appends an IEEE 754 double in big-endian byte order.
func (b *Buffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

// ReadFloat64 reads a float64 written by WriteFloat64.
func (b *Buffer) ReadFloat64() (float64, error) {
	bits, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// WriteString appends a uint32 length prefix followed by the UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	b.data = append(b.data, s...)
}

// ReadString reads a string written by WriteString.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	raw, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// WriteBytes appends a uint32 length prefix followed by the raw bytes.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteUint32(uint32(len(p)))
	b.data = append(b.data, p...)
}

// ReadBytes reads a byte slice written by WriteBytes. The returned slice is a
// copy and remains valid after the buffer is reset.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	raw, err := b.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// WriteRaw appends bytes with no length prefix.
func (b *Buffer) WriteRaw(p []byte) {
	b.data = append(b.data, p...)
}

// ReadRaw reads exactly n unprefixed bytes.
func (b *Buffer) ReadRaw(n int) ([]byte, error) {
	raw, err := b.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}
