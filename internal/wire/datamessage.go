package wire

import (
	"fmt"

	"github.com/lockstep/lockstep/internal/syncbuf"
)

// Well-known syncable domains. The domain tag doubles as the syncable
// identifier in the registry; the space is open for application-defined tags.
const (
	DomainCamera uint32 = iota
	DomainTime
	DomainScript
)

// DataMessage is the payload of a Data or IndependentData frame. Timestamp is
// monotonic simulation time and is the ordering key for latest-write-wins
// application at receivers.
type DataMessage struct {
	Domain    uint32
	Timestamp float64
	Content   []byte
}

// Encode serializes the data message payload:
// domain (4 bytes) | timestamp (8-byte float) | content (to end of payload).
func (d DataMessage) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteUint32(d.Domain)
	buf.WriteFloat64(d.Timestamp)
	buf.WriteRaw(d.Content)
	return buf.Bytes()
}

// DecodeDataMessage parses a Data or IndependentData payload.
func DecodeDataMessage(payload []byte) (DataMessage, error) {
	buf := syncbuf.FromBytes(payload)

	domain, err := buf.ReadUint32()
	if err != nil {
		return DataMessage{}, fmt.Errorf("failed to read data domain: %w", err)
	}
	timestamp, err := buf.ReadFloat64()
	if err != nil {
		return DataMessage{}, fmt.Errorf("failed to read data timestamp: %w", err)
	}
	content, err := buf.ReadRaw(buf.Remaining())
	if err != nil {
		return DataMessage{}, fmt.Errorf("failed to read data content: %w", err)
	}

	return DataMessage{Domain: domain, Timestamp: timestamp, Content: content}, nil
}
