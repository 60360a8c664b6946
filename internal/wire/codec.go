package wire

import (
	"encoding/binary"
	"fmt"
)

// Header is the decoded fixed-size frame header.
type Header struct {
	Type          MessageType
	PayloadLength uint32
}

// EncodeMessage frames a message as header plus payload. It fails only when
// the payload exceeds MaxPayloadSize.
func EncodeMessage(msg Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(msg.Payload))
	}

	frame := make([]byte, 0, HeaderSize+len(msg.Payload))
	frame = binary.BigEndian.AppendUint32(frame, Magic)
	frame = binary.BigEndian.AppendUint32(frame, uint32(msg.Type))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(msg.Payload)))
	frame = append(frame, msg.Payload...)
	return frame, nil
}

// DecodeHeader parses the first HeaderSize bytes of a frame. It validates the
// magic, the type tag, and the declared payload length.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrFrameTooShort, HeaderSize, len(raw))
	}

	magic := binary.BigEndian.Uint32(raw[0:4])
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: %#08x", ErrBadMagic, magic)
	}

	typ := MessageType(binary.BigEndian.Uint32(raw[4:8]))
	if !typ.Valid() {
		return Header{}, fmt.Errorf("%w: tag %d", ErrUnknownType, uint32(typ))
	}

	length := binary.BigEndian.Uint32(raw[8:12])
	if length > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, length)
	}

	return Header{Type: typ, PayloadLength: length}, nil
}

// DecodeMessage parses a complete frame. It fails with a framing error when
// the declared length exceeds the received buffer.
func DecodeMessage(raw []byte) (Message, error) {
	header, err := DecodeHeader(raw)
	if err != nil {
		return Message{}, err
	}

	body := raw[HeaderSize:]
	if uint32(len(body)) < header.PayloadLength {
		return Message{}, fmt.Errorf("%w: declared %d bytes, have %d", ErrFrameTooShort, header.PayloadLength, len(body))
	}

	payload := make([]byte, header.PayloadLength)
	copy(payload, body[:header.PayloadLength])
	return Message{Type: header.Type, Payload: payload}, nil
}
