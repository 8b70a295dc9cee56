package htsmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength bounds how large a single frame may claim to be, so a
// corrupt or hostile peer cannot make us allocate without limit.
const MaxFrameLength = 64 << 20

var (
	ErrFrameTooLarge    = errors.New("Frame is malformed, its declared length exceeds the frame limit")
	ErrTruncatedField   = errors.New("Frame is malformed, a field extends past the end of its body")
	ErrUnknownFieldType = errors.New("Frame is malformed, it contains an unknown field type")
	ErrIntTooLong       = errors.New("Frame is malformed, an integer field is longer than 8 bytes")
)

// ReadMessage reads exactly one frame from the provided Reader and
// decodes it into a Message.
func ReadMessage(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLength {
		return nil, fmt.Errorf("Failed to read frame of %d bytes: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			// A partial body is a truncation, not a clean end of stream
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Decode(body)
}

// Decode parses a frame body (without the length prefix) into a Message.
func Decode(body []byte) (Message, error) {
	msg := make(Message)

	for len(body) > 0 {
		name, value, rest, err := parseField(body)
		if err != nil {
			return nil, err
		}

		msg[name] = value
		body = rest
	}

	return msg, nil
}

func parseField(b []byte) (name string, value interface{}, rest []byte, err error) {
	if len(b) < 6 {
		return "", nil, nil, ErrTruncatedField
	}

	ftype := b[0]
	nameLen := int(b[1])
	dataLen := int(binary.BigEndian.Uint32(b[2:6]))

	if len(b) < 6+nameLen+dataLen {
		return "", nil, nil, ErrTruncatedField
	}

	name = string(b[6 : 6+nameLen])
	data := b[6+nameLen : 6+nameLen+dataLen]
	rest = b[6+nameLen+dataLen:]

	switch ftype {
	case typeS64:
		value, err = parseS64(data)
	case typeStr:
		value = string(data)
	case typeBin:
		// Copy so the value does not alias the read buffer
		value = append([]byte(nil), data...)
	case typeMap:
		value, err = Decode(data)
	case typeList:
		value, err = parseList(data)
	default:
		err = fmt.Errorf("Failed to parse field '%s' of type %d: %w", name, ftype, ErrUnknownFieldType)
	}

	if err != nil {
		return "", nil, nil, err
	}

	return name, value, rest, nil
}

func parseList(data []byte) ([]interface{}, error) {
	list := make([]interface{}, 0)

	for len(data) > 0 {
		_, value, rest, err := parseField(data)
		if err != nil {
			return nil, err
		}

		list = append(list, value)
		data = rest
	}

	return list, nil
}

// parseS64 decodes a big-endian integer of 0 to 8 bytes. Eight bytes
// carry the full two's complement value, fewer are zero extended.
func parseS64(data []byte) (int64, error) {
	if len(data) > 8 {
		return 0, ErrIntTooLong
	}

	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}

	return int64(v), nil
}
