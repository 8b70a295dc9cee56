package htsmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	ErrNameTooLong      = errors.New("Field name is longer than 255 bytes")
	ErrUnsupportedValue = errors.New("Field value has a type that cannot be serialised")
)

// Encode serialises the message into a single frame, including the
// 4-byte length prefix.
func Encode(m Message) ([]byte, error) {
	body, err := appendFields(nil, m)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))

	return append(frame, body...), nil
}

// Write encodes the message and writes the frame to w.
func Write(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}

func appendFields(b []byte, m Message) ([]byte, error) {
	// Deterministic field order, see doc.go
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var err error
	for _, name := range names {
		if b, err = appendField(b, name, m[name]); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func appendField(b []byte, name string, value interface{}) ([]byte, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("Failed to serialise '%s': %w", name, ErrNameTooLong)
	}

	var (
		ftype byte
		data  []byte
		err   error
	)

	switch v := value.(type) {
	case int64:
		ftype, data = typeS64, trimS64(v)
	case int:
		ftype, data = typeS64, trimS64(int64(v))
	case uint32:
		ftype, data = typeS64, trimS64(int64(v))
	case string:
		ftype, data = typeStr, []byte(v)
	case []byte:
		ftype, data = typeBin, v
	case Message:
		ftype = typeMap
		if data, err = appendFields(nil, v); err != nil {
			return nil, err
		}
	case []interface{}:
		ftype = typeList
		for _, item := range v {
			// List elements are fields with empty names
			if data, err = appendField(data, "", item); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("Failed to serialise '%s' (%T): %w", name, value, ErrUnsupportedValue)
	}

	b = append(b, ftype, byte(len(name)))

	var dataLen [4]byte
	binary.BigEndian.PutUint32(dataLen[:], uint32(len(data)))
	b = append(b, dataLen[:]...)

	b = append(b, name...)
	return append(b, data...), nil
}

// trimS64 encodes v big-endian with leading zero bytes removed. Zero
// encodes as no bytes at all.
func trimS64(v int64) []byte {
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], uint64(v))

	i := 0
	for i < 8 && full[i] == 0 {
		i++
	}

	return full[i:]
}
