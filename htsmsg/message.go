package htsmsg

// Field type bytes on the wire.
const (
	typeMap  byte = 1
	typeS64  byte = 2
	typeStr  byte = 3
	typeBin  byte = 4
	typeList byte = 5
)

// Message is a decoded htsmsg field map. Values are one of int64,
// string, []byte, Message or []interface{}.
type Message map[string]interface{}

// Has returns true if the field is present, whatever its type.
func (m Message) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// S64 returns the named field as a signed 64bit integer.
func (m Message) S64(name string) (int64, bool) {
	v, ok := m[name].(int64)
	return v, ok
}

// U32 returns the named field as an unsigned 32bit integer. Negative
// and out of range values report absent.
func (m Message) U32(name string) (uint32, bool) {
	v, ok := m[name].(int64)
	if !ok || v < 0 || v > 0xffffffff {
		return 0, false
	}

	return uint32(v), true
}

// Str returns the named field as a string.
func (m Message) Str(name string) (string, bool) {
	v, ok := m[name].(string)
	return v, ok
}

// Bin returns the named field as a binary blob.
func (m Message) Bin(name string) ([]byte, bool) {
	v, ok := m[name].([]byte)
	return v, ok
}

// Msg returns the named field as a nested message.
func (m Message) Msg(name string) (Message, bool) {
	v, ok := m[name].(Message)
	return v, ok
}

// List returns the named field as an ordered list.
func (m Message) List(name string) ([]interface{}, bool) {
	v, ok := m[name].([]interface{})
	return v, ok
}
