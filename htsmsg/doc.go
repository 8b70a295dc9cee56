package htsmsg

// This package implements the parsing and serialising of the binary
// field-map format ("htsmsg") that Antenna uses to talk to an HTSP
// media server.
//
// A message is a flat map of named fields. Fields can nest, so a
// message is really a tree.
//
// === Framing
//
// Every message on the wire is a single frame
//
//   ```
//   <u32 big-endian body length><body>
//   ```
//
// The body is a sequence of fields. There is no field count; the body
// is parsed until it is exhausted.
//
// === Fields
//
//   ```
//   <type u8><nameLen u8><dataLen u32 big-endian><name><data>
//   ```
//
// Field types
//
// - `1` map  - data is a nested field sequence
// - `2` s64  - data is a big-endian integer, leading zero bytes trimmed
//              (zero encodes as zero data bytes, eight bytes carry the
//              full two's complement value)
// - `3` str  - data is UTF-8 text
// - `4` bin  - data is an opaque blob
// - `5` list - data is a nested field sequence where every field has an
//              empty name; order is significant
//
// === Go mapping
//
// Decoded values are one of `int64`, `string`, `[]byte`, `Message` or
// `[]interface{}`. Use the typed accessors on `Message` rather than
// asserting on the map values directly; they widen integer types and
// report presence.
//
// Encoding is deterministic: map fields are written in lexicographic
// name order. The protocol does not care, but it makes frames
// byte-comparable in tests.
