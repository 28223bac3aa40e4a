// Package cursor implements bounds-checked primitive reads over an immutable WebAssembly binary.
//
// Every read either succeeds and advances the offset, or fails and leaves the offset untouched. Failure is reported
// as a boolean so that callers can describe the failure with their own context.
package cursor

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/tetratelabs/wasmplan/internal/leb128"
)

// Cursor reads from Source starting at Offset.
type Cursor struct {
	source []byte
	offset int
}

// New returns a Cursor positioned at the start of source. The source is never modified.
func New(source []byte) *Cursor {
	return &Cursor{source: source}
}

// NewAt returns a Cursor over source positioned at offset, used when decoding a range of a larger buffer while
// reporting offsets relative to that buffer.
func NewAt(source []byte, offset int) *Cursor {
	return &Cursor{source: source, offset: offset}
}

// Offset is the index of the next byte to read.
func (c *Cursor) Offset() int {
	return c.offset
}

// Len is the length of the underlying buffer.
func (c *Cursor) Len() int {
	return len(c.source)
}

// Remaining is the count of bytes not yet read.
func (c *Cursor) Remaining() int {
	return len(c.source) - c.offset
}

// AtEnd returns true when every byte has been consumed.
func (c *Cursor) AtEnd() bool {
	return c.offset >= len(c.source)
}

// Skip advances the offset by n bytes.
func (c *Cursor) Skip(n uint32) bool {
	if uint64(n) > uint64(c.Remaining()) {
		return false
	}
	c.offset += int(n)
	return true
}

// ConsumeByte reads a single byte.
func (c *Cursor) ConsumeByte() (byte, bool) {
	if c.offset >= len(c.source) {
		return 0, false
	}
	b := c.source[c.offset]
	c.offset++
	return b, true
}

// ConsumeBytes returns the next n bytes without copying them.
func (c *Cursor) ConsumeBytes(n uint32) ([]byte, bool) {
	if uint64(n) > uint64(c.Remaining()) {
		return nil, false
	}
	ret := c.source[c.offset : c.offset+int(n) : c.offset+int(n)]
	c.offset += int(n)
	return ret, true
}

// ConsumeCharacter reads one byte and requires it to equal ch.
func (c *Cursor) ConsumeCharacter(ch byte) bool {
	if c.offset >= len(c.source) || c.source[c.offset] != ch {
		return false
	}
	c.offset++
	return true
}

// ConsumeString requires the next bytes to equal literal.
func (c *Cursor) ConsumeString(literal string) bool {
	if len(literal) > c.Remaining() {
		return false
	}
	if string(c.source[c.offset:c.offset+len(literal)]) != literal {
		return false
	}
	c.offset += len(literal)
	return true
}

// ConsumeUTF8String copies exactly n bytes into a string, failing if they are not valid UTF-8.
func (c *Cursor) ConsumeUTF8String(n uint32) (string, bool) {
	if uint64(n) > uint64(c.Remaining()) {
		return "", false
	}
	b := c.source[c.offset : c.offset+int(n)]
	if !utf8.Valid(b) {
		return "", false
	}
	c.offset += int(n)
	return string(b), true
}

// ParseUInt32 reads a fixed-width little-endian uint32.
func (c *Cursor) ParseUInt32() (uint32, bool) {
	if c.Remaining() < 4 {
		return 0, false
	}
	ret := binary.LittleEndian.Uint32(c.source[c.offset:])
	c.offset += 4
	return ret, true
}

// ParseUInt64 reads a fixed-width little-endian uint64, used for f64.const immediates.
func (c *Cursor) ParseUInt64() (uint64, bool) {
	if c.Remaining() < 8 {
		return 0, false
	}
	ret := binary.LittleEndian.Uint64(c.source[c.offset:])
	c.offset += 8
	return ret, true
}

// ParseVarUInt32 reads an unsigned LEB128 value of at most 32 bits.
func (c *Cursor) ParseVarUInt32() (uint32, bool) {
	ret, n, err := leb128.LoadUint32(c.source[c.offset:])
	if err != nil {
		return 0, false
	}
	c.offset += int(n)
	return ret, true
}

// ParseVarInt32 reads a signed LEB128 value of at most 32 bits.
func (c *Cursor) ParseVarInt32() (int32, bool) {
	ret, n, err := leb128.LoadInt32(c.source[c.offset:])
	if err != nil {
		return 0, false
	}
	c.offset += int(n)
	return ret, true
}

// ParseVarInt64 reads a signed LEB128 value of at most 64 bits.
func (c *Cursor) ParseVarInt64() (int64, bool) {
	ret, n, err := leb128.LoadInt64(c.source[c.offset:])
	if err != nil {
		return 0, false
	}
	c.offset += int(n)
	return ret, true
}

// ParseVarUInt7 reads an unsigned LEB128 value that must fit in 7 bits.
func (c *Cursor) ParseVarUInt7() (uint8, bool) {
	return c.parseSmallUnsigned(0x7f)
}

// ParseVarUInt1 reads an unsigned LEB128 value that must be 0 or 1.
func (c *Cursor) ParseVarUInt1() (uint8, bool) {
	return c.parseSmallUnsigned(0x1)
}

func (c *Cursor) parseSmallUnsigned(max uint32) (uint8, bool) {
	start := c.offset
	v, ok := c.ParseVarUInt32()
	if !ok || v > max {
		c.offset = start
		return 0, false
	}
	return uint8(v), true
}

// ParseInt7 reads a signed LEB128 value that must fit in 7 bits, such as the type constructor of a function type.
func (c *Cursor) ParseInt7() (int8, bool) {
	start := c.offset
	v, ok := c.ParseVarInt32()
	if !ok || v < -64 || v > 63 {
		c.offset = start
		return 0, false
	}
	return int8(v), true
}
