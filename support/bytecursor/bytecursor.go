// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bytecursor offers a bounds-checked read cursor over a byte slice.
//
// It replaces raw index arithmetic in frame and record parsing. Every
// accessor reports whether enough bytes remained; a failed accessor leaves
// the cursor position unchanged, so callers can rewind to a mark and retry
// once more data has arrived.
package bytecursor

import (
	"encoding/binary"
)

// C is a cursor over a byte slice. The zero value reads from an empty slice.
//
// Multi-byte integers are read little-endian, matching the wire layouts in
// this project.
type C struct {
	buf []byte
	off int
}

// New returns a cursor positioned at the start of b.
//
// The cursor retains b; byte accessors return views into it, not copies.
func New(b []byte) *C {
	return &C{buf: b}
}

// Remaining returns the number of unconsumed bytes.
func (c *C) Remaining() int { return len(c.buf) - c.off }

// Offset returns the number of consumed bytes. It can be handed back to
// Rewind to restore an earlier position.
func (c *C) Offset() int { return c.off }

// Rewind restores the cursor to a position previously obtained from Offset.
func (c *C) Rewind(off int) {
	if off < 0 || off > len(c.buf) {
		panic("bytecursor: rewind out of range")
	}
	c.off = off
}

// Skip advances the cursor n bytes. It reports false, without advancing, if
// fewer than n bytes remain.
func (c *C) Skip(n int) bool {
	if n < 0 || c.Remaining() < n {
		return false
	}
	c.off += n
	return true
}

// Peek returns up to n unconsumed bytes without advancing. The returned
// slice may be shorter than n.
func (c *C) Peek(n int) []byte {
	if r := c.Remaining(); n > r {
		n = r
	}
	return c.buf[c.off : c.off+n]
}

// Bytes consumes and returns exactly n bytes, or reports false without
// advancing.
func (c *C) Bytes(n int) ([]byte, bool) {
	if n < 0 || c.Remaining() < n {
		return nil, false
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, true
}

// U8 consumes one byte.
func (c *C) U8() (byte, bool) {
	if c.Remaining() < 1 {
		return 0, false
	}
	v := c.buf[c.off]
	c.off++
	return v, true
}

// U16 consumes a little-endian uint16.
func (c *C) U16() (uint16, bool) {
	if c.Remaining() < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, true
}

// U32 consumes a little-endian uint32.
func (c *C) U32() (uint32, bool) {
	if c.Remaining() < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, true
}

// U64 consumes a little-endian uint64.
func (c *C) U64() (uint64, bool) {
	if c.Remaining() < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, true
}
