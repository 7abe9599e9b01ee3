// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package framing reads and writes length-prefixed JSON frames on a byte
// stream.
//
// A frame is a uvarint byte length followed by that many bytes of JSON. The
// control-plane protocol exchanges one request or response per frame; bulk
// trace data is deliberately not framed and follows a frame verbatim.
package framing

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/danjacques/gotracestore/support/dataio"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize bounds decoded frames when a Decoder does not configure
// its own limit. Control frames are tiny; anything near this limit is a
// corrupt or hostile stream.
const DefaultMaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned by Decoder.ReadJSON when a frame's declared
// length exceeds the configured limit. The stream is unusable afterwards,
// since the oversized body has not been consumed.
var ErrFrameTooLarge = errors.New("framing: frame exceeds size limit")

// Encoder encodes JSON frames to an io.Writer.
//
// An Encoder retains its scratch buffer between calls. It is not safe for
// concurrent use.
type Encoder struct {
	buf  bytes.Buffer
	size [binary.MaxVarintLen64]byte
}

// WriteJSON marshals v and writes it to w as a single frame, returning the
// total number of bytes written.
func (e *Encoder) WriteJSON(w io.Writer, v interface{}) (int, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, errors.Wrap(err, "marshaling frame body")
	}

	// Assemble prefix and body into one buffer so the frame hits the wire in
	// a single Write.
	e.buf.Reset()
	e.buf.Write(e.size[:binary.PutUvarint(e.size[:], uint64(len(body)))])
	e.buf.Write(body)
	return w.Write(e.buf.Bytes())
}

// Decoder decodes JSON frames from a Reader.
//
// A Decoder retains its scratch buffer between calls. It is not safe for
// concurrent use.
type Decoder struct {
	// MaxFrameSize caps the accepted frame body size. If <= 0,
	// DefaultMaxFrameSize is used.
	MaxFrameSize int

	body bytes.Buffer
}

// ReadJSON reads one frame from r and unmarshals its body into v, returning
// the total number of bytes consumed.
//
// The length prefix is read byte-by-byte; hand in a buffered reader.
func (d *Decoder) ReadJSON(r dataio.Reader, v interface{}) (int64, error) {
	size, prefixLen, err := readUvarint(r)
	count := int64(prefixLen)
	if err != nil {
		return count, err
	}

	max := d.MaxFrameSize
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	if size > uint64(max) {
		return count, ErrFrameTooLarge
	}

	d.body.Reset()
	d.body.Grow(int(size))
	amt, err := d.body.ReadFrom(&io.LimitedReader{R: r, N: int64(size)})
	count += amt
	if err != nil {
		return count, err
	}
	if uint64(amt) < size {
		return count, io.ErrUnexpectedEOF
	}

	if err := json.Unmarshal(d.body.Bytes(), v); err != nil {
		return count, errors.Wrap(err, "unmarshaling frame body")
	}
	return count, nil
}

// readUvarint is binary.ReadUvarint, except that it also reports how many
// bytes it consumed.
func readUvarint(r io.ByteReader) (uint64, int, error) {
	var v uint64
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, i, err
		}
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, i + 1, errors.New("framing: length prefix overflows uint64")
			}
			return v | uint64(b)<<(7*i), i + 1, nil
		}
		v |= uint64(b&0x7f) << (7 * i)
	}
	return 0, binary.MaxVarintLen64, errors.New("framing: length prefix is not a valid uvarint")
}
