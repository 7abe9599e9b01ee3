// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// StreamVersion is the trace stream protocol version emitted by this
// package.
const StreamVersion = 1

// StreamHeaderSize is the encoded size of a StreamHeader.
const StreamHeaderSize = 8

// streamMagic identifies a trace stream.
var streamMagic = [4]byte{'T', 'R', 'C', 'S'}

// StreamHeader is the fixed header that begins every trace stream.
//
// /**
//  * Stream header format:
//  * uint8_t  magic[4];  // "TRCS"
//  * uint8_t  version;
//  * uint8_t  flags;     // reserved, zero
//  * uint16_t reserved;
//  */
type StreamHeader struct {
	Magic    [4]byte
	Version  uint8
	Flags    uint8
	Reserved uint16 `struc:",little"`
}

// NewStreamHeader returns a header for the current protocol version.
func NewStreamHeader() *StreamHeader {
	return &StreamHeader{
		Magic:   streamMagic,
		Version: StreamVersion,
	}
}

// WriteStreamHeader writes h to w.
func WriteStreamHeader(w io.Writer, h *StreamHeader) error {
	return struc.Pack(w, h)
}

// ReadStreamHeader reads and validates a stream header from r.
//
// A stream whose magic does not match, or whose version is newer than this
// package understands, is rejected.
func ReadStreamHeader(r io.Reader) (*StreamHeader, error) {
	var h StreamHeader
	if err := struc.Unpack(r, &h); err != nil {
		return nil, errors.Wrap(err, "reading stream header")
	}

	if !bytes.Equal(h.Magic[:], streamMagic[:]) {
		return nil, errors.Errorf("invalid stream magic %q", h.Magic[:])
	}
	if h.Version == 0 || h.Version > StreamVersion {
		return nil, errors.Errorf("unsupported stream version %d", h.Version)
	}
	return &h, nil
}
