// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package dataio holds small byte- and block-level I/O helpers shared by the
// framing and archive code.
package dataio

import (
	"io"
)

// Reader reads both individual bytes and byte sequences.
//
// bufio.Reader satisfies this directly.
type Reader interface {
	io.Reader
	io.ByteReader
}

// MakeReader returns r if it already satisfies Reader, and otherwise wraps it
// with a byte-at-a-time shim.
//
// The shim issues one Read call per byte; callers on a hot path should hand
// in a buffered reader instead.
func MakeReader(r io.Reader) Reader {
	if dr, ok := r.(Reader); ok {
		return dr
	}
	return &simulatedReader{r}
}

type simulatedReader struct {
	io.Reader
}

func (r *simulatedReader) ReadByte() (byte, error) {
	var d [1]byte
	amt, err := r.Read(d[:])
	if amt == 1 {
		// A Reader may return both a byte and an error. The byte wins; the
		// error will come back on the next call.
		return d[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// Writer writes both individual bytes and byte sequences.
//
// bufio.Writer and bytes.Buffer satisfy this directly.
type Writer interface {
	io.Writer
	io.ByteWriter
}

// MakeWriter returns w if it already satisfies Writer, and otherwise wraps it
// with a byte-at-a-time shim.
func MakeWriter(w io.Writer) Writer {
	if dw, ok := w.(Writer); ok {
		return dw
	}
	return &simulatedWriter{w}
}

type simulatedWriter struct {
	io.Writer
}

func (w *simulatedWriter) WriteByte(c byte) error {
	d := [1]byte{c}
	switch amt, err := w.Write(d[:]); {
	case err != nil:
		return err
	case amt != 1:
		panic("invalid Writer implementation")
	default:
		return nil
	}
}

// ReadFull reads from r until buf is full or an error is encountered.
//
// io.Reader is allowed to return fewer bytes than requested without error;
// this keeps reading. EOF exactly at the end of buf is success.
func ReadFull(r io.Reader, buf []byte) error {
	for remaining := buf; len(remaining) > 0; {
		amt, err := r.Read(remaining)
		remaining = remaining[amt:]
		if err != nil {
			if err == io.EOF && len(remaining) == 0 {
				return nil
			}
			return err
		}
	}
	return nil
}
