// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package transport demultiplexes a trace stream into per-thread streams.
//
// A Transport is a pump: each Update call pulls one chunk of bytes from its
// source and consumes every complete packet in it, appending payloads to the
// stream owned by each packet's thread id. A packet whose header or payload
// has not fully arrived is left for a later Update; consumers never observe
// a partial frame.
package transport

import (
	"io"

	"github.com/danjacques/gotracestore/codec"
	"github.com/danjacques/gotracestore/support/bytecursor"
	"github.com/danjacques/gotracestore/support/logging"
	"github.com/danjacques/gotracestore/wire"

	"github.com/pkg/errors"
)

// readChunkSize is how much Update asks the source for at a time.
const readChunkSize = 32 * 1024

// Transport reassembles the per-thread streams of one trace stream.
//
// The stream header is not part of the packet layer; callers consume it from
// the source before handing the remainder to New.
type Transport struct {
	// Logger, if set, logs dropped payloads. Defaults to logging.Nop.
	Logger logging.L

	src io.Reader

	readBuf []byte
	pending []byte

	threads map[uint16]*ThreadStream
	order   []uint16

	corrupt error
}

// New returns a Transport consuming packets from src.
func New(src io.Reader) *Transport {
	return &Transport{
		src:     src,
		readBuf: make([]byte, readChunkSize),
		threads: map[uint16]*ThreadStream{},
	}
}

// Update reads one chunk from the source and consumes every complete packet
// in the pending data.
//
// It returns io.EOF once the source is exhausted; a partial packet at the
// very end of the stream is discarded, as happens when a recording was
// interrupted. A size field exceeding the wire ceiling means the stream is
// corrupt, which is terminal.
func (t *Transport) Update() error {
	if t.corrupt != nil {
		return t.corrupt
	}

	n, err := t.src.Read(t.readBuf)
	if n > 0 {
		t.pending = append(t.pending, t.readBuf[:n]...)
		if perr := t.consumePackets(); perr != nil {
			t.corrupt = perr
			return perr
		}
	}

	switch err {
	case nil:
		return nil
	case io.EOF:
		return io.EOF
	default:
		return errors.Wrap(err, "reading stream")
	}
}

// consumePackets parses complete packets out of t.pending.
func (t *Transport) consumePackets() error {
	c := bytecursor.New(t.pending)
	for {
		mark := c.Offset()

		tidWord, ok := c.U16()
		if !ok {
			break
		}
		size, ok := c.U16()
		if !ok {
			c.Rewind(mark)
			break
		}
		if int(size) > wire.MaxPacketPayload {
			return errors.Errorf("corrupt stream: packet size %d exceeds wire limit", size)
		}

		payload, ok := c.Bytes(int(size))
		if !ok {
			c.Rewind(mark)
			break
		}

		s := t.stream(tidWord & wire.MaxThreadID)
		if tidWord&wire.PacketCompressed != 0 {
			t.appendCompressed(s, payload)
		} else {
			s.append(payload)
		}
	}

	// Hold back the partial tail for the next Update.
	t.pending = append(t.pending[:0], t.pending[c.Offset():]...)
	return nil
}

// appendCompressed decodes a compressed payload into the thread stream. A
// payload that fails to decode is dropped; the record layer above will stall
// on that thread, which is the desired failure mode for corrupt blocks.
func (t *Transport) appendCompressed(s *ThreadStream, payload []byte) {
	c := bytecursor.New(payload)
	decodedSize, ok := c.U16()
	if !ok || int(decodedSize) > wire.MaxPacketPayload {
		logging.Must(t.Logger).Warnf("Dropping compressed packet with bad decoded size (thread %d).", s.id)
		return
	}

	dst := s.reserve(int(decodedSize))
	n, err := codec.Decode(c.Peek(c.Remaining()), dst)
	if err != nil || n != int(decodedSize) {
		s.unreserve(int(decodedSize))
		logging.Must(t.Logger).Warnf("Dropping undecodable packet (thread %d): %v", s.id, err)
	}
}

// stream returns the ThreadStream for id, creating it on first sight.
func (t *Transport) stream(id uint16) *ThreadStream {
	if s := t.threads[id]; s != nil {
		return s
	}
	s := &ThreadStream{id: id}
	t.threads[id] = s
	t.order = append(t.order, id)
	return s
}

// Threads returns an iterator over thread streams that currently hold
// unconsumed bytes, in first-sight order.
//
// A thread that has been fully drained stays registered: it is skipped while
// empty and reappears once later packets arrive for it.
func (t *Transport) Threads() ThreadIter {
	return ThreadIter{t: t, next: 0}
}

// ThreadIter enumerates non-empty thread streams.
type ThreadIter struct {
	t    *Transport
	next int
	cur  *ThreadStream
}

// Next advances to the next thread stream with unconsumed bytes, and reports
// whether one was found.
func (it *ThreadIter) Next() bool {
	for it.next < len(it.t.order) {
		s := it.t.threads[it.t.order[it.next]]
		it.next++
		if s.Len() > 0 {
			it.cur = s
			return true
		}
	}
	it.cur = nil
	return false
}

// Stream returns the iterator's current thread stream.
func (it *ThreadIter) Stream() *ThreadStream { return it.cur }

// ThreadStream is one demultiplexed logical channel. Payload bytes appear in
// wire arrival order and, once consumed, are never re-delivered.
type ThreadStream struct {
	id  uint16
	buf []byte
	off int
}

// ID returns the stream's thread id.
func (s *ThreadStream) ID() uint16 { return s.id }

// Len returns the number of unconsumed bytes.
func (s *ThreadStream) Len() int { return len(s.buf) - s.off }

// Cursor returns a cursor over the unconsumed bytes.
//
// The cursor's view is invalidated by the next Update; consume and drop it
// before pumping again.
func (s *ThreadStream) Cursor() *bytecursor.C {
	return bytecursor.New(s.buf[s.off:])
}

// Consume marks n bytes as consumed, typically the Offset of a cursor after
// record parsing.
func (s *ThreadStream) Consume(n int) {
	if n < 0 || n > s.Len() {
		panic("transport: consume out of range")
	}
	s.off += n

	// Reclaim consumed space once it dominates the buffer.
	if s.off > 4096 && s.off > len(s.buf)/2 {
		s.buf = append(s.buf[:0], s.buf[s.off:]...)
		s.off = 0
	}
}

func (s *ThreadStream) append(b []byte) {
	s.buf = append(s.buf, b...)
}

// reserve grows the buffer by n bytes and returns the new tail for in-place
// decode. unreserve rolls the growth back.
func (s *ThreadStream) reserve(n int) []byte {
	old := len(s.buf)
	if cap(s.buf)-old < n {
		grown := make([]byte, old, cap(s.buf)*2+n)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = s.buf[:old+n]
	return s.buf[old:]
}

func (s *ThreadStream) unreserve(n int) {
	s.buf = s.buf[:len(s.buf)-n]
}
