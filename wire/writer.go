// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/danjacques/gotracestore/codec"

	"github.com/pkg/errors"
)

// compressMinSize is the smallest payload worth attempting to compress.
// Below this, the block format's own overhead eats any gain.
const compressMinSize = 64

// Writer emits a trace stream: the stream header, packets, event
// declarations, and event records.
//
// Writer tracks declared event schemas so that event values can be
// type-checked against their declaration as they are written. It is not safe
// for concurrent use; a producer serializes its threads' records onto the
// one wire itself.
type Writer struct {
	// Compress enables producer-side payload compression. Packets whose
	// payload shrinks under the block codec are sent compressed; others are
	// sent raw.
	Compress bool

	w       io.Writer
	started bool

	nextUID uint16
	specs   map[uint16]*EventSpec

	pkt     bytes.Buffer
	rec     bytes.Buffer
	encBuf  []byte
	scratch [8]byte
}

// NewWriter returns a Writer emitting to w.
//
// The stream header is written lazily, ahead of the first packet.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:       w,
		nextUID: FirstEventUID,
		specs:   map[uint16]*EventSpec{},
	}
}

// Start writes the stream header. It is implied by the first write and is
// exported for producers that want the header on the wire immediately.
func (w *Writer) Start() error {
	if w.started {
		return nil
	}
	if err := WriteStreamHeader(w.w, NewStreamHeader()); err != nil {
		return err
	}
	w.started = true
	return nil
}

// WritePacket emits one packet carrying payload for the given thread id.
//
// The payload is compressed when the Writer is configured for it and
// compression actually shrinks this payload.
func (w *Writer) WritePacket(tid uint16, payload []byte) error {
	switch {
	case tid > MaxThreadID:
		return errors.Errorf("thread id %d out of range", tid)
	case len(payload) > MaxPacketPayload:
		return errors.Errorf("payload size %d exceeds packet limit", len(payload))
	}
	if err := w.Start(); err != nil {
		return err
	}

	if w.Compress && len(payload) >= compressMinSize {
		if need := codec.Bound(len(payload)); cap(w.encBuf) < need {
			w.encBuf = make([]byte, need)
		}
		n, err := codec.Encode(payload, w.encBuf[:cap(w.encBuf)])
		if err == nil && n > 0 && n+2 < len(payload) {
			return w.emit(tid|PacketCompressed, uint16(len(payload)), w.encBuf[:n])
		}
		// Incompressible (or a codec failure): fall through to raw.
	}

	return w.emit(tid, 0, payload)
}

// emit frames and writes a single packet. A nonzero decodedSize marks a
// compressed payload and is prefixed to it.
func (w *Writer) emit(tidWord, decodedSize uint16, payload []byte) error {
	size := len(payload)
	if decodedSize != 0 {
		size += 2
	}

	w.pkt.Reset()
	binary.LittleEndian.PutUint16(w.scratch[0:2], tidWord)
	binary.LittleEndian.PutUint16(w.scratch[2:4], uint16(size))
	w.pkt.Write(w.scratch[:4])
	if decodedSize != 0 {
		binary.LittleEndian.PutUint16(w.scratch[0:2], decodedSize)
		w.pkt.Write(w.scratch[:2])
	}
	w.pkt.Write(payload)

	if _, err := w.w.Write(w.pkt.Bytes()); err != nil {
		return errors.Wrap(err, "writing packet")
	}
	return nil
}

// DeclareEvent assigns the next event uid to spec and emits its declaration
// record on the given thread.
func (w *Writer) DeclareEvent(tid uint16, spec EventSpec) (uint16, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if w.nextUID == math.MaxUint16 {
		return 0, errors.New("event uid space exhausted")
	}

	uid := w.nextUID

	w.rec.Reset()
	w.putU16(&w.rec, uid)
	w.rec.WriteByte(spec.Flags)
	w.rec.WriteByte(byte(len(spec.Fields)))
	w.rec.WriteByte(byte(len(spec.Logger)))
	w.rec.WriteByte(byte(len(spec.Event)))
	w.rec.WriteString(spec.Logger)
	w.rec.WriteString(spec.Event)
	for _, f := range spec.Fields {
		w.rec.WriteByte(byte(f.Type))
		w.rec.WriteByte(byte(len(f.Name)))
		w.rec.WriteString(f.Name)
	}

	if err := w.writeRecord(tid, DeclarationUID, w.rec.Bytes()); err != nil {
		return 0, err
	}

	w.nextUID++
	specCopy := spec
	specCopy.Fields = append([]FieldSpec(nil), spec.Fields...)
	w.specs[uid] = &specCopy
	return uid, nil
}

// WriteEvent emits one event record for a previously declared uid.
//
// values are matched positionally against the declaration's fields and must
// have the exact Go type for each field's wire type.
func (w *Writer) WriteEvent(tid, uid uint16, timestamp uint64, values ...interface{}) error {
	spec := w.specs[uid]
	if spec == nil {
		return errors.Errorf("event uid %d has not been declared", uid)
	}
	if len(values) != len(spec.Fields) {
		return errors.Errorf("%s.%s expects %d values, got %d",
			spec.Logger, spec.Event, len(spec.Fields), len(values))
	}

	w.rec.Reset()
	w.putU64(&w.rec, timestamp)

	// Fixed-width scalars first, in declaration order.
	for i, f := range spec.Fields {
		if f.Type.IsArray() || f.Type == FieldString {
			continue
		}
		if err := w.putScalar(&w.rec, f, values[i]); err != nil {
			return err
		}
	}

	// Then the variable-length tail: arrays and strings, in declaration
	// order, each prefixed with its element count.
	for i, f := range spec.Fields {
		if !f.Type.IsArray() && f.Type != FieldString {
			continue
		}
		if err := w.putSequence(&w.rec, f, values[i]); err != nil {
			return err
		}
	}

	return w.writeRecord(tid, uid, w.rec.Bytes())
}

// writeRecord frames body as a record and chunks it onto the wire as one or
// more packets for tid.
func (w *Writer) writeRecord(tid, uid uint16, body []byte) error {
	if len(body) > MaxRecordBody {
		return errors.Errorf("record body size %d exceeds limit", len(body))
	}

	framed := make([]byte, 0, RecordHeaderSize+len(body))
	framed = binary.LittleEndian.AppendUint16(framed, uid)
	framed = binary.LittleEndian.AppendUint16(framed, uint16(len(body)))
	framed = append(framed, body...)

	for off := 0; off < len(framed); off += MaxPacketPayload {
		end := off + MaxPacketPayload
		if end > len(framed) {
			end = len(framed)
		}
		if err := w.WritePacket(tid, framed[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) putScalar(buf *bytes.Buffer, f FieldSpec, v interface{}) error {
	switch f.Type {
	case FieldBool:
		b, ok := v.(bool)
		if !ok {
			return w.badValue(f, v)
		}
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case FieldU8:
		b, ok := v.(uint8)
		if !ok {
			return w.badValue(f, v)
		}
		buf.WriteByte(b)
	case FieldU16:
		u, ok := v.(uint16)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU16(buf, u)
	case FieldU32:
		u, ok := v.(uint32)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU32(buf, u)
	case FieldU64:
		u, ok := v.(uint64)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU64(buf, u)
	case FieldI64:
		i, ok := v.(int64)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU64(buf, uint64(i))
	case FieldF32:
		fv, ok := v.(float32)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU32(buf, math.Float32bits(fv))
	case FieldF64:
		fv, ok := v.(float64)
		if !ok {
			return w.badValue(f, v)
		}
		w.putU64(buf, math.Float64bits(fv))
	default:
		return errors.Errorf("field %q has non-scalar type %s", f.Name, f.Type)
	}
	return nil
}

func (w *Writer) putSequence(buf *bytes.Buffer, f FieldSpec, v interface{}) error {
	if f.Type == FieldString {
		s, ok := v.(string)
		if !ok {
			return w.badValue(f, v)
		}
		if len(s) > 0xFFFF {
			return errors.Errorf("field %q value is too long (%d bytes)", f.Name, len(s))
		}
		w.putU16(buf, uint16(len(s)))
		buf.WriteString(s)
		return nil
	}

	count := 0
	switch f.Type.Base() {
	case FieldU8:
		a, ok := v.([]uint8)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		buf.Write(a)
		return w.checkCount(f, count)
	case FieldBool:
		a, ok := v.([]bool)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, b := range a {
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case FieldU16:
		a, ok := v.([]uint16)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, u := range a {
			w.putU16(buf, u)
		}
	case FieldU32:
		a, ok := v.([]uint32)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, u := range a {
			w.putU32(buf, u)
		}
	case FieldU64:
		a, ok := v.([]uint64)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, u := range a {
			w.putU64(buf, u)
		}
	case FieldI64:
		a, ok := v.([]int64)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, i := range a {
			w.putU64(buf, uint64(i))
		}
	case FieldF32:
		a, ok := v.([]float32)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, fv := range a {
			w.putU32(buf, math.Float32bits(fv))
		}
	case FieldF64:
		a, ok := v.([]float64)
		if !ok {
			return w.badValue(f, v)
		}
		count = len(a)
		w.putU16(buf, uint16(count))
		for _, fv := range a {
			w.putU64(buf, math.Float64bits(fv))
		}
	default:
		return errors.Errorf("field %q has invalid array type %s", f.Name, f.Type)
	}
	return w.checkCount(f, count)
}

func (w *Writer) checkCount(f FieldSpec, count int) error {
	if count > 0xFFFF {
		return errors.Errorf("field %q array is too long (%d elements)", f.Name, count)
	}
	return nil
}

func (w *Writer) badValue(f FieldSpec, v interface{}) error {
	return errors.Errorf("field %q expects wire type %s, got %T", f.Name, f.Type, v)
}

func (w *Writer) putU16(buf *bytes.Buffer, v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	buf.Write(w.scratch[:2])
}

func (w *Writer) putU32(buf *bytes.Buffer, v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	buf.Write(w.scratch[:4])
}

func (w *Writer) putU64(buf *bytes.Buffer, v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	buf.Write(w.scratch[:8])
}
