// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danjacques/gotracestore/support/bytecursor"
	"github.com/danjacques/gotracestore/wire"

	"github.com/pkg/errors"
)

// EventCtx exposes one decoded event to OnEvent.
//
// The context is owned by the session and reused between events. Values
// returned by the scalar accessors and the decoded array accessors are safe
// to retain; String copies. Raw views (U8Array) alias the session's receive
// buffer and are valid only until OnEvent returns.
//
// Accessing a field that the event does not declare, or declaring one type
// and accessing another, is a schema mismatch between producer and analyzer
// and panics.
type EventCtx struct {
	s    *Session
	spec *eventSpec

	tid  uint16
	time uint64
	body []byte

	// varOffs holds the body offset of each array field's count header, in
	// varIdx order. Reused across events.
	varOffs []int
}

// reset points the context at one event body, validating its layout.
func (ec *EventCtx) reset(s *Session, spec *eventSpec, tid uint16, body []byte) error {
	c := bytecursor.New(body)

	t, ok := c.U64()
	if !ok {
		return errors.Errorf("event %s.%s: truncated timestamp", spec.logger, spec.event)
	}
	if !c.Skip(spec.fixedSize) {
		return errors.Errorf("event %s.%s: truncated scalar region", spec.logger, spec.event)
	}

	if cap(ec.varOffs) < len(spec.varElem) {
		ec.varOffs = make([]int, len(spec.varElem))
	}
	ec.varOffs = ec.varOffs[:len(spec.varElem)]

	for i, elem := range spec.varElem {
		ec.varOffs[i] = c.Offset()

		count, ok := c.U16()
		if !ok {
			return errors.Errorf("event %s.%s: truncated array header", spec.logger, spec.event)
		}
		if !c.Skip(int(count) * elem) {
			return errors.Errorf("event %s.%s: truncated array body", spec.logger, spec.event)
		}
	}

	if c.Remaining() != 0 {
		return errors.Errorf("event %s.%s: %d trailing bytes", spec.logger, spec.event, c.Remaining())
	}

	ec.s = s
	ec.spec = spec
	ec.tid = tid
	ec.time = t
	ec.body = body
	return nil
}

// Logger returns the logger name of the event's declaration.
func (ec *EventCtx) Logger() string { return ec.spec.logger }

// Name returns the event name of the event's declaration.
func (ec *EventCtx) Name() string { return ec.spec.event }

// ThreadID returns the thread stream the event arrived on.
func (ec *EventCtx) ThreadID() uint16 { return ec.tid }

// Time returns the event's monotonic timestamp in nanoseconds.
func (ec *EventCtx) Time() uint64 { return ec.time }

// Definitions returns the session definition table. OnEvent runs inside the
// session edit scope, so no further locking is needed to use it.
func (ec *EventCtx) Definitions() *Definitions { return ec.s.defs }

func (ec *EventCtx) field(name string, want wire.FieldType) fieldSpec {
	idx, ok := ec.spec.byName[name]
	if !ok {
		panic(fmt.Sprintf("analysis: event %s.%s has no field %q",
			ec.spec.logger, ec.spec.event, name))
	}
	f := ec.spec.fields[idx]
	if f.typ != want {
		panic(fmt.Sprintf("analysis: event %s.%s field %q is %s, accessed as %s",
			ec.spec.logger, ec.spec.event, name, f.typ, want))
	}
	return f
}

// fixed returns the scalar field's bytes. The scalar region follows the
// 8-byte timestamp.
func (ec *EventCtx) fixed(f fieldSpec, size int) []byte {
	off := 8 + f.fixedOff
	return ec.body[off : off+size]
}

// varBytes returns the raw element bytes of an array field.
func (ec *EventCtx) varBytes(f fieldSpec) []byte {
	off := ec.varOffs[f.varIdx]
	count := int(binary.LittleEndian.Uint16(ec.body[off:]))
	start := off + 2
	return ec.body[start : start+count*ec.spec.varElem[f.varIdx]]
}

// Bool returns the named bool field.
func (ec *EventCtx) Bool(name string) bool {
	return ec.fixed(ec.field(name, wire.FieldBool), 1)[0] != 0
}

// U8 returns the named u8 field.
func (ec *EventCtx) U8(name string) uint8 {
	return ec.fixed(ec.field(name, wire.FieldU8), 1)[0]
}

// U16 returns the named u16 field.
func (ec *EventCtx) U16(name string) uint16 {
	return binary.LittleEndian.Uint16(ec.fixed(ec.field(name, wire.FieldU16), 2))
}

// U32 returns the named u32 field.
func (ec *EventCtx) U32(name string) uint32 {
	return binary.LittleEndian.Uint32(ec.fixed(ec.field(name, wire.FieldU32), 4))
}

// U64 returns the named u64 field.
func (ec *EventCtx) U64(name string) uint64 {
	return binary.LittleEndian.Uint64(ec.fixed(ec.field(name, wire.FieldU64), 8))
}

// I64 returns the named i64 field.
func (ec *EventCtx) I64(name string) int64 {
	return int64(binary.LittleEndian.Uint64(ec.fixed(ec.field(name, wire.FieldI64), 8)))
}

// F32 returns the named f32 field.
func (ec *EventCtx) F32(name string) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(ec.fixed(ec.field(name, wire.FieldF32), 4)))
}

// F64 returns the named f64 field.
func (ec *EventCtx) F64(name string) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(ec.fixed(ec.field(name, wire.FieldF64), 8)))
}

// String returns the named string field.
func (ec *EventCtx) String(name string) string {
	return string(ec.varBytes(ec.field(name, wire.FieldString)))
}

// U8Array returns a view of the named u8 array field. The view is valid
// only until OnEvent returns.
func (ec *EventCtx) U8Array(name string) []byte {
	return ec.varBytes(ec.field(name, wire.FieldU8|wire.FieldArray))
}

// BoolArray returns the named bool array field.
func (ec *EventCtx) BoolArray(name string) []bool {
	raw := ec.varBytes(ec.field(name, wire.FieldBool|wire.FieldArray))
	out := make([]bool, len(raw))
	for i, b := range raw {
		out[i] = b != 0
	}
	return out
}

// U16Array returns the named u16 array field.
func (ec *EventCtx) U16Array(name string) []uint16 {
	raw := ec.varBytes(ec.field(name, wire.FieldU16|wire.FieldArray))
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out
}

// U32Array returns the named u32 array field.
func (ec *EventCtx) U32Array(name string) []uint32 {
	raw := ec.varBytes(ec.field(name, wire.FieldU32|wire.FieldArray))
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return out
}

// U64Array returns the named u64 array field.
func (ec *EventCtx) U64Array(name string) []uint64 {
	raw := ec.varBytes(ec.field(name, wire.FieldU64|wire.FieldArray))
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	return out
}

// I64Array returns the named i64 array field.
func (ec *EventCtx) I64Array(name string) []int64 {
	raw := ec.varBytes(ec.field(name, wire.FieldI64|wire.FieldArray))
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out
}

// F32Array returns the named f32 array field.
func (ec *EventCtx) F32Array(name string) []float32 {
	raw := ec.varBytes(ec.field(name, wire.FieldF32|wire.FieldArray))
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

// F64Array returns the named f64 array field.
func (ec *EventCtx) F64Array(name string) []float64 {
	raw := ec.varBytes(ec.field(name, wire.FieldF64|wire.FieldArray))
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out
}
