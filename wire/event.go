// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// Event record constants.
//
// /**
//  * Record format (within one reassembled thread stream):
//  * uint16_t uid;   // 0: declaration, >= FirstEventUID: event
//  * uint16_t size;  // bytes following this field
//  *
//  * Declaration body:
//  * uint16_t new_uid;
//  * uint8_t  flags;        // scope style bits
//  * uint8_t  field_count;
//  * uint8_t  logger_len;
//  * uint8_t  event_len;
//  * char     logger[logger_len];
//  * char     event[event_len];
//  * struct { uint8_t type; uint8_t name_len; char name[name_len]; } fields[field_count];
//  *
//  * Event body:
//  * uint64_t timestamp;    // nanoseconds, producer monotonic
//  * ...                    // fixed-width fields in declaration order
//  * ...                    // per array/string field: uint16_t count, elements
//  */
const (
	// DeclarationUID is the reserved record uid introducing a new event
	// schema.
	DeclarationUID = 0

	// FirstEventUID is the lowest uid assignable to a declared event.
	FirstEventUID = 1

	// RecordHeaderSize is the encoded size of a record's uid+size header.
	RecordHeaderSize = 4

	// MaxRecordBody is the largest encodable record body. Records larger
	// than a packet payload span consecutive packets of their thread.
	MaxRecordBody = 0xFFFF
)

// Event declaration flags.
const (
	// EventFlagEnterScope marks events that open a scope on their thread.
	EventFlagEnterScope = 0x01
	// EventFlagLeaveScope marks events that close a scope on their thread.
	EventFlagLeaveScope = 0x02
)

// FieldType identifies the wire type of one event field. The high bit marks
// an array of the base type.
type FieldType uint8

// Scalar field types.
const (
	FieldBool FieldType = iota + 1
	FieldU8
	FieldU16
	FieldU32
	FieldU64
	FieldI64
	FieldF32
	FieldF64

	// FieldString is a length-prefixed UTF-8 byte sequence. It is encoded
	// like an array of U8 but carries string intent.
	FieldString
)

// FieldArray is the FieldType bit marking an array of the base type.
const FieldArray FieldType = 0x80

// IsArray returns whether ft carries the array bit.
func (ft FieldType) IsArray() bool { return ft&FieldArray != 0 }

// Base strips the array bit from ft.
func (ft FieldType) Base() FieldType { return ft &^ FieldArray }

// Size returns the fixed encoded size of a scalar of this type, and 0 for
// strings, arrays, and unknown types.
func (ft FieldType) Size() int {
	switch ft {
	case FieldBool, FieldU8:
		return 1
	case FieldU16:
		return 2
	case FieldU32, FieldF32:
		return 4
	case FieldU64, FieldI64, FieldF64:
		return 8
	default:
		return 0
	}
}

func (ft FieldType) String() string {
	if ft.IsArray() {
		return "[]" + ft.Base().String()
	}

	switch ft {
	case FieldBool:
		return "bool"
	case FieldU8:
		return "u8"
	case FieldU16:
		return "u16"
	case FieldU32:
		return "u32"
	case FieldU64:
		return "u64"
	case FieldI64:
		return "i64"
	case FieldF32:
		return "f32"
	case FieldF64:
		return "f64"
	case FieldString:
		return "string"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(ft))
	}
}

// valid reports whether ft names an encodable type.
func (ft FieldType) valid() bool {
	base := ft.Base()
	if base < FieldBool || base > FieldString {
		return false
	}
	// A string is already a byte sequence; an array of strings is not
	// representable on the wire.
	if ft.IsArray() && base == FieldString {
		return false
	}
	return true
}

// FieldSpec describes one named, typed field of an event.
type FieldSpec struct {
	Name string
	Type FieldType
}

// EventSpec describes a declared event: its identity and field layout.
type EventSpec struct {
	Logger string
	Event  string
	Flags  uint8
	Fields []FieldSpec
}

// Validate checks that the spec fits the declaration wire format.
func (s *EventSpec) Validate() error {
	switch {
	case s.Logger == "" || len(s.Logger) > 0xFF:
		return errors.Errorf("invalid logger name %q", s.Logger)
	case s.Event == "" || len(s.Event) > 0xFF:
		return errors.Errorf("invalid event name %q", s.Event)
	case len(s.Fields) > 0xFF:
		return errors.Errorf("too many fields (%d)", len(s.Fields))
	}

	for _, f := range s.Fields {
		if f.Name == "" || len(f.Name) > 0xFF {
			return errors.Errorf("invalid field name %q", f.Name)
		}
		if !f.Type.valid() {
			return errors.Errorf("field %q has invalid type %s", f.Name, f.Type)
		}
	}
	return nil
}
