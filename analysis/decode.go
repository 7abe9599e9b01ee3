// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"fmt"

	"github.com/danjacques/gotracestore/support/bytecursor"
	"github.com/danjacques/gotracestore/wire"

	"github.com/pkg/errors"
)

// errCorruptDeclaration is the terminal error for a declaration record whose
// body cannot be parsed.
var errCorruptDeclaration = errors.New("corrupt event declaration")

// fieldSpec is one decoded field of an event layout.
type fieldSpec struct {
	name string
	typ  wire.FieldType

	// fixedOff is the offset of a scalar field within the fixed region,
	// excluding the leading timestamp. -1 for array fields.
	fixedOff int

	// varIdx is the index of an array field among the event's array fields.
	// -1 for scalar fields.
	varIdx int
}

// eventSpec is the decoded layout of one declared event.
type eventSpec struct {
	uid    uint16
	logger string
	event  string
	style  EventStyle

	fields []fieldSpec
	byName map[string]int

	// fixedSize is the total byte size of the scalar region, excluding the
	// timestamp.
	fixedSize int

	// varElem holds the element size of each array field, in varIdx order.
	varElem []int

	route Route
}

func styleForFlags(flags uint8) EventStyle {
	switch {
	case flags&wire.EventFlagEnterScope != 0:
		return StyleEnterScope
	case flags&wire.EventFlagLeaveScope != 0:
		return StyleLeaveScope
	default:
		return StyleNormal
	}
}

// declare parses a declaration record body and installs the event layout.
//
// A redeclared UID is a panic: producers assign UIDs once per stream, and
// silently replacing a layout would misdecode every buffered event that
// still references the old one.
func (s *Session) declare(body []byte) error {
	c := bytecursor.New(body)

	uid, ok := c.U16()
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated header")
	}
	flags, ok := c.U8()
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated header")
	}
	fieldCount, ok := c.U8()
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated header")
	}
	loggerLen, ok := c.U8()
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated header")
	}
	eventLen, ok := c.U8()
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated header")
	}

	if uid < wire.FirstEventUID {
		return errors.Wrapf(errCorruptDeclaration, "reserved uid %d", uid)
	}
	if _, ok := s.specs[uid]; ok {
		panic(fmt.Sprintf("analysis: event uid %d redeclared", uid))
	}

	loggerB, ok := c.Bytes(int(loggerLen))
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated logger name")
	}
	eventB, ok := c.Bytes(int(eventLen))
	if !ok {
		return errors.Wrap(errCorruptDeclaration, "truncated event name")
	}

	spec := &eventSpec{
		uid:    uid,
		logger: string(loggerB),
		event:  string(eventB),
		style:  styleForFlags(flags),
		fields: make([]fieldSpec, 0, fieldCount),
		byName: make(map[string]int, fieldCount),
		route:  routeNone,
	}

	for i := 0; i < int(fieldCount); i++ {
		typRaw, ok := c.U8()
		if !ok {
			return errors.Wrap(errCorruptDeclaration, "truncated field")
		}
		nameLen, ok := c.U8()
		if !ok {
			return errors.Wrap(errCorruptDeclaration, "truncated field")
		}
		nameB, ok := c.Bytes(int(nameLen))
		if !ok {
			return errors.Wrap(errCorruptDeclaration, "truncated field name")
		}

		typ := wire.FieldType(typRaw)
		f := fieldSpec{
			name:     string(nameB),
			typ:      typ,
			fixedOff: -1,
			varIdx:   -1,
		}

		switch {
		case typ.IsArray():
			elem := typ.Base().Size()
			if elem <= 0 {
				return errors.Wrapf(errCorruptDeclaration, "field %q has unknown element type %d", f.name, typRaw)
			}
			f.varIdx = len(spec.varElem)
			spec.varElem = append(spec.varElem, elem)

		case typ == wire.FieldString:
			f.varIdx = len(spec.varElem)
			spec.varElem = append(spec.varElem, 1)

		default:
			size := typ.Size()
			if size <= 0 {
				return errors.Wrapf(errCorruptDeclaration, "field %q has unknown type %d", f.name, typRaw)
			}
			f.fixedOff = spec.fixedSize
			spec.fixedSize += size
		}

		spec.byName[f.name] = len(spec.fields)
		spec.fields = append(spec.fields, f)
	}

	if c.Remaining() != 0 {
		return errors.Wrapf(errCorruptDeclaration, "%d trailing bytes", c.Remaining())
	}

	if r, ok := s.routes[routeKey{logger: spec.logger, event: spec.event}]; ok {
		spec.route = r
	}

	s.specs[uid] = spec
	analysisDeclarations.Inc()
	return nil
}

// dispatch decodes one event record body and delivers it to the route's
// subscribers under the session's write guard.
func (s *Session) dispatch(uid uint16, tid uint16, body []byte) error {
	spec := s.specs[uid]
	if spec == nil {
		return errors.Errorf("undeclared event uid %d on thread %d", uid, tid)
	}

	analysisEvents.Inc()
	if spec.route == routeNone {
		return nil
	}

	if err := s.ctx.reset(s, spec, tid, body); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ai := range s.subs[spec.route] {
		s.analyzers[ai].OnEvent(spec.route, spec.style, &s.ctx)
	}
	return nil
}
