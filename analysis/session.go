// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"context"
	"io"
	"sync"

	"github.com/danjacques/gotracestore/support/logging"
	"github.com/danjacques/gotracestore/transport"
	"github.com/danjacques/gotracestore/wire"

	"github.com/pkg/errors"
)

// routeKey is the identity of a routed event.
type routeKey struct {
	logger string
	event  string
}

// Session drives one analysis over one trace stream.
//
// A Session is single-use: construct it with its analyzers, then Run it to
// completion. Providers stay readable after Run returns.
type Session struct {
	// Logger, if not nil, receives transport-level diagnostics.
	Logger logging.L

	analyzers []Analyzer

	// mu is the session edit scope. Dispatch holds the write side around
	// each event; provider readers hold the read side.
	mu sync.RWMutex

	routes map[routeKey]Route
	subs   [][]int

	defs  *Definitions
	specs map[uint16]*eventSpec

	ctx   EventCtx
	began bool
}

// NewSession returns a Session dispatching to the given analyzers, in
// order. The built-in definitions analyzer is always present and runs
// before them.
func NewSession(analyzers ...Analyzer) *Session {
	s := &Session{
		routes: map[routeKey]Route{},
		defs:   newDefinitions(),
		specs:  map[uint16]*eventSpec{},
	}
	s.analyzers = append([]Analyzer{&stringsAnalyzer{defs: s.defs}}, analyzers...)
	return s
}

// Definitions returns the session's definition table. Read it during or
// after a run via View.
func (s *Session) Definitions() *Definitions { return s.defs }

// View runs fn holding the session's read guard, excluding in-flight
// event edits.
func (s *Session) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// Run validates the stream header on src and then decodes and dispatches
// events until the stream is exhausted or ctx is canceled.
//
// Cancellation is observed between transport updates; a src blocked in Read
// (a live trace being followed) must additionally be closed to unblock the
// pump.
func (s *Session) Run(ctx context.Context, src io.Reader) error {
	if s.began {
		return errors.New("session has already run")
	}
	s.began = true

	if _, err := wire.ReadStreamHeader(src); err != nil {
		return errors.Wrap(err, "validating stream header")
	}

	for i, a := range s.analyzers {
		a.OnAnalysisBegin(sessionBuilder{s: s, analyzer: i})
	}

	tr := transport.New(src)
	tr.Logger = s.Logger

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := tr.Update()
		if derr := s.drain(tr); derr != nil {
			return derr
		}

		switch err {
		case nil:
		case io.EOF:
			for _, a := range s.analyzers {
				a.OnAnalysisEnd()
			}
			return nil
		default:
			return err
		}
	}
}

// drain decodes every complete record buffered on every thread stream.
func (s *Session) drain(tr *transport.Transport) error {
	for it := tr.Threads(); it.Next(); {
		if err := s.drainThread(it.Stream()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) drainThread(ts *transport.ThreadStream) error {
	c := ts.Cursor()
	consumed := 0

	var err error
	for err == nil {
		uid, ok := c.U16()
		if !ok {
			break
		}
		size, ok := c.U16()
		if !ok {
			break
		}
		body, ok := c.Bytes(int(size))
		if !ok {
			break
		}

		if uid == wire.DeclarationUID {
			err = s.declare(body)
		} else {
			err = s.dispatch(uid, ts.ID(), body)
		}
		if err == nil {
			consumed = c.Offset()
		}
	}

	ts.Consume(consumed)
	return err
}

// sessionBuilder is the Builder handed to one analyzer during
// OnAnalysisBegin.
type sessionBuilder struct {
	s        *Session
	analyzer int
}

func (b sessionBuilder) RouteEvent(logger, event string) Route {
	key := routeKey{logger: logger, event: event}

	r, ok := b.s.routes[key]
	if !ok {
		r = Route(len(b.s.subs))
		b.s.routes[key] = r
		b.s.subs = append(b.s.subs, nil)
	}

	for _, ai := range b.s.subs[r] {
		if ai == b.analyzer {
			return r
		}
	}
	b.s.subs[r] = append(b.s.subs[r], b.analyzer)
	return r
}

func (b sessionBuilder) Guard() *sync.RWMutex { return &b.s.mu }
