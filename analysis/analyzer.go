// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"fmt"
	"sync"
)

// Route identifies one registered (logger, event) pair within a session.
// Route ids are dense: the first registered pair is 0, the next 1, and so
// on, so analyzers may index arrays by them.
type Route int

// routeNone marks a declared event that no analyzer subscribed to.
const routeNone Route = -1

// EventStyle describes how an event participates in scope timing, derived
// from its declaration flags.
type EventStyle int

const (
	// StyleNormal is a point event.
	StyleNormal EventStyle = iota
	// StyleEnterScope opens a scope on the event's thread.
	StyleEnterScope
	// StyleLeaveScope closes a scope on the event's thread.
	StyleLeaveScope
)

func (s EventStyle) String() string {
	switch s {
	case StyleNormal:
		return "normal"
	case StyleEnterScope:
		return "enter"
	case StyleLeaveScope:
		return "leave"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Builder registers analyzer subscriptions while a session begins.
type Builder interface {
	// RouteEvent subscribes the calling analyzer to (logger, event) and
	// returns the pair's route id. Registering a pair that is already
	// routed returns the existing id.
	RouteEvent(logger, event string) Route

	// Guard returns the session's read-write guard. Providers populated by
	// an analyzer hand it to their readers: dispatch happens under the
	// write side, so reads under the read side see whole events only.
	Guard() *sync.RWMutex
}

// Analyzer consumes decoded events.
//
// A session invokes OnAnalysisBegin once before any event, OnEvent for
// every event on a subscribed route in stream decode order, and
// OnAnalysisEnd once after the last event. OnEvent runs inside the
// session's edit scope; provider mutations need no further locking.
type Analyzer interface {
	OnAnalysisBegin(b Builder)
	OnEvent(route Route, style EventStyle, ctx *EventCtx)
	OnAnalysisEnd()
}
