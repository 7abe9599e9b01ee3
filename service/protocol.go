// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package service

import (
	"time"

	"github.com/danjacques/gotracestore/recorder"
	"github.com/danjacques/gotracestore/store"
)

// DefaultControlPort is the conventional control plane listen port.
const DefaultControlPort = 1989

// Operation names accepted by the control plane.
const (
	// OpList returns the trace catalog.
	OpList = "list"
	// OpInfo returns one catalog entry.
	OpInfo = "info"
	// OpStatus returns the recorder status.
	OpStatus = "status"
	// OpRead streams a trace's bytes after the response frame.
	OpRead = "read"
	// OpWatch is OpRead for live traces: the stream follows the trace until
	// its recording closes.
	OpWatch = "watch"
)

// Request is one framed control request.
type Request struct {
	Op string `json:"op"`

	// ID selects the trace for trace-scoped operations.
	ID uint32 `json:"id,omitempty"`
}

// Response carries the result of one Request.
//
// For OpRead and OpWatch a successful response is followed by the trace's
// raw bytes; the connection carries nothing but those bytes afterwards.
type Response struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`

	Traces []TraceInfo `json:"traces,omitempty"`
	Trace  *TraceInfo  `json:"trace,omitempty"`
	Status *StatusInfo `json:"status,omitempty"`

	// Size is the byte length of the stream that follows, when it is known
	// up front. It is 0 for live or archived traces, whose length is only
	// discovered at EOF.
	Size int64 `json:"size,omitempty"`
}

// TraceInfo is the wire form of one catalog entry.
type TraceInfo struct {
	ID       uint32    `json:"id"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Live     bool      `json:"live"`
	Archived bool      `json:"archived"`
}

func makeTraceInfo(t store.Trace) TraceInfo {
	return TraceInfo{
		ID:       t.ID,
		Name:     t.Name,
		Size:     t.Size,
		ModTime:  t.ModTime,
		Live:     t.Live,
		Archived: t.Archived,
	}
}

// StatusInfo is the wire form of the recorder status.
type StatusInfo struct {
	// Recording is false when the recorder was never started.
	Recording  bool        `json:"recording"`
	Active     int         `json:"active"`
	TotalBytes int64       `json:"total_bytes"`
	Relays     []RelayInfo `json:"relays,omitempty"`
}

// RelayInfo is the wire form of one live relay.
type RelayInfo struct {
	TraceID   uint32    `json:"trace_id"`
	TraceName string    `json:"trace_name"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	Bytes     int64     `json:"bytes"`
	Started   time.Time `json:"started"`
}

func makeStatusInfo(st *recorder.Status) *StatusInfo {
	if st == nil {
		return &StatusInfo{}
	}

	si := StatusInfo{
		Recording:  true,
		Active:     st.Active,
		TotalBytes: st.TotalBytes,
		Relays:     make([]RelayInfo, len(st.Relays)),
	}
	for i, rs := range st.Relays {
		si.Relays[i] = RelayInfo{
			TraceID:   rs.TraceID,
			TraceName: rs.TraceName,
			Remote:    rs.Remote,
			State:     rs.State,
			Bytes:     rs.Bytes,
			Started:   rs.Started,
		}
	}
	return &si
}
