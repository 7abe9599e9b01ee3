// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package service

import (
	"encoding/json"
	"io"
	"net"

	"github.com/danjacques/gotracestore/support/dataio"
	"github.com/danjacques/gotracestore/support/framing"

	"github.com/pkg/errors"
)

// peer handles one control plane connection.
type peer struct {
	srv  *Server
	conn net.Conn
	r    dataio.Reader

	enc framing.Encoder
	dec framing.Decoder
}

// serve dispatches request frames until the peer disconnects, a frame is
// unrecoverable, or an operation hands the connection to a raw stream.
func (p *peer) serve() {
	logger := p.srv.logger()

	for {
		var req Request
		_, err := p.dec.ReadJSON(p.r, &req)
		switch {
		case err == nil:

		case errors.Cause(err) == io.EOF:
			// Clean disconnect.
			return

		case errors.Cause(err) == framing.ErrFrameTooLarge:
			// The oversized body is still on the wire; the connection cannot
			// be resynchronized.
			logger.Warnf("Dropping peer %s: %s", p.conn.RemoteAddr(), err)
			serviceBadFrames.Inc()
			return

		case isMalformedBody(err):
			// The frame was consumed; the connection survives.
			logger.Warnf("Malformed request from %s: %s", p.conn.RemoteAddr(), err)
			serviceBadFrames.Inc()
			if !p.respond(errResponse(err), nil) {
				return
			}
			continue

		default:
			if !p.srv.isStopped() {
				logger.Warnf("Reading from peer %s: %s", p.conn.RemoteAddr(), err)
			}
			return
		}

		serviceRequests.WithLabelValues(requestLabel(req.Op)).Inc()
		resp, stream := p.handle(&req)
		if !p.respond(resp, stream) {
			return
		}
	}
}

// respond writes resp and, if set, follows it with the raw stream. It
// returns false when the connection is finished.
func (p *peer) respond(resp *Response, stream io.ReadCloser) bool {
	if _, err := p.enc.WriteJSON(p.conn, resp); err != nil {
		if stream != nil {
			stream.Close()
		}
		return false
	}
	if stream == nil {
		return true
	}

	// The connection now carries nothing but trace bytes.
	n, err := io.Copy(p.conn, stream)
	stream.Close()
	serviceStreamedBytes.Add(float64(n))
	if err != nil {
		p.srv.logger().Debugf("Trace stream to %s ended: %s", p.conn.RemoteAddr(), err)
	}
	return false
}

// handle resolves one request. A non-nil stream means the response is
// followed by raw trace bytes.
func (p *peer) handle(req *Request) (*Response, io.ReadCloser) {
	st := p.srv.Store()

	switch req.Op {
	case OpList:
		if err := st.Refresh(); err != nil {
			return errResponse(err), nil
		}
		traces := st.Traces()
		infos := make([]TraceInfo, len(traces))
		for i, t := range traces {
			infos[i] = makeTraceInfo(t)
		}
		return &Response{OK: true, Traces: infos}, nil

	case OpInfo:
		t, ok := st.Lookup(req.ID)
		if !ok {
			return errResponsef("no such trace: %d", req.ID), nil
		}
		info := makeTraceInfo(t)
		return &Response{OK: true, Trace: &info}, nil

	case OpStatus:
		return &Response{OK: true, Status: makeStatusInfo(p.srv.Recorder().Status())}, nil

	case OpRead:
		t, ok := st.Lookup(req.ID)
		if !ok {
			return errResponsef("no such trace: %d", req.ID), nil
		}
		rc, err := st.Open(req.ID)
		if err != nil {
			return errResponse(err), nil
		}
		size := t.Size
		if t.Archived {
			// The stream is the decompressed form; its length is unknown.
			size = 0
		}
		return &Response{OK: true, Size: size}, rc

	case OpWatch:
		t, ok := st.Lookup(req.ID)
		if !ok {
			return errResponsef("no such trace: %d", req.ID), nil
		}
		if t.Live {
			fr, err := st.Follow(req.ID)
			if err != nil {
				return errResponse(err), nil
			}
			return &Response{OK: true}, fr
		}

		// The trace already finished; watching degenerates to reading.
		rc, err := st.Open(req.ID)
		if err != nil {
			return errResponse(err), nil
		}
		return &Response{OK: true}, rc

	default:
		return errResponsef("unknown operation %q", req.Op), nil
	}
}

func errResponse(err error) *Response {
	return &Response{Err: err.Error()}
}

func errResponsef(f string, args ...interface{}) *Response {
	return &Response{Err: errors.Errorf(f, args...).Error()}
}

// isMalformedBody distinguishes a bad frame body, which has been fully
// consumed, from transport errors, which have not.
func isMalformedBody(err error) bool {
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	return errors.As(err, &se) || errors.As(err, &te)
}

func requestLabel(op string) string {
	switch op {
	case OpList, OpInfo, OpStatus, OpRead, OpWatch:
		return op
	default:
		return "unknown"
	}
}
