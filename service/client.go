// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package service

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/danjacques/gotracestore/support/dataio"
	"github.com/danjacques/gotracestore/support/framing"
	"github.com/danjacques/gotracestore/support/network"

	"github.com/pkg/errors"
)

// dialTimeout bounds control plane connection attempts.
const dialTimeout = 10 * time.Second

// RemoteError is a failure reported by the server in a response frame, as
// opposed to a transport failure on the connection itself.
type RemoteError struct {
	// Message is the server's error text.
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

// Client issues control plane operations over one connection.
//
// Operations are serialized, so a Client is safe for concurrent use up to
// the point where ReadTrace or WatchTrace succeeds; the returned stream
// consumes the connection, and every later operation fails.
type Client struct {
	conn io.ReadWriteCloser
	r    dataio.Reader

	mu        sync.Mutex
	enc       framing.Encoder
	dec       framing.Decoder
	streaming bool
}

// Dial connects to the control plane at addr. A missing port defaults to
// DefaultControlPort.
func Dial(addr string) (*Client, error) {
	hp, err := network.HostPort(addr, DefaultControlPort)
	if err != nil {
		return nil, err
	}
	conn, err := network.DialTCP(hp, dialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "dialing control plane")
	}
	return NewClient(conn), nil
}

// NewClient returns a Client speaking the control protocol over conn,
// taking ownership of it.
func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn: conn,
		r:    dataio.MakeReader(bufio.NewReader(conn)),
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ListTraces returns the remote catalog, freshly scanned.
func (c *Client) ListTraces() ([]TraceInfo, error) {
	resp, err := c.roundTrip(&Request{Op: OpList})
	if err != nil {
		return nil, err
	}
	return resp.Traces, nil
}

// TraceInfo returns one remote catalog entry.
func (c *Client) TraceInfo(id uint32) (*TraceInfo, error) {
	resp, err := c.roundTrip(&Request{Op: OpInfo, ID: id})
	if err != nil {
		return nil, err
	}
	if resp.Trace == nil {
		return nil, errors.New("malformed response: no trace")
	}
	return resp.Trace, nil
}

// Status returns the remote recorder status.
func (c *Client) Status() (*StatusInfo, error) {
	resp, err := c.roundTrip(&Request{Op: OpStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("malformed response: no status")
	}
	return resp.Status, nil
}

// ReadTrace opens the identified trace's byte stream. The stream owns the
// connection from here on; close it to release the Client.
func (c *Client) ReadTrace(id uint32) (*TraceStream, error) {
	return c.openStream(&Request{Op: OpRead, ID: id})
}

// WatchTrace is ReadTrace for live traces: the stream follows the trace
// until its recording closes.
func (c *Client) WatchTrace(id uint32) (*TraceStream, error) {
	return c.openStream(&Request{Op: OpWatch, ID: id})
}

func (c *Client) roundTrip(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(req)
}

func (c *Client) openStream(req *Request) (*TraceStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.exchange(req)
	if err != nil {
		return nil, err
	}
	c.streaming = true
	return &TraceStream{Size: resp.Size, c: c}, nil
}

// exchange performs one request/response cycle. Callers hold c.mu.
func (c *Client) exchange(req *Request) (*Response, error) {
	if c.streaming {
		return nil, errors.New("connection is streaming a trace")
	}

	if _, err := c.enc.WriteJSON(c.conn, req); err != nil {
		return nil, errors.Wrap(err, "writing request")
	}
	var resp Response
	if _, err := c.dec.ReadJSON(c.r, &resp); err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	if !resp.OK {
		return nil, errors.WithStack(&RemoteError{Message: resp.Err})
	}
	return &resp, nil
}

// TraceStream is a trace's raw bytes, streamed from the remote store.
type TraceStream struct {
	// Size is the stream's byte length when it was known up front, or 0
	// when it is only discovered at EOF (live or archived traces).
	Size int64

	c *Client
}

var _ io.ReadCloser = (*TraceStream)(nil)

// Read implements io.Reader. The remote ends the stream by closing the
// connection, which surfaces here as io.EOF.
func (ts *TraceStream) Read(p []byte) (int, error) { return ts.c.r.Read(p) }

// Close releases the consumed connection.
func (ts *TraceStream) Close() error { return ts.c.Close() }
