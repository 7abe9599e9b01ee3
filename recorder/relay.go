// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package recorder

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danjacques/gotracestore/store"

	"go.uber.org/multierr"
)

// relayState tracks a relay through its lifecycle.
type relayState int

const (
	stateAccepted relayState = iota
	stateRelaying
	stateClosed
)

func (s relayState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateRelaying:
		return "relaying"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// relay copies one socket to one trace file.
//
// The copy is a strict ping-pong: read up to the buffer size from the
// socket, write exactly those bytes to the file, read again. There are
// never two operations in flight, so a single pooled buffer suffices.
type relay struct {
	r      *Recorder
	conn   net.Conn
	handle *store.Handle

	remote  string
	started time.Time

	mu    sync.Mutex
	state relayState
	bytes int64
	err   error

	closeOnce sync.Once
}

func newRelay(r *Recorder, conn net.Conn, h *store.Handle) *relay {
	return &relay{
		r:       r,
		conn:    conn,
		handle:  h,
		remote:  conn.RemoteAddr().String(),
		started: time.Now(),
	}
}

// run performs the relay loop. It returns after both legs are closed; the
// reaper removes the relay from the live list afterwards.
func (rl *relay) run() {
	rl.setState(stateRelaying)

	buf := rl.r.pool.Lease()
	defer buf.Release()
	b := buf.Bytes()

	for {
		n, err := rl.conn.Read(b)
		if n > 0 {
			if _, werr := rl.handle.Write(b[:n]); werr != nil {
				recorderRelayErrors.WithLabelValues("file").Inc()
				rl.setErr(werr)
				break
			}
			rl.addBytes(int64(n))
			recorderRelayedBytes.Add(float64(n))
		}
		if err != nil {
			if err != io.EOF && !rl.isClosed() {
				recorderRelayErrors.WithLabelValues("socket").Inc()
				rl.setErr(err)
			}
			break
		}
	}

	rl.close()
	if err := rl.lastErr(); err != nil {
		rl.r.logger().Warnf("Relay for %s ended with error: %s", rl.remote, err)
	}
	rl.r.logger().Infof("Finished recording %s to %q (%d bytes).",
		rl.remote, rl.handle.Name(), rl.status().Bytes)
}

// close tears both legs down. It is idempotent and safe to call from any
// goroutine; closing the socket unblocks a pending read, which ends the
// relay loop.
func (rl *relay) close() {
	rl.closeOnce.Do(func() {
		err := multierr.Append(rl.conn.Close(), rl.handle.Close())

		rl.mu.Lock()
		rl.state = stateClosed
		if rl.err == nil {
			rl.err = err
		}
		rl.mu.Unlock()

		if err != nil {
			rl.r.logger().Warnf("Error closing relay for %s: %s", rl.remote, err)
		}
	})
}

func (rl *relay) status() RelayStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return RelayStatus{
		TraceID:   rl.handle.ID(),
		TraceName: rl.handle.Name(),
		Remote:    rl.remote,
		State:     rl.state.String(),
		Bytes:     rl.bytes,
		Started:   rl.started,
	}
}

func (rl *relay) isClosed() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.state == stateClosed
}

func (rl *relay) lastErr() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.err
}

func (rl *relay) setState(s relayState) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.state != stateClosed {
		rl.state = s
	}
}

func (rl *relay) setErr(err error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.err == nil {
		rl.err = err
	}
}

func (rl *relay) addBytes(n int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.bytes += n
}
