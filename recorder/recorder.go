// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package recorder captures inbound trace connections to store files.
//
// Each accepted connection gets its own trace allocated from the Store and
// a relay goroutine that copies socket bytes to it until either side ends.
// The Recorder itself only tracks and reaps relays; all trace naming and
// retention belongs to the store.
package recorder

import (
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danjacques/gotracestore/store"
	"github.com/danjacques/gotracestore/support/bufferpool"
	"github.com/danjacques/gotracestore/support/logging"
)

// DefaultPort is the conventional recorder listen port.
const DefaultPort = 1981

// relayBufferSize bounds the bytes in flight between a socket and its file.
const relayBufferSize = 64 * 1024

// reapInterval is how often closed relays are swept from the live list.
const reapInterval = 500 * time.Millisecond

// Status is a snapshot of the current Recorder status.
type Status struct {
	// Active is the number of relays not yet reaped.
	Active int
	// TotalBytes counts bytes relayed by this Recorder, including by relays
	// that have already been reaped.
	TotalBytes int64
	// Relays describes the relays in the live list.
	Relays []RelayStatus
}

// RelayStatus is a snapshot of one relay.
type RelayStatus struct {
	TraceID   uint32
	TraceName string
	Remote    string
	State     string
	Bytes     int64
	Started   time.Time
}

// A Recorder accepts producer connections and records each to its own
// trace.
type Recorder struct {
	// Logger, if not nil, logs connection lifecycle events.
	Logger logging.L

	// Clock is the time source for housekeeping. If nil, the system clock
	// is used. Tests install a mock.
	Clock clock.Clock

	st   *store.Store
	pool bufferpool.Pool

	mu           sync.Mutex
	listener     net.Listener
	relays       map[*relay]struct{}
	retiredBytes int64
	started      bool
	stopped      bool

	stopC chan struct{}
	wg    sync.WaitGroup
}

// New returns a Recorder allocating traces from st.
func New(st *store.Store) *Recorder {
	return &Recorder{
		st:     st,
		pool:   bufferpool.Pool{Size: relayBufferSize},
		relays: map[*relay]struct{}{},
	}
}

// Start begins accepting connections from l.
//
// The Recorder takes ownership of l and closes it on Stop.
func (r *Recorder) Start(l net.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		panic("already started")
	}
	r.started = true
	r.listener = l
	r.stopC = make(chan struct{})

	r.wg.Add(2)
	go r.acceptLoop(l)
	go r.reapLoop()

	r.logger().Infof("Recording on %s.", l.Addr())
}

// Stop closes the listener, tears down every live relay, and waits for them
// to drain. It returns the listener close error, if any.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	l := r.listener
	rels := make([]*relay, 0, len(r.relays))
	for rl := range r.relays {
		rels = append(rels, rl)
	}
	close(r.stopC)
	r.mu.Unlock()

	err := l.Close()
	for _, rl := range rels {
		rl.close()
	}
	r.wg.Wait()
	r.reap()
	return err
}

// Status returns a snapshot of the current Recorder status, or nil if the
// Recorder was never started.
func (r *Recorder) Status() *Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	st := Status{
		Active:     len(r.relays),
		TotalBytes: r.retiredBytes,
		Relays:     make([]RelayStatus, 0, len(r.relays)),
	}
	for rl := range r.relays {
		rs := rl.status()
		st.TotalBytes += rs.Bytes
		st.Relays = append(st.Relays, rs)
	}
	return &st
}

func (r *Recorder) acceptLoop(l net.Listener) {
	defer r.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if !r.isStopped() {
				r.logger().Warnf("Accept failed: %s", err)
			}
			return
		}
		recorderAccepted.Inc()
		r.track(conn)
	}
}

// track allocates a trace for conn and launches its relay. When the store
// cannot allocate (e.g. disk exhaustion), the connection is closed and
// forgotten; the Recorder keeps accepting others.
func (r *Recorder) track(conn net.Conn) {
	h, err := r.st.Create()
	if err != nil {
		r.logger().Warnf("Dropping connection from %s; no trace available: %s",
			conn.RemoteAddr(), err)
		recorderRejected.Inc()
		conn.Close()
		return
	}

	rl := newRelay(r, conn, h)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		rl.close()
		return
	}
	r.relays[rl] = struct{}{}
	r.mu.Unlock()
	recorderActiveRelays.Inc()

	r.logger().Infof("Recording %s to %q.", rl.remote, h.Name())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		rl.run()
	}()
}

func (r *Recorder) reapLoop() {
	defer r.wg.Done()

	ck := r.Clock
	if ck == nil {
		ck = clock.New()
	}
	t := ck.Ticker(reapInterval)
	defer t.Stop()

	for {
		select {
		case <-r.stopC:
			return
		case <-t.C:
			r.reap()
		}
	}
}

// reap drops closed relays from the live list, folding their byte counts
// into the retired total.
func (r *Recorder) reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for rl := range r.relays {
		if !rl.isClosed() {
			continue
		}
		delete(r.relays, rl)
		r.retiredBytes += rl.status().Bytes
		recorderActiveRelays.Dec()
	}
}

func (r *Recorder) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Recorder) logger() logging.L { return logging.Must(r.Logger) }
