// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package service is the control plane for a trace store daemon.
//
// A Server exposes a Store and a Recorder to network peers over a simple
// framed protocol (support/framing): each request and response is one
// length-prefixed JSON frame, and the read/watch operations hand the
// connection over to a raw trace byte stream after their response frame.
package service

import (
	"bufio"
	"net"
	"sync"

	"github.com/danjacques/gotracestore/recorder"
	"github.com/danjacques/gotracestore/store"
	"github.com/danjacques/gotracestore/support/dataio"
	"github.com/danjacques/gotracestore/support/logging"
)

// Server accepts control plane peers and resolves their requests against a
// Store and a Recorder.
type Server struct {
	// Logger, if not nil, logs peer lifecycle events.
	Logger logging.L

	st  *store.Store
	rec *recorder.Recorder

	mu       sync.Mutex
	listener net.Listener
	peers    map[net.Conn]struct{}
	started  bool
	stopped  bool

	wg sync.WaitGroup
}

// New returns a Server resolving requests against st and rec.
func New(st *store.Store, rec *recorder.Recorder) *Server {
	return &Server{
		st:    st,
		rec:   rec,
		peers: map[net.Conn]struct{}{},
	}
}

// Store returns the server's store. It is safe to call from any peer
// handler concurrently with recording; the store serializes internally.
func (s *Server) Store() *store.Store { return s.st }

// Recorder returns the server's recorder, with the same concurrency
// properties as Store.
func (s *Server) Recorder() *recorder.Recorder { return s.rec }

// Start begins serving peers from l.
//
// The Server takes ownership of l and closes it on Stop.
func (s *Server) Start(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		panic("already started")
	}
	s.started = true
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop(l)

	s.logger().Infof("Control plane on %s.", l.Addr())
}

// Stop closes the listener, disconnects every peer, and waits for their
// handlers to return. It returns the listener close error, if any.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	l := s.listener
	conns := make([]net.Conn, 0, len(s.peers))
	for c := range s.peers {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := l.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if !s.isStopped() {
				s.logger().Warnf("Accept failed: %s", err)
			}
			return
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.peers[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.servePeer(conn)
	}
}

func (s *Server) servePeer(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.peers, conn)
		s.mu.Unlock()
		servicePeers.Dec()
	}()
	servicePeers.Inc()

	p := peer{
		srv:  s,
		conn: conn,
		r:    dataio.MakeReader(bufio.NewReader(conn)),
	}
	p.serve()
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) logger() logging.L { return logging.Must(s.Logger) }
