// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stream supplies byte sources for trace analysis.
//
// The interesting source is FollowReader, which reads a trace file that may
// still be growing under a concurrent writer. It reports io.EOF only once
// the file is drained and no longer live; until then short reads turn into
// bounded polls of the file size.
package stream

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultPollInterval is how often a live FollowReader re-checks the file
// size when it has caught up with the writer.
const DefaultPollInterval = 100 * time.Millisecond

// FollowReader reads a file from the beginning, tolerating a writer that is
// still appending to it.
//
// Reads are single-goroutine; Close may be called from any goroutine and
// unblocks a Read that is waiting for growth.
type FollowReader struct {
	// Clock is the time source used for poll sleeps. If nil, the system
	// clock is used. Tests install a mock.
	Clock clock.Clock

	// PollInterval overrides DefaultPollInterval when >0.
	PollInterval time.Duration

	// IsLive, if set, reports whether the producer may still append. When it
	// is nil or returns false, draining the file is terminal.
	IsLive func() bool

	path string
	f    *os.File
	off  int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Follow returns a FollowReader over the file at path.
//
// An open failure is not fatal: the returned reader is simply unusable, and
// every Read reports io.EOF. Callers that need to distinguish a missing file
// stat it themselves.
func Follow(path string) *FollowReader {
	r := &FollowReader{
		path:   path,
		closed: make(chan struct{}),
	}
	if f, err := os.Open(path); err == nil {
		r.f = f
	}
	return r
}

// Read implements io.Reader.
//
// A short file is not the end of the stream while the source is live: Read
// blocks, re-polling the file size, until bytes appear, the source stops
// being live, or the reader is closed.
func (r *FollowReader) Read(p []byte) (int, error) {
	if r.f == nil {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := r.f.Read(p)
		if n > 0 {
			// Deliver what we have; any error will resurface on the next
			// call against an empty buffer.
			r.off += int64(n)
			return n, nil
		}

		switch err {
		case nil:
			// A zero-byte read without error; try again.

		case io.EOF:
			if !r.waitForGrowth() {
				return 0, io.EOF
			}

		default:
			if r.isClosed() {
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

// waitForGrowth blocks until the file grows past the bytes already
// delivered, re-opening the handle when it does. It returns false when the
// stream is exhausted or the reader was closed.
func (r *FollowReader) waitForGrowth() bool {
	ck := r.Clock
	if ck == nil {
		ck = clock.New()
	}
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		st, err := os.Stat(r.path)
		switch {
		case err != nil:
			// The file was removed out from under us; nothing more is
			// coming.
			return false
		case st.Size() > r.off:
			return r.reopen()
		}

		if r.IsLive == nil || !r.IsLive() {
			return false
		}

		t := ck.Timer(interval)
		select {
		case <-r.closed:
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// reopen replaces the handle with a fresh one positioned at the read offset.
// Writers that truncate-and-replace rather than append are picked up here.
func (r *FollowReader) reopen() bool {
	f, err := os.Open(r.path)
	if err != nil {
		return false
	}
	if _, err := f.Seek(r.off, io.SeekStart); err != nil {
		f.Close()
		return false
	}

	old := r.f
	r.f = f
	old.Close()

	if r.isClosed() {
		f.Close()
		return false
	}
	return true
}

// Close releases the file handle. A Read blocked waiting for growth returns
// io.EOF.
func (r *FollowReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

func (r *FollowReader) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
