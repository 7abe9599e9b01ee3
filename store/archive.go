// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package store

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/danjacques/gotracestore/support/stagingfile"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Compression identifies the codec used to archive finished traces.
type Compression int

const (
	// CompressionNone disables archival.
	CompressionNone Compression = iota
	// CompressionSnappy archives through a snappy stream.
	CompressionSnappy
	// CompressionGzip archives through gzip at the default level.
	CompressionGzip
)

// compressionNames is indexed by Compression value.
var compressionNames = []string{"none", "snappy", "gzip"}

const (
	extSnappy = ".sz"
	extGzip   = ".gz"
)

// Archive buffer size (4MB), good for streaming whole trace files.
const archiveBufferSize = 1024 * 1024 * 4

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

// ext returns the file extension appended to an archived trace.
func (c Compression) ext() string {
	switch c {
	case CompressionSnappy:
		return extSnappy
	case CompressionGzip:
		return extGzip
	default:
		return ""
	}
}

// Archive rewrites the identified trace through the configured compression,
// committing the result next to the raw file and then removing the raw
// file. Archiving a live trace is an error; archiving an already archived
// trace is a no-op.
func (s *Store) Archive(id uint32) error {
	comp := s.Compression
	if comp == CompressionNone {
		return errors.New("archive compression is disabled")
	}

	s.mu.RLock()
	t, ok := s.catalog[id]
	live := s.live[id] != nil
	s.mu.RUnlock()

	switch {
	case !ok:
		return ErrNoTrace
	case live:
		return errors.Errorf("trace %q is live", t.Name)
	case t.Archived:
		return nil
	}

	rawPath := filepath.Join(s.root, t.fileName)
	src, err := os.Open(rawPath)
	if err != nil {
		return errors.Wrap(err, "opening raw trace")
	}
	defer src.Close()

	staged, err := stagingfile.New(s.root, "archive")
	if err != nil {
		return errors.Wrap(err, "creating staging file")
	}
	defer staged.Destroy()

	if err := compressInto(staged, src, comp); err != nil {
		return err
	}

	archivedName := t.fileName + comp.ext()
	if err := staged.Commit(filepath.Join(s.root, archivedName)); err != nil {
		return errors.Wrap(err, "committing archive")
	}
	if err := os.Remove(rawPath); err != nil {
		// Both forms exist now; the next Refresh prefers the raw file, and a
		// later sweep will retry.
		return errors.Wrap(err, "removing raw trace")
	}

	s.mu.Lock()
	if t, ok := s.catalog[id]; ok {
		t.Archived = true
		t.fileName = archivedName
		if fi, err := os.Stat(filepath.Join(s.root, archivedName)); err == nil {
			t.Size = fi.Size()
			t.ModTime = fi.ModTime()
		}
		s.catalog[id] = t
	}
	s.mu.Unlock()

	storeArchives.Inc()
	return nil
}

// SweepArchive archives every non-live raw trace whose modification time is
// older than the given age, returning how many were archived. Errors on
// individual traces do not stop the sweep.
func (s *Store) SweepArchive(olderThan time.Duration) (int, error) {
	if s.Compression == CompressionNone {
		return 0, nil
	}
	if err := s.Refresh(); err != nil {
		return 0, err
	}

	horizon := s.now().Add(-olderThan)
	var (
		archived int
		merr     error
	)
	for _, t := range s.Traces() {
		if t.Live || t.Archived || t.ModTime.After(horizon) {
			continue
		}
		if err := s.Archive(t.ID); err != nil {
			merr = multierr.Append(merr, errors.Wrapf(err, "archiving %q", t.Name))
			continue
		}
		archived++
	}
	return archived, merr
}

// compressInto streams r through the selected compressor into w.
func compressInto(w io.Writer, r io.Reader, comp Compression) error {
	bw := bufio.NewWriterSize(w, archiveBufferSize)

	switch comp {
	case CompressionSnappy:
		sw := snappy.NewBufferedWriter(bw)
		if _, err := io.Copy(sw, r); err != nil {
			return errors.Wrap(err, "compressing trace")
		}
		if err := sw.Close(); err != nil {
			return errors.Wrap(err, "finishing snappy stream")
		}

	case CompressionGzip:
		gw := gzip.NewWriter(bw)
		if _, err := io.Copy(gw, r); err != nil {
			return errors.Wrap(err, "compressing trace")
		}
		if err := gw.Close(); err != nil {
			return errors.Wrap(err, "finishing gzip stream")
		}

	default:
		return errors.Errorf("unknown compression: %s", comp)
	}

	return errors.Wrap(bw.Flush(), "flushing archive")
}

// openArchived wraps an archived trace file in the decompressor matching
// its extension.
func openArchived(f *os.File) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(f, archiveBufferSize)

	switch filepath.Ext(f.Name()) {
	case extSnappy:
		return &archiveReader{r: snappy.NewReader(br), closers: []io.Closer{f}}, nil

	case extGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "opening gzip trace")
		}
		return &archiveReader{r: gz, closers: []io.Closer{gz, f}}, nil
	}

	f.Close()
	return nil, errors.Errorf("unrecognized archive %q", filepath.Base(f.Name()))
}

type archiveReader struct {
	r       io.Reader
	closers []io.Closer
}

func (a *archiveReader) Read(p []byte) (int, error) { return a.r.Read(p) }

func (a *archiveReader) Close() error {
	var err error
	for _, c := range a.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
