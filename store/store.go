// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danjacques/gotracestore/stream"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"go.uber.org/multierr"
)

// traceExt is the extension of a raw trace file. Files without it (and
// without an archive extension) are invisible to the catalog, which is what
// keeps staging output out of sight.
const traceExt = ".trace"

// ErrNoTrace is returned when a trace id is not in the catalog.
var ErrNoTrace = errors.New("no such trace")

// TraceID derives the stable catalog id for a trace name. The id survives
// rescans and archival, since both preserve the name.
func TraceID(name string) uint32 { return murmur3.Sum32([]byte(name)) }

// Trace describes one catalog entry.
type Trace struct {
	ID       uint32
	Name     string
	Size     int64
	ModTime  time.Time
	Live     bool
	Archived bool

	// fileName is the actual directory entry backing this trace. It differs
	// from Name when the trace has been archived.
	fileName string
}

// Store is a catalog of traces rooted at a directory.
//
// All methods are safe for concurrent use.
type Store struct {
	// NowFunc, if not nil, is the function to use to get the current time.
	// If nil, time.Now will be used.
	NowFunc func() time.Time

	// Compression selects how Archive rewrites traces. The zero value
	// disables archival.
	Compression Compression

	root string

	mu      sync.RWMutex
	catalog map[uint32]Trace
	live    map[uint32]*Handle
}

// New opens (creating if necessary) a Store rooted at root and performs an
// initial catalog scan.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "creating store root")
	}
	s := &Store{
		root:    root,
		catalog: map[uint32]Trace{},
		live:    map[uint32]*Handle{},
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Refresh rescans the root directory and rebuilds the catalog from it.
//
// Only fully named trace files are cataloged; staging artifacts and stray
// files are skipped. When a raw file and its archived form both exist (a
// crashed archival pass), the raw file wins.
func (s *Store) Refresh() error {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, "reading store directory")
	}

	catalog := make(map[uint32]Trace, len(ents))
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		name, archived := logicalName(ent.Name())
		if name == "" {
			continue
		}
		fi, err := ent.Info()
		if err != nil {
			// Deleted while we were scanning.
			continue
		}

		t := Trace{
			ID:       TraceID(name),
			Name:     name,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
			Archived: archived,
			fileName: ent.Name(),
		}
		if prev, ok := catalog[t.ID]; ok && (!prev.Archived || t.Archived) {
			continue
		}
		catalog[t.ID] = t
	}

	s.mu.Lock()
	s.catalog = catalog
	storeTraces.Set(float64(len(catalog)))
	s.mu.Unlock()
	return nil
}

// logicalName maps a directory entry to its catalog name, or "" when the
// entry is not part of the catalog.
func logicalName(fileName string) (name string, archived bool) {
	switch {
	case strings.HasSuffix(fileName, traceExt):
		return fileName, false
	case strings.HasSuffix(fileName, traceExt+extSnappy),
		strings.HasSuffix(fileName, traceExt+extGzip):
		return strings.TrimSuffix(fileName, filepath.Ext(fileName)), true
	}
	return "", false
}

// Traces returns the catalog as of the last Refresh, sorted by name.
func (s *Store) Traces() []Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Trace, 0, len(s.catalog))
	for _, t := range s.catalog {
		t.Live = s.live[t.ID] != nil
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the catalog entry for id. The size and modification time of
// a live trace are re-polled so callers see its growth.
func (s *Store) Lookup(id uint32) (Trace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.catalog[id]
	if !ok {
		return Trace{}, false
	}
	if s.live[id] != nil {
		t.Live = true
		if fi, err := os.Stat(filepath.Join(s.root, t.fileName)); err == nil {
			t.Size = fi.Size()
			t.ModTime = fi.ModTime()
		}
	}
	return t, true
}

// IsLive reports whether a recording is still writing to the trace.
func (s *Store) IsLive(id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live[id] != nil
}

// Create allocates a new uniquely named trace file and returns the write
// handle for it. The trace is live until the handle is closed.
func (s *Store) Create() (*Handle, error) {
	base := s.now().UTC().Format("20060102_150405")

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; ; i++ {
		name := base + traceExt
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, traceExt)
		}

		f, err := os.OpenFile(filepath.Join(s.root, name),
			os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		switch {
		case os.IsExist(err):
			continue
		case err != nil:
			return nil, errors.Wrap(err, "creating trace file")
		}

		h := &Handle{s: s, id: TraceID(name), name: name, f: f}
		s.live[h.id] = h
		s.catalog[h.id] = Trace{
			ID:       h.id,
			Name:     name,
			ModTime:  s.now(),
			fileName: name,
		}
		storeLiveTraces.Inc()
		return h, nil
	}
}

// Open returns the byte stream of the identified trace, decompressing
// transparently when it has been archived.
func (s *Store) Open(id uint32) (io.ReadCloser, error) {
	s.mu.RLock()
	t, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoTrace
	}

	f, err := os.Open(filepath.Join(s.root, t.fileName))
	if err != nil {
		return nil, errors.Wrap(err, "opening trace")
	}
	if !t.Archived {
		return f, nil
	}
	return openArchived(f)
}

// Follow returns a reader over the identified trace that keeps following it
// while its recording is live. Archived traces cannot be followed; they are
// finished by construction, so callers fall back to Open.
func (s *Store) Follow(id uint32) (*stream.FollowReader, error) {
	s.mu.RLock()
	t, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoTrace
	}
	if t.Archived {
		return nil, errors.Errorf("trace %q is archived", t.Name)
	}

	r := stream.Follow(filepath.Join(s.root, t.fileName))
	r.IsLive = func() bool { return s.IsLive(id) }
	return r, nil
}

func (s *Store) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now()
}

// Handle is an open trace being written. It is not safe for concurrent use;
// one recording connection owns it.
type Handle struct {
	s    *Store
	id   uint32
	name string

	f         *os.File
	closeOnce sync.Once
	closeErr  error
}

// ID returns the trace's catalog id.
func (h *Handle) ID() uint32 { return h.id }

// Name returns the trace's catalog name.
func (h *Handle) Name() string { return h.name }

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	storeWrittenBytes.Add(float64(n))
	return n, err
}

// Close flushes and closes the trace file and retires the trace from the
// live set.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = multierr.Append(h.f.Sync(), h.f.Close())

		h.s.mu.Lock()
		delete(h.s.live, h.id)
		if t, ok := h.s.catalog[h.id]; ok {
			if fi, err := os.Stat(filepath.Join(h.s.root, t.fileName)); err == nil {
				t.Size = fi.Size()
				t.ModTime = fi.ModTime()
				h.s.catalog[h.id] = t
			}
		}
		h.s.mu.Unlock()
		storeLiveTraces.Dec()
	})
	return h.closeErr
}
