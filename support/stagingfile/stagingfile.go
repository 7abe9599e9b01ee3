// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingfile builds files through atomic filesystem operations.
//
// A staged file is written in a temporary location and becomes visible at its
// destination only on Commit, so directory scanners never observe a file that
// is still being written.
package stagingfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// F is a file staged in a temporary location until committed.
//
// F implements io.Writer. Once Commit or Destroy has been called, F is spent
// and must not be used further.
type F struct {
	f    *os.File
	path string
}

// New creates a staged file underneath of tempDir with the given name prefix.
//
// tempDir must be on the same filesystem as the eventual Commit destination
// for the final rename to be atomic. An empty tempDir uses the system
// default, which usually violates that requirement; callers should stage
// next to the destination.
func New(tempDir, prefix string) (*F, error) {
	f, err := os.CreateTemp(tempDir, prefix)
	if err != nil {
		return nil, err
	}
	return &F{
		f:    f,
		path: f.Name(),
	}, nil
}

// Name returns the staged file's temporary path.
func (sf *F) Name() string { return sf.path }

// Write writes to the staged file.
func (sf *F) Write(d []byte) (int, error) {
	if sf.f == nil {
		return 0, errors.New("staging file is spent")
	}
	return sf.f.Write(d)
}

// Destroy abandons the staged file, deleting its temporary content.
//
// Destroy after a successful Commit is a no-op, so it can be deferred
// unconditionally.
func (sf *F) Destroy() error {
	if sf.path == "" {
		return nil
	}

	if sf.f != nil {
		_ = sf.f.Close()
		sf.f = nil
	}
	if err := os.Remove(sf.path); err != nil {
		return err
	}
	sf.path = ""
	return nil
}

// Commit finalizes the staged file, syncing it to disk and atomically moving
// it to dest. An existing file at dest is replaced.
func (sf *F) Commit(dest string) error {
	if sf.f == nil {
		return errors.New("staging file is spent")
	}

	// Flush to stable storage before the rename makes it visible.
	if err := sf.f.Sync(); err != nil {
		_ = sf.f.Close()
		return errors.Wrap(err, "syncing staged file")
	}
	if err := sf.f.Close(); err != nil {
		sf.f = nil
		return errors.Wrap(err, "closing staged file")
	}
	sf.f = nil

	if err := os.Rename(sf.path, dest); err != nil {
		return errors.Wrapf(err, "moving staged file into place (%q => %q)", sf.path, dest)
	}
	sf.path = ""
	return nil
}

// CommitSibling commits the staged file next to base, swapping the extension
// for ext. It returns the final path.
func (sf *F) CommitSibling(base, ext string) (string, error) {
	dest := base[:len(base)-len(filepath.Ext(base))] + ext
	if err := sf.Commit(dest); err != nil {
		return "", err
	}
	return dest, nil
}
