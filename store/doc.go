// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package store keeps the on-disk catalog of trace files.
//
// A Store is rooted at a single directory. New traces are written through
// Handles handed out by Create; everything else is derived from directory
// scans, so the directory itself is the source of truth and survives daemon
// restarts. Finished traces can be archived, rewriting them through a block
// compressor without changing their catalog identity.
package store
