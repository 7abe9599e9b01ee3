// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package codec compresses and decompresses opaque byte blocks.
//
// Blocks use the LZ4 block format at the fast compression level: traces are
// recorded in real time at high event rates, so throughput wins over ratio.
// Each call is fully self-contained. There is no streaming state, no
// dictionary carried between blocks, and no embedded header; the caller
// tracks the uncompressed size out of band.
package codec

import (
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// ErrShortBuffer is returned by Encode when dst cannot hold a worst-case
// encoded block. Size dst with Bound to avoid it.
var ErrShortBuffer = errors.New("codec: destination buffer is too small")

// compressors caches block compressor scratch state between Encode calls.
var compressors = sync.Pool{
	New: func() interface{} { return new(lz4.Compressor) },
}

// Bound returns the worst-case encoded size for a block of n source bytes.
func Bound(n int) int { return lz4.CompressBlockBound(n) }

// Encode compresses src into dst as one self-contained block and returns the
// number of bytes written.
//
// dst must have room for Bound(len(src)) bytes. A return of 0 with a nil
// error means src did not shrink under compression; the caller should
// transmit it raw.
func Encode(src, dst []byte) (int, error) {
	if len(dst) < Bound(len(src)) {
		return 0, ErrShortBuffer
	}

	c := compressors.Get().(*lz4.Compressor)
	defer compressors.Put(c)

	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return 0, errors.Wrap(err, "compressing block")
	}
	return n, nil
}

// Decode decompresses the block in src into dst and returns the number of
// bytes written.
//
// Decode never writes past the end of dst. Malformed or truncated input, or
// a decoded size larger than dst, returns 0 and an error; the caller should
// discard the block.
func Decode(src, dst []byte) (int, error) {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return 0, errors.Wrap(err, "decompressing block")
	}
	return n, nil
}
