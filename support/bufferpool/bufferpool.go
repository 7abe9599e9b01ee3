// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool provides reusable fixed-size byte buffers.
//
// Relay and streaming paths each hold exactly one buffer for their lifetime,
// so buffers are leased with exclusive ownership rather than reference
// counted.
package bufferpool

import (
	"sync"
)

// Pool maintains a pool of fixed-size buffers, allocating a new one when none
// is available.
type Pool struct {
	// Size is the size in bytes of the buffers leased by this pool.
	Size int

	base sync.Pool
}

// Lease returns a buffer of the pool's configured size.
//
// The caller owns the buffer exclusively and must return it with Release when
// finished. A leaked buffer is not reused but is otherwise harmless.
func (p *Pool) Lease() *Buffer {
	b, ok := p.base.Get().(*Buffer)
	if !ok {
		b = &Buffer{
			bytes: make([]byte, p.Size),
		}
	}
	b.pool = p
	return b
}

// Buffer is a byte buffer leased from a Pool.
type Buffer struct {
	bytes []byte
	pool  *Pool
}

// Bytes returns the buffer's full byte slice.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Release returns the buffer to its pool.
//
// The buffer must not be used after Release, and must be released only once.
func (b *Buffer) Release() {
	if b.pool == nil {
		panic("bufferpool: buffer released twice")
	}
	pool := b.pool
	b.pool = nil
	pool.base.Put(b)
}
