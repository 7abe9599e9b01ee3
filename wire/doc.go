// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package wire defines the trace stream byte protocol.
//
// A trace stream is what a producer sends over one recorder connection, and
// therefore also exactly what a recorded trace file contains. It consists
// of:
//
//	- A fixed stream header, identifying the protocol and its version.
//	- A sequence of packets. Each packet carries a thread id, a payload
//	  size, and up to MaxPacketPayload bytes of payload. Packets from
//	  different threads interleave freely on the wire; reassembly into
//	  per-thread streams is the transport package's job.
//
// A packet whose thread id word has the compressed bit set carries an LZ4
// block instead of raw bytes, prefixed with its decoded size. Compression is
// applied by the producer; recorders relay and persist all bytes verbatim.
//
// Reassembled thread streams contain event records. A record with uid 0 is
// a declaration: it introduces a new event uid along with its logger name,
// event name, and typed field list. Any other uid refers back to a prior
// declaration. Declarations may appear on any thread and apply to the whole
// stream.
//
// The Writer in this package is the producing side of all of the above. It
// is used by instrumented processes, tools, and tests to synthesize valid
// streams.
package wire
