// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package analysis decodes trace streams into typed provider state.
//
// A Session owns the full pipeline: it validates the stream header, pumps a
// transport across the per-thread streams, decodes declaration and event
// records, and dispatches each event to the analyzers subscribed to its
// (logger, event) route. Analyzers fold events into providers; readers
// consult providers concurrently under the session's read guard, so they
// never observe a half-applied event.
//
// The event schema is a versioned contract between the producer and the
// analyzer code. Accessing a field a declaration does not carry, or with
// the wrong type, is a programming error and panics; it is not a runtime
// condition to recover from.
package analysis
