// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package discovery implements UDP multicast discovery of trace daemons.
//
// A daemon runs an Announcer, which periodically multicasts a Beacon naming
// its control and recorder endpoints. Frontends run a Listener to receive
// beacons, usually feeding a Registry, which tracks live daemons and expires
// entries that stop announcing.
//
// Listener and Announcer are low-level primitives; most users will want
// ListenAndObserve with a Registry.
package discovery
