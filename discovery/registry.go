// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// Daemon is one discovered trace daemon.
//
// A Daemon is done once it expires from its Registry or is explicitly
// unregistered; its DoneC channel is then closed.
//
// Daemon is safe for concurrent use.
type Daemon struct {
	id string

	mu       sync.Mutex
	beacon   *Beacon
	source   *net.UDPAddr
	lastSeen time.Time

	doneOnce sync.Once
	doneC    chan struct{}
}

func newDaemon(id string) *Daemon {
	return &Daemon{
		id:    id,
		doneC: make(chan struct{}),
	}
}

// ID returns the daemon's registry identity.
func (d *Daemon) ID() string { return d.id }

// Host returns the host name the daemon announced.
func (d *Daemon) Host() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beacon.Host
}

// ControlAddr returns the address of the daemon's control endpoint.
func (d *Daemon) ControlAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return net.JoinHostPort(d.source.IP.String(), strconv.Itoa(int(d.beacon.ControlPort)))
}

// RecorderAddr returns the address of the daemon's trace intake endpoint.
func (d *Daemon) RecorderAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return net.JoinHostPort(d.source.IP.String(), strconv.Itoa(int(d.beacon.RecorderPort)))
}

// LastSeen returns when the daemon's beacon was last observed.
func (d *Daemon) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// DoneC is closed when the daemon expires or is unregistered.
func (d *Daemon) DoneC() <-chan struct{} { return d.doneC }

// IsDone returns whether the daemon has expired or been unregistered.
func (d *Daemon) IsDone() bool {
	select {
	case <-d.doneC:
		return true
	default:
		return false
	}
}

func (d *Daemon) markDone() {
	d.doneOnce.Do(func() { close(d.doneC) })
}

// update refreshes the daemon's announcement state.
func (d *Daemon) update(now time.Time, s *Sighting) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beacon = s.Beacon
	d.source = s.Source
	d.lastSeen = now
}

// Registry tracks sighted daemons, instantiating a Daemon instance for each
// unique identity.
//
// If successive beacons are observed for the same daemon, Registry updates
// the daemon's announcement values.
//
// Registry automatically expires daemons that haven't been observed within
// its Expiration threshold. When a daemon is expired, it will have its DoneC
// channel closed, marking it done.
//
// Registry is safe for concurrent use.
type Registry struct {
	// Expiration is the amount of time after which an unobserved daemon is
	// considered to no longer exist.
	//
	// If <= 0, a daemon will never expire once observed.
	Expiration time.Duration

	// Protects the following data members.
	mu sync.Mutex
	// Map of active daemons.
	daemons map[string]*registryEntry
}

// Shutdown shuts down Registry monitoring and marks all tracked daemons
// done.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, e := range reg.daemons {
		e.daemon.markDone()
		reg.unregisterEntryLocked(e)
	}
}

// Daemons returns the list of current daemons, in no particular order.
func (reg *Registry) Daemons() []*Daemon {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	daemons := make([]*Daemon, 0, len(reg.daemons))
	for _, e := range reg.daemons {
		if !e.daemon.IsDone() {
			daemons = append(daemons, e.daemon)
		}
	}
	return daemons
}

// Observe observes the supplied sighting. This will add the daemon if it has
// not been observed before, or refresh its timeout and metadata if it has.
func (reg *Registry) Observe(s *Sighting) (d *Daemon, isNew bool) {
	id := s.ID()
	now := time.Now()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Unregister any entries that are currently done, under lock. This
	// prevents a race where the daemon is done, and will be unregistered, but
	// it is then resighted, causing the registration to fail as duplicate and
	// be missed.
	reg.unregisterDoneEntriesLocked()

	// Do we already have an entry for this daemon?
	e := reg.daemons[id]
	if e == nil {
		// This is a new entry.
		e = &registryEntry{
			reg:               reg,
			daemon:            newDaemon(id),
			daemonID:          id,
			updateExpirationC: make(chan time.Time, 1),
		}

		// Unregister this entry when it expires.
		go e.manageEntryLifecycle()

		if reg.daemons == nil {
			reg.daemons = make(map[string]*registryEntry)
		}
		reg.daemons[id] = e
		isNew = true
	}

	// Observe the entry and update its timeout and announcement values.
	e.daemon.update(now, s)
	if reg.Expiration > 0 {
		// Non-blocking: if the entry's lifecycle has already stopped draining,
		// it is on its way out and will be purged on the next observation.
		select {
		case e.updateExpirationC <- now.Add(reg.Expiration):
		default:
		}
	}

	d = e.daemon
	return
}

// Unregister unregisters and marks done the specified daemon.
//
// If the daemon is not currently registered, Unregister will do nothing.
func (reg *Registry) Unregister(d *Daemon) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	e := reg.daemons[d.ID()]
	if e != nil {
		// Explicitly mark the daemon as done and unregister it.
		//
		// This follows the same path done in manageEntryLifecycle's defer
		// statements when a daemon naturally expires.
		e.daemon.markDone()
		reg.unregisterEntryLocked(e)
	}
}

func (reg *Registry) unregisterDoneEntriesLocked() {
	for _, e := range reg.daemons {
		if e.daemon.IsDone() {
			reg.unregisterEntryLocked(e)
		}
	}
}

func (reg *Registry) unregisterEntry(e *registryEntry) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.unregisterEntryLocked(e)
}

func (reg *Registry) unregisterEntryLocked(e *registryEntry) {
	if re := reg.daemons[e.daemonID]; re != e {
		// This daemon is already unregistered. This can happen if the entry
		// self-unregisters while it's shutting itself down, but it's already
		// been explicitly deleted.
		return
	}

	// Entry can no longer receive updates.
	close(e.updateExpirationC)

	// Remove this entry from the daemons map.
	delete(reg.daemons, e.daemonID)
}

type registryEntry struct {
	// reg is the parent registry.
	reg *Registry

	// daemon is the discovered daemon entry.
	daemon *Daemon
	// daemonID is a copy of daemon's ID.
	daemonID string

	// updateExpirationC is an internal channel used to send new expiration
	// times to the entry's lifecycle goroutine.
	updateExpirationC chan time.Time
}

func (e *registryEntry) manageEntryLifecycle() {
	// When we finish lifecycle management, unregister the entry and mark it
	// done.
	defer func() {
		e.daemon.markDone()
		e.reg.unregisterEntry(e)
	}()

	var t *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-e.daemon.DoneC():
			// The daemon has been marked done externally.
			return

		case <-timerC:
			// This entry has expired.
			return

		case expireTime, ok := <-e.updateExpirationC:
			if !ok {
				// This entry has been closed.
				return
			}

			// Calculate the expiration delta.
			expirationDelta := time.Until(expireTime)
			if expirationDelta < 0 {
				// We are already expired!
				return
			}

			// Initialize or reset our expiration timer.
			if t == nil {
				// First run, initialize the timer.
				t = time.NewTimer(expirationDelta)
				defer t.Stop()
			} else {
				// Reset the timer for the next expiration.
				if !t.Stop() {
					<-t.C
				}
				t.Reset(expirationDelta)
			}
			timerC = t.C
		}
	}
}
