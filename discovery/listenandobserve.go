// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"context"
)

// ListenAndObserve is a convenience function to listen for daemon beacons on
// l and feed every sighting to reg.
//
// ListenAndObserve will run until c is cancelled, or the fn callback returns
// an error.
//
// If a new daemon is observed, fn will be called with that daemon.
func ListenAndObserve(c context.Context, l *Listener, reg *Registry, fn func(d *Daemon) error) error {
	for {
		s, err := l.Accept(c)
		if err != nil {
			// Note: may be a Context cancellation / deadline.
			return err
		}
		if d, isNew := reg.Observe(s); isNew && fn != nil {
			if err := fn(d); err != nil {
				return err
			}
		}
	}
}
