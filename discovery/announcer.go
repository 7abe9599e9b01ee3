// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"bytes"
	"context"
	"time"

	"github.com/danjacques/gotracestore/support/fmtutil"
	"github.com/danjacques/gotracestore/support/logging"
	"github.com/danjacques/gotracestore/support/network"

	"github.com/benbjohnson/clock"
)

// DefaultAnnounceInterval is how often an Announcer rebroadcasts its beacon.
const DefaultAnnounceInterval = 5 * time.Second

// DefaultAnnouncerConn returns a connection configuration bound to the
// default beacon multicast group, suitable for broadcasting.
func DefaultAnnouncerConn() *network.MulticastConn {
	return &network.MulticastConn{Group: DefaultGroup()}
}

// Announcer periodically broadcasts a daemon's beacon.
//
// Announcer is not safe for concurrent use.
type Announcer struct {
	// Logger, if not nil, is the Logger to log Announcer status to.
	Logger logging.L

	// Clock is the time source for the rebroadcast interval. If nil, the
	// system clock is used.
	Clock clock.Clock

	// Interval is the rebroadcast period. If <= 0, DefaultAnnounceInterval
	// is used.
	Interval time.Duration

	buf bytes.Buffer
}

// Broadcast broadcasts b once.
func (a *Announcer) Broadcast(w network.DatagramSender, b *Beacon) error {
	// Clear our buffer from any previous instance.
	a.buf.Grow(network.MaxUDPSize)
	a.buf.Reset()

	if err := b.WritePacket(&a.buf); err != nil {
		return err
	}

	a.logger().Debugf("Broadcasting beacon %s:\n%s", b, fmtutil.Hex(a.buf.Bytes()))
	return w.SendDatagram(a.buf.Bytes())
}

// Run broadcasts b immediately and then every Interval until c is
// cancelled, returning c's error.
//
// Individual send failures are logged and do not stop the loop; a daemon
// keeps announcing through transient network trouble.
func (a *Announcer) Run(c context.Context, w network.DatagramSender, b *Beacon) error {
	clk := a.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := a.Interval
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}

	t := clk.Ticker(interval)
	defer t.Stop()

	for {
		if err := a.Broadcast(w, b); err != nil {
			a.logger().Warnf("Failed to broadcast beacon: %s", err)
		}

		select {
		case <-c.Done():
			return c.Err()
		case <-t.C:
		}
	}
}

func (a *Announcer) logger() logging.L { return logging.Must(a.Logger) }
