// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracecat

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/danjacques/gotracestore/discovery"

	"github.com/pkg/errors"
)

func runScan(args []string) error {
	if len(args) != 0 {
		return errors.New("scan takes no arguments")
	}

	conn, err := discovery.DefaultListenerConn().Listen()
	if err != nil {
		return errors.Wrap(err, "listening for beacons")
	}

	var l discovery.Listener
	if lg := debugLogger(); lg != nil {
		l.Logger = lg
	}
	// Start owns conn from here, including on failure.
	if err := l.Start(conn); err != nil {
		return errors.Wrap(err, "starting discovery listener")
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *scanTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *scanTime)
		defer cancel()
	}

	fmt.Fprintln(os.Stderr, "Scanning for daemons; interrupt to stop.")

	var reg discovery.Registry
	defer reg.Shutdown()
	err = discovery.ListenAndObserve(ctx, &l, &reg, func(d *discovery.Daemon) error {
		fmt.Printf("%-24s  control=%-21s  recorder=%s\n",
			d.Host(), d.ControlAddr(), d.RecorderAddr())
		return nil
	})
	switch errors.Cause(err) {
	case context.Canceled, context.DeadlineExceeded:
		return nil
	default:
		return err
	}
}
