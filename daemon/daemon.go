// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package daemon defines the logic for the "tracestored" daemon app.
//
// The daemon accepts trace connections on its recorder port and records
// each to a file in the trace store. A control plane on a second port lets
// clients enumerate, read, and manage the stored traces, and an optional
// multicast beacon announces both ports to the local network.
//
// When archival is enabled, a background sweeper periodically compresses
// traces that have not been written to for a configured duration.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danjacques/gotracestore/discovery"
	"github.com/danjacques/gotracestore/recorder"
	"github.com/danjacques/gotracestore/service"
	"github.com/danjacques/gotracestore/store"
	"github.com/danjacques/gotracestore/support/network"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMetricsPort is the conventional metrics endpoint port.
const DefaultMetricsPort = 1990

// archiveSweepInterval is how often the archive sweeper scans the store
// when archival is enabled.
const archiveSweepInterval = 10 * time.Minute

var (
	storeDir = pflag.String("store-dir", "traces",
		"Directory where traces are stored. Created if it does not exist.")
	recorderAddr = pflag.String("recorder-addr", "",
		"Address ([host]:port) to accept trace connections on. "+
			"Defaults to all interfaces on the standard recorder port.")
	controlAddr = pflag.String("control-addr", "",
		"Address ([host]:port) to serve the control plane on. "+
			"Defaults to all interfaces on the standard control port.")
	metricsAddr = pflag.String("metrics-addr", fmt.Sprintf(":%d", DefaultMetricsPort),
		"Address ([host]:port) to serve Prometheus metrics and pprof on. "+
			"Empty disables the endpoint.")
	archiveAfter = pflag.Duration("archive-after", 0,
		"Compress traces that have not been written to for this long. "+
			"Zero disables archival.")
	announce = pflag.Bool("announce", true,
		"Broadcast a multicast discovery beacon on the local network.")
	hostname = pflag.String("hostname", "",
		"Host name to include in the discovery beacon. Defaults to the "+
			"system host name.")
	verbose = pflag.BoolP("verbose", "v", false,
		"Enable debug logging.")

	compression = store.CompressionFlag(store.CompressionSnappy)
)

func init() {
	pflag.Var(&compression, "compression",
		"Compression codec used to archive traces, one of: "+
			store.CompressionFlagValues()+".")
}

// Main is the main entry point.
func Main() {
	pflag.Parse()

	zcfg := zap.NewProductionConfig()
	if *verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't build logger: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	switch err := run(logger); errors.Cause(err) {
	case nil, context.Canceled:
		logger.Info("Daemon stopped.")
	default:
		logger.Fatalf("Daemon failed: %s", err)
	}
}

func run(logger *zap.SugaredLogger) error {
	// Resolve listen addresses up front so flag errors surface before any
	// sockets open.
	recorderHP, err := network.HostPort(*recorderAddr, recorder.DefaultPort)
	if err != nil {
		return errors.Wrap(err, "invalid -recorder-addr")
	}
	controlHP, err := network.HostPort(*controlAddr, service.DefaultControlPort)
	if err != nil {
		return errors.Wrap(err, "invalid -control-addr")
	}

	reg := prometheus.NewRegistry()
	store.RegisterMonitoring(reg)
	recorder.RegisterMonitoring(reg)
	service.RegisterMonitoring(reg)

	st, err := store.New(*storeDir)
	if err != nil {
		return errors.Wrap(err, "opening trace store")
	}
	st.Compression = compression.Value()
	logger.Infof("Opened trace store at %s.", st.Root())

	rec := recorder.New(st)
	rec.Logger = logger.Named("recorder")

	recLis, err := network.ListenTCP(recorderHP)
	if err != nil {
		return errors.Wrap(err, "listening for trace connections")
	}
	rec.Start(recLis)
	logger.Infof("Recording traces on %s.", recLis.Addr())

	srv := service.New(st, rec)
	srv.Logger = logger.Named("service")

	ctlLis, err := network.ListenTCP(controlHP)
	if err != nil {
		_ = rec.Stop()
		return errors.Wrap(err, "listening for control connections")
	}
	srv.Start(ctlLis)
	logger.Infof("Serving control plane on %s.", ctlLis.Addr())

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Shutdown watcher. Stopping the recorder and server closes their
	// listeners, which unblocks their accept loops.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		if err := rec.Stop(); err != nil {
			logger.Warnf("Error stopping recorder: %s", err)
		}
		if err := srv.Stop(); err != nil {
			logger.Warnf("Error stopping control plane: %s", err)
		}
		return gctx.Err()
	})

	if *metricsAddr != "" {
		msrv := metricsServer(*metricsAddr, reg)
		g.Go(func() error {
			logger.Infof("Serving metrics on http://%s/metrics.", msrv.Addr)
			if err := msrv.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics endpoint")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return msrv.Shutdown(context.Background())
		})
	}

	if *announce {
		host := *hostname
		if host == "" {
			if host, err = os.Hostname(); err != nil {
				return errors.Wrap(err, "resolving host name")
			}
		}
		beacon := discovery.NewBeacon(host,
			listenerPort(ctlLis), listenerPort(recLis))

		// A resilient sender redials the multicast socket on failure, so a
		// transient network outage only costs the beacons sent during it.
		sender := &network.ResilientDatagramSender{
			Factory: discovery.DefaultAnnouncerConn().DatagramSender,
		}
		g.Go(func() error {
			defer sender.Close()

			logger.Infof("Announcing %s.", beacon)
			ann := discovery.Announcer{Logger: logger.Named("discovery")}
			return ann.Run(gctx, sender, beacon)
		})
	}

	if *archiveAfter > 0 && st.Compression != store.CompressionNone {
		g.Go(func() error {
			return sweepArchiveLoop(gctx, logger, st, *archiveAfter)
		})
	}

	return g.Wait()
}

// metricsServer builds the HTTP server for the metrics address, exposing
// the Prometheus registry and the standard pprof endpoints.
func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return &http.Server{Addr: addr, Handler: mux}
}

// sweepArchiveLoop periodically archives traces older than olderThan until
// the context is cancelled.
func sweepArchiveLoop(c context.Context, logger *zap.SugaredLogger,
	st *store.Store, olderThan time.Duration) error {

	t := time.NewTicker(archiveSweepInterval)
	defer t.Stop()

	for {
		select {
		case <-c.Done():
			return c.Err()
		case <-t.C:
			switch n, err := st.SweepArchive(olderThan); {
			case err != nil:
				logger.Warnf("Archive sweep failed: %s", err)
			case n > 0:
				logger.Infof("Archived %d trace(s).", n)
			}
		}
	}
}

// listenerPort extracts the bound TCP port from l. It is used to announce
// the real port even when the listen address requested an ephemeral one.
func listenerPort(l net.Listener) int {
	return l.Addr().(*net.TCPAddr).Port
}
