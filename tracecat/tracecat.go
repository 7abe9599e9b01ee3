// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tracecat defines the logic for the "tracecat" command line app.
//
// tracecat is a companion tool for the trace store daemon. It can list and
// inspect the daemon's stored traces, copy their raw streams out, decode a
// trace into a human readable event summary, and scan the local network for
// announcing daemons.
package tracecat

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danjacques/gotracestore/service"
	"github.com/danjacques/gotracestore/store"
	"github.com/danjacques/gotracestore/support/fmtutil"
	"github.com/danjacques/gotracestore/support/network"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	addr = pflag.StringP("addr", "a", "",
		"Control plane address ([host]:port) of the daemon. Defaults to "+
			"localhost on the standard control port.")
	follow = pflag.BoolP("follow", "f", false,
		"With dump or events on a live trace, keep reading as new data "+
			"arrives instead of stopping at the current end.")
	scanTime = pflag.Duration("scan-time", 0,
		"With scan, stop after this long. Zero scans until interrupted.")
	verbose = pflag.BoolP("verbose", "v", false,
		"Enable debug logging.")
)

// timeFormat renders catalog timestamps in local time.
const timeFormat = "2006-01-02 15:04:05"

type command struct {
	name string
	args string
	help string
	run  func(args []string) error
}

var commands = []command{
	{"list", "", "List the traces in the daemon's store.", runList},
	{"info", "<trace>", "Show catalog details for one trace.", runInfo},
	{"status", "", "Show the daemon's live recording status.", runStatus},
	{"dump", "<trace> [file]", "Copy a trace's raw stream to a file or stdout.", runDump},
	{"events", "<trace|file>", "Decode a trace and summarize its events.", runEvents},
	{"scan", "", "Listen for daemons announcing on the local network.", runScan},
}

// Main is the main entry point.
func Main() {
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	name, rest := args[0], args[1:]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(rest); err != nil {
			fmt.Fprintf(os.Stderr, "tracecat: %s\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "tracecat: unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n\nCommands:\n",
		filepath.Base(os.Args[0]))
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-22s %s\n",
			strings.TrimSpace(cmd.name+" "+cmd.args), cmd.help)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", pflag.CommandLine.FlagUsages())
}

// dialControl connects to the daemon's control plane.
func dialControl() (*service.Client, error) {
	target := *addr
	if target == "" {
		target = "localhost"
	}
	hp, err := network.HostPort(target, service.DefaultControlPort)
	if err != nil {
		return nil, errors.Wrap(err, "invalid -addr")
	}
	return service.Dial(hp)
}

// resolveTrace maps a trace argument to its catalog id. A numeric argument
// is used directly; anything else is treated as a trace name.
func resolveTrace(v string) uint32 {
	if id, err := strconv.ParseUint(v, 0, 32); err == nil {
		return uint32(id)
	}
	return store.TraceID(v)
}

// debugLogger returns a logger for the support packages' Logger fields. It
// is nil unless -verbose is set, leaving those packages quiet by default.
func debugLogger() *zap.SugaredLogger {
	if !*verbose {
		return nil
	}
	zl, err := zap.NewDevelopment()
	if err != nil {
		return nil
	}
	return zl.Sugar()
}

// traceState summarizes a catalog entry's lifecycle for display.
func traceState(ti service.TraceInfo) string {
	switch {
	case ti.Live:
		return "live"
	case ti.Archived:
		return "archived"
	default:
		return "idle"
	}
}

func runList(args []string) error {
	if len(args) != 0 {
		return errors.New("list takes no arguments")
	}

	client, err := dialControl()
	if err != nil {
		return err
	}
	defer client.Close()

	traces, err := client.ListTraces()
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Println("The store is empty.")
		return nil
	}

	fmt.Printf("%-10s  %10s  %-19s  %-8s  %s\n",
		"ID", "SIZE", "MODIFIED", "STATE", "NAME")
	for _, t := range traces {
		fmt.Printf("%-10d  %10s  %-19s  %-8s  %s\n",
			t.ID, fmtutil.Size(t.Size), t.ModTime.Local().Format(timeFormat),
			traceState(t), t.Name)
	}
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("info takes exactly one trace argument")
	}

	client, err := dialControl()
	if err != nil {
		return err
	}
	defer client.Close()

	ti, err := client.TraceInfo(resolveTrace(args[0]))
	if err != nil {
		return err
	}

	fmt.Printf("Name:     %s\n", ti.Name)
	fmt.Printf("ID:       %d\n", ti.ID)
	fmt.Printf("Size:     %s (%d byte(s))\n", fmtutil.Size(ti.Size), ti.Size)
	fmt.Printf("Modified: %s\n", ti.ModTime.Local().Format(timeFormat))
	fmt.Printf("State:    %s\n", traceState(*ti))
	return nil
}

func runStatus(args []string) error {
	if len(args) != 0 {
		return errors.New("status takes no arguments")
	}

	client, err := dialControl()
	if err != nil {
		return err
	}
	defer client.Close()

	si, err := client.Status()
	if err != nil {
		return err
	}

	if !si.Recording {
		fmt.Println("The daemon is not recording.")
		return nil
	}
	fmt.Printf("Recording %d connection(s), %s total.\n",
		si.Active, fmtutil.Size(si.TotalBytes))
	for _, r := range si.Relays {
		fmt.Printf("  %s <- %s: %s, %s (%s)\n",
			r.TraceName, r.Remote, r.State, fmtutil.Size(r.Bytes),
			time.Since(r.Started).Truncate(time.Second))
	}
	return nil
}

func runDump(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("dump takes a trace argument and an optional output file")
	}

	client, err := dialControl()
	if err != nil {
		return err
	}
	defer client.Close()

	id := resolveTrace(args[0])
	ts, err := openTraceStream(client, id)
	if err != nil {
		return err
	}
	defer ts.Close()

	out := os.Stdout
	toFile := len(args) == 2 && args[1] != "-"
	if toFile {
		if out, err = os.Create(args[1]); err != nil {
			return errors.Wrap(err, "creating output file")
		}
		defer out.Close()
	}

	n, err := io.Copy(out, ts)
	if err != nil {
		return errors.Wrapf(err, "dumping trace %d", id)
	}
	if toFile {
		fmt.Fprintf(os.Stderr, "Wrote %s to %s.\n", fmtutil.Size(n), args[1])
	}
	return nil
}

// openTraceStream opens the trace's raw stream, honoring -follow.
func openTraceStream(client *service.Client, id uint32) (*service.TraceStream, error) {
	if *follow {
		return client.WatchTrace(id)
	}
	return client.ReadTrace(id)
}
