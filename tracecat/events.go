// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracecat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/danjacques/gotracestore/analysis"

	"github.com/pkg/errors"
)

func runEvents(args []string) error {
	if len(args) != 1 {
		return errors.New("events takes exactly one trace or file argument")
	}

	src, name, err := openEventSource(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	infoA, info := analysis.NewSessionInfoAnalyzer()
	tlA, timeline := analysis.NewTimelineAnalyzer()
	logA, logs := analysis.NewLogAnalyzer()

	s := analysis.NewSession(infoA, tlA, logA)
	if l := debugLogger(); l != nil {
		s.Logger = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// An interrupt during -follow still summarizes whatever was decoded.
	err = s.Run(ctx, bufio.NewReader(src))
	if err != nil && errors.Cause(err) != context.Canceled {
		return errors.Wrapf(err, "analyzing %s", name)
	}

	printEventSummary(os.Stdout, s, info, timeline, logs)
	return nil
}

// openEventSource opens the argument as a local stream file if one exists,
// and otherwise asks the daemon for the named trace. Closing the returned
// stream releases the underlying file or connection.
func openEventSource(v string) (io.ReadCloser, string, error) {
	if fi, err := os.Stat(v); err == nil && fi.Mode().IsRegular() {
		f, err := os.Open(v)
		if err != nil {
			return nil, "", err
		}
		return f, filepath.Base(v), nil
	}

	client, err := dialControl()
	if err != nil {
		return nil, "", err
	}
	ts, err := openTraceStream(client, resolveTrace(v))
	if err != nil {
		client.Close()
		return nil, "", err
	}
	return ts, v, nil
}

func printEventSummary(w io.Writer, s *analysis.Session,
	info *analysis.SessionInfoProvider, timeline *analysis.TimelineProvider,
	logs *analysis.LogProvider) {

	if si, ok := info.Info(); ok {
		fmt.Fprintf(w, "Session: %s on %s\n", si.AppName, si.Platform)
		if si.CommandLine != "" {
			fmt.Fprintf(w, "  Command line: %s\n", si.CommandLine)
		}
		fmt.Fprintln(w)
	}

	ivs := timeline.Intervals()
	fmt.Fprintf(w, "Timeline: %d completed interval(s)", len(ivs))
	if n := timeline.OpenCount(); n > 0 {
		fmt.Fprintf(w, ", %d still open", n)
	}
	if n := timeline.Unmatched(); n > 0 {
		fmt.Fprintf(w, ", %d unmatched end(s)", n)
	}
	fmt.Fprintln(w)
	for _, iv := range ivs {
		fmt.Fprintf(w, "  %s[%d..%d] %s (%d tick(s))\n",
			strings.Repeat("  ", iv.Depth), iv.Start, iv.End, iv.Name,
			iv.End-iv.Start)
	}

	recs := logs.Records()
	fmt.Fprintf(w, "\nLog: %d message(s)\n", len(recs))
	for _, r := range recs {
		fmt.Fprintf(w, "  [%d] %d: %s\n", r.Verbosity, r.Time, r.Message)
	}

	var defined int
	s.View(func() { defined = s.Definitions().Len() })
	fmt.Fprintf(w, "\nStrings interned: %d\n", defined)
}
