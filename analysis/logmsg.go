// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"fmt"
	"sync"
)

// LogRecord is one decoded log line.
type LogRecord struct {
	// Time is the event timestamp in nanoseconds.
	Time uint64
	// Verbosity is the producer's severity ordinal.
	Verbosity uint8
	// Message is the log text, resolved through the definition table.
	Message string
}

// LogProvider accumulates Log.Message events in arrival order.
type LogProvider struct {
	mu      *sync.RWMutex
	records []LogRecord
}

// Len returns the number of records seen so far.
func (p *LogProvider) Len() int {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	return len(p.records)
}

// Records returns a copy of the accumulated records.
func (p *LogProvider) Records() []LogRecord {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	out := make([]LogRecord, len(p.records))
	copy(out, p.records)
	return out
}

type logAnalyzer struct {
	p     *LogProvider
	route Route
}

// NewLogAnalyzer returns an analyzer capturing Log.Message events and the
// provider it fills.
func NewLogAnalyzer() (Analyzer, *LogProvider) {
	p := &LogProvider{}
	return &logAnalyzer{p: p}, p
}

func (a *logAnalyzer) OnAnalysisBegin(b Builder) {
	a.route = b.RouteEvent("Log", "Message")
	a.p.mu = b.Guard()
}

func (a *logAnalyzer) OnEvent(route Route, style EventStyle, ctx *EventCtx) {
	msgID := ctx.U32("MessageId")
	msg, ok := ctx.Definitions().Lookup(msgID)
	if !ok {
		msg = fmt.Sprintf("message#%d", msgID)
	}
	a.p.records = append(a.p.records, LogRecord{
		Time:      ctx.Time(),
		Verbosity: ctx.U8("Verbosity"),
		Message:   msg,
	})
}

func (a *logAnalyzer) OnAnalysisEnd() {}
