// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import "sync"

// SessionInfo describes the producer that wrote a trace.
type SessionInfo struct {
	AppName     string
	Platform    string
	CommandLine string
}

// SessionInfoProvider exposes the most recent session description seen on
// the stream.
type SessionInfoProvider struct {
	mu   *sync.RWMutex
	info SessionInfo
	seen bool
}

// Info returns the session description and whether one has been seen.
func (p *SessionInfoProvider) Info() (SessionInfo, bool) {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	return p.info, p.seen
}

type sessionInfoAnalyzer struct {
	p     *SessionInfoProvider
	route Route
}

// NewSessionInfoAnalyzer returns an analyzer capturing Session.Info events
// and the provider it fills.
func NewSessionInfoAnalyzer() (Analyzer, *SessionInfoProvider) {
	p := &SessionInfoProvider{}
	return &sessionInfoAnalyzer{p: p}, p
}

func (a *sessionInfoAnalyzer) OnAnalysisBegin(b Builder) {
	a.route = b.RouteEvent("Session", "Info")
	a.p.mu = b.Guard()
}

func (a *sessionInfoAnalyzer) OnEvent(route Route, style EventStyle, ctx *EventCtx) {
	a.p.info = SessionInfo{
		AppName:     ctx.String("AppName"),
		Platform:    ctx.String("Platform"),
		CommandLine: ctx.String("CommandLine"),
	}
	a.p.seen = true
}

func (a *sessionInfoAnalyzer) OnAnalysisEnd() {}
