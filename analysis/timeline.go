// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"fmt"
	"sync"
)

// TimelineInterval is one completed task span.
type TimelineInterval struct {
	// TaskID is the producer-assigned task identity.
	TaskID uint64
	// Name is the task name, resolved through the definition table.
	Name string
	// Depth is the number of tasks already open when this one began.
	Depth int
	// Start and End are the bracketing event timestamps in nanoseconds.
	Start uint64
	End   uint64
}

// TimelineProvider accumulates completed task intervals from paired
// Tasks.Begin / Tasks.End events.
type TimelineProvider struct {
	mu        *sync.RWMutex
	open      map[uint64]*TimelineInterval
	intervals []TimelineInterval
	unmatched int
}

// Intervals returns a copy of the completed intervals, in completion order.
func (p *TimelineProvider) Intervals() []TimelineInterval {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	out := make([]TimelineInterval, len(p.intervals))
	copy(out, p.intervals)
	return out
}

// OpenCount returns the number of tasks begun but not yet ended.
func (p *TimelineProvider) OpenCount() int {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	return len(p.open)
}

// Unmatched returns the number of End events that paired with no open
// task.
func (p *TimelineProvider) Unmatched() int {
	if p.mu != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	return p.unmatched
}

type timelineAnalyzer struct {
	p     *TimelineProvider
	begin Route
	end   Route
}

// NewTimelineAnalyzer returns an analyzer pairing Tasks.Begin and
// Tasks.End events and the provider it fills.
func NewTimelineAnalyzer() (Analyzer, *TimelineProvider) {
	p := &TimelineProvider{open: map[uint64]*TimelineInterval{}}
	return &timelineAnalyzer{p: p}, p
}

func (a *timelineAnalyzer) OnAnalysisBegin(b Builder) {
	a.begin = b.RouteEvent("Tasks", "Begin")
	a.end = b.RouteEvent("Tasks", "End")
	a.p.mu = b.Guard()
}

func (a *timelineAnalyzer) OnEvent(route Route, style EventStyle, ctx *EventCtx) {
	switch route {
	case a.begin:
		id := ctx.U64("Id")
		nameID := ctx.U32("NameId")
		name, ok := ctx.Definitions().Lookup(nameID)
		if !ok {
			name = fmt.Sprintf("task#%d", nameID)
		}
		a.p.open[id] = &TimelineInterval{
			TaskID: id,
			Name:   name,
			Depth:  len(a.p.open),
			Start:  ctx.Time(),
		}

	case a.end:
		id := ctx.U64("Id")
		iv := a.p.open[id]
		if iv == nil {
			a.p.unmatched++
			return
		}
		iv.End = ctx.Time()
		a.p.intervals = append(a.p.intervals, *iv)
		delete(a.p.open, id)
	}
}

func (a *timelineAnalyzer) OnAnalysisEnd() {}
