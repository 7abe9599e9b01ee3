// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

// Well-known events carrying string definitions.
const (
	// StringsLogger is the logger name of the definition channel.
	StringsLogger = "Strings"
	// StaticStringEvent interns one string: fields Id (u32) and Value
	// (string).
	StaticStringEvent = "StaticString"
)

// stringsAnalyzer feeds StaticString events into the session definition
// table. Every session runs one; it registers first so definitions land
// before any analyzer that resolves them in the same dispatch order.
type stringsAnalyzer struct {
	defs  *Definitions
	route Route
}

func (sa *stringsAnalyzer) OnAnalysisBegin(b Builder) {
	sa.route = b.RouteEvent(StringsLogger, StaticStringEvent)
}

func (sa *stringsAnalyzer) OnEvent(route Route, style EventStyle, ctx *EventCtx) {
	sa.defs.Define(ctx.U32("Id"), ctx.String("Value"))
}

func (sa *stringsAnalyzer) OnAnalysisEnd() {}
