// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysisEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_analysis_events",
		Help: "Count of events decoded by analysis sessions.",
	})

	analysisDeclarations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_analysis_declarations",
		Help: "Count of event declarations installed.",
	})

	analysisDefinitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_analysis_definitions",
		Help: "Count of distinct definitions interned.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		analysisEvents,
		analysisDeclarations,
		analysisDefinitions,
	)
}
