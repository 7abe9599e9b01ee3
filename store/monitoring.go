// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeTraces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracestore_store_traces",
		Help: "Count of traces in the catalog as of the last scan.",
	})

	storeLiveTraces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracestore_store_live_traces",
		Help: "Count of traces currently being recorded.",
	})

	storeWrittenBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_store_written_bytes",
		Help: "Count of trace bytes written through store handles.",
	})

	storeArchives = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_store_archives",
		Help: "Count of traces rewritten into archived form.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		storeTraces,
		storeLiveTraces,
		storeWrittenBytes,
		storeArchives,
	)
}
