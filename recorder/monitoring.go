// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recorderAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_recorder_accepted",
		Help: "Count of accepted producer connections.",
	})

	recorderRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_recorder_rejected",
		Help: "Count of connections dropped because no trace could be allocated.",
	})

	recorderActiveRelays = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracestore_recorder_active_relays",
		Help: "Count of relays in the live list.",
	})

	recorderRelayedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_recorder_relayed_bytes",
		Help: "Count of bytes copied from sockets to trace files.",
	})

	recorderRelayErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracestore_recorder_relay_errors",
		Help: "Count of relay terminations by failing leg.",
	}, []string{"leg"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		recorderAccepted,
		recorderRejected,
		recorderActiveRelays,
		recorderRelayedBytes,
		recorderRelayErrors,
	)
}
