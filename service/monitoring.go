// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	servicePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracestore_service_peers",
		Help: "Count of connected control plane peers.",
	})

	serviceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracestore_service_requests",
		Help: "Count of control plane requests by operation.",
	}, []string{"op"})

	serviceBadFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_service_bad_frames",
		Help: "Count of malformed or oversized request frames.",
	})

	serviceStreamedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracestore_service_streamed_bytes",
		Help: "Count of trace bytes streamed to peers.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		servicePeers,
		serviceRequests,
		serviceBadFrames,
		serviceStreamedBytes,
	)
}
