// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceivedTotal counts datagrams read from the socket.
	PacketsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopad_host_packets_received_total",
			Help: "Total number of datagrams received by the host",
		},
	)

	// PacketsDroppedTotal counts dropped datagrams by pipeline stage.
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopad_host_packets_dropped_total",
			Help: "Total number of datagrams dropped, by reason",
		},
		[]string{"reason"},
	)

	// PacketsAppliedTotal counts frames applied to a virtual controller.
	PacketsAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopad_host_packets_applied_total",
			Help: "Total number of frames applied to virtual controllers",
		},
	)

	// AdmissionRejectionsTotal counts admission-control rejections by reason.
	AdmissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopad_security_rejections_total",
			Help: "Total number of packets rejected by the admission controller",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coopad_host_active_sessions",
			Help: "Number of currently active sessions",
		},
	)

	// SinkErrorsTotal counts virtual-controller backend failures.
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopad_sink_errors_total",
			Help: "Total number of virtual-controller backend errors",
		},
		[]string{"op"},
	)

	// SessionLatencyMs observes per-packet latency estimates.
	SessionLatencyMs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coopad_session_latency_ms",
			Help:    "Estimated sender-to-host latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5ms to ~1s
		},
	)
)

// Drop reasons used with PacketsDroppedTotal.
const (
	DropMalformed = "malformed"
	DropRejected  = "rejected"
	DropDuplicate = "duplicate"
	DropCapacity  = "capacity"
	DropNotOwner  = "not_owner"
)
