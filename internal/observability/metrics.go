// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons
const (
	DropAlloc   = "alloc"
	DropEnqueue = "enqueue"
)

var (
	registerOnce sync.Once

	datagramsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "telemetry",
			Name:      "datagrams_built_total",
			Help:      "Datagrams built and handed to the outbound queue.",
		},
		[]string{"type"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "telemetry",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped before transmission.",
		},
		[]string{"stream", "reason"},
	)
	samplesSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "telemetry",
			Name:      "samples_suppressed_total",
			Help:      "Sensor samples that arrived inside a stream's minimum interval.",
		},
		[]string{"stream"},
	)
	busDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "bus",
			Name:      "frames_discarded_total",
			Help:      "Bus frames discarded on receive.",
		},
		[]string{"reason"},
	)
	busHandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "bus",
			Name:      "handler_failures_total",
			Help:      "Bus handlers that returned an error or panicked.",
		},
		[]string{"id"},
	)
	uplinkCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "uplink",
			Name:      "commands_total",
			Help:      "Uplink commands decoded onboard.",
		},
		[]string{"kind", "result"},
	)
	linkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Bytes moved over the radio link.",
		},
		[]string{"direction"},
	)
	groundPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "ground",
			Name:      "packets_total",
			Help:      "Datagrams seen by ground tools.",
		},
		[]string{"type", "result"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skylink",
			Subsystem: "link",
			Name:      "queue_depth",
			Help:      "Datagrams waiting in the outbound queue.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(datagramsBuilt, datagramsDropped, samplesSuppressed,
			busDiscarded, busHandlerFailures, uplinkCommands, linkBytes, groundPackets, queueDepth)
	})
}

// Handler serves the registered metrics
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordDatagramBuilt(typeName string) {
	RegisterMetrics()
	datagramsBuilt.WithLabelValues(typeName).Inc()
}

func RecordDatagramDropped(stream, reason string) {
	RegisterMetrics()
	datagramsDropped.WithLabelValues(stream, reason).Inc()
}

func RecordSampleSuppressed(stream string) {
	RegisterMetrics()
	samplesSuppressed.WithLabelValues(stream).Inc()
}

func RecordBusDiscard(reason string) {
	RegisterMetrics()
	busDiscarded.WithLabelValues(reason).Inc()
}

func RecordBusHandlerFailure(id uint8) {
	RegisterMetrics()
	busHandlerFailures.WithLabelValues(strconv.Itoa(int(id))).Inc()
}

func RecordUplinkCommand(kind, result string) {
	RegisterMetrics()
	uplinkCommands.WithLabelValues(kind, result).Inc()
}

func RecordLinkBytes(direction string, n int) {
	RegisterMetrics()
	linkBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordGroundPacket(typeName, result string) {
	RegisterMetrics()
	groundPackets.WithLabelValues(typeName, result).Inc()
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}
