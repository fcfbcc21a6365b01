// Package telemetry holds the Prometheus metrics shared by nodes and the
// collector.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightswarm"

var (
	Registry = prometheus.NewRegistry()

	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Frames decoded, by packet kind.",
		},
		[]string{"kind"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames rejected by the decoder, by reason.",
		},
		[]string{"reason"},
	)

	PacketsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Frames sent, by packet kind.",
		},
		[]string{"kind"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed sends, by packet kind.",
		},
		[]string{"kind"},
	)

	RoleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_transitions_total",
			Help:      "Role changes of the local node, by new role.",
		},
		[]string{"to"},
	)

	IsMaster = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_master",
			Help:      "1 while the local node considers itself Master.",
		},
	)

	LivePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_peers",
			Help:      "Peer slots holding a live record, self excluded.",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one coordinator cycle.",
			// 100us .. ~400ms
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 13),
		},
	)

	CollectorSnapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_snapshots_total",
			Help:      "Snapshots received by the collector, by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and firmware).",
		},
		[]string{"version", "firmware"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		PacketsReceived, DecodeErrors, PacketsSent, SendErrors,
		RoleTransitions, IsMaster, LivePeers, CycleDuration,
		CollectorSnapshots, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version, firmware string) {
	buildInfo.WithLabelValues(version, firmware).Set(1)
}

// SetMaster records the local role.
func SetMaster(master bool) {
	if master {
		IsMaster.Set(1)
		return
	}
	IsMaster.Set(0)
}
