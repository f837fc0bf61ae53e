package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	deviceLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "device",
			Name:      "lines_total",
			Help:      "Complete lines framed from the device channel.",
		},
	)
	deviceConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "device",
			Name:      "connects_total",
			Help:      "Successful device channel connects.",
		},
	)
	deviceBytesDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signlink",
			Subsystem: "device",
			Name:      "bytes_dropped",
			Help:      "Bytes discarded by the framer's pending-line cap.",
		},
	)
	messagesDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "router",
			Name:      "messages_deduped_total",
			Help:      "Device messages suppressed as immediate repeats.",
		},
	)
	emergencies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "router",
			Name:      "emergencies_total",
			Help:      "Emergency sentinel messages received.",
		},
	)
	peerCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "peer",
			Name:      "identity_collisions_total",
			Help:      "Host identity collisions at the relay.",
		},
	)
	peerConnErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "peer",
			Name:      "connection_errors_total",
			Help:      "Peer connection level failures.",
		},
	)
	peerRepairTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signlink",
			Subsystem: "peer",
			Name:      "repair_ticks_total",
			Help:      "Repair loop ticks that found no open connection.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			deviceLines, deviceConnects, deviceBytesDropped,
			messagesDeduped, emergencies,
			peerCollisions, peerConnErrors, peerRepairTicks,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDeviceLine() {
	RegisterMetrics()
	deviceLines.Inc()
}

func RecordDeviceConnect() {
	RegisterMetrics()
	deviceConnects.Inc()
}

func SetDeviceBytesDropped(total uint64) {
	RegisterMetrics()
	deviceBytesDropped.Set(float64(total))
}

func RecordMessageDeduped() {
	RegisterMetrics()
	messagesDeduped.Inc()
}

func RecordEmergency() {
	RegisterMetrics()
	emergencies.Inc()
}

func RecordPeerCollision() {
	RegisterMetrics()
	peerCollisions.Inc()
}

func RecordPeerConnError() {
	RegisterMetrics()
	peerConnErrors.Inc()
}

func RecordPeerRepairTick() {
	RegisterMetrics()
	peerRepairTicks.Inc()
}
