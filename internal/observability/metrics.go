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
			Namespace: "ledgerctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledgerctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	ledgerConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "connect_attempts_total",
			Help:      "Handshake attempts by outcome class.",
		},
		[]string{"result"},
	)
	ledgerDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "disconnects_total",
			Help:      "Session teardowns by reason.",
		},
		[]string{"reason"},
	)
	ledgerHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "heartbeat_checks_total",
			Help:      "Heartbeat cycles by liveness.",
		},
		[]string{"alive"},
	)
	ledgerSigns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "sign_total",
			Help:      "Signing requests by result.",
		},
		[]string{"result"},
	)
	ledgerSignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "sign_duration_seconds",
			Help:      "Time from sign request to device reply, including user confirmation.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	ledgerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledgerctl",
			Subsystem: "ledger",
			Name:      "connected",
			Help:      "1 while a device session holds a public key.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			ledgerConnectAttempts,
			ledgerDisconnects,
			ledgerHeartbeats,
			ledgerSigns,
			ledgerSignDuration,
			ledgerConnected,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLedgerConnectAttempt(result string) {
	RegisterMetrics()
	ledgerConnectAttempts.WithLabelValues(result).Inc()
}

func RecordLedgerDisconnect(reason string) {
	RegisterMetrics()
	ledgerDisconnects.WithLabelValues(reason).Inc()
}

func RecordLedgerHeartbeat(alive bool) {
	RegisterMetrics()
	ledgerHeartbeats.WithLabelValues(strconv.FormatBool(alive)).Inc()
}

func RecordLedgerSign(result string, duration time.Duration) {
	RegisterMetrics()
	ledgerSigns.WithLabelValues(result).Inc()
	ledgerSignDuration.Observe(duration.Seconds())
}

func SetLedgerConnected(connected bool) {
	RegisterMetrics()
	if connected {
		ledgerConnected.Set(1)
		return
	}
	ledgerConnected.Set(0)
}
