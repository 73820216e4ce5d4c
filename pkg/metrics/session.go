package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionMetrics records connection lifecycle and per-command activity for
// the filedrop server. It satisfies server.MetricsRecorder.
type SessionMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	commands            *prometheus.CounterVec
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
}

// NewSessionMetrics creates a Prometheus-backed SessionMetrics.
//
// Returns nil when metrics are disabled (InitRegistry not called); all
// recorder methods are nil-safe so callers can pass the result through
// unconditionally.
func NewSessionMetrics() *SessionMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &SessionMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "filedrop_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "filedrop_connections_closed_total",
			Help: "Total number of closed client connections",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "filedrop_active_connections",
			Help: "Number of currently active client connections",
		}),
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "filedrop_commands_total",
			Help: "Total number of protocol commands processed by verb and status",
		}, []string{"verb", "status"}),
		bytesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "filedrop_payload_bytes_received_total",
			Help: "Total payload bytes received from clients (PUT uploads)",
		}),
		bytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "filedrop_payload_bytes_sent_total",
			Help: "Total payload bytes sent to clients (LIST and GET bodies)",
		}),
	}
}

// RecordConnectionAccepted increments the accepted-connections counter.
func (m *SessionMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

// RecordConnectionClosed increments the closed-connections counter.
func (m *SessionMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

// SetActiveConnections updates the active-connections gauge.
func (m *SessionMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

// RecordCommand counts one processed command by verb and outcome status.
func (m *SessionMetrics) RecordCommand(verb, status string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(verb, status).Inc()
}

// RecordBytesReceived adds to the received-payload counter.
func (m *SessionMetrics) RecordBytesReceived(n uint64) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// RecordBytesSent adds to the sent-payload counter.
func (m *SessionMetrics) RecordBytesSent(n uint64) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
}
