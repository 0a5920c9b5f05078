package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultOK        = "ok"        // Positive server reply
	ResultServerErr = "err"       // "-ERR" reply, connection still usable
	ResultInvalid   = "invalid"   // Rejected before any I/O
	ResultFailure   = "failure"   // Transport or grammar failure, connection dropped
	ResultNoSession = "no_client" // No connection in the session slot
)

// Command metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popclient_commands_total",
			Help: "Total number of POP3 commands issued",
		},
		[]string{"command", "result"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popclient_command_duration_seconds",
			Help:    "Duration of POP3 command exchanges in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	ReceivedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popclient_received_bytes_total",
			Help: "Payload bytes received in multi-line responses",
		},
		[]string{"command"},
	)
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popclient_connections_total",
			Help: "Total number of POP3 connection attempts",
		},
		[]string{"transport", "result"},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "popclient_connections_current",
			Help: "Current number of open POP3 connections",
		},
	)
)

// ObserveCommand records one finished exchange.
func ObserveCommand(command, result string, start time.Time, payload int) {
	CommandsTotal.WithLabelValues(command, result).Inc()
	if result == ResultInvalid || result == ResultNoSession {
		return
	}
	CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if payload > 0 {
		ReceivedBytes.WithLabelValues(command).Add(float64(payload))
	}
}

// Transport returns the transport label value.
func Transport(tls bool) string {
	if tls {
		return "tls"
	}
	return "plain"
}
