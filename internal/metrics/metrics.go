// File: internal/metrics/metrics.go
// Package metrics registers the library's Prometheus collectors. All
// counters are registered with the default registry; embedders expose them
// with promhttp alongside their own metrics.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_connections_accepted_total",
		Help: "Total number of accepted connections",
	})

	ConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_connections_closed_total",
		Help: "Total number of closed connections",
	})

	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_connections_rejected_total",
		Help: "Connections rejected because the connection cap was reached",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "h1wire_connections_active",
		Help: "Current number of live connections",
	})

	RequestsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_requests_parsed_total",
		Help: "Total number of fully parsed HTTP requests",
	})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_parse_errors_total",
		Help: "Total number of requests rejected with a synthesized 400",
	})

	Upgrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_upgrades_total",
		Help: "Total number of protocol upgrades handed off",
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_bytes_written_total",
		Help: "Total bytes flushed to client sockets",
	})

	WriteBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h1wire_write_buffer_drops_total",
		Help: "Buffered response bytes discarded after a write failure",
	})
)
