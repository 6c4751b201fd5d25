// Package metrics holds the Prometheus collectors of the echo server.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wsecho"

// Metrics records handshakes, connections, messages and close frames.
type Metrics struct {
	handshakes   *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	connections  prometheus.Gauge
	messages     prometheus.Counter
	frames       prometheus.Counter
	payloadBytes prometheus.Counter
	closes       *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		handshakes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handshake",
				Name:      "total",
				Help:      "Total number of upgrade requests by result",
			},
			[]string{"result"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handshake",
				Name:      "rejections_total",
				Help:      "Total number of rejected upgrade requests by offending header",
			},
			[]string{"header"},
		),
		connections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "conn",
				Name:      "active",
				Help:      "Number of upgraded connections currently open",
			},
		),
		messages: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "message",
				Name:      "echoed_total",
				Help:      "Total number of messages echoed",
			},
		),
		frames: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "message",
				Name:      "frames_total",
				Help:      "Total number of data frames making up echoed messages",
			},
		),
		payloadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "message",
				Name:      "payload_bytes_total",
				Help:      "Total payload bytes echoed",
			},
		),
		closes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conn",
				Name:      "closes_total",
				Help:      "Total number of closed connections by status code and by which side sent the close frame",
			},
			[]string{"code", "side"},
		),
	}
}

// HandshakeAccepted records a successful upgrade.
func (m *Metrics) HandshakeAccepted() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("accepted").Inc()
}

// HandshakeRejected records an upgrade rejected because of header.
func (m *Metrics) HandshakeRejected(header string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("rejected").Inc()
	m.rejections.WithLabelValues(header).Inc()
}

// ConnOpened records a connection entering the frame protocol.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnClosed records a connection going away.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// MessageEchoed records one echoed message.
func (m *Metrics) MessageEchoed(frames, n int) {
	if m == nil {
		return
	}
	m.messages.Inc()
	m.frames.Add(float64(frames))
	m.payloadBytes.Add(float64(n))
}

// Closed records a connection ending with code. peer is set
// when the client sent the close frame.
func (m *Metrics) Closed(code int, peer bool) {
	if m == nil {
		return
	}
	side := "server"
	if peer {
		side = "client"
	}
	m.closes.WithLabelValues(strconv.Itoa(code), side).Inc()
}
