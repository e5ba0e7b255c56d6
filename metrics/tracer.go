// Package metrics exposes a Prometheus-backed Tracer a Connection reports
// its lifecycle events to: packets sent/received/dropped and handshake
// completions. The Tracer also has a stream-open counter (StreamOpened),
// which the connection engine does not call. It has no bearing on protocol behavior -
// every call is fire-and-forget from the connection engine's perspective.
package metrics

import (
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "quicly"

func ipVersion(addr net.Addr) string {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return ""
	}
	if udpAddr.IP.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}

// A Tracer records connection-lifecycle metrics. The zero value is not
// usable; construct one with NewTracer or NewTracerWithRegisterer.
type Tracer struct {
	packetsSent      *prometheus.CounterVec
	packetsReceived  *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	handshakesDone   prometheus.Counter
	streamsOpened    *prometheus.CounterVec
	handshakeSeconds prometheus.Histogram
}

// NewTracer creates a Tracer registered with the default Prometheus
// registerer.
func NewTracer() *Tracer {
	return NewTracerWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTracerWithRegisterer creates a Tracer registered with the given
// Prometheus registerer, tolerating repeat registration the way the
// teacher's metrics package does (a process may construct more than one
// Tracer against the same default registerer across tests).
func NewTracerWithRegisterer(registerer prometheus.Registerer) *Tracer {
	t := &Tracer{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_sent_total",
			Help:      "Packets sent",
		}, []string{"ip_version"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_received_total",
			Help:      "Packets received",
		}, []string{"ip_version"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_dropped_total",
			Help:      "Packets dropped before dispatch",
		}, []string{"reason"}),
		handshakesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "handshakes_completed_total",
			Help:      "Handshakes completed",
		}),
		streamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "streams_opened_total",
			Help:      "Streams opened",
		}, []string{"initiator"}),
		handshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of the handshake",
			Buckets:   prometheus.ExponentialBuckets(0.001, 1.3, 35),
		}),
	}

	for _, c := range []prometheus.Collector{
		t.packetsSent, t.packetsReceived, t.packetsDropped,
		t.handshakesDone, t.streamsOpened, t.handshakeSeconds,
	} {
		if err := registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}

	return t
}

// SentPacket records one packet sent toward addr.
func (t *Tracer) SentPacket(addr net.Addr) {
	t.packetsSent.WithLabelValues(ipVersion(addr)).Inc()
}

// ReceivedPacket records one packet received from addr.
func (t *Tracer) ReceivedPacket(addr net.Addr) {
	t.packetsReceived.WithLabelValues(ipVersion(addr)).Inc()
}

// DroppedPacket records a packet discarded before dispatch, tagged with
// the reason it was dropped (e.g. "header_parsing", "decryption_failure").
func (t *Tracer) DroppedPacket(reason string) {
	t.packetsDropped.WithLabelValues(reason).Inc()
}

// HandshakeCompleted records a completed handshake and its duration since
// the connection was created.
func (t *Tracer) HandshakeCompleted(since time.Duration) {
	t.handshakesDone.Inc()
	t.handshakeSeconds.Observe(since.Seconds())
}

// StreamOpened records a stream opened by the given initiator, either
// "local" or "peer".
func (t *Tracer) StreamOpened(initiator string) {
	t.streamsOpened.WithLabelValues(initiator).Inc()
}
