package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echorelay"

// Metrics holds the relay's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesAdmitted    prometheus.Counter
	framesRateLimited prometheus.Counter
	framesMalformed   prometheus.Counter
	replies           *prometheus.CounterVec
	deliveries        prometheus.Counter
	outboundOverflows *prometheus.CounterVec
	connsOpened       prometheus.Counter
	connsClosed       prometheus.Counter

	registeredIdentities prometheus.Gauge
	openConnections      prometheus.Gauge
	rateLimitBuckets     prometheus.Gauge
}

// New builds the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_admitted_total",
			Help:      "Inbound frames that passed the rate limiter",
		}),
		framesRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rate_limited_total",
			Help:      "Inbound frames silently dropped by the rate limiter",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound frames dropped because they were not JSON",
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Frames sent back to the originating connection",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Payloads enqueued on a destination connection",
		}),
		outboundOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_overflows_total",
			Help:      "Outbound queue overflows by policy applied",
		}, []string{"policy"}),
		connsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Accepted WebSocket connections",
		}),
		connsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed WebSocket connections",
		}),
		registeredIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_identities",
			Help:      "Identities currently present in the registry",
		}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Currently open WebSocket connections",
		}),
		rateLimitBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_buckets",
			Help:      "Token buckets held by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		m.framesAdmitted,
		m.framesRateLimited,
		m.framesMalformed,
		m.replies,
		m.deliveries,
		m.outboundOverflows,
		m.connsOpened,
		m.connsClosed,
		m.registeredIdentities,
		m.openConnections,
		m.rateLimitBuckets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameAdmitted() {
	if m == nil {
		return
	}
	m.framesAdmitted.Inc()
}

func (m *Metrics) FrameRateLimited() {
	if m == nil {
		return
	}
	m.framesRateLimited.Inc()
}

func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.framesMalformed.Inc()
}

// Reply counts a frame sent to the originator; kind is "ack" or an error reason.
func (m *Metrics) Reply(kind string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivery() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) OutboundOverflow(policy string) {
	if m == nil {
		return
	}
	m.outboundOverflows.WithLabelValues(policy).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connsOpened.Inc()
	m.openConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
	m.openConnections.Dec()
}

// SetTableSizes refreshes the gauges sampled by the janitor.
func (m *Metrics) SetTableSizes(identities, buckets int) {
	if m == nil {
		return
	}
	m.registeredIdentities.Set(float64(identities))
	m.rateLimitBuckets.Set(float64(buckets))
}
