package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	connections *prometheus.CounterVec
	bytes       prometheus.Counter
	signals     prometheus.Counter
	occupied    prometheus.Gauge
	registry    *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solo_server_connections_total",
				Help: "Connections seen by the server, by outcome",
			},
			[]string{"outcome"},
		),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solo_server_received_bytes_total",
			Help: "Bytes read from the active connection",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solo_server_signals_total",
			Help: "Reload signals observed by the event loop",
		}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solo_server_slot_occupied",
			Help: "1 while a client connection is installed",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.connections, m.bytes, m.signals, m.occupied)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) accepted() {
	m.connections.WithLabelValues("accepted").Inc()
	m.occupied.Set(1)
}

func (m *Metrics) rejected() {
	m.connections.WithLabelValues("rejected").Inc()
}

func (m *Metrics) closed(failed bool) {
	outcome := "closed"
	if failed {
		outcome = "failed"
	}
	m.connections.WithLabelValues(outcome).Inc()
	m.occupied.Set(0)
}

func (m *Metrics) received(n int) {
	m.bytes.Add(float64(n))
}

func (m *Metrics) signal() {
	m.signals.Inc()
}
