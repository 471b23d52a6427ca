// Package metrics exposes Prometheus counters and gauges for the
// performance server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	gesturesHandled   *prometheus.CounterVec
	gesturesIgnored   *prometheus.CounterVec
	synthUpdatesSent  prometheus.Counter
	recipientsSkipped prometheus.Counter
	clients           prometheus.Gauge
	playing           prometheus.Gauge
	connections       *prometheus.GaugeVec
	slowClients       prometheus.Counter
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gesturesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundfield_gestures_handled_total",
			Help: "Soloist touch events processed, by phase",
		}, []string{"kind"}),
		gesturesIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundfield_gestures_ignored_total",
			Help: "Touch events dropped because the sender is not an active soloist",
		}, []string{"kind"}),
		synthUpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundfield_synth_updates_sent_total",
			Help: "Synthesis updates queued to players",
		}),
		recipientsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundfield_recipients_skipped_total",
			Help: "Unicasts skipped because the recipient was no longer connected",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soundfield_clients",
			Help: "Clients registered in the session",
		}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soundfield_playing_clients",
			Help: "Clients in the playing set",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soundfield_ws_connections",
			Help: "Open websocket connections, by namespace",
		}, []string{"namespace"}),
		slowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundfield_ws_slow_clients_dropped_total",
			Help: "Websocket clients disconnected because their send buffer was full",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundfield_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundfield_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	m.registry.MustRegister(
		m.gesturesHandled,
		m.gesturesIgnored,
		m.synthUpdatesSent,
		m.recipientsSkipped,
		m.clients,
		m.playing,
		m.connections,
		m.slowClients,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

func (m *Metrics) GestureHandled(kind string) { m.gesturesHandled.WithLabelValues(kind).Inc() }
func (m *Metrics) GestureIgnored(kind string) { m.gesturesIgnored.WithLabelValues(kind).Inc() }
func (m *Metrics) SynthSent(n int)            { m.synthUpdatesSent.Add(float64(n)) }
func (m *Metrics) RecipientSkipped()          { m.recipientsSkipped.Inc() }

// ClientsChanged sets the session gauges.
func (m *Metrics) ClientsChanged(clients, playing int) {
	m.clients.Set(float64(clients))
	m.playing.Set(float64(playing))
}

// SetConnections sets the open connection gauge for a hub namespace.
func (m *Metrics) SetConnections(namespace string, n int) {
	m.connections.WithLabelValues(namespace).Set(float64(n))
}

// IncSlowClients counts a client dropped for falling behind.
func (m *Metrics) IncSlowClients() { m.slowClients.Inc() }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// Registry returns the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
