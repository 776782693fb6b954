// Package metrics exporta contadores Prometheus da ponte
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/permissionlesstech/btbridge/internal/protocol"
)

const namespace = "btbridge"

// Collector implementa bridge.Observer sobre métricas Prometheus
type Collector struct {
	received *prometheus.CounterVec
	sent     *prometheus.CounterVec
	inflight prometheus.Gauge
	duration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New cria e registra as métricas. Com reg nil usa um registro próprio.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes recebidos da aplicação, por tipo.",
		}, []string{"kind"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes enviados à aplicação, por tipo.",
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "platform_calls_in_flight",
			Help:      "Chamadas de plataforma em andamento.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "platform_call_seconds",
			Help:      "Duração das chamadas de plataforma.",
			Buckets:   []float64{.005, .05, .25, 1, 5, 15, 60},
		}, []string{"op", "outcome"}),
		gatherer: reg,
	}

	for _, col := range []prometheus.Collector{c.received, c.sent, c.inflight, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) EnvelopeReceived(kind string) {
	c.received.WithLabelValues(kind).Inc()
}

func (c *Collector) EnvelopeSent(kind protocol.Kind) {
	c.sent.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) CallStarted(op protocol.Kind) {
	c.inflight.Inc()
}

func (c *Collector) CallFinished(op protocol.Kind, failed bool, elapsed time.Duration) {
	c.inflight.Dec()
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.duration.WithLabelValues(string(op), outcome).Observe(elapsed.Seconds())
}

// Handler serve as métricas no formato de exposição Prometheus
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
