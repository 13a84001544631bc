// Package metrics exposes Prometheus collectors for the secret store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the store's metrics. A nil *Collectors discards
// observations.
type Collectors struct {
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Ceremonies       *prometheus.CounterVec
	CeremonyDuration *prometheus.HistogramVec
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_requests_total",
			Help: "Storage requests by verb and result code",
		}, []string{"verb", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_request_duration_seconds",
			Help:    "Time from submission to resolution, including any ceremony",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"verb"}),
		Ceremonies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ceremonies_total",
			Help: "Resolved authentication ceremonies by policy and outcome",
		}, []string{"policy", "outcome"}),
		CeremonyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_ceremony_duration_seconds",
			Help:    "Authentication ceremony duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 8),
		}, []string{"policy"}),
	}
}

// Registry returns a registry holding c plus the Go and process collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c.Requests, c.RequestDuration, c.Ceremonies, c.CeremonyDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveRequest records a resolved request. An empty code means success.
func (c *Collectors) ObserveRequest(verb, code string, d time.Duration) {
	if c == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	c.Requests.WithLabelValues(verb, code).Inc()
	c.RequestDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// ObserveCeremony records a resolved ceremony.
func (c *Collectors) ObserveCeremony(policy, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Ceremonies.WithLabelValues(policy, outcome).Inc()
	c.CeremonyDuration.WithLabelValues(policy).Observe(d.Seconds())
}
