// Package metrics registers prometheus metrics for the dns and override
// packages. Importing it replaces their no-op metric variables.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjl-/hostoverride/dns"
	"github.com/mjl-/hostoverride/override"
)

func init() {
	dns.MetricLookup = histogramVec{
		promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hostoverride_dns_lookup_duration_seconds",
				Help:    "Genuine DNS lookups.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30},
			},
			[]string{
				"pkg",
				"type",   // Lower-case Resolver method name without leading Lookup.
				"result", // ok, nxdomain, temporary, timeout, canceled, error
			},
		),
	}

	override.MetricResolve = counterVec{promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostoverride_resolve_total",
			Help: "Host resolutions, by source of the answer.",
		},
		[]string{
			"source", // explicit, hosts, fallback, shared
			"result", // ok, notfound, malformed, error
		},
	)}

	override.MetricContext = counterVec{promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostoverride_context_total",
			Help: "Isolated contexts, by outcome of starting.",
		},
		[]string{
			"result", // started, failed, panic
		},
	)}

	override.MetricContextsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostoverride_contexts_running",
			Help: "Number of isolated contexts currently running.",
		},
	)
}

type counterVec struct {
	*prometheus.CounterVec
}

func (m counterVec) IncLabels(labels ...string) {
	m.CounterVec.WithLabelValues(labels...).Inc()
}

type histogramVec struct {
	*prometheus.HistogramVec
}

func (m histogramVec) ObserveLabels(v float64, labels ...string) {
	m.HistogramVec.WithLabelValues(labels...).Observe(v)
}
