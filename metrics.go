package jsbridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics tracks ownership traffic for one Engine. Collectors are registered
// only when a Registerer is configured.
type metrics struct {
	retains   *prometheus.CounterVec
	releases  *prometheus.CounterVec
	leaks     *prometheus.CounterVec
	protects  prometheus.Counter
	unprotect prometheus.Counter
	pending   prometheus.Gauge
	transfers prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		retains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsbridge",
			Name:      "handle_retains_total",
			Help:      "Retains issued on engine handles, by handle kind.",
		}, []string{"kind"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsbridge",
			Name:      "handle_releases_total",
			Help:      "Releases issued on engine handles, by handle kind.",
		}, []string{"kind"}),
		leaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsbridge",
			Name:      "handle_leaks_total",
			Help:      "Handles released by the collector because the host never released them.",
		}, []string{"kind"}),
		protects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsbridge",
			Name:      "value_protects_total",
			Help:      "Values protected from collection.",
		}),
		unprotect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsbridge",
			Name:      "value_unprotects_total",
			Help:      "Value protections released.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsbridge",
			Name:      "deferred_pending",
			Help:      "Deferred results created but not yet completed.",
		}),
		transfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsbridge",
			Name:      "transfer_buffers_outstanding",
			Help:      "Host buffers lent to the engine and not yet returned.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.retains, m.releases, m.leaks, m.protects, m.unprotect, m.pending, m.transfers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
