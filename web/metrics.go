package web

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	navigations *prometheus.CounterVec
	oauthStarts *prometheus.CounterVec
	activeViews prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrywallet",
			Subsystem: "login",
			Name:      "submissions_total",
			Help:      "Credential form submissions by mode and resulting status.",
		}, []string{"mode", "outcome"}),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrywallet",
			Subsystem: "login",
			Name:      "navigations_total",
			Help:      "Navigations from the login view to the dashboard, by the request that observed them.",
		}, []string{"via"}),
		oauthStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrywallet",
			Subsystem: "login",
			Name:      "oauth_starts_total",
			Help:      "OAuth logins started, by provider and result.",
		}, []string{"provider", "result"}),
		activeViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentrywallet",
			Subsystem: "login",
			Name:      "active_views",
			Help:      "Login views currently subscribed to auth events.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.navigations,
		m.oauthStarts,
		m.activeViews,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
