package core

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegistry builds a registry from plugin collectors plus any shared
// collectors (session, rate limiting) the host wires in.
func MetricsRegistry(plugins []Plugin, shared ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(shared...)

	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			registry.MustRegister(collector)
		}
	}

	return registry
}
