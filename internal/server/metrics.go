package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MetricsHandler exposes the Prometheus registry. Collector failures are
// logged and the remaining series are still served.
func MetricsHandler(registry *prometheus.Registry, logger logrus.FieldLogger) http.Handler {
	opts := promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}
	if logger != nil {
		opts.ErrorLog = logger
	}
	return promhttp.HandlerFor(registry, opts)
}
