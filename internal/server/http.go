package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/core"
)

// HTTPServer serves health, metrics, climate state and dashboards.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// ListenAndServe returns nil once Shutdown was called.
func (s *HTTPServer) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// MuxOptions lists what the HTTP surface exposes.
type MuxOptions struct {
	Plugins  []core.Plugin
	Metrics  *prometheus.Registry
	Entities *climate.Registry
	Logger   logrus.FieldLogger
}

// NewMux wires the host endpoints and any plugin HTTP handlers.
func NewMux(opts MuxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/health/plugins", PluginHealthHandler(opts.Plugins))
	if opts.Metrics != nil {
		mux.Handle("/metrics", MetricsHandler(opts.Metrics, opts.Logger))
	}
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(opts.Plugins)))
	if opts.Entities != nil {
		climateHandler := ClimateHandler(opts.Entities)
		mux.Handle("/climate", climateHandler)
		mux.Handle("/climate/", climateHandler)
	}
	for _, plugin := range opts.Plugins {
		if registrant, ok := plugin.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	return mux
}
