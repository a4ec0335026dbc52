package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
	"github.com/joshp123/gohome-aircloud/internal/logging"
	"github.com/joshp123/gohome-aircloud/internal/plugins"
	"github.com/joshp123/gohome-aircloud/internal/rate"
	"github.com/joshp123/gohome-aircloud/internal/router"
	"github.com/joshp123/gohome-aircloud/internal/server"
	"github.com/joshp123/gohome-aircloud/internal/session"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "session":
			sessionMain(os.Args[2:])
			return
		case "version":
			fmt.Println(version)
			return
		}
	}

	flags := flag.NewFlagSet("gohome", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	allPlugins := flags.Bool("all-plugins", false, "Enable every compiled plugin regardless of config")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	logger, err := logging.New(cfg.Core.LogLevel, cfg.Core.LogFormat)
	if err != nil {
		fatal("logging", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *allPlugins, logger); err != nil {
		logger.WithError(err).Fatal("gohome exited")
	}
}

func run(ctx context.Context, cfg *config.Config, allPlugins bool, logger *logrus.Logger) error {
	entities := climate.NewRegistry()
	compiled := plugins.Compiled(cfg, plugins.Deps{Entities: entities, Logger: logger})
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, allPlugins); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, allPlugins)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	shared := append(session.MetricsCollectors(), rate.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gohome_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))
	metricsRegistry := core.MetricsRegistry(active, shared...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(server.MuxOptions{
		Plugins:  active,
		Metrics:  metricsRegistry,
		Entities: entities,
		Logger:   logger,
	}))

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.WithError(err).Warn("write dashboards")
	}

	for _, plugin := range active {
		lifecycle, ok := plugin.(core.Lifecycle)
		if !ok {
			continue
		}
		if err := lifecycle.Start(ctx); err != nil {
			return fmt.Errorf("start plugin %s: %w", plugin.ID(), err)
		}
		logger.WithFields(logrus.Fields{"plugin": plugin.ID(), "health": plugin.Health()}).Info("plugin started")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", cfg.Core.GRPCAddr).Info("grpc listening")
		return grpcServer.Serve()
	})
	group.Go(func() error {
		logger.WithField("addr", cfg.Core.HTTPAddr).Info("http listening")
		return httpServer.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.Shutdown(shutdownCtx)
		err := httpServer.Shutdown(shutdownCtx)
		for _, plugin := range active {
			if lifecycle, ok := plugin.(core.Lifecycle); ok {
				if stopErr := lifecycle.Stop(shutdownCtx); stopErr != nil {
					logger.WithError(stopErr).WithField("plugin", plugin.ID()).Warn("stop plugin")
				}
			}
		}
		return err
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
