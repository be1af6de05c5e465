package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/handoffmarket/handoff-backend/api"
	"github.com/handoffmarket/handoff-backend/api/routes"
	"github.com/handoffmarket/handoff-backend/internal/bootstrap"
)

const serviceKind = "api"

func main() {
	if err := run(); err != nil {
		bootstrap.Exit(serviceKind, err)
	}
}

func run() error {
	rt, err := bootstrap.Load(serviceKind)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	ctx, stop := rt.SignalContext()
	defer stop()

	dbClient, err := rt.OpenDB(ctx)
	if err != nil {
		return err
	}
	redisClient, err := rt.OpenRedis(ctx)
	if err != nil {
		return err
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := buildDeps(rt.Config, rt.Logger, dbClient, redisClient, metricsRegistry)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	server := api.NewServer(rt.Config, routes.NewRouter(rt.Config, rt.Logger, deps), rt.Logger)
	ctx = rt.Logger.WithField(ctx, "addr", server.Addr())
	rt.Logger.Info(ctx, "api server started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	if err := group.Wait(); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	rt.Logger.Info(ctx, "api server stopped")
	return nil
}
