package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/handoffmarket/handoff-backend/internal/bootstrap"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/registry"
	"github.com/handoffmarket/handoff-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

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

	topics, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	rt.Defer("pubsub", topics.Close)

	events, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	publisher, err := NewService(ServiceParams{
		Config:     rt.Config.Outbox,
		Logger:     rt.Logger,
		DB:         dbClient,
		Topics:     topics,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   events,
	})
	if err != nil {
		return err
	}

	ctx = rt.Logger.WithField(ctx, "topics", events.Topics())
	rt.Logger.Info(ctx, "outbox publisher started")
	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("outbox publisher: %w", err)
	}
	rt.Logger.Info(ctx, "outbox publisher stopped")
	return nil
}
