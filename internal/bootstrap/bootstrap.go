// Package bootstrap holds the process start-up steps shared by the api,
// cron-worker and outbox-publisher binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/migrate"
	"github.com/handoffmarket/handoff-backend/pkg/redis"
)

// Runtime is a loaded configuration plus the logger built from it. Every
// close registered through Defer runs, newest first, on Shutdown.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Load reads an optional .env file and the HANDOFF_ environment.
func Load(kind string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		boot.Debug(context.Background(), "no .env file, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	return &Runtime{Kind: kind, Config: cfg, Logger: NewLogger(kind, cfg.App)}, nil
}

// NewLogger builds the service logger from app settings.
func NewLogger(kind string, app config.AppConfig) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(app.LogLevel),
		Format:      app.LogFormat,
		WarnStack:   app.LogWarnStack,
	})
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries env and service
// fields for every log line below it.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Kind,
	}), stop
}

// OpenDB connects to Postgres and, in dev with auto-migrate on, applies the
// embedded migrations.
func (rt *Runtime) OpenDB(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.Defer("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (rt *Runtime) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rt.Defer("redis", client.Close)
	return client, nil
}

// Defer registers a resource to close on Shutdown.
func (rt *Runtime) Defer(name string, close func() error) {
	rt.closers = append(rt.closers, namedCloser{name: name, close: close})
}

// Shutdown closes registered resources in reverse order and logs failures.
func (rt *Runtime) Shutdown() {
	ctx := context.Background()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.close(); err != nil {
			rt.Logger.Error(rt.Logger.WithField(ctx, "resource", c.name), "close failed", err)
		}
	}
	rt.closers = nil
}

// Exit reports a start-up or run failure and terminates the process.
func Exit(kind string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
	os.Exit(1)
}
