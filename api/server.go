package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server owns the HTTP listener for cmd/api.
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	logg            *logger.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, logg *logger.Logger) *Server {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Server{
		http: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		shutdownTimeout: cfg.App.ShutdownTimeout,
		logg:            logg,
	}
}

func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logg.Info(ctx, "api server draining")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
