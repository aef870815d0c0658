package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/authkit/credential-session-service/internal/config"
	"github.com/authkit/credential-session-service/internal/observability"
)

// App ties the HTTP server to its runtime dependencies and owns the
// shutdown ordering: drain HTTP first, flush observability last.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	ShutdownTimeout time.Duration

	cleanup []func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime) *App {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		ShutdownTimeout: timeout,
	}
}

// OnShutdown registers a cleanup hook run after the HTTP server has
// drained, in registration order.
func (a *App) OnShutdown(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// Run serves until the context is cancelled or a termination signal
// arrives, then shuts everything down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("http server shutdown", "error", err)
		}
		for _, fn := range a.cleanup {
			fn()
		}
		if a.Observability != nil {
			if err := a.Observability.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error("observability shutdown", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
