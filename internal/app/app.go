// Package app provides application lifecycle management for the document sync service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-docsync/internal/config"
)

// DocSyncApp encapsulates all components needed to run the sync service.
// It provides lifecycle management and graceful shutdown capabilities.
type DocSyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// everything down within shutdownTimeout.
func (app *DocSyncApp) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.components.release(ctx)
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener, shutdownTimeout)
}

// Serve is Run on an existing listener
func (app *DocSyncApp) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "address", listener.Addr().String())
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return app.Stop(shutdownTimeout)
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. The HTTP
// server stops accepting updates first, then the coalescer is stopped, then
// telemetry is flushed and the store is closed.
func (app *DocSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := app.components.release(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("Shutdown completed with errors", "error", err)
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *DocSyncApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the application components
func (app *DocSyncApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *DocSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
