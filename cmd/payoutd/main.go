package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satsrail/payouts/internal/bootstrap"
	"github.com/satsrail/payouts/internal/lightning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "payoutd", "payouts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, app); err != nil {
		app.Logger.Error().Err(err).Msg("payoutd stopped with error")
		app.Close(context.Background())
		os.Exit(1)
	}
	app.Close(context.Background())
}

func run(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config

	network, err := lightning.ParseNetwork(cfg.Payout.Network)
	if err != nil {
		return err
	}
	if cfg.Node.Mock {
		app.Logger.Warn().Msg("Using in-memory mock Lightning node")
	}

	svc, err := newService(app, newNode(cfg.Node, network, cfg.L402.InvoiceTTL))
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      svc.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return purgeLoop(gctx, svc.store, 10*time.Minute, app.Logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		// Flush completion reports for payouts that finished during shutdown.
		if err := svc.reporter.Close(shutdownCtx); err != nil {
			app.Logger.Warn().Err(err).Msg("Completion reports not fully delivered")
		}
		app.Logger.Info().Msg("Server exited")
		return nil
	})

	return g.Wait()
}
