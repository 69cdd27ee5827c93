package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 15 * time.Second
	relayReadyWait  = 5 * time.Second
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cfg.Build(ctx, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var wg sync.WaitGroup

	if app.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Relay.Run(ctx); err != nil {
				logger.Error("Event relay stopped", "err", err)
			}
		}()

		select {
		case <-app.Relay.Ready():
		case <-time.After(relayReadyWait):
			logger.Warn("Event relay not subscribed yet, live updates from other instances may be delayed")
		}
	}

	if app.Janitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.Janitor.Run(ctx)
		}()
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		loc, _ := cfg.Storage()
		logger.Info("Ephemeral hub server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"storage", loc.Type,
			"redis", !cfg.UsesMemoryStore(),
			"broadcast", cfg.BroadcastMode,
			"cleanup", cfg.CleanupMode,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
		httpServer.Close()
	}
	wg.Wait()

	logger.Info("Server exited")
	return nil
}
