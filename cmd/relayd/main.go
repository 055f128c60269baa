package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voicerelay/internal/adapters/duckdb"
	appconfig "github.com/voxbridge/voicerelay/internal/config"
	"github.com/voxbridge/voicerelay/internal/core/services"
	"github.com/voxbridge/voicerelay/pkg/gateway"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting voicerelay")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg := appconfig.FromEnv()

	// Event history + settings persistence (in-memory DuckDB by default)
	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	// Runtime settings: webhook URL editable without a restart
	settings, err := appconfig.NewStore(logger, repo, cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}
	settings.OnChange(func(url string) {
		logger.Info("relay destination reconfigured", "configured", url != "")
	})

	// Core services
	bus := services.NewEventBus(logger)
	registry := services.NewJobRegistry(logger)
	relay := services.NewRelay(logger, registry, bus, repo, settings, cfg.PublicOrigin, cfg.ForwardTimeout)
	sweeper := services.NewSweeper(logger, registry, bus, repo, cfg.JobTTL, cfg.SweepInterval)

	apiServer := gateway.NewServer(logger, relay, registry, bus, settings, repo)

	// CORS Configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Retention sweep loop
	g.Go(func() error {
		return sweeper.Run(gCtx)
	})

	// 2. API server
	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 3. Graceful shutdown for API server
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
