package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/simple-entity/internal/catalog"
	"github.com/tendant/simple-entity/pkg/entity/config"
)

func main() {
	configPath := flag.String("config", "entity.jsonc", "optional JSONC config file; environment variables override it")
	flag.Parse()

	cfg, err := config.Load(config.WithFile(*configPath, false), config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()
	mapper, cleanup, err := cfg.BuildMapper(ctx, logger)
	if err != nil {
		logger.Error("Failed to build mapper", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := catalog.BuildSchema(ctx, mapper); err != nil {
		logger.Error("Failed to build schema", "err", err)
		os.Exit(1)
	}

	handler, err := newRouter(cfg, mapper, logger)
	if err != nil {
		logger.Error("Failed to set up routes", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Entity server starting", "addr", httpServer.Addr, "env", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}
