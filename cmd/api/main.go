package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dochub/api/internal/app"
	"dochub/api/internal/config"
	"dochub/api/internal/events"
	"dochub/api/internal/presence"
	"dochub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "dochub-api").Logger()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	var presenceCache *presence.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		presenceCache, err = presence.NewCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer presenceCache.Close()
		logger.Info().Msg("presence cache enabled")
	} else {
		logger.Info().Msg("REDIS_URL not set, presence endpoints disabled")
	}

	bus := events.New(cfg.EventBuffer)

	var service *app.Service
	if presenceCache != nil {
		service = app.New(cfg, dataStore, bus, presenceCache, logger)
	} else {
		service = app.New(cfg, dataStore, bus, nil, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write deadline: event streams stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("dochub api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Closing the bus sends every stream its final shutdown event before the
	// server drains.
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
