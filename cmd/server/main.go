package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reqstat/backend/internal/cache"
	"github.com/reqstat/backend/internal/config"
	"github.com/reqstat/backend/internal/db"
	httpapi "github.com/reqstat/backend/internal/http"
	"github.com/reqstat/backend/internal/http/handlers"
	"github.com/reqstat/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "reqstat-backend").Logger()

	ctx := context.Background()

	var runs handlers.RunStore
	if cfg.DatabaseURL != "" {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		runs = store
	} else {
		logger.Info().Msg("DATABASE_URL not set, run history disabled")
	}

	var resultCache cache.Cacher
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.WithAddress(cfg.RedisAddr))
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		resultCache = rc
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis result cache")
	} else {
		resultCache = cache.NewMemory()
		logger.Info().Msg("using in-memory result cache")
	}
	defer resultCache.Close()

	processor := &service.ProcessingService{
		Cache:    resultCache,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	}

	router := httpapi.Router(cfg, processor, runs, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
