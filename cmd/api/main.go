package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"profscore/api/internal/cache"
	"profscore/api/internal/config"
	"profscore/api/internal/database"
	"profscore/api/internal/ephemeral"
	"profscore/api/internal/handlers"
	"profscore/api/internal/jobs"
	"profscore/api/internal/log"
	"profscore/api/internal/repository"
	"profscore/api/internal/security"
	"profscore/api/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	if err := database.Migrate(ctx, cfg.Postgres.DSN); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	var redisClient *redis.Client
	var store ephemeral.Store
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		store = ephemeral.NewRedisStore(redisClient, "profscore:")
	} else {
		store = ephemeral.NewMemoryStore()
	}

	// Surface the effective hash cost so latency regressions are visible.
	hasher := security.NewHasher(cfg.Security.Hash.Time, cfg.Security.Hash.Memory, cfg.Security.Hash.Threads)
	logger.Info().
		Dur("hash_latency", hasher.Calibrate()).
		Uint32("time", cfg.Security.Hash.Time).
		Uint32("memory_kib", cfg.Security.Hash.Memory).
		Msg("password hash calibrated")

	handlerSet := handlers.NewHandlerSet(logger, dbPool, redisClient, store, cfg)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(store, repository.NewAccountRepository(dbPool), logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	db.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
