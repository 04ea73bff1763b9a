package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-core/internal/config"
	"market-core/internal/database"
	"market-core/internal/logger"
	"market-core/internal/server"
	"market-core/internal/storage"
)

func gracefulShutdown(apiServer *server.Server, logger *zap.Logger, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := apiServer.Close(); err != nil {
		logger.Error("Error closing server resources", zap.Error(err))
	}

	logger.Info("Server exiting")
	done <- true
}

// openStore picks the persistence backend: a single-writer file store for the
// local variant, postgres for the shared remote variant.
func openStore(cfg *config.Config, log *zap.Logger) (storage.Adapter, error) {
	switch cfg.Storage.Backend {
	case config.BackendLocal:
		log.Info("Using local file storage",
			zap.String("dir", cfg.Storage.LocalDir),
			zap.Int64("quota_bytes", cfg.Storage.LocalQuota),
		)
		return storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.LocalQuota, log)

	case config.BackendPostgres:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.RunMigrations(db, "migrations", log); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("Using postgres storage", zap.String("host", cfg.Database.Host))
		return storage.NewPostgresStore(db, log), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting marketplace core API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Storage.Backend),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("Redis unreachable; rate limiting disabled", zap.Error(err))
			redisClient = nil
		}
	}

	srv := server.NewServer(cfg, log, store, redisClient)

	// Resolve any persisted session before serving so the first request
	// already sees the restored identity.
	if err := srv.Identity().Restore(context.Background()); err != nil {
		log.Warn("Failed to restore persisted session", zap.Error(err))
	}

	done := make(chan bool, 1)
	go gracefulShutdown(srv, log, done)

	log.Info("Server listening", zap.String("addr", srv.Addr))

	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal("HTTP server error", zap.Error(err))
	}

	<-done
	log.Info("Graceful shutdown complete")
}
