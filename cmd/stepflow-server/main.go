// Package main runs the stepflow HTTP server: flow building and lifecycle
// for owners, traversal for visitors, debug endpoints for operators.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/stepflow/stepflow/internal/adapters/membership"
	memoryrepo "github.com/stepflow/stepflow/internal/adapters/repository/memory"
	postgresrepo "github.com/stepflow/stepflow/internal/adapters/repository/postgres"
	redisrepo "github.com/stepflow/stepflow/internal/adapters/repository/redis"
	sqliterepo "github.com/stepflow/stepflow/internal/adapters/repository/sqlite"
	"github.com/stepflow/stepflow/internal/app/services"
	"github.com/stepflow/stepflow/internal/app/usecases"
	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/logging"
	"github.com/stepflow/stepflow/pkg/serialization"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.New(logLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, cleanup, err := openRepository(ctx, cfg)
	if err != nil {
		log.Error("failed to open storage", "backend", cfg.Storage, "err", err)
		os.Exit(1)
	}
	defer cleanup()

	tiers := membership.NewMemoryService()
	server := newServer(
		usecases.NewLifecycleService(repo, tiers, log),
		repo,
		tiers,
		usecases.NewRouter(),
		services.NewSessionService(),
		log,
	)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.routes(),
	}

	go func() {
		log.Info("stepflow server listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
}

// openRepository builds the configured flow repository and returns a
// cleanup function for its resources.
func openRepository(ctx context.Context, cfg *config.Config) (usecases.FlowRepository, func(), error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store := sqliterepo.NewFlowStore(db, serialization.Default())
		if err := store.CreateTables(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgresrepo.NewFlowStore(pool, serialization.Default())
		if err := store.CreateTables(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		store := redisrepo.NewFlowStore(client, cfg.RedisPrefix)
		return store, func() { store.Close() }, nil
	default:
		return memoryrepo.NewFlowRepository(), func() {}, nil
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
