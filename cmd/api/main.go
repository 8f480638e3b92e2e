// Package main provides the HTTP API server for reminder management.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/config"
	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/repository"
	"github.com/jnst/easy-reminder/internal/schedule"
	"github.com/jnst/easy-reminder/internal/service"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	exitCode          = 1
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", logger.Err(err))
		os.Exit(exitCode)
	}
	defer dbPool.Close()

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		slog.Error("failed to connect to Redis", logger.Err(err))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	queue := schedule.NewQueue(redisClient,
		schedule.WithPartitions(cfg.StreamPartitions),
		schedule.WithStreamMaxLen(cfg.StreamMaxLen),
	)
	reminderRepo := repository.NewReminderRepositoryImpl(dbPool)
	transactionMgr := repository.NewTransactionManagerImpl(dbPool)
	reminderService := service.NewReminderServiceImpl(reminderRepo, queue, transactionMgr)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewAPIServer(reminderService).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down server", logger.Err(err))
		}
	}()

	slog.Info("starting API server", slog.String("service", "api"), slog.String("port", cfg.Port))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("failed to start server", logger.Err(err))
		return
	}
}
