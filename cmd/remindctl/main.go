// Package main provides remindctl, the operator CLI for the reminder pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/config"
	"github.com/jnst/easy-reminder/internal/db"
	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/repository"
	"github.com/jnst/easy-reminder/internal/schedule"
	"github.com/jnst/easy-reminder/internal/service"
)

const exitCode = 1

func openBackend(cfg *config.Config) opener {
	return func(ctx context.Context) (*backend, func(), error) {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		redisClient, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress: []string{cfg.RedisAddr},
		})
		if err != nil {
			dbPool.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		queue := schedule.NewQueue(redisClient,
			schedule.WithPartitions(cfg.StreamPartitions),
			schedule.WithStreamMaxLen(cfg.StreamMaxLen),
		)

		b := &backend{
			failures: service.NewFailureServiceImpl(
				repository.NewDispatchRepositoryImpl(dbPool),
				repository.NewReminderRepositoryImpl(dbPool),
				queue,
				repository.NewTransactionManagerImpl(dbPool),
				service.DefaultRedriveDelay,
			),
			migrate: func(ctx context.Context) error {
				return db.Migrate(ctx, dbPool)
			},
		}

		return b, func() {
			redisClient.Close()
			dbPool.Close()
		}, nil
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = newRootCommand(openBackend(cfg)).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode)
	}
}
