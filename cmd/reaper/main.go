// Package main provides the reaper that expires due scheduled entries into the change streams.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/config"
	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/schedule"
	"github.com/jnst/easy-reminder/internal/telemetry"
)

const exitCode = 1

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel))

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		slog.Error("failed to connect to Redis", logger.Err(err))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := schedule.NewQueue(redisClient,
		schedule.WithPartitions(cfg.StreamPartitions),
		schedule.WithStreamMaxLen(cfg.StreamMaxLen),
	)

	reg := telemetry.NewRegistry()
	reaper := schedule.NewReaper(queue, cfg.ReaperInterval, cfg.ReaperBatchSize, reg)

	go telemetry.ServeMetrics(ctx, cfg.MetricsAddr, reg)

	slog.Info("starting reaper",
		slog.String("service", "reaper"),
		slog.Duration("interval", cfg.ReaperInterval),
		slog.Int("batch_size", cfg.ReaperBatchSize),
	)

	reaper.Run(ctx)
}
