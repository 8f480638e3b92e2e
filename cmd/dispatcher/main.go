// Package main provides the notification dispatcher consuming the schedule change streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/easy-reminder/internal/config"
	"github.com/jnst/easy-reminder/internal/delivery"
	"github.com/jnst/easy-reminder/internal/dispatch"
	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/repository"
	"github.com/jnst/easy-reminder/internal/stream"
	"github.com/jnst/easy-reminder/internal/telemetry"
	"github.com/jnst/easy-reminder/internal/worker"
)

const (
	serviceName      = "reminder-dispatcher"
	shutdownTimeout  = 5 * time.Second
	retryMaxInterval = 30 * time.Second
	exitCode         = 1
)

func setupChannel(ctx context.Context, cfg *config.Config) (delivery.Channel, error) {
	switch cfg.DeliveryChannel {
	case "", "log":
		return delivery.NewLogChannel(), nil
	case "ses":
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		return delivery.NewSESChannel(sesv2.NewFromConfig(awsCfg), cfg.SenderEmail), nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", cfg.DeliveryChannel)
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		Jitter:         cfg.Dispatch.Jitter,
		Lease:          cfg.Dispatch.Lease,
		RateLimit:      cfg.Dispatch.RateLimit,
		RateBurst:      cfg.Dispatch.RateBurst,
		SeenCacheSize:  cfg.Dispatch.SeenCacheSize,
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("failed to flush traces", logger.Err(err))
		}
	}()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	channel, err := setupChannel(ctx, cfg)
	if err != nil {
		return err
	}

	reg := telemetry.NewRegistry()
	go telemetry.ServeMetrics(ctx, cfg.MetricsAddr, reg)

	dispatcher, err := dispatch.New(
		repository.NewReminderRepositoryImpl(dbPool),
		repository.NewDispatchRepositoryImpl(dbPool),
		channel,
		dispatchConfig(cfg),
		dispatch.WithMetrics(dispatch.MustNewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	pool := worker.NewPool(redisClient, cfg.StreamPartitions, stream.Config{
		Group:            cfg.ConsumerGroup,
		Consumer:         cfg.ConsumerName,
		Block:            cfg.StreamBlock,
		BatchSize:        cfg.StreamBatchSize,
		RetryMaxInterval: retryMaxInterval,
	}, worker.NewPipeline(dispatcher))

	slog.Info("starting notification dispatcher",
		slog.String("service", "dispatcher"),
		slog.String("group", cfg.ConsumerGroup),
		slog.String("consumer", cfg.ConsumerName),
		slog.Int("partitions", cfg.StreamPartitions),
		slog.String("channel", cfg.DeliveryChannel),
	)

	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	slog.Info("dispatcher stopped")

	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = run(ctx, cfg)
	stop()

	if err != nil {
		slog.Error("dispatcher failed", logger.Err(err))
		os.Exit(exitCode)
	}
}
