// Package main provides the CLI entry point for the alert-service.
// It serves alert invocations over HTTP and, when Kafka brokers are
// configured, consumes detected earthquakes from Kafka.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/api"
	"quake-alerts/internal/config"
	"quake-alerts/internal/consumer"
	"quake-alerts/internal/database"
	"quake-alerts/internal/metrics"
	"quake-alerts/internal/publisher"
	"quake-alerts/internal/retry"
	pkgmetrics "quake-alerts/pkg/metrics"
	"quake-alerts/pkg/shared"
)

const processName = "alert-service"

func main() {
	cfg := &config.Config{}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// Allow DEBUG level via environment variable for troubleshooting
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting alert-service",
		"http_port", cfg.HTTPPort,
		"postgres_dsn", shared.MaskDSN(cfg.PostgresDSN),
		"aws_region", cfg.AWSRegion,
		"sns_topic_arn", cfg.SNSTopicARN,
		"strategy", cfg.Strategy,
		"topic_prefix", cfg.TopicPrefix,
		"subscribe_every_time", cfg.SubscribeEveryTime,
		"skip_when_no_match", cfg.SkipWhenNoMatch,
		"dry_run", cfg.DryRun,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"earthquakes_topic", cfg.EarthquakesTopic,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	slog.Info("Connecting to PostgreSQL database")
	db, err := database.NewDB(cfg.PostgresDSN)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		slog.Info("Tip: Start Postgres with 'docker compose up -d postgres' or ensure Postgres is running")
		os.Exit(1)
	}
	defer db.Close()

	client, err := cfg.NewBroker(ctx)
	if err != nil {
		slog.Error("Failed to create SNS client", "error", err)
		os.Exit(1)
	}

	options := []alert.Option{
		alert.WithTableScope(func(t database.Tables) alert.Store { return db.WithTables(t) }),
	}

	// Redis is optional: without it metrics stay in memory and duplicate
	// publishes are not suppressed.
	var reader api.MetricsReader
	if cfg.RedisAddr != "" {
		redisClient, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		collector := startCollector(ctx, redisClient, cfg.MetricsInterval)
		defer collector.Stop()

		options = append(options,
			alert.WithMetrics(metrics.NewAdapter(collector)),
			alert.WithLedger(publisher.NewRedisLedger(redisClient, cfg.PublishLedgerTTL)),
		)
		reader = pkgmetrics.NewReader(redisClient)
	}

	svc := alert.NewService(db, client, cfg.AlertOptions(), options...)

	var wg sync.WaitGroup
	if cfg.KafkaBrokers != "" {
		slog.Info("Connecting to Kafka consumer",
			"topic", cfg.EarthquakesTopic,
			"group_id", cfg.ConsumerGroupID,
		)
		kafkaConsumer, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.EarthquakesTopic, cfg.ConsumerGroupID)
		if err != nil {
			slog.Error("Failed to create Kafka consumer", "error", err)
			slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
			os.Exit(1)
		}
		defer kafkaConsumer.Close()

		proc := consumer.NewProcessor(kafkaConsumer, svc, retry.DefaultConfig(), cfg.InvocationTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := proc.Run(ctx); err != nil {
				slog.Error("Consumer loop exited", "error", err)
				cancel()
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewMux(svc, cfg.InvocationTimeout, reader),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
		cancel()
	}

	slog.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down server", "error", err)
	}

	wg.Wait()
	slog.Info("Alert-service stopped")
}

func startCollector(ctx context.Context, redisClient *redis.Client, interval time.Duration) *pkgmetrics.Collector {
	collector := pkgmetrics.NewCollector(processName, redisClient)
	collector.SetReportInterval(interval)
	collector.Start(ctx)
	return collector
}
